// minio реализует storage.MediaStorage на базе MinIO/S3.
// minio.go — конструктор клиента: нормализует endpoint, настраивает
// Secure/creds и проверяет наличие бакета.
// media.go — загрузка локального файла с проверкой размера и типа.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pribylovaa/account-service/internal/config"
	"github.com/pribylovaa/account-service/internal/storage"
)

// MediaStorage — адаптер MinIO для аватаров и обложек.
type MediaStorage struct {
	s3     config.S3Config
	limits config.MediaConfig
	client *mclient.Client
	// baseURL — префикс публичных ссылок без завершающего "/".
	baseURL string
}

// New создаёт клиент MinIO и выполняет fail-fast-проверку бакета.
func New(ctx context.Context, s3 config.S3Config, limits config.MediaConfig) (*MediaStorage, error) {
	const op = "storage/minio/New"

	endpoint := s3.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(s3.RootUser, s3.RootPassword, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, s3.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, s3.Bucket)
	}

	return &MediaStorage{
		s3:      s3,
		limits:  limits,
		client:  client,
		baseURL: publicBase(s3, endpoint, secure),
	}, nil
}

// publicBase — PublicBaseURL из конфига либо адрес бакета на самом endpoint.
func publicBase(s3 config.S3Config, host string, secure bool) string {
	if s3.PublicBaseURL != "" {
		return strings.TrimRight(s3.PublicBaseURL, "/")
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}

	return scheme + "://" + host + "/" + s3.Bucket
}

var _ storage.MediaStorage = (*MediaStorage)(nil)
