package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"

	"github.com/pribylovaa/account-service/internal/storage"
)

// sniffLen — сколько байт читает http.DetectContentType.
const sniffLen = 512

// Upload загружает файл localPath в каталог folder бакета под случайным
// именем и возвращает публичный URL объекта.
// Пустой файл, превышение лимита и тип вне allow-list — storage.ErrInvalidArgument.
func (s *MediaStorage) Upload(ctx context.Context, folder, localPath string) (string, error) {
	const op = "storage/minio/Upload"

	folder = strings.Trim(folder, "/")
	if folder == "" || localPath == "" {
		return "", fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%s: open: %w", op, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%s: stat: %w", op, err)
	}

	size := st.Size()
	if size <= 0 || (s.limits.MaxSizeBytes > 0 && size > s.limits.MaxSizeBytes) {
		return "", fmt.Errorf("%s: size %d: %w", op, size, storage.ErrInvalidArgument)
	}

	contentType, err := sniffContentType(f)
	if err != nil {
		return "", fmt.Errorf("%s: sniff: %w", op, err)
	}

	if !isAllowedContentType(s.limits.AllowedContentTypes, contentType) {
		return "", fmt.Errorf("%s: content type %q: %w", op, contentType, storage.ErrInvalidArgument)
	}

	key := path.Join(folder, uuid.NewString()+extension(contentType))

	_, err = s.client.PutObject(ctx, s.s3.Bucket, key, f, size, mclient.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("%s: put: %w", op, err)
	}

	return s.baseURL + "/" + key, nil
}

// sniffContentType определяет тип по первым байтам и возвращает курсор в начало.
func sniffContentType(f io.ReadSeeker) (string, error) {
	buf := make([]byte, sniffLen)

	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	ct := http.DetectContentType(buf[:n])
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	return ct, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

// isAllowedContentType проверяет, что тип содержимого входит в allow-list.
func isAllowedContentType(allow []string, contentType string) bool {
	for _, a := range allow {
		if strings.EqualFold(strings.TrimSpace(a), contentType) {
			return true
		}
	}

	return false
}
