package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	apierrors "github.com/pribylovaa/account-service/internal/errors"
	"github.com/pribylovaa/account-service/internal/http/middleware"
	logctx "github.com/pribylovaa/account-service/internal/pkg/log"
	"github.com/pribylovaa/account-service/internal/service"
)

// multipartMemory — сколько формы держим в памяти, остальное уходит во временные файлы.
const multipartMemory = 1 << 20

// Register принимает multipart/form-data: поля fullName, username, email,
// password и файлы avatar (обязателен) и coverImage.
// Файлы сохраняются во временный каталог и удаляются после ответа.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes())

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %v", apierrors.ErrBadRequest, err))
		return
	}

	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	avatarPath, cleanupAvatar, err := h.saveUpload(r, "avatar")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	defer cleanupAvatar()

	coverPath, cleanupCover, err := h.saveUpload(r, "coverImage")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	defer cleanupCover()

	user, err := h.accounts.Register(r.Context(), service.RegisterInput{
		FullName:       r.FormValue("fullName"),
		Username:       r.FormValue("username"),
		Email:          r.FormValue("email"),
		Password:       r.FormValue("password"),
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, user, "User registered successfully")
}

// CurrentUser отдаёт профиль аутентифицированного пользователя.
func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.CurrentUser(r.Context(), middleware.UserIDFrom(r.Context()))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, user, "Current user fetched successfully")
}

// maxBodyBytes — два файла предельного размера плюс запас на текстовые поля.
func (h *Handlers) maxBodyBytes() int64 {
	return 2*h.media.MaxSizeBytes + multipartMemory
}

// saveUpload копирует файл поля field во временный файл.
// Отсутствие файла — не ошибка: возвращается пустой путь.
func (h *Handlers) saveUpload(r *http.Request, field string) (string, func(), error) {
	const op = "handlers.saveUpload"
	noop := func() {}

	src, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", noop, nil
		}

		return "", noop, fmt.Errorf("%s: %w: %v", op, apierrors.ErrBadRequest, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.media.TempDir, "upload-*")
	if err != nil {
		return "", noop, fmt.Errorf("%s: create temp: %w", op, err)
	}

	path := dst.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logctx.From(r.Context()).Warn("temp_file_remove_failed", slog.String("path", path), slog.String("err", err.Error()))
		}
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		cleanup()
		return "", noop, fmt.Errorf("%s: copy: %w", op, err)
	}

	if err := dst.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("%s: close: %w", op, err)
	}

	return path, cleanup, nil
}
