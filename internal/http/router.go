package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/account-service/internal/config"
	"github.com/pribylovaa/account-service/internal/http/handlers"
	"github.com/pribylovaa/account-service/internal/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api/v1/users"; пустой — роуты на корне.

	// RateLimit ограничивает неаутентифицированные эндпойнты; nil — без лимита.
	RateLimit *middleware.IPRateLimiter
	// Metrics — коллекторы Prometheus; nil — без метрик.
	Metrics *middleware.Metrics

	Cookie config.CookieConfig
	Media  config.MediaConfig
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(accounts handlers.Accounts, verifier middleware.TokenVerifier, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		opts.Metrics.Middleware(),       // снаружи Recover, чтобы учесть и 500 после паники
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // X-Request-Id до логирования
		middleware.Logging(opts.Logger), // request-scoped логгер в контексте
		middleware.Timeout(opts.Timeout),
	)

	h := handlers.New(accounts, opts.Cookie, opts.Media)

	if opts.BasePath != "" && opts.BasePath != "/" {
		root.Route(opts.BasePath, func(r chi.Router) {
			registerRoutes(r, h, verifier, opts)
		})
		return root
	}

	registerRoutes(root, h, verifier, opts)
	return root
}

// registerRoutes — единая точка регистрации эндпойнтов учётных записей.
func registerRoutes(r chi.Router, h *handlers.Handlers, verifier middleware.TokenVerifier, opts Options) {
	limited := r.With(middleware.RateLimit(opts.RateLimit))
	limited.Post("/register", h.Register)
	limited.Post("/login", h.Login)
	limited.Post("/refresh-token", h.RefreshToken)

	authed := func(next http.HandlerFunc) http.Handler {
		return middleware.Chain(next, middleware.Authenticate(verifier))
	}
	r.Method(http.MethodPost, "/logout", authed(h.Logout))
	r.Method(http.MethodGet, "/current-user", authed(h.CurrentUser))
}
