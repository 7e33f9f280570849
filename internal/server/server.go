// Пакет server — HTTP-сервер Notas Fadex с graceful shutdown.
// Без TLS — TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fadex/notas-fadex/internal/api/handlers"
	"github.com/fadex/notas-fadex/internal/api/middleware"
	"github.com/fadex/notas-fadex/internal/config"
	uihandlers "github.com/fadex/notas-fadex/internal/ui/handlers"
	"github.com/fadex/notas-fadex/internal/ui/static"
)

// Components — обработчики, из которых собирается маршрутизатор.
type Components struct {
	API *handlers.APIHandler
	// Auth — аутентификация Bearer JWT и session cookie (nil — без аутентификации)
	Auth *middleware.Authenticator
	// OpenAPI — /api/openapi.json (nil — не раздаётся)
	OpenAPI http.Handler
	// Attest — публичная страница /attest/{token}
	Attest *uihandlers.AttestHandler
	// WebAuth — вход через Keycloak (nil — web-вход отключён)
	WebAuth *uihandlers.AuthHandler
	// CronSecret — секрет планировщика для /api/cron/*
	CronSecret string
}

// Server — HTTP-сервер Notas Fadex.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, c Components) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, c),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршрутизатор chi.
//
// Аутентификация необязательна на уровне всего роутера: публичные формы
// работают по токену аттестации, скачивание файла допускает и сессию, и токен.
// Группа /api/v1 требует аутентифицированного пользователя,
// /api/cron — секрет планировщика.
func NewRouter(logger *slog.Logger, c Components) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	api := c.API

	// Health и metrics проверяются Kubernetes напрямую
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)

	router.Handle("/static/*", static.Handler("/static/"))

	if c.OpenAPI != nil {
		router.Method(http.MethodGet, "/api/openapi.json", c.OpenAPI)
	}

	router.Route("/api/cron", func(r chi.Router) {
		r.Use(middleware.CronAuth(c.CronSecret))
		r.Get("/check-expirations", api.CheckExpirations)
		r.Get("/send-reminders", api.SendReminders)
	})

	router.Route("/api/public", func(r chi.Router) {
		r.Get("/notes", api.GetPublicNote)
		r.Post("/attest", api.PostAttest)
		r.Post("/reject", api.PostReject)
	})

	if c.Attest != nil {
		router.Get("/attest/{token}", c.Attest.HandleAttestPage)
	}

	if c.WebAuth != nil {
		router.Get("/auth/login", c.WebAuth.HandleLogin)
		router.Get("/auth/callback", c.WebAuth.HandleCallback)
		router.Post("/auth/logout", c.WebAuth.HandleLogout)
	}

	// Маршруты, учитывающие пользователя
	router.Group(func(r chi.Router) {
		if c.Auth != nil {
			r.Use(c.Auth.Middleware())
		}

		r.Get("/api/download/{fileId}", api.DownloadFile)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.RequireActor())

			r.Get("/me", api.GetMe)

			r.Route("/notes", func(r chi.Router) {
				r.Get("/", api.ListNotes)
				r.Post("/", api.CreateNote)
				r.Get("/export", api.ExportNotes)
				r.Get("/{id}", api.GetNote)
				r.Get("/{id}/history", api.GetNoteHistory)
				r.Post("/{id}/resend", api.ResendAttestLink)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", api.ListUsers)
				r.Get("/{id}", api.GetUser)
				r.Put("/{id}/role", api.SetUserRole)
				r.Put("/{id}/permissions/{permission}", api.GrantPermission)
				r.Delete("/{id}/permissions/{permission}", api.RevokePermission)
			})

			r.Get("/settings", api.ListSettings)
			r.Put("/settings", api.UpdateSettings)
			r.Delete("/settings/{key}", api.DeleteSetting)

			r.Get("/idp/status", api.GetIdpStatus)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
