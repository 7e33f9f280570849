// Точка входа Notas Fadex — сервис аттестации фискальных нот.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// Redis (опционально) и GCS, создаёт сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	_ "time/tzdata"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/fadex/notas-fadex/internal/api/handlers"
	"github.com/fadex/notas-fadex/internal/api/middleware"
	"github.com/fadex/notas-fadex/internal/api/openapi"
	"github.com/fadex/notas-fadex/internal/config"
	"github.com/fadex/notas-fadex/internal/database"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/keycloak"
	"github.com/fadex/notas-fadex/internal/mailer"
	"github.com/fadex/notas-fadex/internal/repository"
	"github.com/fadex/notas-fadex/internal/server"
	"github.com/fadex/notas-fadex/internal/service"
	"github.com/fadex/notas-fadex/internal/token"
	"github.com/fadex/notas-fadex/internal/ui/auth"
	uihandlers "github.com/fadex/notas-fadex/internal/ui/handlers"
	uimiddleware "github.com/fadex/notas-fadex/internal/ui/middleware"
)

func main() {
	// 1. Загрузка конфигурации (.env для локального запуска, затем окружение)
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("Ошибка чтения .env", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Notas Fadex запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("base_url", cfg.BaseURL),
	)

	if os.Getenv("NF_DEPHEALTH_GROUP") == "" {
		logger.Warn("NF_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Redis — блокировка sweep между репликами (опционально)
	redisClient, err := database.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var locker service.Locker = service.LocalLocker{}
	var redisChecker handlers.ReadinessChecker
	if redisClient != nil {
		defer redisClient.Close()
		locker = service.NewRedisLocker(redislock.New(redisClient))
		redisChecker = database.NewRedisReadinessChecker(redisClient)
	} else {
		logger.Warn("NF_REDIS_ADDR не задан, sweep не блокируется между репликами")
	}

	// 6. Файловое хранилище (GCS)
	store, err := filestore.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON, cfg.FileStoreTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента GCS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	// 7. Почта
	var sender mailer.Sender = mailer.Disabled{}
	if cfg.MailEnabled() {
		sender = mailer.New(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom, cfg.MailTimeout, logger)
	} else {
		logger.Warn("NF_MAIL_API_URL не задан, письма не отправляются")
	}

	// 8. Токены аттестации
	tokens, err := token.New(cfg.AuthSecret, token.WithValidity(cfg.TokenValidity))
	if err != nil {
		logger.Error("Ошибка создания сервиса токенов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Keycloak Admin API клиент (каталог пользователей)
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		nil,
		logger,
	)
	if cfg.KeycloakClientID == "" {
		logger.Warn("NF_KEYCLOAK_CLIENT_ID не задан, каталог пользователей недоступен")
	}

	// 10. Repositories
	noteRepo := repository.NewNoteRepository(pool)
	historyRepo := repository.NewHistoryRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	roleRepo := repository.NewUserRoleRepository(pool)
	grantRepo := repository.NewPermissionGrantRepository(pool)

	// 11. Services
	groups := rbac.GroupMapping{
		Owner:   cfg.RoleOwnerGroups,
		Manager: cfg.RoleManagerGroups,
		Member:  cfg.RoleMemberGroups,
		Viewer:  cfg.RoleViewerGroups,
	}
	gate := service.NewPermissionGate(grantRepo)

	settingsSvc := service.NewSettingsService(
		settingsRepo, gate,
		cfg.DefaultDeadlineDays, cfg.DefaultReminderFrequencyDays,
		cfg.SettingsCacheTTL,
		logger,
	)
	notesSvc := service.NewNoteService(
		noteRepo, historyRepo, settingsSvc,
		tokens, store, gate, sender,
		cfg.BaseURL,
		logger,
	)
	attestationSvc := service.NewAttestationService(tokens, notesSvc, store, logger)
	downloadSvc := service.NewDownloadService(noteRepo, store, tokens, gate, logger)
	sweepSvc := service.NewExpirationSweep(noteRepo, locker, cfg.SweepLockTTL, sender, logger)
	reminderSvc := service.NewReminderService(noteRepo, settingsSvc, tokens, sender, cfg.BaseURL, logger)
	usersSvc := service.NewUserService(kcClient, roleRepo, grantRepo, gate, groups, logger)
	reportSvc := service.NewReportService(noteRepo, gate, logger)
	idpSvc := service.NewIDPService(kcClient, gate, cfg.KeycloakURL, cfg.KeycloakRealm, logger)

	// 12. Readiness checkers (PostgreSQL + Keycloak, Redis и GCS — degraded)
	pgChecker := database.NewReadinessChecker(pool)
	kcChecker := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout)
	healthHandler := handlers.NewHealthHandler(pgChecker, kcChecker, redisChecker, store)

	// 13. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, handlers.Services{
		Notes:       notesSvc,
		Attestation: attestationSvc,
		Downloads:   downloadSvc,
		Sweep:       sweepSvc,
		Reminders:   reminderSvc,
		Users:       usersSvc,
		Settings:    settingsSvc,
		Reports:     reportSvc,
		IDP:         idpSvc,
	}, logger)

	// 14. Документ OpenAPI
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}
	openapiHandler, err := openapi.Handler(doc)
	if err != nil {
		logger.Error("Ошибка сериализации OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Web-сессии и вход через Keycloak (PKCE)
	secureCookie := strings.HasPrefix(cfg.BaseURL, "https")
	sessionMgr, err := auth.NewSessionManager(cfg.SessionSecret, secureCookie)
	if err != nil {
		logger.Error("Ошибка создания Session Manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.SessionSecret == "" {
		logger.Warn("NF_SESSION_SECRET не задан, сессии не сохраняются между рестартами")
	}

	oidcClient := auth.NewOIDCClient(auth.OIDCConfig{
		KeycloakURL: cfg.KeycloakURL,
		Realm:       cfg.KeycloakRealm,
		ClientID:    cfg.OIDCClientID,
		Timeout:     cfg.JWKSClientTimeout,
	})
	authHandler := uihandlers.NewAuthHandler(oidcClient, sessionMgr, cfg.BaseURL, logger)
	sessions := uimiddleware.NewSessions(sessionMgr, oidcClient, logger)

	// 16. JWT + session аутентификация
	authn, err := middleware.NewAuthenticator(
		cfg.JWTJWKSURL,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		middleware.AuthOptions{
			Issuer:   cfg.JWTIssuer,
			Leeway:   cfg.JWTLeeway,
			Groups:   groups,
			Roles:    roleRepo,
			Sessions: sessions,
		},
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 17. topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService("notas-fadex", cfg.DephealthGroup,
		service.DependencyTargets{
			DB:              pgDB,
			PostgresURL:     cfg.DatabaseURL(),
			KeycloakJWKSURL: cfg.JWTJWKSURL,
			Interval:        cfg.DephealthCheckInterval,
		},
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 18. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Components{
		API:        apiHandler,
		Auth:       authn,
		OpenAPI:    openapiHandler,
		Attest:     uihandlers.NewAttestHandler(attestationSvc, logger),
		WebAuth:    authHandler,
		CronSecret: cfg.CronSecret,
	})
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 19. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Notas Fadex остановлен")
}
