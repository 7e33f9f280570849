package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
)

// DependencyTargets — зависимости, за которыми следит topologymetrics.
// Метрики app_dependency_* попадают в глобальный Prometheus registry
// и отдаются на /metrics.
type DependencyTargets struct {
	// DB — *sql.DB поверх pgxpool (stdlib.OpenDBFromPool): проверка идёт
	// через тот же пул, что и запросы, и видит его исчерпание
	DB *sql.DB
	// PostgresURL — только для лейблов host/port, пароль в метрики не попадает
	PostgresURL string
	// KeycloakJWKSURL — JWKS realm, по которому проверяются JWT
	KeycloakJWKSURL string
	Interval        time.Duration
}

// DephealthService — периодические проверки PostgreSQL и Keycloak.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService регистрирует зависимости под вершиной serviceID в группе group.
func NewDephealthService(serviceID, group string, targets DependencyTargets, logger *slog.Logger) (*DephealthService, error) {
	opts := append([]dephealth.Option{dephealth.WithLogger(logger)}, dependencyOptions(targets)...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, fmt.Errorf("topologymetrics: %w", err)
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// dependencyOptions: обе зависимости критичны, без них /api/v1 не работает.
// PostgreSQL подключается через pgcheck напрямую, без contrib/sqldb.
func dependencyOptions(t DependencyTargets) []dephealth.Option {
	return []dephealth.Option{
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(t.DB)),
			dephealth.FromURL(t.PostgresURL),
			dephealth.CheckInterval(t.Interval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("keycloak-jwks",
			dephealth.FromURL(t.KeycloakJWKSURL),
			dephealth.WithHTTPHealthPath(keycloakHealthPath(t.KeycloakJWKSURL)),
			dephealth.CheckInterval(t.Interval),
			dephealth.Critical(true),
		),
	}
}

// keycloakHealthPath — путь HTTP-проверки Keycloak. /health у Keycloak
// слушает только management-порт, поэтому проверяется сам JWKS realm.
func keycloakHealthPath(jwksURL string) string {
	u, err := url.Parse(jwksURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/health"
	}
	return u.Path
}

func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Проверки зависимостей запущены")
	return nil
}

func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Проверки зависимостей остановлены")
}
