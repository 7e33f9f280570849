package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fadex/notas-fadex/internal/config"
)

const serviceName = "notas-fadex"

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	pgChecker    ReadinessChecker
	kcChecker    ReadinessChecker
	redisChecker ReadinessChecker
	fileChecker  ReadinessChecker
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker и kcChecker обязательны: nil даёт "fail".
// redisChecker и fileChecker могут быть nil, тогда они в ответ не попадают.
func NewHealthHandler(pgChecker, kcChecker, redisChecker, fileChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		pgChecker:    pgChecker,
		kcChecker:    kcChecker,
		redisChecker: redisChecker,
		fileChecker:  fileChecker,
		promHandler:  promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		PostgreSQL healthCheckResult  `json:"postgresql"`
		Keycloak   healthCheckResult  `json:"keycloak"`
		Redis      *healthCheckResult `json:"redis,omitempty"`
		FileStore  *healthCheckResult `json:"filestore,omitempty"`
	} `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe: 200 при ok/degraded, 503 при fail.
// Проверки идут параллельно, у каждой свой таймаут.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	var redisResult, fileResult healthCheckResult
	var g errgroup.Group
	g.Go(func() error { resp.Checks.PostgreSQL = check(h.pgChecker); return nil })
	g.Go(func() error { resp.Checks.Keycloak = check(h.kcChecker); return nil })
	if h.redisChecker != nil {
		resp.Checks.Redis = &redisResult
		g.Go(func() error { redisResult = check(h.redisChecker); return nil })
	}
	if h.fileChecker != nil {
		resp.Checks.FileStore = &fileResult
		g.Go(func() error { fileResult = check(h.fileChecker); return nil })
	}
	_ = g.Wait()

	statuses := []string{resp.Checks.PostgreSQL.Status, resp.Checks.Keycloak.Status}
	if resp.Checks.Redis != nil {
		statuses = append(statuses, redisResult.Status)
	}
	if resp.Checks.FileStore != nil {
		statuses = append(statuses, fileResult.Status)
	}
	resp.Status = overallStatus(statuses...)

	code := http.StatusOK
	if resp.Status == "fail" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func check(c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}
	status, msg := c.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

// overallStatus: любой fail даёт fail, иначе любой degraded даёт degraded.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}
