// Пакет config — загрузка и валидация конфигурации Notas Fadex
// из переменных окружения (префикс NF_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Публичный базовый URL (для ссылок {baseUrl}/attest/{token} в письмах)
	BaseURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула подключений
	DBMaxConns int32

	// --- Секреты ---

	// Секрет подписи токенов аттестации (HS256)
	AuthSecret string
	// Статический bearer-секрет для cron endpoints
	CronSecret string
	// Срок действия токена аттестации
	TokenValidity time.Duration

	// --- Keycloak (OIDC, JWKS, Admin API) ---

	// URL Keycloak (без trailing slash)
	KeycloakURL string
	// Имя realm
	KeycloakRealm string
	// Client ID / Secret для Admin API (каталог пользователей). Опционально.
	KeycloakClientID     string
	KeycloakClientSecret string
	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration

	// --- Маппинг групп IdP → ролей ---

	RoleOwnerGroups   []string
	RoleManagerGroups []string
	RoleMemberGroups  []string
	RoleViewerGroups  []string

	// --- Web-сессии (OIDC PKCE) ---

	// Ключ шифрования session cookie (пустой — случайный при старте)
	SessionSecret string
	// OIDC Client ID публичного web-клиента
	OIDCClientID string

	// --- Настройки нот по умолчанию ---

	// Срок аттестации в днях (если в таблице settings нет значения)
	DefaultDeadlineDays int
	// Периодичность напоминаний в днях (если в таблице settings нет значения)
	DefaultReminderFrequencyDays int
	// TTL кэша настроек
	SettingsCacheTTL time.Duration

	// --- Файловое хранилище (GCS) ---

	// Имя bucket
	GCSBucket string
	// JSON учётных данных (пустой — Application Default Credentials)
	GCSCredentialsJSON string
	// Таймаут загрузки/чтения файла
	FileStoreTimeout time.Duration

	// --- Почта (Resend) ---

	// URL API Resend, например https://api.resend.com (пустой — отправка отключена)
	MailAPIURL string
	// API-ключ Resend
	MailAPIKey string
	// Адрес отправителя
	MailFrom string
	// Таймаут отправки письма
	MailTimeout time.Duration

	// --- Redis (блокировка sweep между репликами) ---

	// Адрес Redis (пустой — блокировка отключена)
	RedisAddr string
	// Пароль Redis
	RedisPassword string
	// TTL блокировки sweep
	SweepLockTTL time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// LoadDotEnv подгружает переменные из .env файла, если он существует.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("загрузка %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// NF_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("NF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("NF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("NF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("NF_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("NF_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("NF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("NF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// NF_BASE_URL — обязательный, используется в ссылках аттестации
	cfg.BaseURL, err = getEnvRequired("NF_BASE_URL")
	if err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if u, parseErr := url.Parse(cfg.BaseURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("NF_BASE_URL: некорректный URL %q", cfg.BaseURL)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("NF_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("NF_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("NF_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("NF_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("NF_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("NF_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("NF_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("NF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	maxConns, err := getEnvInt("NF_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("NF_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 || maxConns > 1000 {
		return nil, fmt.Errorf("NF_DB_MAX_CONNS: значение %d вне диапазона 1-1000", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns)

	// --- Секреты ---

	// NF_AUTH_SECRET — обязательный. Без него токены аттестации невозможны.
	cfg.AuthSecret, err = getEnvRequired("NF_AUTH_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.CronSecret, err = getEnvRequired("NF_CRON_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.TokenValidity, err = getEnvDuration("NF_TOKEN_VALIDITY", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("NF_TOKEN_VALIDITY: %w", err)
	}

	// --- Keycloak ---

	cfg.KeycloakURL, err = getEnvRequired("NF_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	cfg.KeycloakRealm = getEnvDefault("NF_KEYCLOAK_REALM", "fadex")
	cfg.KeycloakClientID = getEnvDefault("NF_KEYCLOAK_CLIENT_ID", "")
	cfg.KeycloakClientSecret = getEnvDefault("NF_KEYCLOAK_CLIENT_SECRET", "")
	if (cfg.KeycloakClientID == "") != (cfg.KeycloakClientSecret == "") {
		return nil, fmt.Errorf("NF_KEYCLOAK_CLIENT_ID и NF_KEYCLOAK_CLIENT_SECRET задаются только вместе")
	}

	cfg.JWTIssuer = getEnvDefault("NF_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("NF_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWKSRefreshInterval, err = getEnvDuration("NF_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("NF_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("NF_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NF_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("NF_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NF_JWT_LEEWAY: %w", err)
	}

	// --- Маппинг групп → ролей ---

	cfg.RoleOwnerGroups = parseCSV(getEnvDefault("NF_ROLE_OWNER_GROUPS", "fadex-owners"))
	cfg.RoleManagerGroups = parseCSV(getEnvDefault("NF_ROLE_MANAGER_GROUPS", "fadex-managers"))
	cfg.RoleMemberGroups = parseCSV(getEnvDefault("NF_ROLE_MEMBER_GROUPS", "fadex-members"))
	cfg.RoleViewerGroups = parseCSV(getEnvDefault("NF_ROLE_VIEWER_GROUPS", "fadex-viewers"))

	// --- Web-сессии ---

	cfg.SessionSecret = getEnvDefault("NF_SESSION_SECRET", "")
	cfg.OIDCClientID = getEnvDefault("NF_OIDC_CLIENT_ID", "notas-fadex-web")

	// --- Настройки нот ---

	cfg.DefaultDeadlineDays, err = getEnvInt("NF_DEFAULT_DEADLINE_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("NF_DEFAULT_DEADLINE_DAYS: %w", err)
	}
	if cfg.DefaultDeadlineDays < 1 || cfg.DefaultDeadlineDays > 365 {
		return nil, fmt.Errorf("NF_DEFAULT_DEADLINE_DAYS: значение %d вне диапазона 1-365", cfg.DefaultDeadlineDays)
	}

	cfg.DefaultReminderFrequencyDays, err = getEnvInt("NF_DEFAULT_REMINDER_FREQUENCY_DAYS", 3)
	if err != nil {
		return nil, fmt.Errorf("NF_DEFAULT_REMINDER_FREQUENCY_DAYS: %w", err)
	}
	if cfg.DefaultReminderFrequencyDays < 1 || cfg.DefaultReminderFrequencyDays > 365 {
		return nil, fmt.Errorf("NF_DEFAULT_REMINDER_FREQUENCY_DAYS: значение %d вне диапазона 1-365", cfg.DefaultReminderFrequencyDays)
	}

	cfg.SettingsCacheTTL, err = getEnvDuration("NF_SETTINGS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NF_SETTINGS_CACHE_TTL: %w", err)
	}

	// --- Файловое хранилище ---

	cfg.GCSBucket, err = getEnvRequired("NF_GCS_BUCKET")
	if err != nil {
		return nil, err
	}
	cfg.GCSCredentialsJSON = getEnvDefault("NF_GCS_CREDENTIALS_JSON", "")

	cfg.FileStoreTimeout, err = getEnvDuration("NF_FILESTORE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NF_FILESTORE_TIMEOUT: %w", err)
	}

	// --- Почта ---

	cfg.MailAPIURL = strings.TrimRight(getEnvDefault("NF_MAIL_API_URL", ""), "/")
	cfg.MailAPIKey = getEnvDefault("NF_MAIL_API_KEY", "")
	if cfg.MailAPIURL != "" && cfg.MailAPIKey == "" {
		return nil, fmt.Errorf("NF_MAIL_API_KEY: обязателен при заданном NF_MAIL_API_URL")
	}
	cfg.MailFrom = getEnvDefault("NF_MAIL_FROM", "Notas Fadex <no-reply@fadex.org.br>")

	cfg.MailTimeout, err = getEnvDuration("NF_MAIL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NF_MAIL_TIMEOUT: %w", err)
	}

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("NF_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("NF_REDIS_PASSWORD", "")
	cfg.SweepLockTTL, err = getEnvDuration("NF_SWEEP_LOCK_TTL", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("NF_SWEEP_LOCK_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("NF_DEPHEALTH_GROUP", "notas-fadex")
	cfg.DephealthCheckInterval, err = getEnvDuration("NF_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("NF_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("NF_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// MailEnabled сообщает, настроена ли отправка писем.
func (c *Config) MailEnabled() bool {
	return c.MailAPIURL != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
