// settings.go — сервис настроек приложения.
// Типизированные геттеры (срок аттестации, частота напоминаний) читаются
// на каждом создании ноты, поэтому значения кэшируются в expirable LRU.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/repository"
)

// Ключи настроек (dot-notation).
const (
	SettingDeadlineDays          = "attestation.deadline_days"
	SettingReminderFrequencyDays = "reminder.frequency_days"
	SettingRemindersEnabled      = "reminder.enabled"
)

// settingBounds — допустимые диапазоны числовых настроек.
var settingBounds = map[string][2]int{
	SettingDeadlineDays:          {1, 365},
	SettingReminderFrequencyDays: {1, 60},
}

// validSettingKeys — допустимые ключи и их описание.
var validSettingKeys = map[string]string{
	SettingDeadlineDays:          "Prazo de atesto em dias",
	SettingReminderFrequencyDays: "Frequência de lembretes em dias",
	SettingRemindersEnabled:      "Lembretes automáticos ativos (true/false)",
}

// SettingsReader — чтение настроек, нужных жизненному циклу ноты.
type SettingsReader interface {
	DeadlineDays(ctx context.Context) int
	ReminderFrequencyDays(ctx context.Context) int
	RemindersEnabled(ctx context.Context) bool
}

// SettingsService — CRUD и типизированные геттеры настроек.
type SettingsService struct {
	repo     repository.SettingsRepository
	gate     *PermissionGate
	cache    *expirable.LRU[string, string]
	defaults map[string]string
	logger   *slog.Logger
}

// NewSettingsService создаёт сервис настроек.
// deadlineDays и reminderDays — значения по умолчанию, если ключа нет в БД.
// cacheTTL = 0 отключает устаревание записей кэша.
func NewSettingsService(
	repo repository.SettingsRepository,
	gate *PermissionGate,
	deadlineDays, reminderDays int,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *SettingsService {
	return &SettingsService{
		repo:  repo,
		gate:  gate,
		cache: expirable.NewLRU[string, string](len(validSettingKeys), nil, cacheTTL),
		defaults: map[string]string{
			SettingDeadlineDays:          strconv.Itoa(deadlineDays),
			SettingReminderFrequencyDays: strconv.Itoa(reminderDays),
			SettingRemindersEnabled:      "true",
		},
		logger: logger.With(slog.String("service", "settings")),
	}
}

// Get возвращает настройку по ключу.
func (s *SettingsService) Get(ctx context.Context, key string) (*repository.Setting, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения настройки %q: %w", key, err)
	}
	return setting, nil
}

// List возвращает все настройки.
func (s *SettingsService) List(ctx context.Context) ([]repository.Setting, error) {
	settings, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка настроек: %w", err)
	}
	return settings, nil
}

// Set изменяет настройку. Требует права MANAGE_SETTINGS.
func (s *SettingsService) Set(ctx context.Context, actor *model.Actor, key, value string) error {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManageSettings); err != nil {
		return err
	}
	if _, ok := validSettingKeys[key]; !ok {
		return &ValidationError{Message: fmt.Sprintf("Configuração desconhecida: %s.", key)}
	}
	if err := validateSettingValue(key, value); err != nil {
		return err
	}

	if err := s.repo.Set(ctx, key, value, actor.DisplayName()); err != nil {
		return fmt.Errorf("ошибка сохранения настройки %q: %w", key, err)
	}
	s.cache.Remove(key)

	s.logger.Info("Настройка обновлена",
		slog.String("key", key),
		slog.String("value", value),
		slog.String("updated_by", actor.DisplayName()),
	)
	return nil
}

// Delete сбрасывает настройку к значению по умолчанию. Требует MANAGE_SETTINGS.
func (s *SettingsService) Delete(ctx context.Context, actor *model.Actor, key string) error {
	if err := s.gate.Require(ctx, actor, rbac.PermissionManageSettings); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления настройки %q: %w", key, err)
	}
	s.cache.Remove(key)

	s.logger.Info("Настройка удалена", slog.String("key", key))
	return nil
}

// --- Типизированные геттеры --- //

// DeadlineDays — срок аттестации новых нот в днях (по умолчанию 30).
func (s *SettingsService) DeadlineDays(ctx context.Context) int {
	return s.intValue(ctx, SettingDeadlineDays)
}

// ReminderFrequencyDays — интервал напоминаний в днях (по умолчанию 3).
func (s *SettingsService) ReminderFrequencyDays(ctx context.Context) int {
	return s.intValue(ctx, SettingReminderFrequencyDays)
}

// RemindersEnabled сообщает, включены ли автоматические напоминания.
func (s *SettingsService) RemindersEnabled(ctx context.Context) bool {
	v, _ := strconv.ParseBool(s.value(ctx, SettingRemindersEnabled))
	return v
}

func (s *SettingsService) intValue(ctx context.Context, key string) int {
	raw := s.value(ctx, key)
	n, err := strconv.Atoi(raw)
	if err != nil || validateSettingValue(key, raw) != nil {
		s.logger.Warn("Некорректное значение настройки, используется значение по умолчанию",
			slog.String("key", key),
			slog.String("value", raw),
		)
		n, _ = strconv.Atoi(s.defaults[key])
	}
	return n
}

// value возвращает значение из кэша, БД или значение по умолчанию.
// Ошибки БД не прерывают бизнес-операцию и не кэшируются.
func (s *SettingsService) value(ctx context.Context, key string) string {
	if v, ok := s.cache.Get(key); ok {
		settingsCacheTotal.WithLabelValues("hit").Inc()
		return v
	}
	settingsCacheTotal.WithLabelValues("miss").Inc()
	setting, err := s.repo.Get(ctx, key)
	switch {
	case err == nil:
		s.cache.Add(key, setting.Value)
		return setting.Value
	case errors.Is(err, repository.ErrNotFound):
		s.cache.Add(key, s.defaults[key])
	default:
		s.logger.Warn("Ошибка чтения настройки, используется значение по умолчанию",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return s.defaults[key]
}

// validateSettingValue проверяет корректность значения для ключа.
func validateSettingValue(key, value string) error {
	if bounds, ok := settingBounds[key]; ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ValidationError{Message: fmt.Sprintf("%s deve ser um número inteiro.", key)}
		}
		if n < bounds[0] || n > bounds[1] {
			return &ValidationError{Message: fmt.Sprintf("%s deve estar entre %d e %d.", key, bounds[0], bounds[1])}
		}
		return nil
	}
	if key == SettingRemindersEnabled && value != "true" && value != "false" {
		return &ValidationError{Message: fmt.Sprintf("%s deve ser true ou false.", key)}
	}
	return nil
}
