package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Setting — строка таблицы settings. Ключи в dot-notation
// ("attestation.deadline_days"), значения хранятся строкой.
type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
	UpdatedBy string    `db:"updated_by"`
}

// SettingsRepository — переопределения настроек поверх значений из окружения.
type SettingsRepository interface {
	// Get — ErrNotFound, если ключ не переопределён.
	Get(ctx context.Context, key string) (*Setting, error)
	// Set — upsert с фиксацией автора.
	Set(ctx context.Context, key, value, updatedBy string) error
	List(ctx context.Context) ([]Setting, error)
	// Delete возвращает ключ к значению по умолчанию; ErrNotFound, если строки нет.
	Delete(ctx context.Context, key string) error
}

type settingsRepo struct {
	db DBTX
}

func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepo{db: db}
}

const settingColumns = `key, value, updated_at, updated_by`

func (r *settingsRepo) Get(ctx context.Context, key string) (*Setting, error) {
	rows, _ := r.db.Query(ctx, `SELECT `+settingColumns+` FROM settings WHERE key = $1`, key)
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Setting])
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("чтение настройки %s: %w", key, err)
	}
	return s, nil
}

func (r *settingsRepo) Set(ctx context.Context, key, value, updatedBy string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (key, value, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()`,
		key, value, updatedBy)
	if err != nil {
		return fmt.Errorf("запись настройки %s: %w", key, err)
	}
	return nil
}

func (r *settingsRepo) List(ctx context.Context) ([]Setting, error) {
	rows, _ := r.db.Query(ctx, `SELECT `+settingColumns+` FROM settings ORDER BY key`)
	settings, err := pgx.CollectRows(rows, pgx.RowToStructByName[Setting])
	if err != nil {
		return nil, fmt.Errorf("список настроек: %w", err)
	}
	return settings, nil
}

func (r *settingsRepo) Delete(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("удаление настройки %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
