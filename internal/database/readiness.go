package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 3 * time.Second

// PingChecker — проверка готовности зависимости по ping.
// Реализует handlers.ReadinessChecker.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
	// failStatus — "fail" для обязательной зависимости, "degraded" для необязательной
	failStatus string
}

// NewReadinessChecker — обязательная проверка PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *PingChecker {
	return &PingChecker{name: "PostgreSQL", ping: pool.Ping, failStatus: "fail"}
}

// NewRedisReadinessChecker — проверка Redis. Без Redis sweep остаётся
// корректным за счёт условного UPDATE, поэтому сбой даёт "degraded".
func NewRedisReadinessChecker(client redis.UniversalClient) *PingChecker {
	return &PingChecker{
		name:       "Redis",
		ping:       func(ctx context.Context) error { return client.Ping(ctx).Err() },
		failStatus: "degraded",
	}
}

// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
func (c *PingChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return c.failStatus, fmt.Sprintf("%s недоступен: %v", c.name, err)
	}
	return "ok", "подключение активно"
}
