package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/fadex/notas-fadex/internal/api/errors"
)

// CronAuth пропускает только запросы с Authorization: Bearer {secret}.
// Пустой secret закрывает endpoint полностью.
func CronAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, presented, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if secret == "" || !ok || !strings.EqualFold(scheme, "Bearer") ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				apierrors.Unauthorized(w, "Não autorizado.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
