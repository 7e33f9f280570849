// Пакет errors — ответы об ошибках JSON API: {"error": {"code", "message"}}.
// Публичные формы аттестации отвечают своим форматом {success, message}.
package errors

import (
	"encoding/json"
	"net/http"
)

// kind связывает машиночитаемый код с HTTP-статусом.
type kind struct {
	status int
	code   string
}

var (
	kindValidation     = kind{http.StatusBadRequest, "VALIDATION_ERROR"}
	kindUnauthorized   = kind{http.StatusUnauthorized, "UNAUTHORIZED"}
	kindForbidden      = kind{http.StatusForbidden, "FORBIDDEN"}
	kindNotFound       = kind{http.StatusNotFound, "NOT_FOUND"}
	kindConflict       = kind{http.StatusConflict, "CONFLICT"}
	kindNotPending     = kind{http.StatusConflict, "NOT_PENDING"}
	kindInternal       = kind{http.StatusInternalServerError, "INTERNAL_ERROR"}
	kindIDPUnavailable = kind{http.StatusBadGateway, "IDP_UNAVAILABLE"}
	kindUploadFailed   = kind{http.StatusBadGateway, "UPLOAD_FAILED"}
)

type body struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (k kind) write(w http.ResponseWriter, message string) {
	var b body
	b.Error.Code = k.code
	b.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(k.status)
	_ = json.NewEncoder(w).Encode(b)
}

func ValidationError(w http.ResponseWriter, message string) { kindValidation.write(w, message) }
func Unauthorized(w http.ResponseWriter, message string)    { kindUnauthorized.write(w, message) }
func Forbidden(w http.ResponseWriter, message string)       { kindForbidden.write(w, message) }
func NotFound(w http.ResponseWriter, message string)        { kindNotFound.write(w, message) }
func Conflict(w http.ResponseWriter, message string)        { kindConflict.write(w, message) }
func InternalError(w http.ResponseWriter, message string)   { kindInternal.write(w, message) }

// NotPending — нота уже аттестована, отклонена или истекла.
func NotPending(w http.ResponseWriter, message string) { kindNotPending.write(w, message) }

// IDPUnavailable — Keycloak не ответил или ответил ошибкой.
func IDPUnavailable(w http.ResponseWriter, message string) { kindIDPUnavailable.write(w, message) }

// UploadFailed — GCS не принял файл.
func UploadFailed(w http.ResponseWriter, message string) { kindUploadFailed.write(w, message) }
