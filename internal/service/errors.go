// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrInvalidRole — некорректная роль.
	ErrInvalidRole = errors.New("некорректная роль: допустимые значения — OWNER, MANAGER, MEMBER, VIEWER")
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")

	// ErrUnauthenticated — действие требует аутентифицированного пользователя.
	ErrUnauthenticated = errors.New("пользователь не аутентифицирован")
	// ErrForbidden — у пользователя нет нужного права.
	ErrForbidden = errors.New("недостаточно прав")

	// ErrNoteNotFound — нота не найдена.
	ErrNoteNotFound = errors.New("нота не найдена")
	// ErrNoteNotPending — нота уже в терминальном статусе.
	ErrNoteNotPending = errors.New("нота не находится в статусе PENDENTE")
	// ErrNotOverdue — срок аттестации ноты ещё не истёк.
	ErrNotOverdue = errors.New("срок аттестации ноты ещё не истёк")

	// ErrUploadFailed — файловое хранилище не приняло файл.
	ErrUploadFailed = errors.New("ошибка загрузки файла в хранилище")

	// ErrSweepInProgress — другой экземпляр уже выполняет sweep.
	ErrSweepInProgress = errors.New("проверка истечения сроков уже выполняется")
)
