// Пакет lifecycle — конечный автомат статусов фискальной ноты.
//
// Жизненный цикл:
//
//	PENDENTE → ATESTADA | REJEITADA | EXPIRADA
//
// PENDENTE — единственное нетерминальное состояние, обратных переходов нет.
// Автомат не хранит состояние: текущий статус всегда читается из БД,
// а сам переход выполняется условным UPDATE … WHERE status = 'PENDENTE'.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/fadex/notas-fadex/internal/domain/model"
)

// Коды ошибок перехода.
const (
	// CodeNotPending — нота уже в терминальном состоянии.
	CodeNotPending = "NOT_PENDING"
	// CodeInvalidTarget — целевое состояние недопустимо.
	CodeInvalidTarget = "INVALID_TARGET"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[model.NoteStatus]map[model.NoteStatus]bool{
	model.StatusPending: {
		model.StatusAttested: true,
		model.StatusRejected: true,
		model.StatusExpired:  true,
	},
	model.StatusAttested: {},
	model.StatusRejected: {},
	model.StatusExpired:  {},
}

// historyTypes — тип события истории для каждого целевого статуса.
var historyTypes = map[model.NoteStatus]model.HistoryType{
	model.StatusAttested: model.HistoryAttested,
	model.StatusRejected: model.HistoryRejected,
	model.StatusExpired:  model.HistoryExpired,
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.NoteStatus) bool {
	return validTransitions[from][to]
}

// ValidateTransition возвращает *TransitionError, если переход недопустим.
func ValidateTransition(from, to model.NoteStatus) error {
	if _, ok := historyTypes[to]; !ok {
		return &TransitionError{
			Code:    CodeInvalidTarget,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", to),
		}
	}
	if from != model.StatusPending {
		return &TransitionError{
			Code:    CodeNotPending,
			Message: fmt.Sprintf("нота в статусе %s, ожидался %s", from, model.StatusPending),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    CodeInvalidTarget,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// HistoryTypeFor возвращает тип события истории для перехода в статус to.
func HistoryTypeFor(to model.NoteStatus) (model.HistoryType, bool) {
	t, ok := historyTypes[to]
	return t, ok
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (NOT_PENDING, INVALID_TARGET)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotPending сообщает, что ошибка вызвана терминальным статусом ноты.
func IsNotPending(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.Code == CodeNotPending
}

// ParseStatus преобразует строку в NoteStatus.
func ParseStatus(s string) (model.NoteStatus, error) {
	st := model.NoteStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: PENDENTE, ATESTADA, REJEITADA, EXPIRADA", s)
	}
	return st, nil
}
