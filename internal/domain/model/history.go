package model

import "time"

// HistoryType — тип события истории ноты.
type HistoryType string

const (
	HistoryCreated  HistoryType = "CREATED"
	HistoryAttested HistoryType = "ATTESTED"
	HistoryReverted HistoryType = "REVERTED"
	HistoryEdited   HistoryType = "EDITED"
	HistoryExpired  HistoryType = "EXPIRED"
	HistoryRejected HistoryType = "REJECTED"
	HistoryDeleted  HistoryType = "DELETED"
	HistoryRestored HistoryType = "RESTORED"
)

// SystemUserName — отображаемое имя автора системных событий sweep.
const SystemUserName = "Sistema (Cron Job)"

// NoteHistoryEvent — неизменяемая запись журнала аудита ноты.
// Создаётся в той же транзакции, что и изменение статуса.
type NoteHistoryEvent struct {
	// ID — UUID события
	ID string
	// NoteID — нота-владелец
	NoteID string
	// Type — тип события
	Type HistoryType
	// Details — описание в свободной форме
	Details string
	// Date — момент события
	Date time.Time
	// AuthorID — пользователь-автор (nil для системных и публичных действий)
	AuthorID *string
	// UserName — отображаемое имя автора, если AuthorID отсутствует
	UserName string
}
