// Пакет model — доменные модели Notas Fadex.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoteStatus — состояние жизненного цикла фискальной ноты.
type NoteStatus string

const (
	// StatusPending — нота ожидает аттестации (единственное нетерминальное состояние).
	StatusPending NoteStatus = "PENDENTE"
	// StatusAttested — нота аттестована координатором.
	StatusAttested NoteStatus = "ATESTADA"
	// StatusRejected — нота отклонена координатором.
	StatusRejected NoteStatus = "REJEITADA"
	// StatusExpired — срок аттестации истёк.
	StatusExpired NoteStatus = "EXPIRADA"
)

// IsTerminal сообщает, является ли состояние конечным.
func (s NoteStatus) IsTerminal() bool {
	return s != StatusPending
}

// IsValid проверяет, что значение входит в перечисление.
func (s NoteStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAttested, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// FiscalNote — фискальная нота (агрегат).
// Хранится в таблице fiscal_notes, история — в note_history_events.
type FiscalNote struct {
	// ID — UUID ноты
	ID string
	// Status — текущее состояние
	Status NoteStatus
	// AttestationDeadline — крайний срок аттестации, фиксируется при создании
	AttestationDeadline time.Time

	// --- Описательные поля (неизменяемые) ---

	Amount               decimal.Decimal
	IssueDate            time.Time
	Description          string
	NumeroNota           string
	ProjectAccountNumber string
	ProjectTitle         string
	Requester            string
	// RequesterEmail — адрес заявителя (уведомления об отклонении и истечении)
	RequesterEmail string
	// CoordinatorEmail — адрес координатора, которому отправляется ссылка
	CoordinatorEmail string

	// CreatorID — владелец ноты (subject IdP)
	CreatorID string

	// --- Аттестация (заполняются только при переходе в ATESTADA) ---

	AttestedAt   *time.Time
	AttestedByID *string
	// AttestedBy — имя координатора в свободной форме
	AttestedBy *string
	// Observation — замечание при аттестации или причина отклонения
	Observation *string

	// --- Ссылки на файлы во внешнем хранилище ---

	DriveFileID         *string
	AttestedDriveFileID *string
	AttestedFileURL     *string
	ReportDriveFileID   *string

	// LastReminderAt — время последнего напоминания координатору
	LastReminderAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// History — события истории в порядке добавления (заполняется по запросу)
	History []NoteHistoryEvent
}

// IsOverdue сообщает, истёк ли срок аттестации на момент now.
func (n *FiscalNote) IsOverdue(now time.Time) bool {
	return n.AttestationDeadline.Before(now)
}

// OwnsFile проверяет, ссылается ли нота на файл fileID.
func (n *FiscalNote) OwnsFile(fileID string) bool {
	for _, ref := range []*string{n.DriveFileID, n.AttestedDriveFileID, n.ReportDriveFileID} {
		if ref != nil && *ref == fileID {
			return true
		}
	}
	return false
}

// NewNote — входные данные для создания ноты.
type NewNote struct {
	Amount               decimal.Decimal
	IssueDate            time.Time
	Description          string
	NumeroNota           string
	ProjectAccountNumber string
	ProjectTitle         string
	Requester            string
	RequesterEmail       string
	CoordinatorEmail     string
	DriveFileID          *string
}

// Transition — изменения полей ноты при переходе из PENDENTE.
// Применяется атомарно вместе с событием истории.
type Transition struct {
	// To — целевое состояние
	To NoteStatus
	// At — момент перехода
	At time.Time

	AttestedByID        *string
	AttestedBy          *string
	Observation         *string
	AttestedDriveFileID *string
	AttestedFileURL     *string
}

// NoteFilter — фильтр списка нот.
type NoteFilter struct {
	// CreatorID — только ноты владельца (nil — все)
	CreatorID *string
	// Status — только ноты в указанном состоянии (nil — любые)
	Status *NoteStatus
	Limit  int
	Offset int
}
