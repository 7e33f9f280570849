package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fadex/notas-fadex/internal/domain/model"
)

// HistoryRepository — чтение журнала аудита нот.
// Запись событий выполняется только внутри транзакций NoteRepository;
// UPDATE и DELETE для note_history_events не предусмотрены.
type HistoryRepository interface {
	// ListByNote возвращает события ноты в порядке добавления.
	ListByNote(ctx context.Context, noteID string) ([]model.NoteHistoryEvent, error)
}

// historyRepo — реализация HistoryRepository.
type historyRepo struct {
	db DBTX
}

// NewHistoryRepository создаёт репозиторий истории нот.
func NewHistoryRepository(db DBTX) HistoryRepository {
	return &historyRepo{db: db}
}

const insertEventQuery = `
	INSERT INTO note_history_events (id, note_id, type, details, date, author_id, user_name)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// insertEvent добавляет событие истории в рамках транзакции tx.
func insertEvent(ctx context.Context, tx DBTX, e *model.NoteHistoryEvent) error {
	_, err := tx.Exec(ctx, insertEventQuery,
		e.ID, e.NoteID, e.Type, e.Details, e.Date, e.AuthorID, e.UserName,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи события %s ноты %s: %w", e.Type, e.NoteID, err)
	}
	return nil
}

// queueEvent ставит вставку события в batch.
func queueEvent(b *pgx.Batch, e *model.NoteHistoryEvent) {
	b.Queue(insertEventQuery, e.ID, e.NoteID, e.Type, e.Details, e.Date, e.AuthorID, e.UserName)
}

func (r *historyRepo) ListByNote(ctx context.Context, noteID string) ([]model.NoteHistoryEvent, error) {
	query := `
		SELECT id, note_id, type, details, date, author_id, user_name
		FROM note_history_events
		WHERE note_id = $1
		ORDER BY seq`

	rows, err := r.db.Query(ctx, query, noteID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории ноты %s: %w", noteID, err)
	}
	defer rows.Close()

	var events []model.NoteHistoryEvent
	for rows.Next() {
		var e model.NoteHistoryEvent
		if err := rows.Scan(&e.ID, &e.NoteID, &e.Type, &e.Details, &e.Date, &e.AuthorID, &e.UserName); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события истории: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
