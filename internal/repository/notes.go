package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fadex/notas-fadex/internal/domain/lifecycle"
	"github.com/fadex/notas-fadex/internal/domain/model"
)

// DB — пул подключений: запросы + транзакции.
// Реализуется *pgxpool.Pool.
type DB interface {
	DBTX
	TxBeginner
}

// NoteRepository — доступ к таблице fiscal_notes.
// Все изменения статуса выполняются условным UPDATE … WHERE status = 'PENDENTE'
// в одной транзакции со вставкой события истории.
type NoteRepository interface {
	// Create сохраняет новую ноту и событие CREATED атомарно.
	Create(ctx context.Context, note *model.FiscalNote, created *model.NoteHistoryEvent) error
	// GetByID возвращает ноту по ID. Если не найдена — ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.FiscalNote, error)
	// GetByFileID возвращает ноту, ссылающуюся на файл (любой из трёх ссылок).
	GetByFileID(ctx context.Context, fileID string) (*model.FiscalNote, error)
	// List возвращает ноты по фильтру, новые первыми.
	List(ctx context.Context, filter model.NoteFilter) ([]*model.FiscalNote, error)
	// Count возвращает количество нот по фильтру (без учёта Limit/Offset).
	Count(ctx context.Context, filter model.NoteFilter) (int, error)
	// ApplyTransition переводит ноту из PENDENTE и добавляет событие истории.
	// ErrNotFound — ноты нет; ErrNotPending — нота уже в терминальном статусе.
	ApplyTransition(ctx context.Context, noteID string, tr model.Transition, event *model.NoteHistoryEvent) (*model.FiscalNote, error)
	// ExpireOverdue переводит все просроченные PENDENTE-ноты в EXPIRADA одним UPDATE
	// и добавляет по одному событию EXPIRED на каждую. Возвращает изменённые ноты.
	ExpireOverdue(ctx context.Context, now time.Time, event func(*model.FiscalNote) *model.NoteHistoryEvent) ([]*model.FiscalNote, error)
	// ListDueReminders возвращает PENDENTE-ноты с непросроченным сроком,
	// которым не напоминали (и которые не создавались) после remindBefore.
	ListDueReminders(ctx context.Context, now, remindBefore time.Time) ([]*model.FiscalNote, error)
	// MarkReminded фиксирует время напоминания, если нота всё ещё PENDENTE.
	MarkReminded(ctx context.Context, noteID string, at time.Time) (bool, error)
}

// noteRepo — реализация NoteRepository.
type noteRepo struct {
	db DB
}

// NewNoteRepository создаёт репозиторий нот.
func NewNoteRepository(db DB) NoteRepository {
	return &noteRepo{db: db}
}

const noteColumns = `id, status, attestation_deadline, amount, issue_date, description,
	numero_nota, project_account_number, project_title, requester, requester_email,
	coordinator_email, creator_id, attested_at, attested_by_id, attested_by, observation,
	drive_file_id, attested_drive_file_id, attested_file_url, report_drive_file_id,
	last_reminder_at, created_at, updated_at`

// scanNote сканирует строку в FiscalNote (порядок — noteColumns).
func scanNote(row pgx.Row) (*model.FiscalNote, error) {
	n := &model.FiscalNote{}
	err := row.Scan(
		&n.ID, &n.Status, &n.AttestationDeadline, &n.Amount, &n.IssueDate, &n.Description,
		&n.NumeroNota, &n.ProjectAccountNumber, &n.ProjectTitle, &n.Requester, &n.RequesterEmail,
		&n.CoordinatorEmail, &n.CreatorID, &n.AttestedAt, &n.AttestedByID, &n.AttestedBy, &n.Observation,
		&n.DriveFileID, &n.AttestedDriveFileID, &n.AttestedFileURL, &n.ReportDriveFileID,
		&n.LastReminderAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// collectNotes сканирует все строки результата.
func collectNotes(rows pgx.Rows) ([]*model.FiscalNote, error) {
	defer rows.Close()

	var result []*model.FiscalNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования ноты: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *noteRepo) Create(ctx context.Context, note *model.FiscalNote, created *model.NoteHistoryEvent) error {
	query := `
		INSERT INTO fiscal_notes (
			id, status, attestation_deadline, amount, issue_date, description,
			numero_nota, project_account_number, project_title, requester, requester_email,
			coordinator_email, creator_id, drive_file_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`

	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			note.ID, note.Status, note.AttestationDeadline, note.Amount, note.IssueDate, note.Description,
			note.NumeroNota, note.ProjectAccountNumber, note.ProjectTitle, note.Requester, note.RequesterEmail,
			note.CoordinatorEmail, note.CreatorID, note.DriveFileID, note.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("ошибка создания ноты: %w", err)
		}
		note.UpdatedAt = note.CreatedAt

		if err := insertEvent(ctx, tx, created); err != nil {
			return err
		}
		return nil
	})
}

func (r *noteRepo) GetByID(ctx context.Context, id string) (*model.FiscalNote, error) {
	query := fmt.Sprintf(`SELECT %s FROM fiscal_notes WHERE id = $1`, noteColumns)

	n, err := scanNote(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ноты %s: %w", id, err)
	}
	return n, nil
}

func (r *noteRepo) GetByFileID(ctx context.Context, fileID string) (*model.FiscalNote, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM fiscal_notes
		WHERE drive_file_id = $1 OR attested_drive_file_id = $1 OR report_drive_file_id = $1
		ORDER BY created_at
		LIMIT 1`, noteColumns)

	n, err := scanNote(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска ноты по файлу %s: %w", fileID, err)
	}
	return n, nil
}

// buildFilter формирует WHERE-условие и аргументы для фильтра.
func buildFilter(filter model.NoteFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		conds = append(conds, fmt.Sprintf("creator_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *noteRepo) List(ctx context.Context, filter model.NoteFilter) ([]*model.FiscalNote, error) {
	where, args := buildFilter(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s FROM fiscal_notes
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, noteColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка нот: %w", err)
	}
	return collectNotes(rows)
}

func (r *noteRepo) Count(ctx context.Context, filter model.NoteFilter) (int, error) {
	where, args := buildFilter(filter)

	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM fiscal_notes `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта нот: %w", err)
	}
	return count, nil
}

func (r *noteRepo) ApplyTransition(
	ctx context.Context,
	noteID string,
	tr model.Transition,
	event *model.NoteHistoryEvent,
) (*model.FiscalNote, error) {
	// Условие status = 'PENDENTE' проверяется в момент записи,
	// поэтому из двух конкурентных переходов применяется ровно один.
	query := fmt.Sprintf(`
		UPDATE fiscal_notes SET
			status = $2,
			attested_at = COALESCE($3, attested_at),
			attested_by_id = COALESCE($4, attested_by_id),
			attested_by = COALESCE($5, attested_by),
			observation = COALESCE($6, observation),
			attested_drive_file_id = COALESCE($7, attested_drive_file_id),
			attested_file_url = COALESCE($8, attested_file_url),
			updated_at = $9
		WHERE id = $1 AND status = 'PENDENTE'
		RETURNING %s`, noteColumns)

	var attestedAt *time.Time
	if tr.To == model.StatusAttested {
		at := tr.At
		attestedAt = &at
	}

	var note *model.FiscalNote
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		n, err := scanNote(tx.QueryRow(ctx, query,
			noteID, tr.To, attestedAt, tr.AttestedByID, tr.AttestedBy, tr.Observation,
			tr.AttestedDriveFileID, tr.AttestedFileURL, tr.At,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return classifyMissedUpdate(ctx, tx, noteID, tr.To)
			}
			return fmt.Errorf("ошибка перехода ноты %s в %s: %w", noteID, tr.To, err)
		}

		event.NoteID = n.ID
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		note = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// classifyMissedUpdate различает «ноты нет» и «нота не PENDENTE»,
// когда условный UPDATE не затронул ни одной строки.
// Ошибка перехода несёт и ErrNotPending, и *lifecycle.TransitionError.
func classifyMissedUpdate(ctx context.Context, db DBTX, noteID string, to model.NoteStatus) error {
	var status model.NoteStatus
	err := db.QueryRow(ctx, `SELECT status FROM fiscal_notes WHERE id = $1`, noteID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка проверки статуса ноты %s: %w", noteID, err)
	}
	if terr := lifecycle.ValidateTransition(status, to); terr != nil {
		return fmt.Errorf("%w: %w", ErrNotPending, terr)
	}
	return fmt.Errorf("условный переход ноты %s в %s не применён", noteID, to)
}

func (r *noteRepo) ExpireOverdue(
	ctx context.Context,
	now time.Time,
	event func(*model.FiscalNote) *model.NoteHistoryEvent,
) ([]*model.FiscalNote, error) {
	query := fmt.Sprintf(`
		UPDATE fiscal_notes SET
			status = 'EXPIRADA',
			updated_at = $1
		WHERE status = 'PENDENTE' AND attestation_deadline < $1
		RETURNING %s`, noteColumns)

	var expired []*model.FiscalNote
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, now)
		if err != nil {
			return fmt.Errorf("ошибка массового истечения нот: %w", err)
		}
		notes, err := collectNotes(rows)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, n := range notes {
			e := event(n)
			e.NoteID = n.ID
			queueEvent(batch, e)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("ошибка записи событий EXPIRED: %w", err)
		}

		expired = notes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (r *noteRepo) ListDueReminders(ctx context.Context, now, remindBefore time.Time) ([]*model.FiscalNote, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM fiscal_notes
		WHERE status = 'PENDENTE'
			AND attestation_deadline >= $1
			AND COALESCE(last_reminder_at, created_at) < $2
		ORDER BY attestation_deadline`, noteColumns)

	rows, err := r.db.Query(ctx, query, now, remindBefore)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки нот для напоминаний: %w", err)
	}
	return collectNotes(rows)
}

func (r *noteRepo) MarkReminded(ctx context.Context, noteID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE fiscal_notes SET last_reminder_at = $2
		WHERE id = $1 AND status = 'PENDENTE'`, noteID, at)
	if err != nil {
		return false, fmt.Errorf("ошибка отметки напоминания ноты %s: %w", noteID, err)
	}
	return tag.RowsAffected() == 1, nil
}
