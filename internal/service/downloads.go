// downloads.go — авторизованное скачивание файлов нот.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/filestore"
	"github.com/fadex/notas-fadex/internal/repository"
	"github.com/fadex/notas-fadex/internal/token"
)

// DownloadRequest — запрос на скачивание файла.
type DownloadRequest struct {
	FileID string
	// Actor — пользователь сессии (nil, если нет)
	Actor *model.Actor
	// Token — токен аттестации из query (может быть пустым)
	Token string
}

// DownloadService выдаёт файлы владельцу ноты, обладателю DOWNLOAD_ANY_FILE
// или держателю токена аттестации этой ноты.
type DownloadService struct {
	notes  repository.NoteRepository
	store  filestore.Store
	tokens *token.Service
	gate   *PermissionGate
	logger *slog.Logger
}

// NewDownloadService создаёт DownloadService.
func NewDownloadService(
	notes repository.NoteRepository,
	store filestore.Store,
	tokens *token.Service,
	gate *PermissionGate,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		notes:  notes,
		store:  store,
		tokens: tokens,
		gate:   gate,
		logger: logger.With(slog.String("service", "downloads")),
	}
}

// Open проверяет доступ и открывает файл. Вызывающий закрывает reader.
// ErrUnauthenticated — нет ни сессии, ни валидного токена;
// ErrNotFound — файл не принадлежит ни одной ноте или отсутствует в хранилище;
// ErrForbidden — файл чужой.
func (s *DownloadService) Open(ctx context.Context, req DownloadRequest) (io.ReadCloser, *filestore.Object, error) {
	authenticated := req.Actor != nil && req.Actor.ID != ""

	var tokenNoteID string
	if req.Token != "" {
		claims, err := s.tokens.Verify(req.Token)
		if err == nil {
			tokenNoteID = claims.NoteID
		} else if !authenticated {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
	}
	if !authenticated && tokenNoteID == "" {
		return nil, nil, ErrUnauthenticated
	}

	note, err := s.notes.GetByFileID(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("поиск ноты по файлу: %w", err)
	}

	if err := s.authorize(ctx, req.Actor, tokenNoteID, note, req.FileID); err != nil {
		s.logger.Warn("Отказано в скачивании файла",
			slog.String("file_id", req.FileID),
			slog.String("note_id", note.ID),
		)
		return nil, nil, err
	}

	rc, obj, err := s.store.Open(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("открытие файла: %w", err)
	}
	return rc, obj, nil
}

func (s *DownloadService) authorize(
	ctx context.Context,
	actor *model.Actor,
	tokenNoteID string,
	note *model.FiscalNote,
	fileID string,
) error {
	// Нота из GetByFileID обязана ссылаться на запрошенный файл.
	if !note.OwnsFile(fileID) {
		return ErrForbidden
	}
	if tokenNoteID != "" && tokenNoteID == note.ID {
		return nil
	}
	if actor == nil || actor.ID == "" {
		return ErrForbidden
	}
	if note.CreatorID == actor.ID {
		return nil
	}
	ok, err := s.gate.HasPermission(ctx, actor, rbac.PermissionDownloadAnyFile)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
