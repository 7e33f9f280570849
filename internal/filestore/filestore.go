// Пакет filestore — внешнее файловое хранилище нот (Google Cloud Storage).
// Нота ссылается на файлы только по непрозрачному идентификатору.
package filestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrNotFound — объект отсутствует в хранилище.
var ErrNotFound = errors.New("файл не найден в хранилище")

// Object — метаданные сохранённого файла.
type Object struct {
	// ID — непрозрачный идентификатор (используется в URL скачивания)
	ID string
	// Name — имя объекта в bucket
	Name        string
	ContentType string
	Size        int64
}

// Store — операции файлового хранилища.
type Store interface {
	// Upload сохраняет файл под именем name.
	Upload(ctx context.Context, name, contentType string, r io.Reader) (*Object, error)
	// Open открывает файл по идентификатору. Вызывающий закрывает reader.
	Open(ctx context.Context, id string) (io.ReadCloser, *Object, error)
}

// ObjectID кодирует имя объекта в идентификатор, пригодный для сегмента URL.
func ObjectID(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// ObjectName декодирует идентификатор обратно в имя объекта.
func ObjectName(id string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(b) == 0 {
		return "", fmt.Errorf("%w: некорректный идентификатор %q", ErrNotFound, id)
	}
	return string(b), nil
}

// AttestedName формирует имя аттестованного файла ноты.
func AttestedName(noteID string, at time.Time) string {
	return fmt.Sprintf("notas/%s/atestado-%d.pdf", noteID, at.UnixMilli())
}

// GCSStore — реализация Store поверх Google Cloud Storage.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGCSStore создаёт клиент GCS.
// credentialsJSON пустой — используются Application Default Credentials.
func NewGCSStore(
	ctx context.Context,
	bucket, credentialsJSON string,
	timeout time.Duration,
	logger *slog.Logger,
	opts ...option.ClientOption,
) (*GCSStore, error) {
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание клиента GCS: %w", err)
	}
	return &GCSStore{
		client:  client,
		bucket:  bucket,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "filestore")),
	}, nil
}

// Upload записывает объект. Таймаут — NF_FILESTORE_TIMEOUT; при ошибке
// объект не считается сохранённым.
func (s *GCSStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	wc := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	wc.ContentType = contentType

	n, err := io.Copy(wc, r)
	if err != nil {
		_ = wc.Close()
		return nil, fmt.Errorf("загрузка %s в GCS: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("завершение загрузки %s в GCS: %w", name, err)
	}

	s.logger.Info("Файл загружен",
		slog.String("object", name),
		slog.Int64("size", n),
	)

	return &Object{
		ID:          ObjectID(name),
		Name:        name,
		ContentType: contentType,
		Size:        n,
	}, nil
}

// Open открывает объект для чтения.
func (s *GCSStore) Open(ctx context.Context, id string) (io.ReadCloser, *Object, error) {
	name, err := ObjectName(id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("чтение %s из GCS: %w", name, err)
	}

	return rc, &Object{
		ID:          id,
		Name:        name,
		ContentType: rc.Attrs.ContentType,
		Size:        rc.Attrs.Size,
	}, nil
}

// CheckReady проверяет доступность bucket.
// Недоступный bucket даёт "degraded": страницы и списки нот работают и без него.
func (s *GCSStore) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return "degraded", fmt.Sprintf("GCS bucket %s недоступен: %v", s.bucket, err)
	}
	return "ok", "bucket доступен"
}

// Close закрывает клиент GCS.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// NoteFileName формирует имя исходного PDF ноты.
func NoteFileName(noteID string, at time.Time) string {
	return fmt.Sprintf("notas/%s/nota-%d.pdf", noteID, at.UnixMilli())
}
