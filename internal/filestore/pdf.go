package filestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

// MaxPDFSize — максимальный размер загружаемого PDF (10 МБ).
const MaxPDFSize = 10 << 20

var (
	// ErrNoFile — файл не передан или пуст.
	ErrNoFile = errors.New("файл не передан")
	// ErrNotPDF — файл не является PDF.
	ErrNotPDF = errors.New("файл не является PDF")
	// ErrTooLarge — файл больше MaxPDFSize.
	ErrTooLarge = errors.New("файл превышает 10 МБ")
)

// CheckPDF проверяет заявленный тип, размер и сигнатуру файла.
// Возвращает reader, отдающий файл целиком (включая прочитанное при распознавании).
// Чтение ограничено MaxPDFSize+1 байтом: превышение обнаруживается при загрузке.
func CheckPDF(contentType string, size int64, r io.Reader) (io.Reader, error) {
	if r == nil || size == 0 {
		return nil, ErrNoFile
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/pdf" {
		return nil, fmt.Errorf("%w: тип %q", ErrNotPDF, contentType)
	}
	if size > MaxPDFSize {
		return nil, fmt.Errorf("%w: %d байт", ErrTooLarge, size)
	}

	var head bytes.Buffer
	detected, err := mimetype.DetectReader(io.TeeReader(r, &head))
	if err != nil {
		return nil, fmt.Errorf("чтение файла: %w", err)
	}
	if !detected.Is("application/pdf") {
		return nil, fmt.Errorf("%w: содержимое распознано как %s", ErrNotPDF, detected.String())
	}
	return &limitedReader{r: io.MultiReader(&head, r), left: MaxPDFSize}, nil
}

// limitedReader возвращает ErrTooLarge, если поток длиннее лимита.
type limitedReader struct {
	r    io.Reader
	left int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
