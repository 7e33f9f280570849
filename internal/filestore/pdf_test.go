package filestore

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCheckPDF(t *testing.T) {
	pdf := []byte("%PDF-1.7\n%âãÏÓ\n1 0 obj\n")

	tests := []struct {
		name        string
		contentType string
		size        int64
		body        io.Reader
		wantErr     error
	}{
		{"корректный PDF", "application/pdf", int64(len(pdf)), bytes.NewReader(pdf), nil},
		{"PDF с параметрами типа", "application/pdf; name=a.pdf", int64(len(pdf)), bytes.NewReader(pdf), nil},
		{"нет файла", "application/pdf", 0, nil, ErrNoFile},
		{"пустой файл", "application/pdf", 0, strings.NewReader(""), ErrNoFile},
		{"не PDF по типу", "image/png", 10, strings.NewReader("\x89PNG...."), ErrNotPDF},
		{"не PDF по сигнатуре", "application/pdf", 11, strings.NewReader("hello world"), ErrNotPDF},
		{"PNG под видом PDF", "application/pdf", 16, strings.NewReader("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), ErrNotPDF},
		{"слишком большой", "application/pdf", 15 << 20, bytes.NewReader(pdf), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := CheckPDF(tt.contentType, tt.size, tt.body)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("CheckPDF() = %v, ожидается %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckPDF() ошибка: %v", err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("чтение: %v", err)
			}
			if !bytes.Equal(got, pdf) {
				t.Errorf("содержимое изменено: %q", got)
			}
		})
	}
}

func TestCheckPDF_StreamLongerThanDeclared(t *testing.T) {
	// Заявленный размер мал, фактический поток больше лимита
	body := io.MultiReader(strings.NewReader("%PDF-"), io.LimitReader(zeroReader{}, MaxPDFSize))
	r, err := CheckPDF("application/pdf", 100, body)
	if err != nil {
		t.Fatalf("CheckPDF() ошибка: %v", err)
	}
	if _, err := io.Copy(io.Discard, r); !errors.Is(err, ErrTooLarge) {
		t.Errorf("io.Copy() = %v, ожидается ErrTooLarge", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
