package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
)

func TestReportService_ExportXLSX(t *testing.T) {
	env := newNoteEnv(t)
	for i := 0; i < 3; i++ {
		env.pendingNote(t, fmt.Sprintf("n%d", i), testNow.AddDate(0, 0, 10))
	}
	n := env.repo.get("n1")
	n.Status = model.StatusAttested
	by := "José"
	n.AttestedBy = &by
	env.repo.put(n)

	svc := NewReportService(env.repo, env.gate, testLogger())
	var buf bytes.Buffer
	count, err := svc.ExportXLSX(context.Background(), actor("mgr", rbac.RoleManager), model.NoteFilter{}, &buf)
	if err != nil {
		t.Fatalf("ExportXLSX() ошибка: %v", err)
	}
	if count != 3 {
		t.Errorf("строк = %d, ожидается 3", count)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(reportSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("строк в листе = %d, ожидается 4", len(rows))
	}
	if rows[0][0] != "Número" {
		t.Errorf("заголовок = %v", rows[0])
	}
	if rows[2][0] != "NF-n1" || rows[2][7] != "ATESTADA" || rows[2][8] != "José" {
		t.Errorf("строка n1 = %v", rows[2])
	}
}

func TestReportService_Filter(t *testing.T) {
	env := newNoteEnv(t)
	env.pendingNote(t, "n1", testNow.AddDate(0, 0, 10))
	n := env.pendingNote(t, "n2", testNow.AddDate(0, 0, 10))
	n.Status = model.StatusExpired
	env.repo.put(n)

	svc := NewReportService(env.repo, env.gate, testLogger())
	status := model.StatusExpired
	var buf bytes.Buffer
	count, err := svc.ExportXLSX(context.Background(), actor("own", rbac.RoleOwner), model.NoteFilter{Status: &status}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("строк = %d, ожидается 1", count)
	}
}

func TestReportService_RequiresPermission(t *testing.T) {
	env := newNoteEnv(t)
	svc := NewReportService(env.repo, env.gate, testLogger())

	var buf bytes.Buffer
	_, err := svc.ExportXLSX(context.Background(), actor("m", rbac.RoleMember), model.NoteFilter{}, &buf)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("ExportXLSX() MEMBER = %v, ожидается ErrForbidden", err)
	}
	if buf.Len() != 0 {
		t.Error("при отказе файл не пишется")
	}
}
