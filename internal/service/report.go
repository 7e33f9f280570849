// report.go — выгрузка реестра нот в XLSX.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/domain/rbac"
	"github.com/fadex/notas-fadex/internal/repository"
)

// reportSheet — имя листа отчёта.
const reportSheet = "Notas"

// reportPageSize — размер страницы при чтении нот для отчёта.
const reportPageSize = 500

// reportHeaders — заголовки колонок отчёта.
var reportHeaders = []any{
	"Número", "Conta do projeto", "Projeto", "Solicitante", "Valor (R$)",
	"Emissão", "Prazo de atesto", "Status", "Atestada por", "Atestada em", "Observação",
}

// ReportService — отчёты по нотам.
type ReportService struct {
	notes  repository.NoteRepository
	gate   *PermissionGate
	logger *slog.Logger
}

// NewReportService создаёт ReportService.
func NewReportService(notes repository.NoteRepository, gate *PermissionGate, logger *slog.Logger) *ReportService {
	return &ReportService{
		notes:  notes,
		gate:   gate,
		logger: logger.With(slog.String("service", "report")),
	}
}

// ExportXLSX пишет в w реестр нот по фильтру. Требует EXPORT_REPORTS.
// Limit/Offset фильтра игнорируются: выгружаются все подходящие ноты.
func (s *ReportService) ExportXLSX(ctx context.Context, actor *model.Actor, filter model.NoteFilter, w io.Writer) (int, error) {
	if err := s.gate.Require(ctx, actor, rbac.PermissionExportReports); err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return 0, fmt.Errorf("создание листа отчёта: %w", err)
	}
	if err := f.SetSheetRow(reportSheet, "A1", &reportHeaders); err != nil {
		return 0, fmt.Errorf("запись заголовков отчёта: %w", err)
	}

	amountFmt := `#,##0.00`
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFmt})
	if err != nil {
		return 0, fmt.Errorf("стиль суммы: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("стиль заголовка: %w", err)
	}
	if err := f.SetRowStyle(reportSheet, 1, 1, headerStyle); err != nil {
		return 0, fmt.Errorf("стиль заголовка: %w", err)
	}

	row := 2
	filter.Limit = reportPageSize
	for filter.Offset = 0; ; filter.Offset += reportPageSize {
		page, err := s.notes.List(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("получение нот для отчёта: %w", err)
		}
		for _, n := range page {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return 0, err
			}
			values := reportRow(n)
			if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
				return 0, fmt.Errorf("запись строки %d отчёта: %w", row, err)
			}
			row++
		}
		if len(page) < reportPageSize {
			break
		}
	}

	count := row - 2
	if count > 0 {
		if err := f.SetCellStyle(reportSheet, "E2", fmt.Sprintf("E%d", row-1), amountStyle); err != nil {
			return 0, fmt.Errorf("стиль суммы: %w", err)
		}
	}
	if err := f.SetColWidth(reportSheet, "A", "K", 18); err != nil {
		return 0, fmt.Errorf("ширина колонок: %w", err)
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("запись XLSX: %w", err)
	}

	s.logger.Info("Отчёт выгружен",
		slog.Int("rows", count),
		slog.String("by", actor.DisplayName()),
	)
	return count, nil
}

// reportRow — значения строки отчёта для ноты.
func reportRow(n *model.FiscalNote) []any {
	attestedBy, attestedAt, observation := "", "", ""
	if n.AttestedBy != nil {
		attestedBy = *n.AttestedBy
	}
	if n.AttestedAt != nil {
		attestedAt = model.FormatDateBR(*n.AttestedAt)
	}
	if n.Observation != nil {
		observation = *n.Observation
	}
	return []any{
		n.NumeroNota,
		n.ProjectAccountNumber,
		n.ProjectTitle,
		n.Requester,
		n.Amount.InexactFloat64(),
		model.FormatDateBR(n.IssueDate),
		model.FormatDateBR(n.AttestationDeadline),
		string(n.Status),
		attestedBy,
		attestedAt,
		observation,
	}
}
