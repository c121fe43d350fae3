package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"passport-sync-service/internal/repository"
)

const reportLogLimit = 10000

// ExportJobReport renders a job and its log as an XLSX workbook
func (s *SyncService) ExportJobReport(ctx context.Context, brandID string, jobID uuid.UUID) ([]byte, string, error) {
	job, err := s.GetJob(ctx, brandID, jobID)
	if err != nil {
		return nil, "", err
	}
	logs, _, err := s.syncRepo.ListLogs(ctx, job.ID, repository.LogListOptions{Limit: reportLogLimit})
	if err != nil {
		return nil, "", fmt.Errorf("failed to load sync logs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	const logSheet = "Log"
	f.SetSheetName("Sheet1", summarySheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})

	total := ""
	if job.ProductsTotal != nil {
		total = fmt.Sprintf("%d", *job.ProductsTotal)
	}
	errorSummary := ""
	if job.ErrorSummary != nil {
		errorSummary = *job.ErrorSummary
	}
	rows := [][2]interface{}{
		{"Job ID", job.ID.String()},
		{"Connection ID", job.ConnectionID.String()},
		{"Status", string(job.Status)},
		{"Trigger", string(job.Trigger)},
		{"Products Processed", job.ProductsProcessed},
		{"Products Total", total},
		{"Created", job.Summary.Created},
		{"Updated", job.Summary.Updated},
		{"Skipped", job.Summary.Skipped},
		{"Error", errorSummary},
		{"Started At", formatTime(job.StartedAt)},
		{"Finished At", formatTime(job.FinishedAt)},
	}
	for i, row := range rows {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}
	f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), headerStyle)
	f.SetColWidth(summarySheet, "A", "A", 22)
	f.SetColWidth(summarySheet, "B", "B", 60)

	f.NewSheet(logSheet)
	headers := []string{"Time", "Level", "External ID", "Message", "Data"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(logSheet, cell, header)
		f.SetCellStyle(logSheet, cell, cell, headerStyle)
	}
	for i, entry := range logs {
		row := i + 2
		f.SetCellValue(logSheet, fmt.Sprintf("A%d", row), entry.CreatedAt.UTC().Format(time.RFC3339))
		f.SetCellValue(logSheet, fmt.Sprintf("B%d", row), string(entry.Level))
		f.SetCellValue(logSheet, fmt.Sprintf("C%d", row), entry.ExternalID)
		f.SetCellValue(logSheet, fmt.Sprintf("D%d", row), entry.Message)
		f.SetCellValue(logSheet, fmt.Sprintf("E%d", row), string(entry.Data))
	}
	f.SetColWidth(logSheet, "A", "A", 22)
	f.SetColWidth(logSheet, "C", "C", 20)
	f.SetColWidth(logSheet, "D", "E", 50)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to render report: %w", err)
	}
	filename := fmt.Sprintf("sync_job_%s.xlsx", job.ID.String()[:8])
	return buf.Bytes(), filename, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
