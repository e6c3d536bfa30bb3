package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
)

type parquetEntry struct {
	RequestID          string   `parquet:"request_id"`
	TraceID            string   `parquet:"trace_id"`
	Question           string   `parquet:"question"`
	GeneratedSQL       string   `parquet:"generated_sql"`
	CorrectedSQL       string   `parquet:"corrected_sql"`
	ExecutedSQL        string   `parquet:"executed_sql"`
	AppliedCorrections []string `parquet:"applied_corrections"`
	AutoFixes          []string `parquet:"auto_fixes"`
	ValidationIssues   []string `parquet:"validation_issues"`
	Outcome            string   `parquet:"outcome"`
	Error              string   `parquet:"error"`
	Attempts           int32    `parquet:"attempts"`
	RowCount           int64    `parquet:"row_count"`
	DurationMs         int64    `parquet:"duration_ms"`
	CreatedAtUnixMs    int64    `parquet:"created_at_unix_ms"`
}

// EncodeParquet writes entries as a single parquet file.
func EncodeParquet(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries are required")
	}
	rows := make([]parquetEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, parquetEntry{
			RequestID:          entry.RequestID,
			TraceID:            entry.TraceID,
			Question:           entry.Question,
			GeneratedSQL:       entry.GeneratedSQL,
			CorrectedSQL:       entry.CorrectedSQL,
			ExecutedSQL:        entry.ExecutedSQL,
			AppliedCorrections: entry.AppliedCorrections,
			AutoFixes:          entry.AutoFixes,
			ValidationIssues:   entry.ValidationIssues,
			Outcome:            entry.Outcome,
			Error:              entry.Error,
			Attempts:           int32(entry.Attempts),
			RowCount:           int64(entry.RowCount),
			DurationMs:         entry.DurationMs,
			CreatedAtUnixMs:    entry.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads back a file written by EncodeParquet.
func DecodeParquet(data []byte) ([]Entry, error) {
	reader := parquet.NewGenericReader[parquetEntry](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	total := reader.NumRows()
	rows := make([]parquetEntry, total)
	read := 0
	for read < len(rows) {
		n, err := reader.Read(rows[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}

	entries := make([]Entry, 0, read)
	for _, row := range rows[:read] {
		entries = append(entries, Entry{
			RequestID:          row.RequestID,
			TraceID:            row.TraceID,
			Question:           row.Question,
			GeneratedSQL:       row.GeneratedSQL,
			CorrectedSQL:       row.CorrectedSQL,
			ExecutedSQL:        row.ExecutedSQL,
			AppliedCorrections: row.AppliedCorrections,
			AutoFixes:          row.AutoFixes,
			ValidationIssues:   row.ValidationIssues,
			Outcome:            row.Outcome,
			Error:              row.Error,
			Attempts:           int(row.Attempts),
			RowCount:           int(row.RowCount),
			DurationMs:         row.DurationMs,
			CreatedAt:          time.UnixMilli(row.CreatedAtUnixMs).UTC(),
		})
	}
	return entries, nil
}
