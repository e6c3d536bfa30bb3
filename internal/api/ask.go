package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/execution"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/pipeline"
	"github.com/sqlscribe/sqlscribe/internal/schema"
)

var commonFixes = []string{
	"Check actual columns in each table",
	"Use /discover-schema to see real database structure",
	"Never assume column names - use only what exists",
}

type askRequest struct {
	Question    string `json:"question"`
	SkipSummary bool   `json:"skip_summary"`
}

type askResponse struct {
	Answer             string           `json:"answer"`
	SQL                string           `json:"sql"`
	OriginalSQL        string           `json:"original_sql"`
	AppliedCorrections []string         `json:"applied_corrections"`
	ValidationIssues   []string         `json:"validation_issues"`
	Suggestions        []string         `json:"suggestions"`
	AutoFixes          []execution.Fix  `json:"auto_fixes"`
	Attempts           int              `json:"attempts"`
	RowCount           int              `json:"row_count"`
	Columns            []string         `json:"columns"`
	DataPreview        []map[string]any `json:"data_preview"`
	SummaryFallback    bool             `json:"summary_fallback,omitempty"`
	Success            bool             `json:"success"`
}

type askFailure struct {
	ErrorCode          string          `json:"error_code"`
	Error              string          `json:"error"`
	GeneratedSQL       string          `json:"generated_sql"`
	CorrectedSQL       string          `json:"corrected_sql"`
	ExecutedSQL        string          `json:"executed_sql,omitempty"`
	AppliedCorrections []string        `json:"applied_corrections"`
	ValidationIssues   []string        `json:"validation_issues"`
	Suggestions        []string        `json:"suggestions"`
	AutoFixes          []execution.Fix `json:"auto_fixes"`
	Attempts           int             `json:"attempts"`
	DebugInfo          debugInfo       `json:"debug_info"`
	Success            bool            `json:"success"`
	TraceID            string          `json:"trace_id"`
}

type debugInfo struct {
	AvailableTables []string        `json:"available_tables"`
	ActualSchema    schema.Snapshot `json:"actual_schema"`
	CommonFixes     []string        `json:"common_fixes"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	if !requireRole(w, r, auth.RoleAsker) {
		return
	}

	var req askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid question request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "Missing 'question' in request body", false, nil)
		return
	}

	answer, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{Question: req.Question, SkipSummary: req.SkipSummary})
	if err != nil {
		writeAskError(deps, w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:             answer.Answer,
		SQL:                answer.SQL,
		OriginalSQL:        answer.GeneratedSQL,
		AppliedCorrections: nonNil(answer.AppliedCorrections),
		ValidationIssues:   nonNil(answer.ValidationIssues),
		Suggestions:        nonNil(answer.Suggestions),
		AutoFixes:          nonNilFixes(answer.Fixes),
		Attempts:           answer.Attempts,
		RowCount:           answer.RowCount,
		Columns:            nonNil(answer.Columns),
		DataPreview:        answer.Preview,
		SummaryFallback:    answer.SummaryFallback,
		Success:            true,
	})
}

func writeAskError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var execErr *pipeline.ExecutionError
	switch {
	case errors.Is(err, pipeline.ErrQuestionRequired):
		writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", "Missing 'question' in request body", false, nil)
	case errors.Is(err, pipeline.ErrSchemaUnavailable):
		writeError(ctx, w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", err.Error(), true, nil)
	case errors.Is(err, pipeline.ErrCompletionFailed):
		writeError(ctx, w, http.StatusBadGateway, "COMPLETION_FAILED", pipeline.ErrCompletionFailed.Error(), true, map[string]any{"details": err.Error()})
	case errors.As(err, &execErr):
		writeJSON(w, http.StatusBadRequest, executionFailureBody(deps, r, execErr))
	default:
		if deps.Logger != nil {
			deps.Logger.ErrorContext(ctx, "question failed",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.Any("error", err),
			)
		}
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal server error", true, map[string]any{"details": err.Error()})
	}
}

func executionFailureBody(deps Dependencies, r *http.Request, execErr *pipeline.ExecutionError) askFailure {
	code := "EXECUTION_FAILED"
	if errors.Is(execErr, pipeline.ErrNotReadOnly) {
		code = "SQL_NOT_ALLOWED"
	}
	body := askFailure{
		ErrorCode:          code,
		Error:              "Database error: " + execErr.Error(),
		GeneratedSQL:       execErr.Attempt.GeneratedSQL,
		CorrectedSQL:       execErr.Attempt.CorrectedSQL,
		AppliedCorrections: nonNil(execErr.Attempt.AppliedCorrections),
		ValidationIssues:   nonNil(execErr.Attempt.ValidationIssues),
		Suggestions:        nonNil(execErr.Attempt.Suggestions),
		AutoFixes:          []execution.Fix{},
		DebugInfo:          debugInfo{AvailableTables: []string{}, CommonFixes: commonFixes},
		TraceID:            observability.TraceIDFromContext(r.Context()),
	}
	if execErr.Failure != nil {
		body.ExecutedSQL = execErr.Failure.SQL
		body.Attempts = execErr.Failure.Attempt
		body.AutoFixes = nonNilFixes(execErr.Failure.Fixes)
	}
	if deps.Schema != nil {
		snapshot := deps.Schema.Current()
		body.DebugInfo.AvailableTables = snapshot.TableNames()
		body.DebugInfo.ActualSchema = snapshot
	}
	return body
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilFixes(fixes []execution.Fix) []execution.Fix {
	if fixes == nil {
		return []execution.Fix{}
	}
	return fixes
}
