package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/completion"
	"github.com/sqlscribe/sqlscribe/internal/correction"
	"github.com/sqlscribe/sqlscribe/internal/execution"
	"github.com/sqlscribe/sqlscribe/internal/journal"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/prompt"
	"github.com/sqlscribe/sqlscribe/internal/schema"
	"github.com/sqlscribe/sqlscribe/internal/sqltext"
	"github.com/sqlscribe/sqlscribe/internal/validation"
)

// FallbackAnswer is used when the summary completion fails.
const FallbackAnswer = "We’ve found helpful information—let me guide you through it!"

const defaultPreviewRows = 5

type SchemaSource interface {
	Current() schema.Snapshot
}

type Runner interface {
	Run(ctx context.Context, sqlText string) (execution.Result, error)
}

type Recorder interface {
	Record(entry journal.Entry)
}

type Dependencies struct {
	Schema      SchemaSource
	Completion  completion.Client
	Corrections *correction.Engine
	Runner      Runner
	// Journal is optional.
	Journal Recorder
	Logger  *slog.Logger
}

type Config struct {
	Dialect     string
	Persona     string
	PreviewRows int
	ReadOnly    bool
}

type Request struct {
	Question    string
	SkipSummary bool
}

// Attempt is what the pipeline produced for one question before execution.
type Attempt struct {
	GeneratedSQL       string   `json:"generated_sql"`
	CorrectedSQL       string   `json:"corrected_sql"`
	AppliedCorrections []string `json:"applied_corrections"`
	ValidationIssues   []string `json:"validation_issues"`
	Suggestions        []string `json:"suggestions"`
}

type Answer struct {
	Attempt
	Question        string           `json:"question"`
	Answer          string           `json:"answer"`
	SQL             string           `json:"sql"`
	Fixes           []execution.Fix  `json:"auto_fixes"`
	Attempts        int              `json:"attempts"`
	Columns         []string         `json:"columns"`
	Rows            [][]any          `json:"-"`
	RowCount        int              `json:"row_count"`
	Preview         []map[string]any `json:"data_preview"`
	SummaryFallback bool             `json:"summary_fallback"`
}

// Pipeline answers questions: prompt, completion, extraction, correction,
// validation, execution and summary.
type Pipeline struct {
	schema      SchemaSource
	completion  completion.Client
	corrections *correction.Engine
	runner      Runner
	journal     Recorder
	prompts     prompt.Builder
	previewRows int
	readOnly    bool
	logger      *slog.Logger
	now         func() time.Time
}

func New(deps Dependencies, cfg Config) (*Pipeline, error) {
	if deps.Schema == nil {
		return nil, fmt.Errorf("schema source is required")
	}
	if deps.Completion == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("execution runner is required")
	}
	corrections := deps.Corrections
	if corrections == nil {
		corrections = correction.NewEngine(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	previewRows := cfg.PreviewRows
	if previewRows <= 0 {
		previewRows = defaultPreviewRows
	}
	return &Pipeline{
		schema:      deps.Schema,
		completion:  deps.Completion,
		corrections: corrections,
		runner:      deps.Runner,
		journal:     deps.Journal,
		prompts:     prompt.Builder{Dialect: cfg.Dialect, Persona: cfg.Persona},
		previewRows: previewRows,
		readOnly:    cfg.ReadOnly,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Ask answers one question. Validation findings never block execution; only
// a missing schema, a failed completion or a failed execution return errors.
func (p *Pipeline) Ask(ctx context.Context, req Request) (Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, ErrQuestionRequired
	}
	started := p.now()
	traceID := observability.TraceIDFromContext(ctx)
	logger := p.logger.With(observability.TraceAttr(ctx))
	entry := journal.Entry{TraceID: traceID, Question: question}

	snapshot := p.schema.Current()
	sqlPrompt := p.prompts.SQLPrompt(snapshot, question)
	if prompt.IsSchemaUnavailable(sqlPrompt) {
		logger.WarnContext(ctx, "question rejected, no schema loaded")
		p.finish(&entry, started, observability.QuestionOutcomeSchemaUnavailable, ErrSchemaUnavailable)
		return Answer{}, ErrSchemaUnavailable
	}

	raw, err := p.complete(ctx, observability.CompletionKindSQL, sqlPrompt)
	if err != nil {
		logger.ErrorContext(ctx, "sql completion failed", slog.Any("error", err))
		err = fmt.Errorf("%w: %w", ErrCompletionFailed, err)
		p.finish(&entry, started, observability.QuestionOutcomeCompletionFailed, err)
		return Answer{}, err
	}

	attempt := p.prepare(raw, snapshot)
	entry.GeneratedSQL = attempt.GeneratedSQL
	entry.CorrectedSQL = attempt.CorrectedSQL
	entry.AppliedCorrections = attempt.AppliedCorrections
	entry.ValidationIssues = attempt.ValidationIssues
	logger.InfoContext(ctx, "sql prepared",
		slog.String("generated_sql", attempt.GeneratedSQL),
		slog.String("corrected_sql", attempt.CorrectedSQL),
		slog.Any("applied_corrections", attempt.AppliedCorrections),
		slog.Int("validation_issues", len(attempt.ValidationIssues)),
	)

	if p.readOnly && !sqltext.IsReadOnly(attempt.CorrectedSQL) {
		execErr := &ExecutionError{Attempt: attempt, Failure: &execution.Failure{
			Message: ErrNotReadOnly.Error(),
			SQL:     attempt.CorrectedSQL,
			Err:     ErrNotReadOnly,
		}}
		logger.WarnContext(ctx, "generated statement is not read-only", slog.String("sql", attempt.CorrectedSQL))
		p.finish(&entry, started, observability.QuestionOutcomeRejected, execErr)
		return Answer{}, execErr
	}

	result, err := p.runner.Run(ctx, attempt.CorrectedSQL)
	if err != nil {
		var failure *execution.Failure
		if !errors.As(err, &failure) {
			failure = &execution.Failure{Message: err.Error(), SQL: attempt.CorrectedSQL, Err: err}
		}
		entry.ExecutedSQL = failure.SQL
		entry.Attempts = failure.Attempt
		entry.AutoFixes = fixStrings(failure.Fixes)
		logger.WarnContext(ctx, "sql execution failed",
			slog.String("sql", failure.SQL),
			slog.Int("attempt", failure.Attempt),
			slog.String("error", failure.Message),
		)
		execErr := &ExecutionError{Attempt: attempt, Failure: failure}
		p.finish(&entry, started, observability.QuestionOutcomeExecutionFailed, execErr)
		return Answer{}, execErr
	}
	entry.ExecutedSQL = result.SQL
	entry.Attempts = result.Attempts
	entry.AutoFixes = fixStrings(result.Fixes)
	entry.RowCount = len(result.Rows)

	answer := Answer{
		Attempt:  attempt,
		Question: question,
		SQL:      result.SQL,
		Fixes:    result.Fixes,
		Attempts: result.Attempts,
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: len(result.Rows),
		Preview:  preview(result.Columns, result.Rows, p.previewRows),
	}
	if answer.Fixes == nil {
		answer.Fixes = []execution.Fix{}
	}

	if !req.SkipSummary {
		summaryPrompt := p.prompts.SummaryPrompt(question, prompt.SummarizeRows(result.Columns, result.Rows))
		text, err := p.complete(ctx, observability.CompletionKindSummary, summaryPrompt)
		if err != nil {
			logger.WarnContext(ctx, "summary completion failed, using fallback answer", slog.Any("error", err))
			text = FallbackAnswer
			answer.SummaryFallback = true
		}
		answer.Answer = text
	}

	p.finish(&entry, started, observability.QuestionOutcomeAnswered, nil)
	return answer, nil
}

// prepare turns raw completion text into the SQL that will be executed.
func (p *Pipeline) prepare(raw string, snapshot schema.Snapshot) Attempt {
	generated := sqltext.Extract(raw)
	corrected, applied := p.corrections.Apply(generated)
	observability.ObserveCorrections(applied)
	report := validation.Validate(corrected, snapshot)
	return Attempt{
		GeneratedSQL:       generated,
		CorrectedSQL:       corrected,
		AppliedCorrections: applied,
		ValidationIssues:   report.Issues,
		Suggestions:        report.Suggestions,
	}
}

func (p *Pipeline) complete(ctx context.Context, kind, text string) (string, error) {
	start := p.now()
	out, err := p.completion.Complete(ctx, text)
	observability.ObserveCompletion(kind, p.now().Sub(start))
	return out, err
}

func (p *Pipeline) finish(entry *journal.Entry, started time.Time, outcome string, err error) {
	observability.ObserveQuestion(outcome)
	if p.journal == nil {
		return
	}
	entry.Outcome = outcome
	if err != nil {
		entry.Error = err.Error()
	}
	entry.DurationMs = p.now().Sub(started).Milliseconds()
	p.journal.Record(*entry)
}

func preview(columns []string, rows [][]any, limit int) []map[string]any {
	out := make([]map[string]any, 0, min(limit, len(rows)))
	for i, row := range rows {
		if i == limit {
			break
		}
		record := make(map[string]any, len(columns))
		for j, column := range columns {
			if j < len(row) {
				record[column] = row[j]
			}
		}
		out = append(out, record)
	}
	return out
}

func fixStrings(fixes []execution.Fix) []string {
	out := make([]string, 0, len(fixes))
	for _, fix := range fixes {
		out = append(out, fix.From+" -> "+fix.To)
	}
	return out
}
