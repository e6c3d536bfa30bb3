package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sqlscribe/sqlscribe/internal/completion"
	"github.com/sqlscribe/sqlscribe/internal/execution"
	"github.com/sqlscribe/sqlscribe/internal/journal"
	"github.com/sqlscribe/sqlscribe/internal/schema"
	"github.com/sqlscribe/sqlscribe/internal/store"
)

type staticSchema struct{ snapshot schema.Snapshot }

func (s staticSchema) Current() schema.Snapshot { return s.snapshot }

type scriptedCompletion struct {
	replies []string
	errs    []error
	prompts []string
}

func (c *scriptedCompletion) Complete(_ context.Context, text string) (string, error) {
	i := len(c.prompts)
	c.prompts = append(c.prompts, text)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", fmt.Errorf("%w: no scripted reply", completion.ErrUnavailable)
}

func (c *scriptedCompletion) Ping(context.Context) error { return nil }

type mapExecutor struct {
	results map[string]store.Result
	errs    map[string]error
	calls   []string
}

func (m *mapExecutor) Query(_ context.Context, sqlText string) (store.Result, error) {
	m.calls = append(m.calls, sqlText)
	if result, ok := m.results[sqlText]; ok {
		return result, nil
	}
	if err, ok := m.errs[sqlText]; ok {
		return store.Result{}, err
	}
	return store.Result{}, fmt.Errorf("unexpected query %q", sqlText)
}

type columnsOf map[string][]string

func (c columnsOf) TableColumns(_ context.Context, table string) ([]string, error) {
	return c[table], nil
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memoryJournal) Record(entry journal.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func usersSnapshot() schema.Snapshot {
	return schema.NewSnapshot([]schema.Table{
		{Name: "users", Columns: []string{"id", "email", "firstname"}, PrimaryKey: "id"},
		{Name: "services", Columns: []string{"id", "name", "price"}, PrimaryKey: "id"},
	}, time.Unix(0, 0))
}

type fixture struct {
	pipeline   *Pipeline
	completion *scriptedCompletion
	executor   *mapExecutor
	journal    *memoryJournal
}

func newFixture(t *testing.T, snapshot schema.Snapshot, completionClient *scriptedCompletion, executor *mapExecutor, cfg Config) fixture {
	t.Helper()
	j := &memoryJournal{}
	columns := columnsOf{}
	for _, table := range snapshot.Tables() {
		columns[table.Name] = table.Columns
	}
	p, err := New(Dependencies{
		Schema:     staticSchema{snapshot: snapshot},
		Completion: completionClient,
		Runner:     execution.NewCoordinator(executor, columns, -1, nil),
		Journal:    j,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fixture{pipeline: p, completion: completionClient, executor: executor, journal: j}
}

func TestAskAnswersWithCorrectedSQL(t *testing.T) {
	completionClient := &scriptedCompletion{replies: []string{
		"Sure! Here is the query:\n```sql\nSELECT u.username FROM users u;\n```",
		"We have three members signed up.",
	}}
	executor := &mapExecutor{results: map[string]store.Result{
		"SELECT u.email FROM users u;": {
			Columns: []string{"email"},
			Rows:    [][]any{{"a@example.com"}, {"b@example.com"}, {"c@example.com"}},
		},
	}}
	f := newFixture(t, usersSnapshot(), completionClient, executor, Config{PreviewRows: 2})

	answer, err := f.pipeline.Ask(context.Background(), Request{Question: "  Who are our users?  "})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.GeneratedSQL != "SELECT u.username FROM users u;" {
		t.Fatalf("GeneratedSQL = %q", answer.GeneratedSQL)
	}
	if answer.SQL != "SELECT u.email FROM users u;" || answer.CorrectedSQL != answer.SQL {
		t.Fatalf("SQL = %q, CorrectedSQL = %q", answer.SQL, answer.CorrectedSQL)
	}
	if diff := cmp.Diff([]string{"username -> email"}, answer.AppliedCorrections); diff != "" {
		t.Fatalf("corrections mismatch (-want +got):\n%s", diff)
	}
	if answer.Answer != "We have three members signed up." || answer.SummaryFallback {
		t.Fatalf("Answer = %q, fallback = %v", answer.Answer, answer.SummaryFallback)
	}
	if answer.RowCount != 3 {
		t.Fatalf("RowCount = %d", answer.RowCount)
	}
	wantPreview := []map[string]any{{"email": "a@example.com"}, {"email": "b@example.com"}}
	if diff := cmp.Diff(wantPreview, answer.Preview); diff != "" {
		t.Fatalf("preview mismatch (-want +got):\n%s", diff)
	}
	if len(f.completion.prompts) != 2 {
		t.Fatalf("completion calls = %d, want 2", len(f.completion.prompts))
	}

	if len(f.journal.entries) != 1 {
		t.Fatalf("journal entries = %d", len(f.journal.entries))
	}
	entry := f.journal.entries[0]
	if entry.Outcome != "answered" || entry.Question != "Who are our users?" || entry.RowCount != 3 || entry.Attempts != 1 {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestAskWithoutSchemaMakesNoExternalCalls(t *testing.T) {
	completionClient := &scriptedCompletion{}
	executor := &mapExecutor{}
	f := newFixture(t, schema.Snapshot{}, completionClient, executor, Config{})

	_, err := f.pipeline.Ask(context.Background(), Request{Question: "anything"})
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Fatalf("Ask() error = %v, want ErrSchemaUnavailable", err)
	}
	if len(completionClient.prompts) != 0 || len(executor.calls) != 0 {
		t.Fatalf("completion calls = %d, store calls = %d", len(completionClient.prompts), len(executor.calls))
	}
	if len(f.journal.entries) != 1 || f.journal.entries[0].Outcome != "schema_unavailable" {
		t.Fatalf("journal = %+v", f.journal.entries)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	f := newFixture(t, usersSnapshot(), &scriptedCompletion{}, &mapExecutor{}, Config{})
	if _, err := f.pipeline.Ask(context.Background(), Request{Question: "   "}); !errors.Is(err, ErrQuestionRequired) {
		t.Fatalf("Ask() error = %v", err)
	}
}

func TestAskCompletionFailure(t *testing.T) {
	completionClient := &scriptedCompletion{errs: []error{fmt.Errorf("%w: status=500", completion.ErrUnavailable)}}
	executor := &mapExecutor{}
	f := newFixture(t, usersSnapshot(), completionClient, executor, Config{})

	_, err := f.pipeline.Ask(context.Background(), Request{Question: "Who?"})
	if !errors.Is(err, ErrCompletionFailed) || !errors.Is(err, completion.ErrUnavailable) {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(executor.calls) != 0 {
		t.Fatalf("store calls = %d", len(executor.calls))
	}
	if len(completionClient.prompts) != 1 {
		t.Fatalf("completion must not be retried, calls = %d", len(completionClient.prompts))
	}
}

func TestAskExecutionFailureCarriesAttempt(t *testing.T) {
	generated := "SELECT p.service_id, p.price FROM services p;"
	storeErr := &store.UnknownColumnError{Identifier: "p.service_id"}
	completionClient := &scriptedCompletion{replies: []string{generated}}
	executor := &mapExecutor{errs: map[string]error{generated: storeErr}}
	f := newFixture(t, usersSnapshot(), completionClient, executor, Config{})

	_, err := f.pipeline.Ask(context.Background(), Request{Question: "Which services exist?"})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Ask() error = %v, want *ExecutionError", err)
	}
	if execErr.Error() != "Unknown column 'p.service_id' in 'field list'" {
		t.Fatalf("Error() = %q", execErr.Error())
	}
	if execErr.Attempt.GeneratedSQL != generated || execErr.Attempt.CorrectedSQL != generated {
		t.Fatalf("attempt = %+v", execErr.Attempt)
	}
	if diff := cmp.Diff([]string{"Column 'service_id' not found in table 'services'"}, execErr.Attempt.ValidationIssues); diff != "" {
		t.Fatalf("issues mismatch (-want +got):\n%s", diff)
	}
	var failure *execution.Failure
	if !errors.As(err, &failure) || failure.Attempt != 1 {
		t.Fatalf("failure = %+v", failure)
	}
	if !errors.As(err, new(*store.UnknownColumnError)) {
		t.Fatal("store error should stay reachable through the chain")
	}
	if len(completionClient.prompts) != 1 {
		t.Fatalf("summary must not run after a failure, calls = %d", len(completionClient.prompts))
	}
	if got := f.journal.entries[0]; got.Outcome != "execution_failed" || got.Error == "" {
		t.Fatalf("entry = %+v", got)
	}
}

func TestAskValidationIsAdvisory(t *testing.T) {
	generated := "SELECT x.foo FROM widgetz x;"
	completionClient := &scriptedCompletion{replies: []string{generated}}
	executor := &mapExecutor{results: map[string]store.Result{generated: {Columns: []string{"foo"}, Rows: [][]any{}}}}
	f := newFixture(t, usersSnapshot(), completionClient, executor, Config{})

	answer, err := f.pipeline.Ask(context.Background(), Request{Question: "widgets?", SkipSummary: true})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(answer.ValidationIssues) == 0 {
		t.Fatal("expected validation issues for unknown table")
	}
	if len(executor.calls) != 1 {
		t.Fatalf("store calls = %d, validation must not block", len(executor.calls))
	}
	if answer.Answer != "" || len(completionClient.prompts) != 1 {
		t.Fatalf("summary should be skipped, answer = %q", answer.Answer)
	}
	if answer.Preview == nil || len(answer.Preview) != 0 {
		t.Fatalf("Preview = %#v, want empty", answer.Preview)
	}
}

func TestAskSummaryFailureFallsBack(t *testing.T) {
	generated := "SELECT id FROM users;"
	completionClient := &scriptedCompletion{
		replies: []string{generated},
		errs:    []error{nil, fmt.Errorf("%w: timeout", completion.ErrUnavailable)},
	}
	executor := &mapExecutor{results: map[string]store.Result{generated: {Columns: []string{"id"}, Rows: [][]any{{int64(1)}}}}}
	f := newFixture(t, usersSnapshot(), completionClient, executor, Config{})

	answer, err := f.pipeline.Ask(context.Background(), Request{Question: "ids"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Answer != FallbackAnswer || !answer.SummaryFallback {
		t.Fatalf("Answer = %q, fallback = %v", answer.Answer, answer.SummaryFallback)
	}
}

func TestAskRejectsWritesWhenReadOnly(t *testing.T) {
	completionClient := &scriptedCompletion{replies: []string{"DELETE FROM users;"}}
	executor := &mapExecutor{}
	f := newFixture(t, usersSnapshot(), completionClient, executor, Config{ReadOnly: true})

	_, err := f.pipeline.Ask(context.Background(), Request{Question: "remove everyone"})
	if !errors.Is(err, ErrNotReadOnly) {
		t.Fatalf("Ask() error = %v, want ErrNotReadOnly", err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Attempt.CorrectedSQL != "DELETE FROM users;" {
		t.Fatalf("error = %#v", err)
	}
	if len(executor.calls) != 0 {
		t.Fatalf("store calls = %d", len(executor.calls))
	}
}

func TestAskAutoFixIsReported(t *testing.T) {
	generated := "SELECT s.name FROM services s;"
	fixed := "SELECT s.title FROM services s;"
	snapshot := schema.NewSnapshot([]schema.Table{{Name: "services", Columns: []string{"id", "title"}}}, time.Unix(0, 0))
	completionClient := &scriptedCompletion{replies: []string{generated, "Two services."}}
	executor := &mapExecutor{
		errs:    map[string]error{generated: &store.UnknownColumnError{Identifier: "s.name"}},
		results: map[string]store.Result{fixed: {Columns: []string{"title"}, Rows: [][]any{{"Cleaning"}, {"Whitening"}}}},
	}
	f := newFixture(t, snapshot, completionClient, executor, Config{})

	answer, err := f.pipeline.Ask(context.Background(), Request{Question: "services?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.SQL != fixed || answer.CorrectedSQL != generated || answer.Attempts != 2 {
		t.Fatalf("answer = %+v", answer)
	}
	if diff := cmp.Diff([]string{"s.name -> s.title"}, f.journal.entries[0].AutoFixes); diff != "" {
		t.Fatalf("auto fixes mismatch (-want +got):\n%s", diff)
	}
}
