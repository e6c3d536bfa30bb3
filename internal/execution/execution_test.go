package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sqlscribe/sqlscribe/internal/store"
)

type fakeExecutor struct {
	calls   []string
	results map[string]store.Result
	errs    map[string]error
	// fallback is returned for SQL with neither a result nor an error.
	fallback error
}

func (f *fakeExecutor) Query(_ context.Context, sqlText string) (store.Result, error) {
	f.calls = append(f.calls, sqlText)
	if result, ok := f.results[sqlText]; ok {
		return result, nil
	}
	if err, ok := f.errs[sqlText]; ok {
		return store.Result{}, err
	}
	if f.fallback != nil {
		return store.Result{}, f.fallback
	}
	return store.Result{}, fmt.Errorf("unexpected query %q", sqlText)
}

type fakeColumns map[string][]string

func (f fakeColumns) TableColumns(_ context.Context, table string) ([]string, error) {
	columns, ok := f[table]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	return columns, nil
}

func unknownColumn(identifier string) error {
	return &store.UnknownColumnError{Identifier: identifier}
}

func TestRunSucceedsFirstTime(t *testing.T) {
	executor := &fakeExecutor{results: map[string]store.Result{
		"SELECT id FROM users;": {Columns: []string{"id"}, Rows: [][]any{{int64(1)}}},
	}}
	c := NewCoordinator(executor, fakeColumns{}, -1, nil)

	result, err := c.Run(context.Background(), "SELECT id FROM users;")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Attempts != 1 || result.SQL != "SELECT id FROM users;" || len(result.Fixes) != 0 {
		t.Fatalf("result = %+v", result)
	}
	if diff := cmp.Diff([][]any{{int64(1)}}, result.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRunEmptyResultHasColumnsAndRows(t *testing.T) {
	executor := &fakeExecutor{results: map[string]store.Result{"SELECT 1": {}}}
	result, err := NewCoordinator(executor, nil, -1, nil).Run(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Columns == nil || result.Rows == nil {
		t.Fatalf("result = %+v, want non-nil columns and rows", result)
	}
}

func TestRunFixesQualifiedColumnBySubstring(t *testing.T) {
	original := "SELECT s.name, s.price FROM services s;"
	fixed := "SELECT s.service_name, s.price FROM services s;"
	executor := &fakeExecutor{
		errs:    map[string]error{original: unknownColumn("s.name")},
		results: map[string]store.Result{fixed: {Columns: []string{"service_name", "price"}, Rows: [][]any{{"Cleaning", 80}}}},
	}
	c := NewCoordinator(executor, fakeColumns{"services": {"id", "service_name", "price"}}, -1, nil)

	result, err := c.Run(context.Background(), original)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.SQL != fixed || result.Attempts != 2 {
		t.Fatalf("result = %+v", result)
	}
	if diff := cmp.Diff([]Fix{{From: "s.name", To: "s.service_name", Attempt: 1}}, result.Fixes); diff != "" {
		t.Fatalf("fixes mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFixesNameWithAlternatives(t *testing.T) {
	original := "SELECT p.name FROM products p JOIN brands b ON b.id = p.brand_id"
	fixed := "SELECT p.title FROM products p JOIN brands b ON b.id = p.brand_id"
	executor := &fakeExecutor{
		errs:    map[string]error{original: unknownColumn("p.name")},
		results: map[string]store.Result{fixed: {Columns: []string{"title"}}},
	}
	c := NewCoordinator(executor, fakeColumns{"products": {"id", "title", "brand_id"}}, -1, nil)

	result, err := c.Run(context.Background(), original)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.SQL != fixed {
		t.Fatalf("SQL = %q, want %q", result.SQL, fixed)
	}
}

func TestRunFixesUnqualifiedColumnFromStaticMap(t *testing.T) {
	original := "SELECT username FROM users WHERE username LIKE 'a%'"
	fixed := "SELECT email FROM users WHERE email LIKE 'a%'"
	executor := &fakeExecutor{
		errs:    map[string]error{original: unknownColumn("username")},
		results: map[string]store.Result{fixed: {Columns: []string{"email"}}},
	}
	result, err := NewCoordinator(executor, nil, -1, nil).Run(context.Background(), original)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{original, fixed}, executor.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if result.Fixes[0].From != "username" || result.Fixes[0].To != "email" {
		t.Fatalf("fixes = %+v", result.Fixes)
	}
}

func TestRunUnqualifiedFixLeavesQualifiedColumnsAlone(t *testing.T) {
	original := "SELECT user_id, o.total FROM users u JOIN orders o ON o.user_id = u.id;"
	fixed := "SELECT id, o.total FROM users u JOIN orders o ON o.user_id = u.id;"
	executor := &fakeExecutor{
		errs:    map[string]error{original: unknownColumn("user_id")},
		results: map[string]store.Result{fixed: {Columns: []string{"id", "total"}}},
	}
	_, err := NewCoordinator(executor, nil, -1, nil).Run(context.Background(), original)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{original, fixed}, executor.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunUnqualifiedFixWithOnlyQualifiedMatchesStops(t *testing.T) {
	original := "SELECT o.user_id FROM orders o"
	storeErr := unknownColumn("user_id")
	executor := &fakeExecutor{errs: map[string]error{original: storeErr}}

	_, err := NewCoordinator(executor, nil, -1, nil).Run(context.Background(), original)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %v, want *Failure", err)
	}
	if failure.Message != storeErr.Error() || len(executor.calls) != 1 {
		t.Fatalf("failure = %+v calls = %v", failure, executor.calls)
	}
}

func TestRunServiceIDWithoutCandidateReturnsStoreError(t *testing.T) {
	original := "SELECT p.service_id, p.price FROM services p;"
	storeErr := unknownColumn("p.service_id")
	executor := &fakeExecutor{errs: map[string]error{original: storeErr}}
	c := NewCoordinator(executor, fakeColumns{"services": {"id", "name", "price"}}, -1, nil)

	_, err := c.Run(context.Background(), original)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %v, want *Failure", err)
	}
	if failure.Message != storeErr.Error() {
		t.Fatalf("Message = %q, want %q", failure.Message, storeErr.Error())
	}
	if !strings.Contains(failure.Message, "Unknown column 'p.service_id' in 'field list'") {
		t.Fatalf("Message = %q", failure.Message)
	}
	if failure.Attempt != 1 || failure.SQL != original || len(executor.calls) != 1 {
		t.Fatalf("failure = %+v, calls = %v", failure, executor.calls)
	}
}

func TestRunDoesNotRetryOtherErrors(t *testing.T) {
	executor := &fakeExecutor{fallback: errors.New("Table 'shop.widgetz' doesn't exist")}
	_, err := NewCoordinator(executor, fakeColumns{}, -1, nil).Run(context.Background(), "SELECT * FROM widgetz")
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %v", err)
	}
	if len(executor.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(executor.calls))
	}
}

func TestRunRejectsFixThatReproducesFailingQuery(t *testing.T) {
	// The error names a column that does not appear in the text, so the
	// substitution leaves the query unchanged.
	original := "SELECT email FROM users"
	executor := &fakeExecutor{errs: map[string]error{original: unknownColumn("username")}}

	_, err := NewCoordinator(executor, nil, -1, nil).Run(context.Background(), original)
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(executor.calls) != 1 {
		t.Fatalf("calls = %v, want a single attempt", executor.calls)
	}
}

func TestRunNeverRepeatsAQuery(t *testing.T) {
	// nick -> nickname -> nick would cycle back to the first query.
	q1 := "SELECT u.nick FROM users u"
	q2 := "SELECT u.nickname FROM users u"
	executor := &fakeExecutor{errs: map[string]error{
		q1: unknownColumn("u.nick"),
		q2: unknownColumn("u.nickname"),
	}}
	c := NewCoordinator(executor, fakeColumns{"users": {"nickname", "nick"}}, -1, nil)

	_, err := c.Run(context.Background(), q1)
	if err == nil {
		t.Fatal("expected failure")
	}
	seen := map[string]bool{}
	for _, call := range executor.calls {
		if seen[call] {
			t.Fatalf("query %q sent twice: %v", call, executor.calls)
		}
		seen[call] = true
	}
}

func TestRunHonoursRetryBudget(t *testing.T) {
	// Each attempt fails on the next column of the static map, so every
	// failure has a fix and only the budget stops the run.
	steps := [][2]string{
		{"user_id", "id"},
		{"username", "email"},
		{"first_name", "firstname"},
		{"last_name", "lastname"},
		{"role_name", "role"},
	}
	queries := []string{"SELECT user_id, username, first_name, last_name, role_name FROM users"}
	errs := map[string]error{}
	for i, step := range steps {
		errs[queries[i]] = unknownColumn(step[0])
		queries = append(queries, strings.ReplaceAll(queries[i], step[0], step[1]))
	}
	final := queries[len(queries)-1]

	for _, maxRetries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("retries=%d", maxRetries), func(t *testing.T) {
			executor := &fakeExecutor{errs: errs}
			_, err := NewCoordinator(executor, nil, maxRetries, nil).Run(context.Background(), queries[0])
			var failure *Failure
			if !errors.As(err, &failure) {
				t.Fatalf("Run() error = %v", err)
			}
			if len(executor.calls) != maxRetries+1 {
				t.Fatalf("calls = %d, want %d", len(executor.calls), maxRetries+1)
			}
			if failure.Attempt != maxRetries+1 || failure.SQL != queries[maxRetries] {
				t.Fatalf("failure = %+v", failure)
			}
		})
	}

	t.Run("enough retries", func(t *testing.T) {
		executor := &fakeExecutor{
			errs:    errs,
			results: map[string]store.Result{final: {Columns: []string{"id", "email", "firstname", "lastname", "role"}}},
		}
		result, err := NewCoordinator(executor, nil, 5, nil).Run(context.Background(), queries[0])
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.Attempts != 6 || result.SQL != final || len(result.Fixes) != 5 {
			t.Fatalf("result = %+v", result)
		}
	})
}

func TestRunStopsWhenAliasIsUnbound(t *testing.T) {
	original := "SELECT x.foo FROM widgets w"
	executor := &fakeExecutor{errs: map[string]error{original: unknownColumn("x.foo")}}
	_, err := NewCoordinator(executor, fakeColumns{"widgets": {"foo_id"}}, -1, nil).Run(context.Background(), original)
	if err == nil || len(executor.calls) != 1 {
		t.Fatalf("err = %v, calls = %v", err, executor.calls)
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	original := "SELECT username FROM users"
	executor := &fakeExecutor{errs: map[string]error{original: unknownColumn("username")}}
	_, err := NewCoordinator(executor, nil, -1, nil).Run(ctx, original)
	if err == nil || len(executor.calls) != 1 {
		t.Fatalf("err = %v, calls = %v", err, executor.calls)
	}
}

func TestSimilarColumn(t *testing.T) {
	cases := []struct {
		missing string
		live    []string
		want    string
		ok      bool
	}{
		{missing: "name", live: []string{"id", "service_name"}, want: "service_name", ok: true},
		{missing: "service_id", live: []string{"id", "name", "price"}, ok: false},
		{missing: "customer_email", live: []string{"id", "email"}, want: "email", ok: true},
		{missing: "name", live: []string{"id", "label", "description"}, want: "description", ok: true},
		{missing: "NAME", live: []string{"id", "Title"}, want: "Title", ok: true},
		{missing: "price", live: []string{"price"}, ok: false},
	}
	for _, tc := range cases {
		got, ok := similarColumn(tc.missing, tc.live)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("similarColumn(%q, %v) = (%q, %v), want (%q, %v)", tc.missing, tc.live, got, ok, tc.want, tc.ok)
		}
	}
}
