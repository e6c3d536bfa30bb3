package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sqlscribe/sqlscribe/internal/schema"
)

func TestSchemaEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Schema:       &fakeRegistry{snapshot: usersSnapshot()},
		DatabaseName: "shop",
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/schema", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["schema_source"] != schemaSource || body["database_name"] != "shop" {
		t.Fatalf("body = %v", body)
	}
	if body["captured_at"] != "2026-02-19T09:00:00Z" {
		t.Fatalf("captured_at = %v", body["captured_at"])
	}
	want := map[string]any{
		"users": map[string]any{"columns": []any{"id", "email", "firstname"}, "primary_key": "id"},
	}
	if diff := cmp.Diff(want, body["actual_schema"]); diff != "" {
		t.Fatalf("actual_schema mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaEndpointEmptySnapshot(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: &fakeRegistry{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/schema", nil))

	body := decodeBody(t, rr)
	if diff := cmp.Diff(map[string]any{}, body["actual_schema"]); diff != "" {
		t.Fatalf("actual_schema mismatch (-want +got):\n%s", diff)
	}
	if _, ok := body["captured_at"]; ok {
		t.Fatal("captured_at should be omitted for an empty snapshot")
	}
}

func TestDiscoverSchemaEndpoint(t *testing.T) {
	defaultValue := "0"
	registry := &fakeRegistry{discovered: []schema.TableDescription{
		{Name: "orders", Columns: []schema.Column{
			{Name: "id", Type: "int", Key: "PRI", Extra: "auto_increment"},
			{Name: "total", Type: "decimal(10,2)", Nullable: true, Default: &defaultValue},
		}},
		{Name: "empty_table"},
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: registry})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/discover-schema", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if diff := cmp.Diff([]any{"orders", "empty_table"}, body["tables"]); diff != "" {
		t.Fatalf("tables mismatch (-want +got):\n%s", diff)
	}
	want := map[string]any{
		"orders": []any{
			map[string]any{"name": "id", "type": "int", "null": false, "key": "PRI", "default": nil, "extra": "auto_increment"},
			map[string]any{"name": "total", "type": "decimal(10,2)", "null": true, "key": "", "default": "0", "extra": ""},
		},
		"empty_table": []any{},
	}
	if diff := cmp.Diff(want, body["discovered_schema"]); diff != "" {
		t.Fatalf("discovered_schema mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverSchemaFailure(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: &fakeRegistry{discoverErr: errors.New("access denied")}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/discover-schema", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "SCHEMA_DISCOVERY_FAILED" {
		t.Fatalf("body = %v", body)
	}
}

func TestRefreshSchemaEndpoint(t *testing.T) {
	refreshed := schema.NewSnapshot([]schema.Table{
		{Name: "users", Columns: []string{"id", "email"}, PrimaryKey: "id"},
		{Name: "audit_log", Columns: []string{"message"}},
	}, time.Date(2026, 2, 19, 10, 0, 0, 0, time.UTC))
	registry := &fakeRegistry{refreshed: refreshed}
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: registry, DatabaseName: "shop"})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh-schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["message"] != "Schema refreshed successfully" || body["database_name"] != "shop" {
		t.Fatalf("body = %v", body)
	}
	if diff := cmp.Diff([]any{"audit_log", "users"}, body["loaded_tables"]); diff != "" {
		t.Fatalf("loaded_tables mismatch (-want +got):\n%s", diff)
	}
	wantDetails := map[string]any{
		"users":     map[string]any{"columns": []any{"id", "email"}, "primary_key": "id"},
		"audit_log": map[string]any{"columns": []any{"message"}, "primary_key": nil},
	}
	if diff := cmp.Diff(wantDetails, body["table_details"]); diff != "" {
		t.Fatalf("table_details mismatch (-want +got):\n%s", diff)
	}
	if registry.refreshes != 1 {
		t.Fatalf("refreshes = %d", registry.refreshes)
	}
}

func TestRefreshSchemaFailure(t *testing.T) {
	registry := &fakeRegistry{snapshot: usersSnapshot(), refreshErr: errors.New("connection reset")}
	h := NewHandler(loadConfig(t, nil), Dependencies{Schema: registry})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/refresh-schema", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "SCHEMA_REFRESH_FAILED" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
	if !registry.Current().Empty() {
		t.Fatal("failed refresh should leave an empty snapshot")
	}
}
