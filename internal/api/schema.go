package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/schema"
)

const schemaSource = "Loaded directly from database"

type tableDetail struct {
	Columns    []string `json:"columns"`
	PrimaryKey *string  `json:"primary_key"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema registry is not configured", false, nil)
		return
	}
	if !requireRole(w, r, auth.RoleAsker) {
		return
	}

	snapshot := deps.Schema.Current()
	response := map[string]any{
		"actual_schema": snapshot,
		"schema_source": schemaSource,
		"database_name": deps.DatabaseName,
		"tables_count":  snapshot.Len(),
	}
	if !snapshot.CapturedAt().IsZero() {
		response["captured_at"] = snapshot.CapturedAt().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, response)
}

func handleDiscoverSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema registry is not configured", false, nil)
		return
	}
	if !requireRole(w, r, auth.RoleSchemaAdmin) {
		return
	}

	described, err := deps.Schema.Discover(r.Context())
	if err != nil {
		logSchemaError(deps, r, "schema discovery failed", err)
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_DISCOVERY_FAILED", "failed to discover schema", true, map[string]any{"details": err.Error()})
		return
	}

	discovered := make(map[string][]schema.Column, len(described))
	tables := make([]string, 0, len(described))
	for _, table := range described {
		columns := table.Columns
		if columns == nil {
			columns = []schema.Column{}
		}
		discovered[table.Name] = columns
		tables = append(tables, table.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discovered_schema": discovered,
		"tables":            tables,
	})
}

func handleRefreshSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema registry is not configured", false, nil)
		return
	}
	if !requireRole(w, r, auth.RoleSchemaAdmin) {
		return
	}

	snapshot, err := deps.Schema.Refresh(r.Context())
	if err != nil {
		logSchemaError(deps, r, "schema refresh failed", err)
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_REFRESH_FAILED", "failed to refresh schema", true, map[string]any{"details": err.Error()})
		return
	}

	details := make(map[string]tableDetail, snapshot.Len())
	for _, table := range snapshot.Tables() {
		detail := tableDetail{Columns: table.Columns}
		if table.PrimaryKey != "" {
			pk := table.PrimaryKey
			detail.PrimaryKey = &pk
		}
		details[table.Name] = detail
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Schema refreshed successfully",
		"database_name": deps.DatabaseName,
		"loaded_tables": snapshot.TableNames(),
		"table_details": details,
	})
}

func logSchemaError(deps Dependencies, r *http.Request, msg string, err error) {
	if deps.Logger == nil {
		return
	}
	deps.Logger.ErrorContext(r.Context(), msg,
		slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
		slog.Any("error", err),
	)
}
