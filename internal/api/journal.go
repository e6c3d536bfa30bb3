package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/auth"
	"github.com/sqlscribe/sqlscribe/internal/journal"
)

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

func handleJournal(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Journal == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "JOURNAL_NOT_CONFIGURED", "attempt journal is not enabled", false, nil)
		return
	}
	if !requireRole(w, r, auth.RoleSchemaAdmin) {
		return
	}

	day := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD", false, map[string]any{"details": err.Error()})
			return
		}
		day = parsed
	}

	limit := defaultJournalLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = min(parsed, maxJournalLimit)
	}

	entries, err := deps.Journal.Day(r.Context(), day, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "JOURNAL_READ_FAILED", "failed to read attempt journal", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":    day.Format(time.DateOnly),
		"count":   len(entries),
		"entries": entries,
	})
}
