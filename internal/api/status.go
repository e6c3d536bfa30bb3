package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/sqlscribe/sqlscribe/internal/config"
)

var sampleQuestions = []string{
	"Show me all users",
	"How many records are in the database?",
	"List all tables",
	"Show me the structure of users table",
	"Count records by table",
}

var features = []string{
	"Automatic schema correction",
	"Intelligent error handling",
	"Retry mechanism",
	"Comprehensive validation",
	"Natural language responses",
}

// handleHealth always answers 200; dependency state is reported in the body.
func handleHealth(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
	defer cancel()

	var (
		wg       sync.WaitGroup
		dbStatus string
		aiStatus string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dbStatus = pingStatus(ctx, deps.Database)
	}()
	go func() {
		defer wg.Done()
		aiStatus = pingStatus(ctx, deps.Completion)
	}()
	wg.Wait()

	response := map[string]any{
		"status":           "running",
		"service":          cfg.Service.Name,
		"database":         dbStatus,
		"database_name":    deps.DatabaseName,
		"ai_model":         aiStatus,
		"schema_loaded":    false,
		"tables_count":     0,
		"available_tables": []string{},
	}
	if deps.Schema != nil {
		snapshot := deps.Schema.Current()
		response["schema_loaded"] = !snapshot.Empty()
		response["tables_count"] = snapshot.Len()
		response["available_tables"] = snapshot.TableNames()
	}
	writeJSON(w, http.StatusOK, response)
}

func pingStatus(ctx context.Context, pinger Pinger) string {
	if pinger == nil {
		return "unconfigured"
	}
	if err := pinger.Ping(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}

func handleTest(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "SQL assistant is running",
		"database":     deps.DatabaseName,
		"features":     features,
		"test_queries": sampleQuestions,
	})
}
