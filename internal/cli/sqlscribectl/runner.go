package sqlscribectl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method string
	path   string
	usage  string
}

var commands = map[string]command{
	"ask":      {method: http.MethodPost, path: "/ai", usage: `ask "<question>"   POST /ai`},
	"schema":   {method: http.MethodGet, path: "/schema", usage: "schema             GET /schema"},
	"discover": {method: http.MethodGet, path: "/discover-schema", usage: "discover           GET /discover-schema"},
	"refresh":  {method: http.MethodPost, path: "/refresh-schema", usage: "refresh            POST /refresh-schema"},
	"health":   {method: http.MethodGet, path: "/health", usage: "health             GET /health"},
	"ready":    {method: http.MethodGet, path: "/ready", usage: "ready              GET /ready"},
	"journal":  {method: http.MethodGet, path: "/journal", usage: "journal [date]     GET /journal?date=YYYY-MM-DD"},
}

var commandOrder = []string{"ask", "schema", "discover", "refresh", "health", "ready", "journal"}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlscribectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlscribe API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")
	answerOnly := fs.Bool("answer-only", false, "ask: print only the natural language answer")
	skipSummary := fs.Bool("skip-summary", false, "ask: skip the summary completion")
	limit := fs.Int("limit", 0, "journal: maximum entries to return")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	name := strings.TrimSpace(fs.Arg(0))
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	var body []byte
	switch name {
	case "ask":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		encoded, err := json.Marshal(map[string]any{"question": question, "skip_summary": *skipSummary})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
		body = encoded
	case "journal":
		query := url.Values{}
		if fs.NArg() > 1 {
			query.Set("date", strings.TrimSpace(fs.Arg(1)))
		}
		if *limit > 0 {
			query.Set("limit", strconv.Itoa(*limit))
		}
		if encoded := query.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
	}

	code, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		if pretty, ok := prettyJSON(responseBody); ok {
			_, _ = fmt.Fprintf(stderr, "http %d:\n%s\n", code, pretty)
		} else {
			_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		}
		return 1
	}

	if name == "ask" && *answerOnly {
		var answer struct {
			Answer string `json:"answer"`
		}
		if err := json.Unmarshal(responseBody, &answer); err == nil {
			_, _ = fmt.Fprintln(stdout, answer.Answer)
			return 0
		}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlscribectl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	for _, name := range commandOrder {
		_, _ = fmt.Fprintln(w, "  "+commands[name].usage)
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
