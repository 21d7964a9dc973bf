package askctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserID     string
	DatabaseID string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   []byte
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "User ID header (used when auth is disabled)")
	databaseID := fs.String("database", defaults.DatabaseID, "Registered database ID")
	sessionID := fs.String("session", defaults.SessionID, "Conversation session ID")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	database := strings.TrimSpace(*databaseID)
	session := strings.TrimSpace(*sessionID)

	var req request
	switch command {
	case "health":
		req = request{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		req = request{method: http.MethodGet, path: "/v1/ready"}
	case "ask":
		text := strings.TrimSpace(strings.Join(rest, " "))
		if database == "" || text == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires -database and a question")
			return 2
		}
		if session == "" {
			session = uuid.NewString()
			_, _ = fmt.Fprintf(stderr, "session %s\n", session)
		}
		body, err := json.Marshal(map[string]string{"session_id": session, "text": text})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
		req = request{method: http.MethodPost, path: databasePath(database, "query"), body: body}
	case "conversation":
		if database == "" || session == "" {
			_, _ = fmt.Fprintln(stderr, "conversation requires -database and -session")
			return 2
		}
		req = request{method: http.MethodGet, path: databasePath(database, "sessions", session, "conversation")}
	case "schema":
		if database == "" {
			_, _ = fmt.Fprintln(stderr, "schema requires -database")
			return 2
		}
		req = request{method: http.MethodGet, path: databasePath(database, "schema")}
	case "evict-schema":
		if database == "" {
			_, _ = fmt.Fprintln(stderr, "evict-schema requires -database")
			return 2
		}
		req = request{method: http.MethodDelete, path: databasePath(database, "schema")}
	case "stats":
		if database == "" {
			_, _ = fmt.Fprintln(stderr, "stats requires -database")
			return 2
		}
		req = request{method: http.MethodGet, path: databasePath(database, "stats")}
	case "result":
		if database == "" || len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "result requires -database and a result id")
			return 2
		}
		req = request{method: http.MethodGet, path: databasePath(database, "results", rest[0])}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey, *userID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
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

func databasePath(databaseID string, segments ...string) string {
	parts := []string{"/v1/databases", url.PathEscape(databaseID)}
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(segment))
	}
	return strings.Join(parts, "/")
}

func doRequest(ctx context.Context, client *http.Client, in request, endpoint, apiKey, userID string) (int, []byte, error) {
	var body io.Reader
	if in.body != nil {
		body = bytes.NewReader(in.body)
	}
	req, err := http.NewRequestWithContext(ctx, in.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(userID))
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
	_, _ = fmt.Fprintln(w, "usage: askctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health             GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready              GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  ask <question>     POST /v1/databases/{database}/query")
	_, _ = fmt.Fprintln(w, "  conversation       GET /v1/databases/{database}/sessions/{session}/conversation")
	_, _ = fmt.Fprintln(w, "  schema             GET /v1/databases/{database}/schema")
	_, _ = fmt.Fprintln(w, "  evict-schema       DELETE /v1/databases/{database}/schema")
	_, _ = fmt.Fprintln(w, "  stats              GET /v1/databases/{database}/stats")
	_, _ = fmt.Fprintln(w, "  result <id>        GET /v1/databases/{database}/results/{id}")
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
