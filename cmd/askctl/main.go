package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/cli/askctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("ASKDB_CLI_TIMEOUT")), 60*time.Second)
	options := askctl.Options{
		BaseURL:    envOr("ASKDB_API_URL", "http://localhost:8080"),
		APIKey:     strings.TrimSpace(os.Getenv("ASKDB_API_KEY")),
		UserID:     strings.TrimSpace(os.Getenv("ASKDB_USER_ID")),
		DatabaseID: strings.TrimSpace(os.Getenv("ASKDB_DATABASE_ID")),
		SessionID:  strings.TrimSpace(os.Getenv("ASKDB_SESSION_ID")),
		Timeout:    timeout,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}

	code := askctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid ASKDB_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
