package storage

import (
	"fmt"
	"regexp"
	"strings"
)

const resultsSegment = "results"

var keyPartPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ResultKey addresses one archived result. Results are partitioned by owner
// and database so one user's listing never crosses into another's.
type ResultKey struct {
	UserID     string
	DatabaseID string
	ResultID   string
}

// Path renders the key as <user>/<database>/results/<result>.json.
func (k ResultKey) Path() (string, error) {
	parts := []struct{ label, value string }{
		{"user id", k.UserID},
		{"database id", k.DatabaseID},
		{"result id", k.ResultID},
	}
	for _, part := range parts {
		if !keyPartPattern.MatchString(part.value) {
			return "", fmt.Errorf("invalid %s: %q", part.label, part.value)
		}
	}
	return strings.Join([]string{k.UserID, k.DatabaseID, resultsSegment, k.ResultID + ".json"}, "/"), nil
}

// Metadata is the user metadata stored alongside the result body.
func (k ResultKey) Metadata() map[string]string {
	return map[string]string{
		"database-id": k.DatabaseID,
		"result-id":   k.ResultID,
	}
}
