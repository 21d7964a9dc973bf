package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/dialogue"
)

type processQueryRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type processQueryResponse struct {
	Success            bool     `json:"success"`
	SQL                string   `json:"sql,omitempty"`
	Columns            []string `json:"columns,omitempty"`
	Rows               [][]any  `json:"rows,omitempty"`
	DuplicateCount     int      `json:"duplicate_count,omitempty"`
	NeedsClarification bool     `json:"needs_clarification,omitempty"`
	Question           string   `json:"question,omitempty"`
	ResultID           string   `json:"result_id,omitempty"`
}

type turnResponse struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type pendingResponse struct {
	Question          string  `json:"question"`
	OriginalQuery     string  `json:"original_query"`
	Origin            string  `json:"origin"`
	JoinType          string  `json:"join_type,omitempty"`
	DuplicateHandling bool    `json:"duplicate_handling"`
	PriorResultSample [][]any `json:"prior_result_sample,omitempty"`
}

func handleProcessQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	userID, ok := requireUser(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}

	var request processQueryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	sessionID := strings.TrimSpace(request.SessionID)
	if sessionID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SESSION_REQUIRED", "session_id is required", false, nil)
		return
	}

	response, err := deps.Pipeline.ProcessQuery(r.Context(), dialogue.Request{
		UserID:     userID,
		SessionID:  sessionID,
		DatabaseID: r.PathValue("databaseId"),
		Text:       request.Text,
	})
	if err != nil {
		extra := map[string]any{}
		if response.SQL != "" {
			extra["sql"] = response.SQL
		}
		if response.Error != "" {
			extra["conversation_message"] = response.Error
		}
		writePipelineError(r, w, err, extra)
		return
	}

	writeJSON(w, http.StatusOK, processQueryResponse{
		Success:            response.Success,
		SQL:                response.SQL,
		Columns:            response.Columns,
		Rows:               response.Rows,
		DuplicateCount:     response.DuplicateCount,
		NeedsClarification: response.NeedsClarification,
		Question:           response.Question,
		ResultID:           response.ResultID,
	})
}

func handleConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	userID, ok := requireUser(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	databaseID := r.PathValue("databaseId")
	sessionID := r.PathValue("sessionId")

	view, err := deps.Pipeline.Conversation(r.Context(), userID, sessionID, databaseID)
	if err != nil {
		writePipelineError(r, w, err, nil)
		return
	}

	turns := make([]turnResponse, 0, len(view.Turns))
	for _, turn := range view.Turns {
		turns = append(turns, turnResponse{Speaker: string(turn.Speaker), Text: turn.Text, Timestamp: turn.Timestamp})
	}
	var pending *pendingResponse
	if view.Pending != nil {
		pending = &pendingResponse{
			Question:          view.Pending.PendingQuestion,
			OriginalQuery:     view.Pending.OriginalQuery,
			Origin:            view.Pending.Origin,
			JoinType:          view.Pending.JoinType,
			DuplicateHandling: view.Pending.DuplicateHandling,
			PriorResultSample: view.Pending.PriorResultSample,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database_id": databaseID,
		"session_id":  sessionID,
		"turns":       turns,
		"pending":     pending,
	})
}

func requireUser(w http.ResponseWriter, r *http.Request, role auth.Role) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UserID) == "" {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", "caller identity is required", false, map[string]any{"header": auth.UserHeader})
		return "", false
	}
	if !identity.HasRole(role) {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("missing required role %q", role), false, nil)
		return "", false
	}
	return identity.UserID, true
}
