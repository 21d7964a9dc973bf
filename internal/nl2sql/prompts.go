package nl2sql

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	sqlSystemPrompt = "You convert natural language analytics requests into a single PostgreSQL query. " +
		"Return ONLY SQL. No markdown, no explanation."
	questionSystemPrompt = "You help users of a data analytics tool phrase precise database requests. " +
		"Reply with a single conversational follow-up question and nothing else."
	checkSystemPrompt = "You decide whether a data analytics request is ambiguous. " +
		"Reply with JSON only."
)

func buildCompletion(kind Kind, payload Payload) (Completion, error) {
	schemaJSON, err := json.Marshal(payload.Schema)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal schema context: %w", err)
	}
	relationshipsJSON, err := json.Marshal(payload.Relationships)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal relationship context: %w", err)
	}
	schemaContext := fmt.Sprintf("Schema (JSON):\n%s\n\nRelationships (JSON):\n%s\n\n", schemaJSON, relationshipsJSON)
	query := strings.TrimSpace(payload.QueryText)
	answer := strings.TrimSpace(payload.AnswerText)

	switch kind {
	case KindSQLFromQuery:
		return Completion{
			System: sqlSystemPrompt,
			User: schemaContext + fmt.Sprintf(
				"User request:\n%q\n\nRules:\n- Use only listed tables and columns.\n- Use the relationships for joins; any number of joins is allowed.\n- Output a single SQL query only.",
				query,
			),
			MaxTokens:   500,
			Temperature: 0.2,
		}, nil
	case KindClarificationQuestion:
		return Completion{
			System: questionSystemPrompt,
			User: schemaContext + fmt.Sprintf(
				"Given this user query in a data analytics context: %q\n\nGenerate a natural, conversational follow-up question to clarify the %q aspect of their request.\nThe question should:\n- Be specific to the query content\n- Be phrased in a helpful, concise way\n- Not make assumptions about what the user wants\n- Focus only on the %q aspect\n- Return only the follow-up question with no additional explanation or context",
				query, payload.Aspect, payload.Aspect,
			),
			MaxTokens:   150,
			Temperature: 0.2,
		}, nil
	case KindJoinClarificationQuestion:
		return Completion{
			System: questionSystemPrompt,
			User: schemaContext + fmt.Sprintf(
				"Given this database query in a data analytics context: %q\n\nThe user wants to perform a %s. Generate a follow-up question to clarify:\n1. Which specific tables they want to join\n2. Which columns to use for the join condition\n3. How to handle potential duplicate data\n\nFormat the response as a single clarification question without any additional text or explanations.",
				query, payload.JoinType,
			),
			MaxTokens:   150,
			Temperature: 0.3,
		}, nil
	case KindGeneralClarificationCheck:
		return Completion{
			System: checkSystemPrompt,
			User: schemaContext + fmt.Sprintf(
				"Given this user query in a data analytics context: %q\n\nFirst, determine if this query is ambiguous or lacks important context needed to provide an accurate response.\nIf it does need clarification, generate ONE concise follow-up question that would help clarify the user's intent.\n\nReturn your response in this JSON format:\n{\n  \"needs_clarification\": true/false,\n  \"question\": \"Your follow-up question here (only if needs_clarification is true)\"\n}",
				query,
			),
			MaxTokens:   150,
			Temperature: 0.2,
		}, nil
	case KindEnhancedJoinSQL:
		return Completion{
			System: sqlSystemPrompt,
			User: schemaContext + fmt.Sprintf(
				"Original query: %q\nUser clarification: %q\nJoin type: %s\n\nBased on the original query and the user's clarification, generate a complete, well-formed SQL query that:\n1. Implements the %s between the specified tables\n2. Uses the correct JOIN syntax\n3. Handles duplicate data according to the user's preference (if mentioned)",
				query, answer, payload.JoinType, payload.JoinType,
			),
			MaxTokens:   500,
			Temperature: 0.2,
		}, nil
	case KindDuplicateHandlingSQL:
		return Completion{
			System: sqlSystemPrompt,
			User: schemaContext + fmt.Sprintf(
				"Original query: %q\nUser clarification about duplicates: %q\n\nBased on the original query and the user's clarification about handling duplicates, generate a complete, well-formed SQL query that:\n1. Implements the user's preference for handling duplicates (DISTINCT, GROUP BY, etc.)\n2. Maintains the original intent of the query",
				query, answer,
			),
			MaxTokens:   500,
			Temperature: 0.2,
		}, nil
	default:
		return Completion{}, fmt.Errorf("no prompt for kind %q", kind)
	}
}
