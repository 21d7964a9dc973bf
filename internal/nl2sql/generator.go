package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

// Kind selects what the generation service is asked to produce.
type Kind string

const (
	KindSQLFromQuery              Kind = "sql-from-query"
	KindClarificationQuestion     Kind = "clarification-question"
	KindJoinClarificationQuestion Kind = "join-clarification-question"
	KindGeneralClarificationCheck Kind = "general-clarification-check"
	KindEnhancedJoinSQL           Kind = "enhanced-join-sql"
	KindDuplicateHandlingSQL      Kind = "duplicate-handling-sql"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSQLFromQuery, KindClarificationQuestion, KindJoinClarificationQuestion,
		KindGeneralClarificationCheck, KindEnhancedJoinSQL, KindDuplicateHandlingSQL:
		return true
	default:
		return false
	}
}

func (k Kind) producesSQL() bool {
	return k == KindSQLFromQuery || k == KindEnhancedJoinSQL || k == KindDuplicateHandlingSQL
}

// Payload is the context sent with every generation call.
type Payload struct {
	Schema        schema.Snapshot
	Relationships schema.Relationships
	QueryText     string
	AnswerText    string
	JoinType      string
	Aspect        string
}

// Generator produces SQL text or clarification questions.
type Generator interface {
	Generate(ctx context.Context, kind Kind, payload Payload) (string, error)
}

// Completion is a single prompt for a Completer.
type Completion struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completer is one model backend. Implementations make exactly one outbound
// call per Complete and do not retry.
type Completer interface {
	Complete(ctx context.Context, completion Completion) (string, error)
}

// GenerationError reports a failed or unusable generation call.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type ClientConfig struct {
	Completer   Completer
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      *slog.Logger
}

type Client struct {
	completer   Completer
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Completer == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		completer:   cfg.Completer,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      observability.LoggerOrDiscard(cfg.Logger),
	}, nil
}

func (c *Client) Generate(ctx context.Context, kind Kind, payload Payload) (string, error) {
	started := time.Now()
	text, err := c.generate(ctx, kind, payload)
	observability.ObserveGeneration(string(kind), time.Since(started), err)
	if err != nil {
		c.logger.WarnContext(ctx, "generation failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, kind Kind, payload Payload) (string, error) {
	if !kind.Valid() {
		return "", &GenerationError{Kind: kind, Err: errors.New("unsupported kind")}
	}
	completion, err := buildCompletion(kind, payload)
	if err != nil {
		return "", &GenerationError{Kind: kind, Err: err}
	}
	if completion.MaxTokens <= 0 || completion.MaxTokens > c.maxTokens {
		completion.MaxTokens = c.maxTokens
	}
	if completion.Temperature <= 0 {
		completion.Temperature = c.temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.completer.Complete(callCtx, completion)
	if err != nil {
		return "", &GenerationError{Kind: kind, Err: err}
	}

	switch {
	case kind == KindGeneralClarificationCheck:
		check, err := ParseGeneralCheck(raw)
		if err != nil {
			return "", &GenerationError{Kind: kind, Err: err}
		}
		return check.String(), nil
	case kind.producesSQL():
		sql := stripCodeFence(raw)
		if sql == "" {
			return "", &GenerationError{Kind: kind, Err: errors.New("model returned empty SQL")}
		}
		return sql, nil
	default:
		question := strings.Trim(stripCodeFence(raw), "\"'` \n\t")
		if question == "" {
			return "", &GenerationError{Kind: kind, Err: errors.New("model returned an empty question")}
		}
		return question, nil
	}
}

// stripCodeFence removes a surrounding markdown fence such as ```sql ... ```.
func stripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && !strings.ContainsAny(trimmed[:newline], " \t") {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
