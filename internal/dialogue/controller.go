package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/clarify"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/schema"
)

var ErrEmptyInput = errors.New("dialogue: query text is empty")

const (
	ProcessingPlaceholder     = "Processing your clarified query..."
	DuplicateFallbackQuestion = "I noticed there are duplicate entries in the results. Would you like to keep all duplicates, remove them, or handle them in a specific way?"

	duplicateAspect = "duplicate handling"
	sampleRowLimit  = 5
)

// Databases resolves registrations and records executions against them.
type Databases interface {
	GetDatabase(ctx context.Context, userID, databaseID string) (registry.DatabaseConnection, error)
	RecordQueryLog(ctx context.Context, in registry.RecordQueryLogInput) error
}

type SchemaProvider interface {
	GetSchema(ctx context.Context, conn registry.DatabaseConnection) (schema.Snapshot, error)
}

type Classifier interface {
	Classify(ctx context.Context, query string, snapshot schema.Snapshot, relationships schema.Relationships) clarify.Decision
}

type Executor interface {
	Execute(ctx context.Context, conn registry.DatabaseConnection, sqlText string) (query.Result, error)
}

// Archiver stores a terminal result and returns the id it can be fetched by.
type Archiver interface {
	Archive(ctx context.Context, conn registry.DatabaseConnection, result query.Result) (string, error)
}

type ControllerConfig struct {
	Databases  Databases
	Schemas    SchemaProvider
	Classifier Classifier
	Generator  nl2sql.Generator
	Executor   Executor
	// Archiver is optional.
	Archiver Archiver
	Sessions *SessionStore
	Logger   *slog.Logger
	Now      func() time.Time
}

type Request struct {
	UserID     string
	SessionID  string
	DatabaseID string
	Text       string
}

type Response struct {
	Success            bool
	SQL                string
	Columns            []string
	Rows               [][]any
	DuplicateCount     int
	NeedsClarification bool
	Question           string
	ResultID           string
	Error              string
}

// View is the read-only projection of a session shown to clients.
type View struct {
	Turns   []Turn
	Pending *ClarificationContext
}

type Controller struct {
	databases  Databases
	schemas    SchemaProvider
	classifier Classifier
	generator  nl2sql.Generator
	executor   Executor
	archiver   Archiver
	sessions   *SessionStore
	logger     *slog.Logger
	now        func() time.Time
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Databases == nil {
		return nil, errors.New("database registry is required")
	}
	if cfg.Schemas == nil {
		return nil, errors.New("schema provider is required")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionStore(DefaultSessionTTL)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		databases:  cfg.Databases,
		schemas:    cfg.Schemas,
		classifier: cfg.Classifier,
		generator:  cfg.Generator,
		executor:   cfg.Executor,
		archiver:   cfg.Archiver,
		sessions:   cfg.Sessions,
		logger:     observability.LoggerOrDiscard(cfg.Logger),
		now:        cfg.Now,
	}, nil
}

// ProcessQuery handles one utterance. While a clarification round is open the
// text is always taken as its answer; otherwise it is classified as a new
// query. Failures after the registration lookup leave exactly one system turn
// describing them and return the typed error.
func (c *Controller) ProcessQuery(ctx context.Context, req Request) (Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Response{}, ErrEmptyInput
	}
	conn, err := c.databases.GetDatabase(ctx, req.UserID, req.DatabaseID)
	if err != nil {
		return Response{}, fmt.Errorf("load database %s: %w", req.DatabaseID, err)
	}

	session := c.sessions.getOrCreate(SessionKey{SessionID: req.SessionID, DatabaseID: conn.ID})
	session.mu.Lock()
	defer session.mu.Unlock()

	if awaiting, ok := session.state.(AwaitingClarification); ok {
		return c.resolve(ctx, session, conn, text, awaiting.Context)
	}
	return c.handleNew(ctx, session, conn, text)
}

// Conversation returns the turns and any open clarification of a session.
// Unknown sessions have an empty view.
func (c *Controller) Conversation(ctx context.Context, userID, sessionID, databaseID string) (View, error) {
	conn, err := c.databases.GetDatabase(ctx, userID, databaseID)
	if err != nil {
		return View{}, fmt.Errorf("load database %s: %w", databaseID, err)
	}
	session, ok := c.sessions.lookup(SessionKey{SessionID: sessionID, DatabaseID: conn.ID})
	if !ok {
		return View{Turns: []Turn{}}, nil
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	view := View{Turns: session.conversation.Turns()}
	if awaiting, ok := session.state.(AwaitingClarification); ok {
		pending := awaiting.Context
		view.Pending = &pending
	}
	return view, nil
}

func (c *Controller) handleNew(ctx context.Context, session *Session, conn registry.DatabaseConnection, text string) (Response, error) {
	session.conversation.Append(SpeakerUser, text, c.now())

	snapshot, err := c.schemas.GetSchema(ctx, conn)
	if err != nil {
		return c.fail(ctx, session, conn, "", false, err)
	}
	relationships := schema.InferRelationships(snapshot)

	decision := c.classifier.Classify(ctx, text, snapshot, relationships)
	if decision.NeedsClarification {
		c.raise(ctx, session, conn, false, ClarificationContext{
			PendingQuestion:   decision.Question,
			OriginalQuery:     text,
			JoinType:          decision.JoinType,
			DuplicateHandling: decision.DuplicateHandling,
			Origin:            OriginClassifier,
		})
		return Response{Success: true, NeedsClarification: true, Question: decision.Question}, nil
	}

	sqlText, err := c.generator.Generate(ctx, nl2sql.KindSQLFromQuery, nl2sql.Payload{
		Schema:        snapshot,
		Relationships: relationships,
		QueryText:     text,
	})
	if err != nil {
		return c.fail(ctx, session, conn, "", false, err)
	}
	return c.execute(ctx, session, conn, execution{
		originalQuery:       text,
		sql:                 sqlText,
		snapshot:            snapshot,
		relationships:       relationships,
		allowDuplicateRound: true,
	})
}

func (c *Controller) resolve(ctx context.Context, session *Session, conn registry.DatabaseConnection, answer string, pending ClarificationContext) (Response, error) {
	now := c.now()
	session.conversation.Append(SpeakerUser, answer, now)
	session.conversation.Append(SpeakerSystem, ProcessingPlaceholder, now)
	session.state = Idle{}
	observability.ObserveClarificationResolved(pending.Origin)

	snapshot, err := c.schemas.GetSchema(ctx, conn)
	if err != nil {
		return c.fail(ctx, session, conn, "", true, err)
	}
	relationships := schema.InferRelationships(snapshot)

	sqlText, err := c.generateClarified(ctx, pending, answer, snapshot, relationships)
	if err != nil {
		return c.fail(ctx, session, conn, "", true, err)
	}
	return c.execute(ctx, session, conn, execution{
		originalQuery: pending.OriginalQuery,
		sql:           sqlText,
		snapshot:      snapshot,
		relationships: relationships,
		// A duplicates round never follows an answer about duplicates.
		allowDuplicateRound: !pending.DuplicateHandling,
		replacePlaceholder:  true,
	})
}

// generateClarified asks for SQL that folds the answer into the original
// query. Join and duplicate rounds use their dedicated kinds and fall back
// once to plain generation over the merged text.
func (c *Controller) generateClarified(ctx context.Context, pending ClarificationContext, answer string, snapshot schema.Snapshot, relationships schema.Relationships) (string, error) {
	merged := nl2sql.Payload{
		Schema:        snapshot,
		Relationships: relationships,
		QueryText:     MergeClarification(pending.OriginalQuery, answer),
	}

	var kind nl2sql.Kind
	switch {
	case pending.JoinType != "":
		kind = nl2sql.KindEnhancedJoinSQL
	case pending.DuplicateHandling:
		kind = nl2sql.KindDuplicateHandlingSQL
	default:
		return c.generator.Generate(ctx, nl2sql.KindSQLFromQuery, merged)
	}

	sqlText, err := c.generator.Generate(ctx, kind, nl2sql.Payload{
		Schema:        snapshot,
		Relationships: relationships,
		QueryText:     pending.OriginalQuery,
		AnswerText:    answer,
		JoinType:      pending.JoinType,
	})
	if err == nil {
		return sqlText, nil
	}
	c.logger.WarnContext(ctx, "clarified sql generation failed, using merged query",
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	return c.generator.Generate(ctx, nl2sql.KindSQLFromQuery, merged)
}

// MergeClarification is the free-text form of a query and its clarification.
func MergeClarification(original, answer string) string {
	return fmt.Sprintf("%s (Clarification: %s)", original, answer)
}

type execution struct {
	originalQuery       string
	sql                 string
	snapshot            schema.Snapshot
	relationships       schema.Relationships
	allowDuplicateRound bool
	replacePlaceholder  bool
}

func (c *Controller) execute(ctx context.Context, session *Session, conn registry.DatabaseConnection, run execution) (Response, error) {
	result, err := c.executor.Execute(ctx, conn, run.sql)
	if !errors.Is(err, query.ErrEmptyQuery) {
		c.recordQueryLog(ctx, conn, result, err)
	}
	if err != nil {
		return c.fail(ctx, session, conn, run.sql, run.replacePlaceholder, err)
	}

	resp := Response{
		Success:        true,
		SQL:            result.SQL,
		Columns:        result.Columns,
		Rows:           result.Rows,
		DuplicateCount: result.DuplicateCount,
	}

	if result.DuplicateCount > 0 && run.allowDuplicateRound {
		question := fmt.Sprintf("I found %d duplicate rows in the results. %s",
			result.DuplicateCount, c.duplicateQuestion(ctx, run))
		c.raise(ctx, session, conn, run.replacePlaceholder, ClarificationContext{
			PendingQuestion:   question,
			OriginalQuery:     run.originalQuery,
			DuplicateHandling: true,
			PriorResultSample: sample(result.Rows),
			Origin:            OriginDuplicates,
		})
		resp.NeedsClarification = true
		resp.Question = question
		return resp, nil
	}

	if c.archiver != nil {
		resultID, err := c.archiver.Archive(ctx, conn, result)
		if err != nil {
			c.logger.WarnContext(ctx, "result archive failed",
				slog.String("database_id", conn.ID),
				slog.String("error", err.Error()),
			)
		} else {
			resp.ResultID = resultID
		}
	}
	c.say(session, fmt.Sprintf("Query executed successfully. Returned %d rows.", len(result.Rows)), run.replacePlaceholder)
	return resp, nil
}

func (c *Controller) duplicateQuestion(ctx context.Context, run execution) string {
	question, err := c.generator.Generate(ctx, nl2sql.KindClarificationQuestion, nl2sql.Payload{
		Schema:        run.snapshot,
		Relationships: run.relationships,
		QueryText:     run.originalQuery,
		Aspect:        duplicateAspect,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "duplicate question generation failed, using fallback",
			slog.String("error", err.Error()),
		)
		return DuplicateFallbackQuestion
	}
	return question
}

func (c *Controller) raise(ctx context.Context, session *Session, conn registry.DatabaseConnection, replace bool, pending ClarificationContext) {
	session.state = AwaitingClarification{Context: pending}
	c.say(session, pending.PendingQuestion, replace)
	observability.ObserveClarificationRaised(pending.Origin)
	c.logger.InfoContext(ctx, "clarification requested",
		slog.String("database_id", conn.ID),
		slog.String("origin", pending.Origin),
		slog.String("join_type", pending.JoinType),
		slog.Bool("duplicate_handling", pending.DuplicateHandling),
	)
}

// fail leaves the session Idle with a single system turn describing err.
func (c *Controller) fail(ctx context.Context, session *Session, conn registry.DatabaseConnection, sqlText string, replace bool, err error) (Response, error) {
	session.state = Idle{}
	message := describeFailure(err)
	c.say(session, message, replace)
	c.logger.WarnContext(ctx, "query processing failed",
		slog.String("database_id", conn.ID),
		slog.String("error", err.Error()),
	)
	return Response{SQL: sqlText, Error: message}, err
}

func (c *Controller) say(session *Session, text string, replace bool) {
	now := c.now()
	if replace && session.conversation.ReplaceLastSystemTurn(text, now) {
		return
	}
	session.conversation.Append(SpeakerSystem, text, now)
}

func (c *Controller) recordQueryLog(ctx context.Context, conn registry.DatabaseConnection, result query.Result, execErr error) {
	err := c.databases.RecordQueryLog(ctx, registry.RecordQueryLogInput{
		DatabaseID:   conn.ID,
		UserID:       conn.UserID,
		Success:      execErr == nil,
		ResponseTime: result.Duration,
		ExecutedAt:   c.now(),
	})
	if err != nil {
		c.logger.WarnContext(ctx, "query log write failed",
			slog.String("database_id", conn.ID),
			slog.String("error", err.Error()),
		)
	}
}

func describeFailure(err error) string {
	var (
		connErr *schema.ConnectionError
		inspErr *schema.IntrospectionError
		genErr  *nl2sql.GenerationError
		execErr *query.ExecutionError
	)
	switch {
	case errors.Is(err, query.ErrEmptyQuery):
		return "The generated query was empty. Please rephrase your request and try again."
	case errors.As(err, &execErr):
		return fmt.Sprintf("Database query failed: %v. Please try again.", execErr.Err)
	case errors.As(err, &connErr):
		return "Could not connect to the database. Please check the connection and try again."
	case errors.As(err, &inspErr):
		return "Could not read the database schema. Please try again."
	case errors.As(err, &genErr):
		return "Could not generate a query for your request. Please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	default:
		return "Error analyzing your query. Please try again."
	}
}

func sample(rows [][]any) [][]any {
	n := min(len(rows), sampleRowLimit)
	out := make([][]any, n)
	copy(out, rows[:n])
	return out
}
