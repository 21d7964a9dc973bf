package clarify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/schema"
)

const (
	BrevityQuestion         = "Your query seems brief. Could you provide more details about what you want to know?"
	DuplicateQuestion       = "I noticed your query might involve duplicate data. Would you like to include or exclude duplicates in the results?"
	GeneralFallbackQuestion = "Could you provide more details about your request?"

	// MinTokens is the shortest query that is not treated as brief.
	MinTokens = 3
)

// Rule names, also used as metric labels.
const (
	RuleBrevity    = "brevity"
	RuleJoin       = "join"
	RuleDuplicates = "duplicates"
	RuleAspect     = "aspect"
	RuleGeneral    = "general"
	RuleNone       = "none"
)

type Input struct {
	Query         string
	Schema        schema.Snapshot
	Relationships schema.Relationships
}

func (in Input) payload() nl2sql.Payload {
	return nl2sql.Payload{
		Schema:        in.Schema,
		Relationships: in.Relationships,
		QueryText:     in.Query,
	}
}

// Rule inspects a query and reports whether it decides the outcome.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (Decision, bool)
}

// BrevityRule fires for queries with fewer than MinTokens tokens.
type BrevityRule struct{}

func (BrevityRule) Name() string { return RuleBrevity }

func (BrevityRule) Evaluate(_ context.Context, in Input) (Decision, bool) {
	if len(Tokens(in.Query)) >= MinTokens {
		return Decision{}, false
	}
	return Decision{NeedsClarification: true, Question: BrevityQuestion}, true
}

// Tokens splits a query on whitespace. Every whitespace-separated field
// counts, including pronouns and courtesy words.
func Tokens(query string) []string {
	return strings.Fields(query)
}

// words lowercases the tokens of query and trims surrounding punctuation.
func words(query string) []string {
	fields := Tokens(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if field != "" {
			out = append(out, field)
		}
	}
	return out
}

type JoinPattern struct {
	Pattern  *regexp.Regexp
	JoinType string
}

// DefaultJoinPatterns is ordered most specific first; a bare "join" is an
// inner join and is checked last.
var DefaultJoinPatterns = []JoinPattern{
	{Pattern: regexp.MustCompile(`(?i)\bleft\s+(outer\s+)?join\b`), JoinType: "left join"},
	{Pattern: regexp.MustCompile(`(?i)\bright\s+(outer\s+)?join\b`), JoinType: "right join"},
	{Pattern: regexp.MustCompile(`(?i)\bfull\s+(outer\s+)?join\b`), JoinType: "full join"},
	{Pattern: regexp.MustCompile(`(?i)\bcross\s+join\b`), JoinType: "cross join"},
	{Pattern: regexp.MustCompile(`(?i)\b(inner\s+)?join(s|ed|ing)?\b`), JoinType: "inner join"},
}

// JoinRule asks the generator for a join-specific question and falls back to
// a fixed template naming the join type and any tables it can spot.
type JoinRule struct {
	Generator nl2sql.Generator
	Patterns  []JoinPattern
	Logger    *slog.Logger
}

func (JoinRule) Name() string { return RuleJoin }

func (r JoinRule) Evaluate(ctx context.Context, in Input) (Decision, bool) {
	patterns := r.Patterns
	if patterns == nil {
		patterns = DefaultJoinPatterns
	}
	for _, candidate := range patterns {
		if !candidate.Pattern.MatchString(in.Query) {
			continue
		}
		decision := Decision{NeedsClarification: true, JoinType: candidate.JoinType}

		payload := in.payload()
		payload.JoinType = candidate.JoinType
		question, err := r.Generator.Generate(ctx, nl2sql.KindJoinClarificationQuestion, payload)
		if err != nil {
			logFallback(ctx, r.Logger, RuleJoin, err)
			question = JoinFallbackQuestion(candidate.JoinType, MentionedTables(in.Query, in.Schema))
		}
		decision.Question = question
		return decision, true
	}
	return Decision{}, false
}

// JoinFallbackQuestion is used when no join question could be generated.
func JoinFallbackQuestion(joinType string, tables []string) string {
	subject := article(joinType) + " " + joinType
	if len(tables) > 0 {
		subject += " involving " + joinWords(tables)
	}
	return fmt.Sprintf("I noticed you want to perform %s. Could you specify which tables you want to join and on which columns?", subject)
}

// MentionedTables lists schema tables named in the query, by plural or
// singular name, in order of first mention.
func MentionedTables(query string, snapshot schema.Snapshot) []string {
	tokens := words(query)
	position := func(table string) int {
		singular := strings.TrimSuffix(table, "s")
		for i, token := range tokens {
			if token == table || token == singular || strings.TrimSuffix(token, "s") == singular {
				return i
			}
		}
		return -1
	}

	type hit struct {
		name string
		pos  int
	}
	var hits []hit
	for _, table := range snapshot.Tables {
		if pos := position(strings.ToLower(table.Name)); pos >= 0 {
			hits = append(hits, hit{name: table.Name, pos: pos})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	names := make([]string, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.name)
	}
	return names
}

var duplicatePattern = regexp.MustCompile(`(?i)\bduplicates?\b`)

// DuplicateRule fires when the query mentions duplicates. It never calls out.
type DuplicateRule struct{}

func (DuplicateRule) Name() string { return RuleDuplicates }

func (DuplicateRule) Evaluate(_ context.Context, in Input) (Decision, bool) {
	if !duplicatePattern.MatchString(in.Query) {
		return Decision{}, false
	}
	return Decision{NeedsClarification: true, Question: DuplicateQuestion, DuplicateHandling: true}, true
}

type AspectPattern struct {
	Pattern *regexp.Regexp
	Aspect  string
}

// DefaultAspectPatterns is evaluated in order; the first match decides.
var DefaultAspectPatterns = []AspectPattern{
	{Pattern: regexp.MustCompile(`(?i)\b(show|display|get)\b`), Aspect: "time period"},
	{Pattern: regexp.MustCompile(`(?i)\b(sales|revenue|amount)\b`), Aspect: "product specificity"},
	{Pattern: regexp.MustCompile(`(?i)\bcustomers?\b`), Aspect: "customer segmentation"},
	{Pattern: regexp.MustCompile(`(?i)\b(compare|comparison)\b`), Aspect: "comparison metrics"},
	{Pattern: regexp.MustCompile(`(?i)\b(top|best|highest)\b`), Aspect: "result count and ranking criteria"},
	{Pattern: regexp.MustCompile(`(?i)\b(average|avg|mean)\b`), Aspect: "grouping and calculation method"},
}

// AspectRule asks for a question about the first ambiguous aspect it finds.
type AspectRule struct {
	Generator nl2sql.Generator
	Patterns  []AspectPattern
	Logger    *slog.Logger
}

func (AspectRule) Name() string { return RuleAspect }

func (r AspectRule) Evaluate(ctx context.Context, in Input) (Decision, bool) {
	patterns := r.Patterns
	if patterns == nil {
		patterns = DefaultAspectPatterns
	}
	for _, candidate := range patterns {
		if !candidate.Pattern.MatchString(in.Query) {
			continue
		}
		payload := in.payload()
		payload.Aspect = candidate.Aspect
		question, err := r.Generator.Generate(ctx, nl2sql.KindClarificationQuestion, payload)
		if err != nil {
			logFallback(ctx, r.Logger, RuleAspect, err)
			question = AspectFallbackQuestion(candidate.Aspect)
		}
		return Decision{NeedsClarification: true, Question: question, Aspect: candidate.Aspect}, true
	}
	return Decision{}, false
}

func AspectFallbackQuestion(aspect string) string {
	return fmt.Sprintf("Could you provide more details about the %s in your query?", aspect)
}

// GeneralCheckRule asks the generator whether the query is ambiguous at all.
// Any failure, including a malformed answer, means no clarification.
type GeneralCheckRule struct {
	Generator nl2sql.Generator
	Logger    *slog.Logger
}

func (GeneralCheckRule) Name() string { return RuleGeneral }

func (r GeneralCheckRule) Evaluate(ctx context.Context, in Input) (Decision, bool) {
	raw, err := r.Generator.Generate(ctx, nl2sql.KindGeneralClarificationCheck, in.payload())
	if err != nil {
		logDegradedCheck(ctx, r.Logger, err)
		return Decision{}, false
	}
	check, err := nl2sql.ParseGeneralCheck(raw)
	if err != nil {
		logDegradedCheck(ctx, r.Logger, err)
		return Decision{}, false
	}
	if !check.NeedsClarification {
		return Decision{}, false
	}
	question := strings.TrimSpace(check.Question)
	if question == "" {
		question = GeneralFallbackQuestion
	}
	return Decision{NeedsClarification: true, Question: question}, true
}

func logFallback(ctx context.Context, logger *slog.Logger, rule string, err error) {
	if logger == nil {
		return
	}
	logger.WarnContext(ctx, "clarification question generation failed; using fallback",
		slog.String("rule", rule),
		slog.String("error", err.Error()),
	)
}

func logDegradedCheck(ctx context.Context, logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	attrs := []any{slog.String("error", err.Error())}
	var genErr *nl2sql.GenerationError
	if errors.As(err, &genErr) {
		attrs = append(attrs, slog.String("kind", string(genErr.Kind)))
	}
	logger.WarnContext(ctx, "general clarification check unusable; continuing without clarification", attrs...)
}

func article(phrase string) string {
	if phrase != "" && strings.ContainsRune("aeiouAEIOU", rune(phrase[0])) {
		return "an"
	}
	return "a"
}

func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	default:
		return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
	}
}
