package clarify

import (
	"context"
	"log/slog"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

// Decision is the classifier's verdict for one query.
type Decision struct {
	NeedsClarification bool
	Question           string
	JoinType           string
	DuplicateHandling  bool
	Aspect             string
	// Rule names the rule that decided, or RuleNone.
	Rule string
}

// Classifier evaluates its rules in order and stops at the first one that
// fires. The default order is brevity, join, duplicates, aspect, general.
type Classifier struct {
	rules  []Rule
	logger *slog.Logger
}

func NewClassifier(generator nl2sql.Generator, logger *slog.Logger) *Classifier {
	logger = observability.LoggerOrDiscard(logger)
	return NewClassifierWithRules(logger,
		BrevityRule{},
		JoinRule{Generator: generator, Logger: logger},
		DuplicateRule{},
		AspectRule{Generator: generator, Logger: logger},
		GeneralCheckRule{Generator: generator, Logger: logger},
	)
}

func NewClassifierWithRules(logger *slog.Logger, rules ...Rule) *Classifier {
	return &Classifier{rules: rules, logger: observability.LoggerOrDiscard(logger)}
}

func (c *Classifier) Classify(ctx context.Context, query string, snapshot schema.Snapshot, relationships schema.Relationships) Decision {
	in := Input{Query: query, Schema: snapshot, Relationships: relationships}
	for _, rule := range c.rules {
		decision, ok := rule.Evaluate(ctx, in)
		if !ok {
			continue
		}
		decision.Rule = rule.Name()
		c.record(ctx, decision)
		return decision
	}
	decision := Decision{Rule: RuleNone}
	c.record(ctx, decision)
	return decision
}

func (c *Classifier) record(ctx context.Context, decision Decision) {
	observability.ObserveClassifierDecision(decision.Rule, decision.NeedsClarification)
	c.logger.DebugContext(ctx, "query classified",
		slog.String("rule", decision.Rule),
		slog.Bool("needs_clarification", decision.NeedsClarification),
		slog.String("join_type", decision.JoinType),
		slog.String("aspect", decision.Aspect),
	)
}
