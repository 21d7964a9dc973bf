package clarify

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/schema"
)

type fakeGenerator struct {
	replies map[nl2sql.Kind]string
	err     error
	calls   []nl2sql.Kind
	last    nl2sql.Payload
}

func (f *fakeGenerator) Generate(_ context.Context, kind nl2sql.Kind, payload nl2sql.Payload) (string, error) {
	f.calls = append(f.calls, kind)
	f.last = payload
	if f.err != nil {
		return "", &nl2sql.GenerationError{Kind: kind, Err: f.err}
	}
	return f.replies[kind], nil
}

var shopSchema = schema.Snapshot{Tables: []schema.Table{
	{Name: "customers", Columns: []schema.Column{{Name: "id"}, {Name: "name"}}},
	{Name: "orders", Columns: []schema.Column{{Name: "id"}, {Name: "customer_id"}}},
	{Name: "users", Columns: []schema.Column{{Name: "id"}}},
}}

func TestTokens(t *testing.T) {
	tests := map[string]int{
		"show sales":                2,
		"show me sales":             3,
		"list all users":            3,
		"  orders,   please ":       2,
		"join orders and customers": 4,
		"":                          0,
		"\t\n":                      0,
	}
	for query, want := range tests {
		if got := len(Tokens(query)); got != want {
			t.Fatalf("len(Tokens(%q)) = %d, want %d (%v)", query, got, want, Tokens(query))
		}
	}
}

func TestBrevityRule(t *testing.T) {
	decision, ok := BrevityRule{}.Evaluate(context.Background(), Input{Query: "left join"})
	if !ok || !decision.NeedsClarification || decision.Question != BrevityQuestion {
		t.Fatalf("decision = %+v, ok = %v", decision, ok)
	}
	for _, query := range []string{"list all users", "list my orders", "show me please", "orders for you"} {
		if _, ok := (BrevityRule{}).Evaluate(context.Background(), Input{Query: query}); ok {
			t.Fatalf("%q has three tokens and should not be brief", query)
		}
	}
}

func TestJoinRuleDetectsMostSpecificJoinType(t *testing.T) {
	tests := map[string]string{
		"do a left outer join of orders":     "left join",
		"right join customers with orders":   "right join",
		"full outer join customers orders":   "full join",
		"FULL JOIN customers and orders":     "full join",
		"cross join users and orders":        "cross join",
		"inner join orders with customers":   "inner join",
		"join orders and customers":          "inner join",
		"orders joined with their customers": "inner join",
	}
	for query, want := range tests {
		gen := &fakeGenerator{replies: map[nl2sql.Kind]string{nl2sql.KindJoinClarificationQuestion: "Which columns?"}}
		decision, ok := JoinRule{Generator: gen}.Evaluate(context.Background(), Input{Query: query, Schema: shopSchema})
		if !ok {
			t.Fatalf("JoinRule did not fire for %q", query)
		}
		if decision.JoinType != want {
			t.Fatalf("JoinType for %q = %q, want %q", query, decision.JoinType, want)
		}
		if gen.last.JoinType != want {
			t.Fatalf("payload JoinType = %q", gen.last.JoinType)
		}
		if decision.Question != "Which columns?" {
			t.Fatalf("Question = %q", decision.Question)
		}
	}

	if _, ok := (JoinRule{Generator: &fakeGenerator{}}).Evaluate(context.Background(), Input{Query: "list the rejoinder table"}); ok {
		t.Fatal("join inside another word should not match")
	}
}

func TestJoinRuleFallbackNamesJoinTypeAndTables(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("status=503")}
	decision, ok := JoinRule{Generator: gen}.Evaluate(context.Background(), Input{Query: "join orders and customers", Schema: shopSchema})
	if !ok {
		t.Fatal("expected join rule to fire")
	}
	want := "I noticed you want to perform an inner join involving orders and customers. Could you specify which tables you want to join and on which columns?"
	if decision.Question != want {
		t.Fatalf("Question = %q, want %q", decision.Question, want)
	}
	if decision.JoinType != "inner join" {
		t.Fatalf("JoinType = %q", decision.JoinType)
	}
}

func TestJoinFallbackQuestionWithoutTables(t *testing.T) {
	got := JoinFallbackQuestion("cross join", nil)
	want := "I noticed you want to perform a cross join. Could you specify which tables you want to join and on which columns?"
	if got != want {
		t.Fatalf("JoinFallbackQuestion() = %q", got)
	}
}

func TestMentionedTables(t *testing.T) {
	got := MentionedTables("match each customer to their orders and users", shopSchema)
	want := []string{"customers", "orders", "users"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MentionedTables() = %v, want %v", got, want)
	}
}

func TestDuplicateRule(t *testing.T) {
	decision, ok := DuplicateRule{}.Evaluate(context.Background(), Input{Query: "list orders without duplicates"})
	if !ok || !decision.DuplicateHandling || decision.Question != DuplicateQuestion {
		t.Fatalf("decision = %+v, ok = %v", decision, ok)
	}
	if _, ok := (DuplicateRule{}).Evaluate(context.Background(), Input{Query: "list all orders"}); ok {
		t.Fatal("unexpected duplicate match")
	}
}

func TestAspectRuleFirstMatchWins(t *testing.T) {
	gen := &fakeGenerator{replies: map[nl2sql.Kind]string{nl2sql.KindClarificationQuestion: "For which quarter?"}}
	decision, ok := AspectRule{Generator: gen}.Evaluate(context.Background(), Input{Query: "display revenue per customer"})
	if !ok {
		t.Fatal("expected aspect rule to fire")
	}
	if decision.Aspect != "time period" {
		t.Fatalf("Aspect = %q, want time period", decision.Aspect)
	}
	if gen.last.Aspect != "time period" || decision.Question != "For which quarter?" {
		t.Fatalf("payload aspect = %q, question = %q", gen.last.Aspect, decision.Question)
	}
}

func TestAspectRuleFallback(t *testing.T) {
	tests := map[string]string{
		"total revenue by region":      "product specificity",
		"list customers in berlin":     "customer segmentation",
		"compare march and april":      "comparison metrics",
		"the best selling items":       "result count and ranking criteria",
		"average basket size by store": "grouping and calculation method",
	}
	for query, aspect := range tests {
		gen := &fakeGenerator{err: errors.New("unreachable")}
		decision, ok := AspectRule{Generator: gen}.Evaluate(context.Background(), Input{Query: query})
		if !ok {
			t.Fatalf("AspectRule did not fire for %q", query)
		}
		if decision.Question != AspectFallbackQuestion(aspect) {
			t.Fatalf("Question for %q = %q", query, decision.Question)
		}
	}
}

func TestGeneralCheckRule(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		err      error
		fires    bool
		question string
	}{
		{name: "ambiguous", reply: `{"needs_clarification":true,"question":"Which store?"}`, fires: true, question: "Which store?"},
		{name: "ambiguous without question", reply: `{"needs_clarification":true}`, fires: true, question: GeneralFallbackQuestion},
		{name: "clear", reply: `{"needs_clarification":false}`},
		{name: "malformed", reply: `yes`},
		{name: "service down", err: errors.New("connection refused")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{replies: map[nl2sql.Kind]string{nl2sql.KindGeneralClarificationCheck: tc.reply}, err: tc.err}
			decision, ok := GeneralCheckRule{Generator: gen}.Evaluate(context.Background(), Input{Query: "list all users"})
			if ok != tc.fires {
				t.Fatalf("fired = %v, want %v", ok, tc.fires)
			}
			if ok && decision.Question != tc.question {
				t.Fatalf("Question = %q, want %q", decision.Question, tc.question)
			}
		})
	}
}
