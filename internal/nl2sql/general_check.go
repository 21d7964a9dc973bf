package nl2sql

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// GeneralCheck is the structured answer to a general-clarification-check.
type GeneralCheck struct {
	NeedsClarification bool   `json:"needs_clarification"`
	Question           string `json:"question,omitempty"`
}

func (g GeneralCheck) String() string {
	body, _ := json.Marshal(g)
	return string(body)
}

var generalCheckSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	s := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"needs_clarification"},
		Properties: map[string]*jsonschema.Schema{
			"needs_clarification": {Type: "boolean"},
			"question":            {Types: []string{"null", "string"}},
		},
	}
	return s.Resolve(nil)
})

// ParseGeneralCheck validates raw model output against the general-check
// schema before decoding it.
func ParseGeneralCheck(raw string) (GeneralCheck, error) {
	resolved, err := generalCheckSchema()
	if err != nil {
		return GeneralCheck{}, fmt.Errorf("resolve general check schema: %w", err)
	}

	body := stripCodeFence(raw)
	var instance any
	if err := json.Unmarshal([]byte(body), &instance); err != nil {
		return GeneralCheck{}, fmt.Errorf("decode general check response: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return GeneralCheck{}, fmt.Errorf("validate general check response: %w", err)
	}

	var wire struct {
		NeedsClarification bool    `json:"needs_clarification"`
		Question           *string `json:"question"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return GeneralCheck{}, fmt.Errorf("decode general check response: %w", err)
	}
	check := GeneralCheck{NeedsClarification: wire.NeedsClarification}
	if wire.Question != nil {
		check.Question = *wire.Question
	}
	return check, nil
}
