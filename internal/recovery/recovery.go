package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UnknownCollection names payloads whose collection could not be recovered.
const UnknownCollection = "Unknown Collection"

const previewLimit = 200

// Decision is one per-item verdict as returned by the model.
type Decision struct {
	MovieID    int     `json:"movie_id"`
	Title      string  `json:"title,omitempty"`
	Include    bool    `json:"include"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Response is the batch payload.
type Response struct {
	CollectionName string     `json:"collection_name"`
	Decisions      []Decision `json:"decisions"`

	hasName      bool
	hasDecisions bool
}

// UnmarshalJSON records which required keys were present.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		CollectionName *string          `json:"collection_name"`
		Decisions      *json.RawMessage `json:"decisions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response{}
	if raw.CollectionName != nil {
		r.CollectionName = *raw.CollectionName
		r.hasName = true
	}
	if raw.Decisions != nil && string(*raw.Decisions) != "null" {
		if err := json.Unmarshal(*raw.Decisions, &r.Decisions); err != nil {
			return fmt.Errorf("decisions: %w", err)
		}
		r.hasDecisions = true
	}
	return nil
}

// Validate reports whether the required keys were present.
func (r Response) Validate() error {
	var missing []string
	if !r.hasName {
		missing = append(missing, "collection_name")
	}
	if !r.hasDecisions {
		missing = append(missing, "decisions")
	}
	if len(missing) > 0 {
		return fmt.Errorf("response missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// NewResponse builds a Response that passes Validate.
func NewResponse(collection string, decisions []Decision) Response {
	if decisions == nil {
		decisions = []Decision{}
	}
	return Response{CollectionName: collection, Decisions: decisions, hasName: true, hasDecisions: true}
}

// Strategy is one recovery technique.
type Strategy struct {
	Name  string
	Parse func(text string) (Response, error)
}

// Strategies lists the recovery techniques in priority order.
var Strategies = []Strategy{
	{Name: "whole_text", Parse: parseWhole},
	{Name: "code_fence", Parse: parseCodeFence},
	{Name: "last_object", Parse: parseLastObject},
	{Name: "decisions_array", Parse: parseDecisionsArray},
	{Name: "decision_objects", Parse: parseDecisionObjects},
}

// ErrNoMatch means a strategy found nothing to parse.
var ErrNoMatch = errors.New("no match")

// ParseError is returned when every strategy fails.
type ParseError struct {
	Preview string
	Errors  map[string]error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON response after multiple attempts; response preview: %q", e.Preview)
}

// Parse runs Strategies in order and returns the first successful result
// together with the winning strategy name.
func Parse(text string) (Response, string, error) {
	return ParseWith(Strategies, text)
}

// ParseWith runs the supplied strategies in order.
func ParseWith(strategies []Strategy, text string) (Response, string, error) {
	failures := make(map[string]error, len(strategies))
	for _, s := range strategies {
		resp, err := s.Parse(text)
		if err == nil {
			return resp, s.Name, nil
		}
		failures[s.Name] = err
	}
	return Response{}, "", &ParseError{Preview: Preview(text), Errors: failures}
}

// Preview truncates text for error messages.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "..."
}
