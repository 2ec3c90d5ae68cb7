// Package query compiles the JSON filter dialect into set-algebra SQL over
// the hash-encoded triple table and materializes sorted, paginated, faceted
// result pages.
package query

import (
	"encoding/json"
	"fmt"
)

// Clause is a single filter. The shape of P selects the clause form: empty,
// "id", "semantic", "regex [<iri>]", "ftss", "fts [N]" or a predicate IRI.
type Clause struct {
	P  string `json:"p"`
	O  string `json:"o"`
	G  string `json:"g"`
	Op string `json:"op"`

	// withScore makes FTS/semantic forms project their score column; used
	// when a clause is compiled a second time for the sort table.
	withScore bool
}

// Request is one query. Zero values select the documented defaults
// (size 999, start 0, op "should").
type Request struct {
	Filters           []Clause   `json:"filters"`
	Aggregates        []string   `json:"aggregates"`
	Paths             []string   `json:"paths"`
	Order             OrderRules `json:"order"`
	Size              int        `json:"size"`
	Start             int        `json:"start"`
	ExcludeProperties []string   `json:"exclude_properties"`
	UseCache          *bool      `json:"use_cache"`
}

// Entity is one result: predicate IRI -> object terms, plus the reserved
// keys "id", "graph" and "_paths".
type Entity map[string]any

// AggregateRow serializes as the [count, value] pair of the response schema.
type AggregateRow struct {
	Count int64
	Value string
}

func (r AggregateRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Count, r.Value})
}

func (r *AggregateRow) UnmarshalJSON(b []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &r.Count); err != nil {
		return fmt.Errorf("aggregate count: %w", err)
	}
	if err := json.Unmarshal(pair[1], &r.Value); err != nil {
		return fmt.Errorf("aggregate value: %w", err)
	}
	return nil
}

// Response is the materialized page.
type Response struct {
	Results    map[string]Entity         `json:"results"`
	Total      int64                     `json:"total"`
	Size       int                       `json:"size"`
	Start      int                       `json:"start"`
	Aggregates map[string][]AggregateRow `json:"aggregates,omitempty"`
}

// OrderRules accepts the three shapes callers send: a single rule object, a
// list of rules, or a nested list (only the first inner list is used).
type OrderRules []OrderRule

func (r *OrderRules) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = nil
		return nil
	}
	var single OrderRule
	if err := json.Unmarshal(b, &single); err == nil {
		*r = OrderRules{single}
		return nil
	}
	var flat []OrderRule
	if err := json.Unmarshal(b, &flat); err == nil {
		*r = flat
		return nil
	}
	var nested [][]OrderRule
	if err := json.Unmarshal(b, &nested); err == nil {
		if len(nested) > 0 {
			*r = nested[0]
		} else {
			*r = nil
		}
		return nil
	}
	return fmt.Errorf("order: expected rule, list of rules or nested list")
}

// OrderRule is one sort directive; only the first rule of a request drives
// ordering.
type OrderRule struct {
	By      string   `json:"by"`
	Lang    []string `json:"lang"`
	Dir     string   `json:"dir"`
	Nulls   string   `json:"nulls"`
	Mode    string   `json:"mode"`
	Natural bool     `json:"natural"`
	Prop    string   `json:"prop"`
	Via     string   `json:"via"`
	Clean   *Clean   `json:"clean"`
}

// Clean controls label normalization before comparison. Trim and Lower
// default to on (Lower only in "lex" mode); the pointer fields distinguish
// "absent" from an explicit false.
type Clean struct {
	Trim          *bool `json:"trim"`
	Lower         *bool `json:"lower"`
	StripPunct    bool  `json:"strip_punct"`
	CollapseSpace bool  `json:"collapse_space"`
	RemoveQuotes  bool  `json:"remove_quotes"`
}
