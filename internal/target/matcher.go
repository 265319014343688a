// Package target resolves targeting expressions against the agent data
// cache. Resolution is purely cache-driven: no agent is ever contacted,
// and agents without a cache entry are invisible to every expression.
package target

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/muster-io/muster/pkg/fleet"
)

// Matcher evaluates one targeting expression against one agent's facts.
// The resolver supplies each entry's combined grain and pillar facts as
// the GrainSet.
type Matcher interface {
	Matches(expr string, id fleet.AgentID, facts fleet.GrainSet) (bool, error)
}

// CompoundMatcher is the default expression grammar:
//
//	web*                      glob over the agent identity
//	G@os:linux                fact equality, glob allowed in the value
//	not G@os:windows          negated term
//	web* and G@os:linux       conjunction
//	G@role:db or G@role:web   disjunction ("or" binds looser than "and")
//
// For list-valued facts a fact term matches if any element matches.
type CompoundMatcher struct{}

// NewCompoundMatcher creates the default matcher.
func NewCompoundMatcher() *CompoundMatcher {
	return &CompoundMatcher{}
}

// Matches implements Matcher.
func (m *CompoundMatcher) Matches(expr string, id fleet.AgentID, facts fleet.GrainSet) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("target expression cannot be empty")
	}

	matched := false
	for _, clause := range strings.Split(expr, " or ") {
		clauseMatched := true
		for _, term := range strings.Split(clause, " and ") {
			termMatched, err := m.matchTerm(strings.TrimSpace(term), id, facts)
			if err != nil {
				return false, err
			}
			clauseMatched = clauseMatched && termMatched
		}
		matched = matched || clauseMatched
	}
	return matched, nil
}

func (m *CompoundMatcher) matchTerm(term string, id fleet.AgentID, facts fleet.GrainSet) (bool, error) {
	if term == "" {
		return false, fmt.Errorf("empty term in target expression")
	}

	if rest, negated := strings.CutPrefix(term, "not "); negated {
		matched, err := m.matchTerm(strings.TrimSpace(rest), id, facts)
		if err != nil {
			return false, err
		}
		return !matched, nil
	}

	if body, isFact := strings.CutPrefix(term, "G@"); isFact {
		key, pattern, found := strings.Cut(body, ":")
		if !found || key == "" {
			return false, fmt.Errorf("malformed fact term %q (expected G@key:value)", term)
		}
		return matchFact(facts[key], pattern)
	}

	matched, err := filepath.Match(term, string(id))
	if err != nil {
		return false, fmt.Errorf("invalid identity glob %q: %w", term, err)
	}
	return matched, nil
}

// matchFact globs a pattern against a fact value. List values match if
// any element does; a missing fact (nil) never matches.
func matchFact(value any, pattern string) (bool, error) {
	switch v := value.(type) {
	case nil:
		// Validate the pattern anyway so a bad expression fails the same
		// way for every agent.
		if _, err := filepath.Match(pattern, ""); err != nil {
			return false, fmt.Errorf("invalid fact glob %q: %w", pattern, err)
		}
		return false, nil
	case []any:
		for _, item := range v {
			matched, err := matchFact(item, pattern)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	default:
		matched, err := filepath.Match(pattern, fmt.Sprint(v))
		if err != nil {
			return false, fmt.Errorf("invalid fact glob %q: %w", pattern, err)
		}
		return matched, nil
	}
}
