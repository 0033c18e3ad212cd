// Package rules compiles and evaluates Source-level drop expressions and
// routing Rules. Compilation (regex compile, query-expression parse) is
// memoized once at source load, never per event (spec.md §4.6).
package rules

import (
	"regexp"
	"strings"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// Matcher evaluates a compiled expression against a normalized event.
type Matcher interface {
	Match(event domain.LogEvent) bool
}

// regexMatcher wraps a compiled *regexp.Regexp over event_message.
type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) Match(event domain.LogEvent) bool {
	return m.re.MatchString(event.EventMessage())
}

// lqlMatcher is a minimal query-expression matcher: every whitespace-
// separated term in the expression must appear as a case-insensitive
// substring of event_message. This is the query-language subset the core
// needs (free-text term matching); a full LQL grammar is out of scope for
// the per-source runtime and lives in the admin/search surface this
// package does not implement.
type lqlMatcher struct{ terms []string }

func (m lqlMatcher) Match(event domain.LogEvent) bool {
	msg := strings.ToLower(event.EventMessage())
	for _, term := range m.terms {
		if !strings.Contains(msg, term) {
			return false
		}
	}
	return true
}

// Compile builds a Matcher for a drop expression or Rule expression. An
// empty expression compiles to a Matcher that never matches.
func Compile(kind domain.RuleKind, expression string) (Matcher, error) {
	if expression == "" {
		return noMatch{}, nil
	}
	switch kind {
	case domain.RuleRegex:
		re, err := regexp.Compile(expression)
		if err != nil {
			return nil, err
		}
		return regexMatcher{re: re}, nil
	default: // domain.RuleLQL
		terms := strings.Fields(strings.ToLower(expression))
		return lqlMatcher{terms: terms}, nil
	}
}

type noMatch struct{}

func (noMatch) Match(domain.LogEvent) bool { return false }

// CompiledRule pairs a loaded Rule with its memoized Matcher and sink
// token, ready for per-event evaluation by the Ingestion Pipeline.
type CompiledRule struct {
	Rule    domain.Rule
	Matcher Matcher
}

// CompileSource memoizes the drop expression and every rule's matcher for
// a Source at load time, matching the "compiled once" invariant.
func CompileSource(src domain.Source) (drop Matcher, compiledRules []CompiledRule, err error) {
	drop, err = Compile(domain.RuleLQL, src.DropLQL)
	if err != nil {
		return nil, nil, err
	}

	compiledRules = make([]CompiledRule, 0, len(src.Rules))
	for _, rule := range src.Rules {
		m, err := Compile(rule.Kind, rule.Expression)
		if err != nil {
			return nil, nil, err
		}
		compiledRules = append(compiledRules, CompiledRule{Rule: rule, Matcher: m})
	}
	return drop, compiledRules, nil
}
