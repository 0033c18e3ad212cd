package domain

import "time"

// Source is the logical log stream external callers ingest into. It is
// immutable from the core's perspective; edits are picked up by restarting
// the source's supervisor (see internal/supervisor).
type Source struct {
	ID                   int64
	Token                string // stable 128-bit opaque token, hex-encoded
	OwnerID              int64
	Name                 string
	NotifyEveryMs        int64
	DropLQL              string // non-empty drop expression, evaluated before rules
	Rules                []Rule
	LogEventsUpdatedAt   time.Time
}

// RuleKind selects how a Rule is evaluated against an event.
type RuleKind int

const (
	// RuleLQL evaluates a compiled query expression against event_message.
	RuleLQL RuleKind = iota
	// RuleRegex evaluates a regular expression against event_message.
	RuleRegex
)

// Rule routes a matching event into a sink Source, one hop deep. Rule
// evaluation never recurses past that hop: events re-ingested into a sink
// have rule evaluation disabled (see pipeline.Ingest).
type Rule struct {
	ID         int64
	Kind       RuleKind
	Expression string
	SinkToken  string
}
