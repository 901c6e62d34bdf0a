// Package policy implements the ordered, composable rule engine (spec
// §4.4) that validates a Decision against the effective AgentConfig and
// live counters before execution is allowed.
package policy

import (
	"context"
	"strings"

	"aegis/internal/domain"
)

// Severity is the closed enumeration of a rule's failure weight.
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
)

// Outcome is what a single Rule's Validate returns.
type Outcome struct {
	Passed   bool
	Message  string
	Severity Severity
}

// Rule is a named, ordered validator. Validators receive the Decision and
// effective AgentConfig and return an Outcome; iteration order is part of
// the engine's contract (spec §9).
type Rule struct {
	Name        string
	Description string
	Severity    Severity
	Validate    func(ctx context.Context, d domain.Decision, cfg domain.AgentConfig) Outcome
}

// AppliedRule pairs a Rule's identity with the Outcome it produced, for
// the engine's report.
type AppliedRule struct {
	Name     string
	Passed   bool
	Message  string
	Severity Severity
}

// Result is the engine's overall validation report.
type Result struct {
	Passed       bool
	Errors       []string
	Warnings     []string
	AppliedRules []AppliedRule
}

// Engine evaluates an ordered list of Rules in declaration order.
type Engine struct {
	rules []Rule
}

// NewEngine constructs an Engine with rules evaluated in the given order.
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Validate runs every rule against d and cfg, collecting messages. Any
// ERROR-severity failure makes the overall result fail; WARN failures are
// advisory only.
func (e *Engine) Validate(ctx context.Context, d domain.Decision, cfg domain.AgentConfig) Result {
	result := Result{Passed: true}
	for _, rule := range e.rules {
		outcome := rule.Validate(ctx, d, cfg)
		result.AppliedRules = append(result.AppliedRules, AppliedRule{
			Name:     rule.Name,
			Passed:   outcome.Passed,
			Message:  outcome.Message,
			Severity: outcome.Severity,
		})
		if outcome.Passed {
			continue
		}
		severity := outcome.Severity
		if severity == "" {
			severity = rule.Severity
		}
		tagged := "[" + rule.Name + "] " + outcome.Message
		if severity == SeverityError {
			result.Passed = false
			result.Errors = append(result.Errors, tagged)
		} else {
			result.Warnings = append(result.Warnings, tagged)
		}
	}
	return result
}

// JoinErrors renders the engine's error list as a single string, used by
// the queue consumer when rejecting a request (spec §4.6).
func JoinErrors(errs []string) string {
	return strings.Join(errs, "; ")
}

// skip returns the N/A pass outcome non-sponsorship decisions get for every
// sponsorship-only rule (spec §4.4).
func skip() Outcome {
	return Outcome{Passed: true, Message: "N/A"}
}
