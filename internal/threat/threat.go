// Package threat provides a pattern-based input safety screen gating pipeline
// entry. Unlike rate limiting and idempotency, the screen fails CLOSED: an
// internal analyzer failure rejects the input, because the cost of acting on
// a hostile request exceeds the cost of a false denial.
package threat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sentinelpay/triage/internal/metrics"
)

// Action determines how a matched pattern is handled.
type Action string

const (
	// ActionBlock rejects the input outright and stops further matching.
	ActionBlock Action = "block"
	// ActionSanitize redacts the match in place and reduces confidence.
	ActionSanitize Action = "sanitize"
	// ActionFlag reduces confidence without altering the input.
	ActionFlag Action = "flag"
)

// Pattern is one named threat signature.
type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
	Action Action
}

// Report is the outcome of analyzing one input.
type Report struct {
	Safe       bool     `json:"safe"`
	Sanitized  string   `json:"sanitized"`
	Threats    []string `json:"threats,omitempty"`
	Confidence float64  `json:"confidence"`
}

const redactedMarker = "[redacted]"

// Confidence penalties per matched pattern class.
const (
	sanitizePenalty = 0.2
	flagPenalty     = 0.15
	unusualPenalty  = 0.2
)

// defaultPatterns is the ordered signature list. Order matters: blocking
// patterns are checked in sequence and the first match short-circuits.
func defaultPatterns() []Pattern {
	return []Pattern{
		{"prompt_override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`), ActionBlock},
		{"system_prompt_override", regexp.MustCompile(`(?i)(new|updated?|replace\s+the)\s+system\s+prompt|you\s+have\s+no\s+(rules|restrictions)`), ActionBlock},
		{"tool_invocation_override", regexp.MustCompile(`(?i)(invoke|call|execute|run)\s+(the\s+)?[\w-]*\s*tool\s+(directly|with|as)`), ActionBlock},
		{"privilege_escalation", regexp.MustCompile(`(?i)(grant|give)\s+(me\s+)?(admin|root|superuser)|sudo\s+|escalate\s+privileges?`), ActionBlock},
		{"command_injection", regexp.MustCompile("(?i)[;&|`$]\\s*(rm|curl|wget|sh|bash|nc|python)\\b|\\beval\\s*\\(|\\bexec\\s*\\("), ActionBlock},
		{"data_exfiltration", regexp.MustCompile(`(?i)(send|post|upload|forward)\s+.{0,40}(credentials?|secrets?|tokens?|card\s+numbers?)\s+to\b|exfiltrat`), ActionBlock},
		{"path_traversal", regexp.MustCompile(`\.\./|\.\.\\|%2e%2e%2f`), ActionSanitize},
		{"template_injection", regexp.MustCompile(`\{\{[^}]*\}\}|\$\{[^}]*\}|<%[^%]*%>`), ActionSanitize},
		{"xss", regexp.MustCompile(`(?i)<\s*script\b|javascript\s*:|on(load|error|click)\s*=`), ActionSanitize},
		{"role_manipulation", regexp.MustCompile(`(?i)you\s+are\s+now\s+|pretend\s+to\s+be\s+|act\s+as\s+(a|an|the)\s+`), ActionFlag},
	}
}

// requestShapes are the allow-listed shapes a serialized triage request may
// take. Input resembling none of them is flagged as unusual but not blocked
// on that basis alone.
var requestShapes = []*regexp.Regexp{
	regexp.MustCompile(`"customerId"\s*:\s*"[\w-]+"`),
	regexp.MustCompile(`"transactionId"\s*:\s*"[\w-]+"`),
	regexp.MustCompile(`^[\w-]+$`), // bare identifier (path params)
}

// Screen analyzes serialized request content against the pattern list.
type Screen struct {
	patterns []Pattern
}

// NewScreen creates a screen with the default pattern set.
func NewScreen() *Screen {
	return &Screen{patterns: defaultPatterns()}
}

// NewScreenWithPatterns creates a screen with a custom ordered pattern set.
func NewScreenWithPatterns(patterns []Pattern) *Screen {
	return &Screen{patterns: patterns}
}

// Analyze classifies and sanitizes input. Any blocking pattern match yields
// Safe=false with confidence 0 and stops matching immediately.
func (s *Screen) Analyze(input string) (report Report) {
	// Fail closed on any internal analyzer failure.
	defer func() {
		if r := recover(); r != nil {
			report = Report{
				Safe:       false,
				Sanitized:  "",
				Threats:    []string{fmt.Sprintf("analyzer_failure: %v", r)},
				Confidence: 0,
			}
		}
	}()

	report = Report{Safe: true, Sanitized: input, Confidence: 1.0}

	for _, p := range s.patterns {
		if !p.Regexp.MatchString(report.Sanitized) {
			continue
		}

		switch p.Action {
		case ActionBlock:
			metrics.ThreatBlocksTotal.WithLabelValues(p.Name).Inc()
			return Report{
				Safe:       false,
				Sanitized:  "",
				Threats:    []string{p.Name},
				Confidence: 0,
			}
		case ActionSanitize:
			report.Sanitized = p.Regexp.ReplaceAllString(report.Sanitized, redactedMarker)
			report.Threats = append(report.Threats, p.Name)
			report.Confidence -= sanitizePenalty
		case ActionFlag:
			report.Threats = append(report.Threats, p.Name)
			report.Confidence -= flagPenalty
		}
	}

	if !resemblesRequestShape(report.Sanitized) {
		report.Threats = append(report.Threats, "unusual_input_pattern")
		report.Confidence -= unusualPenalty
	}

	if report.Confidence < 0 {
		report.Confidence = 0
	}
	return report
}

func resemblesRequestShape(input string) bool {
	trimmed := strings.TrimSpace(input)
	for _, shape := range requestShapes {
		if shape.MatchString(trimmed) {
			return true
		}
	}
	return false
}
