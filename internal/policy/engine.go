// Package policy loads the review and pipeline policy from YAML and
// answers the judge's threshold and sensitivity questions.
package policy

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Review struct {
	// ApproveThreshold and EscalateThreshold split confidence into
	// approve / escalate / reject bands.
	ApproveThreshold  float64 `yaml:"approve_threshold"`
	EscalateThreshold float64 `yaml:"escalate_threshold"`

	// SensitivePatterns are regular expressions matched case-
	// insensitively against the rendered output. Any match escalates
	// regardless of confidence.
	SensitivePatterns []string `yaml:"sensitive_patterns"`

	compiled []*regexp.Regexp
}

type Judge struct {
	// CommitRetries bounds OCC retry attempts after a conflicted
	// approve before the result is surfaced back to the review queue.
	CommitRetries int `yaml:"commit_retries"`

	// MaxTaskRetries bounds judge-driven re-enqueue of rejected tasks.
	// Zero keeps reject terminal, matching the source behavior.
	MaxTaskRetries int `yaml:"max_task_retries"`

	OutputTTLSeconds        int `yaml:"output_ttl_seconds"`
	HumanDecisionTTLSeconds int `yaml:"human_decision_ttl_seconds"`
}

type Planner struct {
	// DedupWindowSeconds suppresses re-emission of an identical
	// (campaign, type, goal) tuple inside the window. Zero disables
	// dedup; duplicate tasks across ticks are then an observable
	// property of the planner.
	DedupWindowSeconds int `yaml:"dedup_window_seconds"`
}

type Budget struct {
	MaxDailySpend        float64 `yaml:"max_daily_spend"`
	MaxTransactionAmount float64 `yaml:"max_transaction_amount"`
}

type Engine struct {
	Review  Review  `yaml:"review"`
	Judge   Judge   `yaml:"judge"`
	Planner Planner `yaml:"planner"`
	Budget  Budget  `yaml:"budget"`
}

// Default returns the compiled-in policy mirroring the shipped
// thresholds: approve at 0.90, escalate at 0.70, the stock sensitive
// topics, a three-attempt commit retry, and 24h record retention.
func Default() (*Engine, error) {
	e := &Engine{
		Review: Review{
			ApproveThreshold:  0.90,
			EscalateThreshold: 0.70,
			SensitivePatterns: []string{"politics", "health advice", "financial advice"},
		},
		Judge: Judge{
			CommitRetries:           3,
			MaxTaskRetries:          0,
			OutputTTLSeconds:        int((24 * time.Hour).Seconds()),
			HumanDecisionTTLSeconds: int((7 * 24 * time.Hour).Seconds()),
		},
		Planner: Planner{DedupWindowSeconds: 0},
		Budget: Budget{
			MaxDailySpend:        50.0,
			MaxTransactionAmount: 10.0,
		},
	}
	if err := e.compile(); err != nil {
		return nil, err
	}
	return e, nil
}

// Load reads a policy YAML file over the defaults. Fields left unset in
// the file keep their default values.
func Load(path string) (*Engine, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	if err := e.compile(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) validate() error {
	r := e.Review
	if r.ApproveThreshold < 0 || r.ApproveThreshold > 1 {
		return fmt.Errorf("approve_threshold %v out of [0,1]", r.ApproveThreshold)
	}
	if r.EscalateThreshold < 0 || r.EscalateThreshold > 1 {
		return fmt.Errorf("escalate_threshold %v out of [0,1]", r.EscalateThreshold)
	}
	if r.EscalateThreshold > r.ApproveThreshold {
		return fmt.Errorf("escalate_threshold %v exceeds approve_threshold %v", r.EscalateThreshold, r.ApproveThreshold)
	}
	if e.Judge.CommitRetries < 0 || e.Judge.MaxTaskRetries < 0 {
		return fmt.Errorf("retry bounds must not be negative")
	}
	return nil
}

func (e *Engine) compile() error {
	e.Review.compiled = e.Review.compiled[:0]
	for _, p := range e.Review.SensitivePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("sensitive pattern %q: %w", p, err)
		}
		e.Review.compiled = append(e.Review.compiled, re)
	}
	return nil
}

// Sensitive reports whether the rendered output matches any configured
// sensitive-topic pattern.
func (r Review) Sensitive(content string) bool {
	for _, re := range r.compiled {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

func (j Judge) OutputTTL() time.Duration {
	return time.Duration(j.OutputTTLSeconds) * time.Second
}

func (j Judge) HumanDecisionTTL() time.Duration {
	return time.Duration(j.HumanDecisionTTLSeconds) * time.Second
}

func (p Planner) DedupWindow() time.Duration {
	return time.Duration(p.DedupWindowSeconds) * time.Second
}
