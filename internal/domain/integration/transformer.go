package integration

import (
	"context"
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Transformer port
// ---------------------------------------------------------------------------

// TransformContext carries per-call information into a transformation
type TransformContext struct {
	// IntegrationID names the integration the data belongs to
	IntegrationID string
	// SchemaVersion optionally tags the payload schema on produced packets
	SchemaVersion string
	// Metadata is merged into produced packet metadata
	Metadata map[string]string
}

// Transformer converts between one external wire format and the internal
// DataPacket envelope, applying its registered rules in order on both
// directions. Implementations report failures as transformation-kind
// errors rather than panicking so pipelines can continue with subsequent
// packets.
type Transformer interface {
	// Name identifies the transformer (e.g. "json", "xml", "csv")
	Name() string
	// TransformInbound parses external data and wraps it in a fresh packet
	TransformInbound(ctx context.Context, source any, tctx TransformContext) (*DataPacket, error)
	// TransformOutbound applies rules to a packet and serializes the result
	TransformOutbound(ctx context.Context, packet *DataPacket, tctx TransformContext) ([]byte, error)
	// RegisterRule appends a rule to the ordered rule chain
	RegisterRule(rule TransformationRule) error
	// DeregisterRule removes a rule by id
	DeregisterRule(ruleID string) error
	// ClearRules removes all rules
	ClearRules()
}

// ---------------------------------------------------------------------------
// Transformation rules
// ---------------------------------------------------------------------------

// TransformationRule is one step in a transformer's ordered rule chain.
// Rules run in registration order; each rule's output feeds the next.
type TransformationRule struct {
	// ID uniquely identifies the rule within its transformer
	ID string
	// Condition optionally gates the rule; a nil condition always applies
	Condition func(value any) bool
	// Apply transforms the value
	Apply func(value any) (any, error)
}

// Validate checks the rule for structural errors
func (r TransformationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidConfig)
	}
	if r.Apply == nil {
		return fmt.Errorf("%w: rule %q has no apply function", ErrInvalidConfig, r.ID)
	}
	return nil
}

// RuleSet is the ordered, concurrency-safe rule chain transformers embed
type RuleSet struct {
	mu    sync.RWMutex
	rules []TransformationRule
}

// RegisterRule appends a rule, rejecting duplicates by id
func (rs *RuleSet) RegisterRule(rule TransformationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, existing := range rs.rules {
		if existing.ID == rule.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
		}
	}
	rs.rules = append(rs.rules, rule)
	return nil
}

// DeregisterRule removes a rule by id, preserving the order of the rest
func (rs *RuleSet) DeregisterRule(ruleID string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i, rule := range rs.rules {
		if rule.ID == ruleID {
			rs.rules = append(rs.rules[:i], rs.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
}

// ClearRules removes all rules
func (rs *RuleSet) ClearRules() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = nil
}

// RuleCount returns the number of registered rules
func (rs *RuleSet) RuleCount() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}

// ApplyRules runs the chain over a value: every rule whose condition passes
// transforms the output of the previous one. A rule failure aborts the chain.
func (rs *RuleSet) ApplyRules(value any) (any, error) {
	rs.mu.RLock()
	rules := make([]TransformationRule, len(rs.rules))
	copy(rules, rs.rules)
	rs.mu.RUnlock()

	current := value
	for _, rule := range rules {
		if rule.Condition != nil && !rule.Condition(current) {
			continue
		}
		next, err := rule.Apply(current)
		if err != nil {
			return nil, fmt.Errorf("rule %q failed: %w", rule.ID, err)
		}
		current = next
	}
	return current, nil
}
