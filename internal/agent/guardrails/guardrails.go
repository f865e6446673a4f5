// Package guardrails validates user input before it reaches the agents.
package guardrails

import (
	"errors"
	"strings"
	"sync"
)

// ErrBlocked matches every validation failure.
var ErrBlocked = errors.New("input blocked by guardrails")

// Validator checks one piece of user input.
type Validator interface {
	Validate(text string) error
}

// BlockedTermError reports the first blocked term found in the input.
type BlockedTermError struct {
	Term string
}

func (e *BlockedTermError) Error() string {
	return "Contains blocked term: " + e.Term
}

func (e *BlockedTermError) Is(target error) bool {
	return target == ErrBlocked
}

// BlockTerms rejects input containing any configured term, ignoring case.
// Terms can be replaced at runtime when the config file changes.
type BlockTerms struct {
	mu    sync.RWMutex
	terms []string
}

func NewBlockTerms(terms ...string) *BlockTerms {
	b := &BlockTerms{}
	b.SetTerms(terms)
	return b
}

// SetTerms replaces the blocked terms. Blank entries are dropped.
func (b *BlockTerms) SetTerms(terms []string) {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	b.mu.Lock()
	b.terms = lowered
	b.mu.Unlock()
}

// Terms returns the active terms in configuration order.
func (b *BlockTerms) Terms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.terms...)
}

// Validate returns a *BlockedTermError for the first term, in configuration
// order, that occurs in text.
func (b *BlockTerms) Validate(text string) error {
	lower := strings.ToLower(text)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, term := range b.terms {
		if strings.Contains(lower, term) {
			return &BlockedTermError{Term: term}
		}
	}
	return nil
}

// Chain runs validators in order and returns the first failure.
type Chain []Validator

func (c Chain) Validate(text string) error {
	for _, v := range c {
		if v == nil {
			continue
		}
		if err := v.Validate(text); err != nil {
			return err
		}
	}
	return nil
}
