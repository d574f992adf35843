package state

import (
	"math/big"
	"strings"
	"sync"
)

// ResolveCandidate picks the token id to check ownership of: a non-empty
// digits-only manual value first, then the enumerated id, else none.
func ResolveCandidate(manual string, auto *big.Int) *big.Int {
	manual = strings.TrimSpace(manual)
	if isDigits(manual) {
		if v, ok := new(big.Int).SetString(manual, 10); ok {
			return v
		}
	}
	if auto != nil {
		return new(big.Int).Set(auto)
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TokenPanel holds the token id input. Once the user edits it the auto-filled
// value no longer replaces what they typed, until Reset.
type TokenPanel struct {
	mu     sync.Mutex
	input  string
	edited bool
}

func (p *TokenPanel) SetManual(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = v
	p.edited = true
}

// Reset runs on disconnect and when the mode leaves COHERENT.
func (p *TokenPanel) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = ""
	p.edited = false
}

func (p *TokenPanel) Edited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edited
}

// Manual returns the typed value, or "" when the panel was never edited.
func (p *TokenPanel) Manual() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.edited {
		return ""
	}
	return p.input
}

// Display is the text the input box shows.
func (p *TokenPanel) Display(auto *big.Int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.edited {
		return p.input
	}
	if auto == nil {
		return ""
	}
	return auto.String()
}

// Candidate resolves the panel against the enumerated id.
func (p *TokenPanel) Candidate(auto *big.Int) *big.Int {
	return ResolveCandidate(p.Manual(), auto)
}
