package credentials

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPool  = errors.New("credential pool is empty")
	ErrOutOfRange = errors.New("credential position out of range")
)

// Pool is an ordered set of bearer tokens with a selected cursor.
// It is owned by the control goroutine and is not safe for concurrent use.
type Pool struct {
	tokens   []string
	selected int // always in [0, len(tokens))
}

// New copies tokens into a pool with the first one selected.
func New(tokens []string) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyPool
	}

	cp := make([]string, len(tokens))
	copy(cp, tokens)

	return &Pool{tokens: cp}, nil
}

// Current returns the selected token.
func (p *Pool) Current() string {
	return p.tokens[p.selected]
}

// Position returns the 1-based position of the selected token.
func (p *Pool) Position() int {
	return p.selected + 1
}

// Len returns the pool size.
func (p *Pool) Len() int {
	return len(p.tokens)
}

// Tokens returns a copy of the ordered tokens.
func (p *Pool) Tokens() []string {
	cp := make([]string, len(p.tokens))
	copy(cp, p.tokens)
	return cp
}

// Select sets the active token by 1-based position.
func (p *Pool) Select(pos int) error {
	if pos < 1 || pos > len(p.tokens) {
		return fmt.Errorf("%w: %d (pool has %d)", ErrOutOfRange, pos, len(p.tokens))
	}
	p.selected = pos - 1
	return nil
}

// Advance moves to the next token, wrapping to the first after the last,
// and returns the new current token.
func (p *Pool) Advance() string {
	p.selected = (p.selected + 1) % len(p.tokens)
	return p.tokens[p.selected]
}
