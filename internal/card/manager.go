// Package card allocates payment cards to registration tasks. A card is held
// by at most one in-flight task and must be finalized exactly once.
package card

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/metrics"
)

// State tracks a card through its lifecycle.
type State string

const (
	StateAvailable   State = "available"
	StatePending     State = "pending"
	StateUsed        State = "used"
	StateProblematic State = "problematic"
)

// Card is one payment card from the configured pool.
type Card struct {
	Number string
	Expiry string
	CVC    string

	state State
}

// Masked returns the number with all but the last four digits hidden, for logs.
func (c Card) Masked() string {
	if len(c.Number) < 4 {
		return "****"
	}
	return "**** **** **** " + c.Number[len(c.Number)-4:]
}

// Manager hands out cards under a single allocation lock shared by every
// worker, so two tasks can never draw the same card.
type Manager struct {
	mu    sync.Mutex
	cards []*Card
	log   *slog.Logger
}

// NewManager builds a manager over the given pool.
func NewManager(cards []Card, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}

	pool := make([]*Card, 0, len(cards))
	for _, c := range cards {
		card := c
		card.state = StateAvailable
		pool = append(pool, &card)
	}

	return &Manager{cards: pool, log: log}
}

// Next atomically allocates the first available card, marking it pending.
// Returns false when the pool has no usable card left.
func (m *Manager) Next() (*Allocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.cards {
		if c.state != StateAvailable {
			continue
		}

		c.state = StatePending
		m.log.Debug("card allocated", "card", c.Masked())
		return &Allocation{manager: m, card: c}, true
	}

	return nil, false
}

// Reload replaces the pool, preserving the state of cards already known by
// number. Used cards stay used across an operator edit of the pool file.
func (m *Manager) Reload(cards []Card) {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]State, len(m.cards))
	for _, c := range m.cards {
		known[c.Number] = c.state
	}

	pool := make([]*Card, 0, len(cards))
	for _, c := range cards {
		card := c
		if state, ok := known[card.Number]; ok {
			card.state = state
		} else {
			card.state = StateAvailable
		}
		pool = append(pool, &card)
	}

	m.cards = pool
	m.log.Info("card pool reloaded", "size", len(pool))
}

// Stats returns counts per state for batch reporting.
func (m *Manager) Stats() (available, used, problematic int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.cards {
		switch c.state {
		case StateAvailable:
			available++
		case StateUsed:
			used++
		case StateProblematic:
			problematic++
		}
	}
	return
}

// Allocation is a card held by one task. Exactly one of MarkUsed or
// MarkProblematic must be called; Finalize enforces the contract when
// deferred, so an early return or panic cannot leak a pending card.
type Allocation struct {
	manager   *Manager
	card      *Card
	finalized bool
}

// Card returns a copy of the allocated card's details.
func (a *Allocation) Card() Card {
	return *a.card
}

// MarkUsed finalizes the allocation as successfully consumed.
func (a *Allocation) MarkUsed() {
	a.finalize(StateUsed)
}

// MarkProblematic finalizes the allocation as failed; the card is never
// silently reused.
func (a *Allocation) MarkProblematic() {
	a.finalize(StateProblematic)
}

// Finalize is the mandatory cleanup hook: call it deferred. If the
// allocation was already finalized it does nothing; otherwise the card is
// marked problematic, the safe default for an unknown outcome.
func (a *Allocation) Finalize() {
	a.finalize(StateProblematic)
}

func (a *Allocation) finalize(state State) {
	a.manager.mu.Lock()
	defer a.manager.mu.Unlock()

	if a.finalized {
		return
	}

	a.finalized = true
	a.card.state = state
	metrics.RecordCardFinalized(string(state))
	a.manager.log.Debug("card finalized", "card", a.card.Masked(), "state", string(state))
}

// LoadFile parses a card pool file with one "number|MM/YY|cvc" entry per
// line. Blank lines and lines starting with # are skipped.
func LoadFile(path string) ([]Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open card file: %w", err)
	}
	defer f.Close()

	var cards []Card
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("card file line %d: expected number|expiry|cvc", lineNo)
		}

		cards = append(cards, Card{
			Number: strings.TrimSpace(parts[0]),
			Expiry: strings.TrimSpace(parts[1]),
			CVC:    strings.TrimSpace(parts[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read card file: %w", err)
	}

	return cards, nil
}
