// Package settings persists the mask value and the mask switch and tells
// subscribers when either changes.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// Keys under which settings are stored.
const (
	KeyMaskValue = "maskValue"
	KeyMaskOn    = "isMaskOn"
)

// ErrInvalidValue is returned for a mask value that is not a finite number
// greater than zero.
var ErrInvalidValue = errors.New("settings: mask value must be a finite number greater than 0")

// State is the full settings record.
type State struct {
	MaskValue float64 `json:"maskValue"`
	IsMaskOn  bool    `json:"isMaskOn"`
}

// Defaults is what a fresh store holds.
func Defaults() State {
	return State{MaskValue: 1, IsMaskOn: true}
}

// Change reports which key changed and the state after the change.
type Change struct {
	Key   string
	State State
}

// Store is a settings backend.
type Store interface {
	Load(ctx context.Context) (State, error)
	SetMaskValue(ctx context.Context, v float64) error
	SetMaskOn(ctx context.Context, on bool) error
	// Subscribe returns a channel of changes and a function that cancels the
	// subscription and closes the channel.
	Subscribe() (<-chan Change, func())
}

// ValidateMaskValue returns ErrInvalidValue for unusable mask values.
func ValidateMaskValue(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidValue, v)
	}
	return nil
}

const subscriberBufSize = 16

// hub fans changes out to subscribers. Slow subscribers miss changes rather
// than block writers.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

func (h *hub) subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]chan Change)
	}
	id := h.nextID
	h.nextID++
	ch := make(chan Change, subscriberBufSize)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// MemoryStore keeps settings in memory.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	hub   hub
}

// NewMemoryStore returns a store holding Defaults.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: Defaults()}
}

func (s *MemoryStore) Load(context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *MemoryStore) SetMaskValue(_ context.Context, v float64) error {
	if err := ValidateMaskValue(v); err != nil {
		return err
	}
	s.mu.Lock()
	s.state.MaskValue = v
	st := s.state
	s.mu.Unlock()
	s.hub.publish(Change{Key: KeyMaskValue, State: st})
	return nil
}

func (s *MemoryStore) SetMaskOn(_ context.Context, on bool) error {
	s.mu.Lock()
	s.state.IsMaskOn = on
	st := s.state
	s.mu.Unlock()
	s.hub.publish(Change{Key: KeyMaskOn, State: st})
	return nil
}

func (s *MemoryStore) Subscribe() (<-chan Change, func()) {
	return s.hub.subscribe()
}
