package motion

import (
	"fmt"
	"sync"
)

// AngularPosition is an (altitude, azimuth) pair in degrees.
// Angles are unbounded; no wraparound is applied.
type AngularPosition struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

// String formats the position as the GET_POS response line.
func (p AngularPosition) String() string {
	return fmt.Sprintf("ALT: %.2f AZ: %.2f", p.Alt, p.Az)
}

// State is the single source of truth for where the mount points.
// Only the Controller moves it, one step increment at a time; the lock
// exists so read-only observers on other goroutines see whole values.
type State struct {
	mu  sync.RWMutex
	cur AngularPosition
}

// Current returns the latest committed position.
func (s *State) Current() AngularPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *State) advance(dAlt, dAz float64) {
	s.mu.Lock()
	s.cur.Alt += dAlt
	s.cur.Az += dAz
	s.mu.Unlock()
}

func (s *State) commit(p AngularPosition) {
	s.mu.Lock()
	s.cur = p
	s.mu.Unlock()
}
