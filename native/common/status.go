package common

import (
	"strings"
	"sync"
)

// Status is the operator-controlled suspension registry. It satisfies
// StatusView and is shared by every engine.
type Status struct {
	mu       sync.RWMutex
	sections map[string]bool
	tribes   map[string]bool
}

// NewStatus constructs an empty status registry with nothing suspended.
func NewStatus() *Status {
	return &Status{
		sections: make(map[string]bool),
		tribes:   make(map[string]bool),
	}
}

func normalizeSection(section string) string {
	return strings.ToLower(strings.TrimSpace(section))
}

func normalizeTribe(key string) string {
	return strings.TrimSpace(key)
}

// SuspendSection marks a section as suspended.
func (s *Status) SuspendSection(section string) {
	normalized := normalizeSection(section)
	if normalized == "" {
		return
	}
	s.mu.Lock()
	s.sections[normalized] = true
	s.mu.Unlock()
}

// ResumeSection clears a section suspension.
func (s *Status) ResumeSection(section string) {
	normalized := normalizeSection(section)
	s.mu.Lock()
	delete(s.sections, normalized)
	s.mu.Unlock()
}

// SuspendTribe suspends a single tribe key.
func (s *Status) SuspendTribe(key string) {
	normalized := normalizeTribe(key)
	if normalized == "" {
		return
	}
	s.mu.Lock()
	s.tribes[normalized] = true
	s.mu.Unlock()
}

// ResumeTribe clears a per-tribe suspension.
func (s *Status) ResumeTribe(key string) {
	normalized := normalizeTribe(key)
	s.mu.Lock()
	delete(s.tribes, normalized)
	s.mu.Unlock()
}

// IsSuspended reports whether the section is suspended.
func (s *Status) IsSuspended(section string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sections[normalizeSection(section)]
}

// IsTribeSuspended reports whether the tribe key is suspended.
func (s *Status) IsTribeSuspended(key string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tribes[normalizeTribe(key)]
}
