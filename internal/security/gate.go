// Package security is the seam for the external validation, IP-blocking
// and access-logging capability. The coordinator core consumes the Gate
// interface; the default implementation below exists so the server runs
// standalone and can be swapped for the real gate.
package security

import (
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"
)

type Gate interface {
	// ValidateInput rejects payload fields the gate considers malformed.
	ValidateInput(action string, fields map[string]string) error
	// IsIPBlocked reports whether the remote IP is currently blocked.
	IsIPBlocked(ip string) bool
	// LogAccess records the outcome of a request for auditing.
	LogAccess(ip, action string, allowed bool)
}

const (
	maxFieldLength = 1000

	defaultWindow = time.Minute
	defaultLimit  = 120
)

// DefaultGate applies a per-IP sliding window rate limit and basic field
// sanity checks. State is in-process only.
type DefaultGate struct {
	log    *log.Logger
	mu     sync.Mutex
	seen   map[string][]time.Time
	window time.Duration
	limit  int
}

func NewDefaultGate(logger *log.Logger) *DefaultGate {
	return &DefaultGate{
		log:    logger,
		seen:   make(map[string][]time.Time),
		window: defaultWindow,
		limit:  defaultLimit,
	}
}

func (g *DefaultGate) ValidateInput(action string, fields map[string]string) error {
	for name, value := range fields {
		if utf8.RuneCountInString(value) > maxFieldLength {
			return fmt.Errorf("field %q exceeds %d characters", name, maxFieldLength)
		}
		for _, r := range value {
			// reject control characters outright; everything else is the
			// rendering layer's problem
			if r < 0x20 && r != '\n' && r != '\t' {
				return fmt.Errorf("field %q contains control characters", name)
			}
		}
	}
	_ = action

	return nil
}

// IsIPBlocked counts the request against the IP's sliding window and
// reports whether the window is exhausted.
func (g *DefaultGate) IsIPBlocked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-g.window)

	recent := g.seen[ip][:0]
	for _, t := range g.seen[ip] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= g.limit {
		g.seen[ip] = recent
		return true
	}

	g.seen[ip] = append(recent, now)
	return false
}

func (g *DefaultGate) LogAccess(ip, action string, allowed bool) {
	g.log.Printf("access ip=%s action=%s allowed=%t", ip, action, allowed)
}
