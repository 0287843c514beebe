// Package pool owns live browser sessions keyed by account identity.
//
// At most one Session exists per key. Entries are removed automatically when
// the underlying browser reports a disconnect, so a dead handle is never
// returned by Acquire.
package pool

import (
	"sync"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/eventbus"
	"bumpbot/pkg/logx"
)

// Session is one live browser-session lifetime for an account.
type Session struct {
	Key        string
	Browser    browser.Browser
	ProfileDir string
	CreatedAt  time.Time

	// Page is the working tab; nil when it was closed.
	Page browser.Page
	// Authenticated is true once a login check succeeded in this lifetime.
	Authenticated bool
	// InitializedOnce is set after the stabilization wait ran.
	InitializedOnce bool
	// Fresh is true until the session is handed out a second time.
	Fresh bool
}

// Alive reports whether the browser process is still usable.
func (s *Session) Alive() bool { return s != nil && s.Browser != nil && s.Browser.Alive() }

type entry struct {
	s      *Session
	leased bool
}

// Pool is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry

	bus eventbus.Bus
	log logx.Logger
}

func New(log logx.Logger, bus eventbus.Bus) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		entries: map[string]*entry{},
		bus:     bus,
		log:     log.With(logx.String("comp", "pool")),
	}
}

// Acquire returns the pooled session for key and leases it, or nil.
//
// With reuseAllowed=false any pooled entry is evicted first. Dead sessions
// are evicted silently. A live session whose page was closed is returned
// with Page == nil. A leased session is never handed out twice.
func (p *Pool) Acquire(key string, reuseAllowed bool) *Session {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	switch {
	case !reuseAllowed:
		delete(p.entries, key)
		p.mu.Unlock()
		p.closeSession(e.s, "reuse disabled")
		return nil
	case !e.s.Alive():
		delete(p.entries, key)
		p.mu.Unlock()
		p.closeSession(e.s, "dead")
		return nil
	case e.leased:
		p.mu.Unlock()
		p.log.Warn("session already leased", logx.String("session", key))
		return nil
	}
	e.leased = true
	s := e.s
	p.mu.Unlock()

	if s.Page != nil && !s.Page.Alive() {
		s.Page = nil
	}
	s.Fresh = false
	p.log.Debug("session reused", logx.String("session", key), logx.Bool("has_page", s.Page != nil))
	return s
}

// Remember registers s under key (leased to the caller) and evicts it
// automatically when its browser disconnects. A different session already
// registered under key is closed first.
func (p *Pool) Remember(key string, s *Session) {
	if s == nil {
		return
	}
	s.Key = key
	p.mu.Lock()
	old, had := p.entries[key]
	p.entries[key] = &entry{s: s, leased: true}
	p.mu.Unlock()

	if had && old.s != s {
		p.closeSession(old.s, "replaced")
	}
	if s.Browser != nil {
		s.Browser.OnDisconnect(func() { p.onDisconnect(key, s) })
	}
}

func (p *Pool) onDisconnect(key string, s *Session) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok || e.s != s {
		p.mu.Unlock()
		return
	}
	delete(p.entries, key)
	p.mu.Unlock()
	p.log.Warn("browser disconnected, session evicted", logx.String("session", key))
	p.closeSession(s, "disconnected")
}

// Release ends the lease; the session stays pooled.
func (p *Pool) Release(key string) {
	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.leased = false
	}
	p.mu.Unlock()
}

// Evict removes and closes the session for key, if any.
func (p *Pool) Evict(key string) {
	p.evict(key, "evicted")
}

func (p *Pool) evict(key, reason string) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if ok {
		p.closeSession(e.s, reason)
	}
}

// DrainAll closes every pooled session and returns how many were closed.
func (p *Pool) DrainAll() int {
	p.mu.Lock()
	all := p.entries
	p.entries = map[string]*entry{}
	p.mu.Unlock()

	for _, e := range all {
		p.closeSession(e.s, "shutdown")
	}
	if len(all) > 0 {
		p.log.Info("session pool drained", logx.Int("sessions", len(all)))
	}
	return len(all)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) Has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	return ok
}

func (p *Pool) closeSession(s *Session, reason string) {
	if s == nil {
		return
	}
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			p.log.Debug("close browser failed", logx.String("session", s.Key), logx.Err(err))
		}
	}
	eventbus.Publish(p.bus, eventbus.TypeSessionEvicted, eventbus.SessionData{Session: s.Key, Reason: reason})
}
