package leadguard

import (
	"sync"
	"time"
)

// TrafficProfiler keeps a short sliding window of per-client request
// observations so the operator endpoints can show what a given address has
// been doing lately. Purely observational: nothing here feeds back into
// admission decisions.
type TrafficProfiler struct {
	mu        sync.Mutex
	window    time.Duration
	maxEvents int
	clock     func() time.Time
	clients   map[string][]trafficEvent
}

type trafficEvent struct {
	at        time.Time
	path      string
	userAgent string
}

// TrafficSnapshot summarizes one client's recent activity. A low path
// diversity with a high request count is the shape of a stuck retry loop.
type TrafficSnapshot struct {
	Requests         int     `json:"requests"`
	UniquePaths      int     `json:"uniquePaths"`
	UniqueUserAgents int     `json:"uniqueUserAgents"`
	PathDiversity    float64 `json:"pathDiversity"`
}

func NewTrafficProfiler(window time.Duration, maxEvents int) *TrafficProfiler {
	if window <= 0 {
		window = time.Minute
	}
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &TrafficProfiler{
		window:    window,
		maxEvents: maxEvents,
		clock:     time.Now,
		clients:   make(map[string][]trafficEvent),
	}
}

// Observe records one request for the given client address.
func (p *TrafficProfiler) Observe(ip, path, userAgent string) {
	if ip == "" {
		return
	}
	now := p.clock()

	p.mu.Lock()
	defer p.mu.Unlock()

	events := append(p.clients[ip], trafficEvent{at: now, path: path, userAgent: userAgent})
	events = dropBefore(events, now.Add(-p.window))
	if len(events) > p.maxEvents {
		events = events[len(events)-p.maxEvents:]
	}
	p.clients[ip] = events
}

// Snapshot aggregates the client's activity inside the window.
func (p *TrafficProfiler) Snapshot(ip string) TrafficSnapshot {
	if ip == "" {
		return TrafficSnapshot{}
	}
	now := p.clock()

	p.mu.Lock()
	defer p.mu.Unlock()

	events := dropBefore(p.clients[ip], now.Add(-p.window))
	if len(events) == 0 {
		delete(p.clients, ip)
		return TrafficSnapshot{}
	}
	p.clients[ip] = events

	paths := make(map[string]struct{})
	agents := make(map[string]struct{})
	for _, ev := range events {
		if ev.path != "" {
			paths[ev.path] = struct{}{}
		}
		if ev.userAgent != "" {
			agents[ev.userAgent] = struct{}{}
		}
	}
	return TrafficSnapshot{
		Requests:         len(events),
		UniquePaths:      len(paths),
		UniqueUserAgents: len(agents),
		PathDiversity:    float64(len(paths)) / float64(len(events)),
	}
}

// Prune drops clients whose whole window has aged out.
func (p *TrafficProfiler) Prune() int {
	now := p.clock()
	cutoff := now.Add(-p.window)

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for ip, events := range p.clients {
		events = dropBefore(events, cutoff)
		if len(events) == 0 {
			delete(p.clients, ip)
			removed++
			continue
		}
		p.clients[ip] = events
	}
	return removed
}

func dropBefore(events []trafficEvent, cutoff time.Time) []trafficEvent {
	idx := 0
	for idx < len(events) && events[idx].at.Before(cutoff) {
		idx++
	}
	return events[idx:]
}
