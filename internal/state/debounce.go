/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package state

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum time between two pipeline runs for a workload.
const DefaultCooldown = 60 * time.Second

// Gate suppresses reprocessing of the same workload within a cooldown window.
// Entries never expire; a stale timestamp simply stops blocking.
type Gate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[Key]time.Time
	now      func() time.Time
}

// NewGate creates a debounce gate. A negative cooldown uses DefaultCooldown;
// zero lets every report through.
func NewGate(cooldown time.Duration) *Gate {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		cooldown: cooldown,
		last:     make(map[Key]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether key may proceed now, recording the attempt if so.
func (g *Gate) Allow(key Key) bool {
	return g.AllowAt(key, g.now())
}

// AllowAt is Allow with an explicit clock. The check and the update happen
// under one lock so two concurrent reports cannot both proceed.
func (g *Gate) AllowAt(key Key, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.last[key] = now
	return true
}

// Cooldown returns the configured window.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}
