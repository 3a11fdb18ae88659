/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// defaultSettle coalesces the burst of events a ConfigMap volume update produces.
const defaultSettle = 200 * time.Millisecond

// Reloader reloads a Store whenever its directory changes. It implements
// manager.Runnable.
type Reloader struct {
	store  *Store
	settle time.Duration
	log    logr.Logger
}

// NewReloader creates a Reloader for store.
func NewReloader(store *Store, log logr.Logger) *Reloader {
	return &Reloader{store: store, settle: defaultSettle, log: log}
}

// Start watches the directory until ctx is cancelled. A missing directory
// disables hot reload without failing the process.
func (r *Reloader) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(r.store.Dir()); err != nil {
		r.log.Error(err, "config hot reload disabled", "dir", r.store.Dir())
		<-ctx.Done()
		return nil
	}
	r.log.Info("watching config directory", "dir", r.store.Dir())

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.settle)
			} else {
				timer.Reset(r.settle)
			}
			pending = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Error(err, "config watcher error")
		case <-pending:
			pending = nil
			r.store.Reload()
			r.log.Info("configuration reloaded", "dir", r.store.Dir())
		}
	}
}

// NeedLeaderElection is false: every replica keeps its own configuration current.
func (r *Reloader) NeedLeaderElection() bool { return false }
