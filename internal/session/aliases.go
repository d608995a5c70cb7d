// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const aliasReloadDebounce = 200 * time.Millisecond

// AliasMap maps extracted identities to canonical aliases so the same
// person reaching the gateway over different channels shares one
// session. The backing YAML file is hot-reloaded on change.
type AliasMap struct {
	mu      sync.RWMutex
	path    string
	aliases map[string]string

	watcher *fsnotify.Watcher
	timer   *time.Timer
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewAliasMap loads the alias file at path. An empty path yields an
// inert map (every identity is its own canonical form).
func NewAliasMap(path string) (*AliasMap, error) {
	m := &AliasMap{
		path:    path,
		aliases: make(map[string]string),
		closeCh: make(chan struct{}),
	}
	if path == "" {
		return m, nil
	}
	if err := m.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create alias watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch alias map: %w", err)
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.processEvents()
	return m, nil
}

// Canonical returns the canonical alias for an identity, or the
// identity itself when no alias is configured.
func (m *AliasMap) Canonical(identity string) string {
	if identity == "" {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if canon, ok := m.aliases[strings.ToLower(identity)]; ok {
		return canon
	}
	return identity
}

// Len returns the number of configured aliases.
func (m *AliasMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aliases)
}

// Close stops the file watcher.
func (m *AliasMap) Close() {
	if m.watcher == nil {
		return
	}
	close(m.closeCh)
	m.watcher.Close()
	m.wg.Wait()
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
}

func (m *AliasMap) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read alias map: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse alias map: %w", err)
	}
	aliases := make(map[string]string, len(raw))
	for from, to := range raw {
		aliases[strings.ToLower(from)] = to
	}
	m.mu.Lock()
	m.aliases = aliases
	m.mu.Unlock()
	log.Printf("aliases: loaded %d entries from %s", len(aliases), m.path)
	return nil
}

func (m *AliasMap) processEvents() {
	defer m.wg.Done()
	for {
		select {
		case <-m.closeCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			// Only writes and creates; editors replace files on save.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m.scheduleReload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("aliases: watch error: %v", err)
		}
	}
}

// scheduleReload debounces rapid successive writes into one reload.
func (m *AliasMap) scheduleReload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(aliasReloadDebounce, func() {
		if err := m.reload(); err != nil {
			log.Printf("aliases: reload failed: %v", err)
		}
	})
}
