/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package listener

import (
	"context"
	"os"
	"sync"
	"time"

	"label-settlement-go/internal/metrics"
	"label-settlement-go/internal/reconcile"

	"go.uber.org/zap"
)

// Inbox file outcomes
const (
	FileProcessed   = "processed"
	FileInterrupted = "interrupted"
	FileFailed      = "failed"
)

// Processor reconciles one settlement file.
type Processor interface {
	Process(ctx context.Context, job reconcile.Job) (*reconcile.Result, error)
}

// InboxListenerConfig contains configuration for InboxListener
type InboxListenerConfig struct {
	Processor       Processor
	Metrics         *metrics.SettlementMetrics
	InboxDir        string
	PollingInterval time.Duration
	CleanupInterval time.Duration
}

// InboxListener polls a directory for carrier settlement files and
// reconciles each one
type InboxListener struct {
	processor Processor
	metrics   *metrics.SettlementMetrics
	inboxDir  string

	// Files already handled, keyed by name, size and modification time
	processedFiles  map[string]inboxFile
	mutex           sync.RWMutex
	pollingInterval time.Duration
	cleanupInterval time.Duration

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewInboxListener creates a new settlement inbox listener
func NewInboxListener(cfg InboxListenerConfig) *InboxListener {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 15 * time.Minute
	}
	return &InboxListener{
		processor:       cfg.Processor,
		metrics:         cfg.Metrics,
		inboxDir:        cfg.InboxDir,
		processedFiles:  make(map[string]inboxFile),
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

func (l *InboxListener) isFileProcessed(f inboxFile) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	_, exists := l.processedFiles[f.key()]
	return exists
}

func (l *InboxListener) markFileProcessed(f inboxFile) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.processedFiles[f.key()] = f
}

// cleanupLoop periodically forgets files that have left the inbox
func (l *InboxListener) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupProcessedFiles()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupProcessedFiles drops entries whose file version is gone. A removed
// file cannot come back as the same version, so its key is dead.
func (l *InboxListener) cleanupProcessedFiles() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cleaned := 0
	for key, f := range l.processedFiles {
		info, err := os.Stat(f.path)
		if err == nil && info.Size() == f.size && info.ModTime().Equal(f.modTime) {
			continue
		}
		delete(l.processedFiles, key)
		cleaned++
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up processed settlement files",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(l.processedFiles)))
	}
}
