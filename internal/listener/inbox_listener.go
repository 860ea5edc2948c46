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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"label-settlement-go/internal/reconcile"

	"go.uber.org/zap"
)

// Start begins watching the settlement inbox
func (l *InboxListener) Start(ctx context.Context) error {
	zap.L().Info("Starting settlement inbox listener", zap.String("inbox", l.inboxDir))

	if err := os.MkdirAll(l.inboxDir, 0o755); err != nil {
		return fmt.Errorf("failed to prepare inbox %s: %w", l.inboxDir, err)
	}

	go l.pollLoop(ctx)
	go l.cleanupLoop(ctx)

	zap.L().Info("Settlement inbox listener started successfully",
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Duration("cleanup_interval", l.cleanupInterval))

	return nil
}

// Stop gracefully stops the listener and waits for the file in progress
func (l *InboxListener) Stop() {
	zap.L().Info("Stopping settlement inbox listener")
	close(l.stopChan)
	<-l.doneChan
	zap.L().Info("Settlement inbox listener stopped")
}

// pollLoop runs the main polling loop. Files that arrived while the
// listener was down are picked up by the first scan.
func (l *InboxListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	l.pollInbox(ctx)

	for {
		select {
		case <-ticker.C:
			l.pollInbox(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// pollInbox processes every new settlement file, oldest name first. Files
// share user balances, so they run one at a time.
func (l *InboxListener) pollInbox(ctx context.Context) {
	files, err := l.pendingFiles()
	if err != nil {
		zap.L().Error("Failed to scan settlement inbox", zap.String("inbox", l.inboxDir), zap.Error(err))
		return
	}
	if len(files) == 0 {
		return
	}

	fmt.Printf("\n%s[%s] %d settlement file(s) in %s%s\n",
		colorCyan, time.Now().Format("15:04:05"), len(files), l.inboxDir, colorReset)

	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-l.stopChan:
			return
		default:
		}
		l.processFile(ctx, f)
	}
}

func (l *InboxListener) processFile(ctx context.Context, f inboxFile) {
	result, err := l.processor.Process(ctx, reconcile.Job{FileName: f.name, Path: f.path})
	l.markFileProcessed(f)

	switch {
	case err != nil && result == nil:
		// The file could not be opened; it stays in the inbox until replaced.
		fmt.Printf("  %s✗ %s: %s%s\n", colorRed, f.name, err, colorReset)
		zap.L().Error("Failed to process settlement file",
			zap.String("file", f.name),
			zap.Error(err))
		l.metrics.InboxFile(FileFailed)
	case err != nil:
		fmt.Printf("  %s~ %s interrupted after %d rows: %s%s\n", colorYellow, f.name, result.Rows, err, colorReset)
		zap.L().Warn("Settlement file interrupted",
			zap.String("file", f.name),
			zap.String("record_id", result.RecordId),
			zap.Error(err))
		l.metrics.InboxFile(FileInterrupted)
	default:
		color := colorGreen
		if result.Failed > 0 || result.Skipped > 0 {
			color = colorYellow
		}
		fmt.Printf("  %s✓ %s | %d rows, %d reconciled, %d failed | adjusted %s%s\n",
			color, f.name, result.Rows, result.Succeeded, result.Failed, result.Adjusted.StringFixed(2), colorReset)
		l.metrics.InboxFile(FileProcessed)
	}
}

// inboxFile identifies one version of a file. A file replaced under the
// same name is a new version.
type inboxFile struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

func (f inboxFile) key() string {
	return fmt.Sprintf("%s|%d|%d", f.name, f.size, f.modTime.UnixNano())
}

// pendingFiles lists supported files not yet processed. Hidden files are
// ignored so uploads can be written under a dot name and renamed in.
func (l *InboxListener) pendingFiles() ([]inboxFile, error) {
	entries, err := os.ReadDir(l.inboxDir)
	if err != nil {
		return nil, err
	}

	var files []inboxFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !reconcile.Supported(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		f := inboxFile{name: name, path: filepath.Join(l.inboxDir, name), size: info.Size(), modTime: info.ModTime()}
		if l.isFileProcessed(f) {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}
