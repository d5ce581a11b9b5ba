/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package health builds the liveness and readiness probes of the daemon.
package health

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	defaultMaxGoroutines = 10000
	// defaultMinFree is the free space required next to a unix socket.
	defaultMinFree = 1 << 20
	checkTimeout   = time.Second
)

// Listener reports whether the socket transport is accepting connections.
type Listener interface {
	Listening() bool
}

// Options configures NewHandler.
type Options struct {
	Server Listener
	// SocketPath enables the free-space readiness check on the socket's
	// directory. Leave empty for TCP.
	SocketPath    string
	MinFree       uint64
	MaxGoroutines int
}

// NewHandler returns a healthcheck.Handler serving /live and /ready.
func NewHandler(opts Options) healthcheck.Handler {
	if opts.MaxGoroutines <= 0 {
		opts.MaxGoroutines = defaultMaxGoroutines
	}
	if opts.MinFree == 0 {
		opts.MinFree = defaultMinFree
	}

	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	if opts.Server != nil {
		h.AddReadinessCheck("socket-listening", ListeningCheck(opts.Server))
	}
	if opts.SocketPath != "" {
		h.AddReadinessCheck("socket-dir-free",
			healthcheck.Timeout(FreeSpaceCheck(filepath.Dir(opts.SocketPath), opts.MinFree), checkTimeout))
	}
	return h
}

// ListeningCheck fails while l has no active listener.
func ListeningCheck(l Listener) healthcheck.Check {
	return func() error {
		if !l.Listening() {
			return errors.New("socket transport is not listening")
		}
		return nil
	}
}

// FreeSpaceCheck fails when the filesystem holding dir has less than minFree
// bytes available.
func FreeSpaceCheck(dir string, minFree uint64) healthcheck.Check {
	return func() error {
		return hasFreeSpace(dir, minFree)
	}
}

func hasFreeSpace(dir string, minFree uint64) error {
	stat, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", dir, err)
	}
	if stat.Free < minFree {
		return fmt.Errorf("%s has %d bytes free, need %d", dir, stat.Free, minFree)
	}
	return nil
}
