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

// Package admin serves the daemon's HTTP side channel: health probes,
// Prometheus metrics, the event journal, open handles and pprof.
package admin

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/plugin-chardev/internal/journal"
	"github.com/srediag/plugin-chardev/pkg/transport"
)

// Logger is used for response write failures.
type Logger interface {
	Warnf(format string, a ...interface{})
}

// Options selects the endpoints to mount. Nil fields leave their endpoint out.
type Options struct {
	// Health serves /live and /ready.
	Health   http.Handler
	Gatherer prometheus.Gatherer
	Journal  *journal.Journal
	Handles  func() []transport.HandleInfo
	Logger   Logger
	// Pprof mounts /debug/pprof/.
	Pprof bool
}

// NewHandler builds the admin mux.
func NewHandler(opts Options) http.Handler {
	mux := http.NewServeMux()
	if opts.Health != nil {
		mux.Handle("/live", opts.Health)
		mux.Handle("/ready", opts.Health)
	}
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Journal != nil {
		mux.HandleFunc("/debug/journal", journalHandler(opts.Journal, opts.Logger))
	}
	if opts.Handles != nil {
		mux.HandleFunc("/debug/handles", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, opts.Handles(), opts.Logger)
		})
	}
	if opts.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// NewServer wraps h in an http.Server listening on addr.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// journalHandler drains the journal. Entries are returned once; a second
// request only sees what was recorded in between.
func journalHandler(j *journal.Journal, log Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := j.Drain()
		if r.URL.Query().Get("format") == "json" {
			writeJSON(w, entries, log)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Journal-Dropped", strconv.FormatUint(j.Dropped(), 10))
		for _, e := range entries {
			line := e.String()
			if e.Failed {
				line += " (failed)"
			}
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				warn(log, "write journal: %v", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, log Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		warn(log, "encode response: %v", err)
	}
}

func warn(log Logger, format string, a ...interface{}) {
	if log != nil {
		log.Warnf(format, a...)
	}
}
