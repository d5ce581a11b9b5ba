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

// Package journal keeps a bounded, drainable record of recent buffer activity,
// in the spirit of a kernel log ring: readers drain it, and when it is full the
// oldest entries are dropped.
package journal

import (
	"fmt"
	"sync/atomic"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/plugin-chardev/pkg/chardev"
)

// Entry is one journal line.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Failed  bool      `json:"failed,omitempty"`
}

func (e Entry) String() string {
	return fmt.Sprintf("[%d] %s %s: %s", e.Seq, e.Time.Format(time.RFC3339Nano), e.Source, e.Message)
}

// Journal is safe for concurrent use. A zero limit disables recording.
type Journal struct {
	q       *queuepkg.Queue
	limit   int64
	seq     atomic.Uint64
	dropped atomic.Uint64
	now     func() time.Time
}

// New creates a journal keeping at most limit entries.
func New(limit int) *Journal {
	hint := int64(limit)
	if hint > 1024 {
		hint = 1024
	}
	return &Journal{
		q:     queuepkg.New(hint),
		limit: int64(limit),
		now:   time.Now,
	}
}

// Record appends a line, dropping the oldest entries beyond the limit.
func (j *Journal) Record(source, format string, a ...interface{}) {
	j.put(source, false, format, a...)
}

// RecordFailure appends a line flagged as a failure.
func (j *Journal) RecordFailure(source, format string, a ...interface{}) {
	j.put(source, true, format, a...)
}

func (j *Journal) put(source string, failed bool, format string, a ...interface{}) {
	if j.limit <= 0 || j.q.Disposed() {
		return
	}
	e := Entry{
		Seq:     j.seq.Add(1),
		Time:    j.now(),
		Source:  source,
		Message: fmt.Sprintf(format, a...),
		Failed:  failed,
	}
	if err := j.q.Put(e); err != nil {
		return
	}
	for excess := j.q.Len() - j.limit; excess > 0; excess = j.q.Len() - j.limit {
		items, err := j.q.Poll(excess, time.Millisecond)
		if err != nil {
			return
		}
		j.dropped.Add(uint64(len(items)))
	}
}

// Observe records a buffer event, worded like the device's own log lines.
func (j *Journal) Observe(ev chardev.Event) {
	if ev.Err != nil {
		j.RecordFailure("buffer", "%s failed: %v", ev.Op, ev.Err)
		return
	}
	switch ev.Op {
	case chardev.OpWrite:
		j.Record("buffer", "wrote %d bytes", ev.Bytes)
	case chardev.OpRead:
		j.Record("buffer", "read %d bytes", ev.Bytes)
	case chardev.OpReset:
		j.Record("buffer", "buffer reset")
	case chardev.OpGetSize:
		j.Record("buffer", "size queried: %d", ev.Length)
	case chardev.OpReverse:
		j.Record("buffer", "buffer reversed")
	default:
		j.Record("buffer", "%s", ev.Op)
	}
}

// Drain removes and returns every pending entry, oldest first.
func (j *Journal) Drain() []Entry {
	items, err := j.q.TakeUntil(func(interface{}) bool { return true })
	if err != nil {
		return nil
	}
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		if e, ok := item.(Entry); ok {
			out = append(out, e)
		}
	}
	return out
}

// Len is the number of pending entries.
func (j *Journal) Len() int {
	return int(j.q.Len())
}

// Dropped counts entries discarded because the journal was full.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close discards pending entries and stops recording.
func (j *Journal) Close() {
	j.q.Dispose()
}
