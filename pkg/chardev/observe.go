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

package chardev

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Op names a buffer operation.
type Op uint8

const (
	OpWrite Op = iota + 1
	OpRead
	OpReset
	OpGetSize
	OpReverse
	OpUnknown
)

var opNames = [...]string{
	OpWrite:   "write",
	OpRead:    "read",
	OpReset:   "reset",
	OpGetSize: "get-size",
	OpReverse: "reverse",
	OpUnknown: "unknown",
}

func (o Op) String() string {
	if o == 0 || int(o) >= len(opNames) {
		return "invalid"
	}
	return opNames[o]
}

func opOf(cmd Command) Op {
	switch cmd.(type) {
	case ResetCommand:
		return OpReset
	case GetSizeCommand:
		return OpGetSize
	case ReverseCommand:
		return OpReverse
	default:
		return OpUnknown
	}
}

// Event describes one completed operation.
type Event struct {
	Op Op
	// Requested is the write size or read capacity asked for by the caller.
	Requested int
	// Bytes is the number of bytes written or read.
	Bytes int
	// Length is the logical length after the operation, or -1 when the call
	// was rejected before the buffer was consulted.
	Length int
	Err    error
}

// Observer receives an Event after every operation. Observe is called from the
// caller's goroutine and must not call back into the buffer.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to several observers in order. Nil entries are skipped.
func Observers(observers ...Observer) Observer {
	return ObserverFunc(func(ev Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(ev)
			}
		}
	})
}

func (b *Buffer) begin(ctx context.Context, op Op) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "chardev."+op.String(), trace.WithAttributes(attribute.String("chardev.op", op.String())))
}

func (b *Buffer) end(ctx context.Context, span trace.Span, ev Event) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
	}
	span.SetAttributes(
		attribute.Int("chardev.bytes", ev.Bytes),
		attribute.Int("chardev.length", ev.Length),
	)
	span.End()

	b.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", ev.Op.String()),
		attribute.String("result", result),
	))
	if ev.Bytes > 0 {
		b.moved.Record(ctx, int64(ev.Bytes), metric.WithAttributes(attribute.String("op", ev.Op.String())))
	}

	b.logEvent(ev)
	if b.observer != nil {
		b.observer.Observe(ev)
	}
}

func (b *Buffer) logEvent(ev Event) {
	if ev.Err != nil {
		b.log.Warnf("%s failed: %v", ev.Op, ev.Err)
		return
	}
	switch ev.Op {
	case OpWrite:
		b.log.Debugf("wrote %d bytes", ev.Bytes)
	case OpRead:
		b.log.Debugf("read %d bytes", ev.Bytes)
	case OpReset:
		b.log.Debugf("buffer reset")
	case OpGetSize:
		b.log.Debugf("size queried: %d", ev.Length)
	case OpReverse:
		b.log.Debugf("buffer reversed (%d bytes)", ev.Length)
	}
}
