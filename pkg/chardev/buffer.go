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
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultCapacity is the capacity used when Options.Capacity is zero.
const DefaultCapacity = 1024

const instrumentationName = "github.com/srediag/plugin-chardev/pkg/chardev"

// Logger is the subset of a leveled logger the buffer writes to.
type Logger interface {
	Debugf(format string, a ...interface{})
	Warnf(format string, a ...interface{})
}

// Options holds buffer creation parameters.
type Options struct {
	// Capacity is the fixed size of the buffer in bytes. Zero means DefaultCapacity.
	Capacity int
	Logger   Logger
	// Observer is notified after every operation, outside the critical section.
	Observer Observer
	Meter    metric.Meter
	Tracer   trace.Tracer
}

// Buffer is a fixed-capacity byte buffer shared by all of its callers. A write
// replaces whatever was held; a read hands out the held bytes and empties the
// buffer, however many bytes the caller asked for.
//
// All methods are safe for concurrent use. The context arguments only carry
// tracing information: a call blocked on the buffer lock is not cancelled.
type Buffer struct {
	mu      sync.Mutex
	storage []byte
	length  int

	log      Logger
	observer Observer
	tracer   trace.Tracer
	ops      metric.Int64Counter
	moved    metric.Int64Histogram
}

// New creates an empty buffer.
func New(opts Options) (*Buffer, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidArgument, capacity)
	}
	meter := opts.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	log := opts.Logger
	if log == nil {
		log = nopLogger{}
	}
	ops, err := meter.Int64Counter("chardev.operations",
		metric.WithDescription("Buffer operations by kind and result."))
	if err != nil {
		return nil, fmt.Errorf("create operations counter: %w", err)
	}
	moved, err := meter.Int64Histogram("chardev.bytes",
		metric.WithDescription("Bytes moved in or out of the buffer per operation."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create bytes histogram: %w", err)
	}
	return &Buffer{
		storage:  make([]byte, capacity),
		log:      log,
		observer: opts.Observer,
		tracer:   tracer,
		ops:      ops,
		moved:    moved,
	}, nil
}

// Capacity returns the fixed size of the buffer.
func (b *Buffer) Capacity() int {
	return len(b.storage)
}

// Write replaces the buffer contents with p. It fails with ErrInvalidArgument,
// leaving the buffer untouched, when p is larger than the capacity. An empty p
// empties the buffer.
func (b *Buffer) Write(ctx context.Context, p []byte) (int, error) {
	ctx, span := b.begin(ctx, OpWrite)
	n, length, err := b.write(p)
	b.end(ctx, span, Event{Op: OpWrite, Requested: len(p), Bytes: n, Length: length, Err: err})
	return n, err
}

func (b *Buffer) write(p []byte) (int, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) > len(b.storage) {
		return 0, b.length, fmt.Errorf("%w: write of %d bytes exceeds capacity %d",
			ErrInvalidArgument, len(p), len(b.storage))
	}
	clear(b.storage)
	b.length = copy(b.storage, p)
	return b.length, b.length, nil
}

// Read copies up to len(p) held bytes into p and empties the buffer. Bytes that
// did not fit in p are discarded. Reading an empty buffer returns 0 and a nil
// error.
func (b *Buffer) Read(ctx context.Context, p []byte) (int, error) {
	ctx, span := b.begin(ctx, OpRead)
	n, length, err := b.drain(len(p), func(data []byte) error {
		copy(p, data)
		return nil
	})
	b.end(ctx, span, Event{Op: OpRead, Requested: len(p), Bytes: n, Length: length, Err: err})
	return n, err
}

// ReadTo behaves like Read but hands at most max bytes to w while the buffer is
// still locked. If w fails or accepts fewer bytes than offered, ReadTo returns
// ErrFault and the buffer keeps its contents.
func (b *Buffer) ReadTo(ctx context.Context, w io.Writer, max int) (int, error) {
	ctx, span := b.begin(ctx, OpRead)
	if max < 0 {
		err := fmt.Errorf("%w: negative read size %d", ErrInvalidArgument, max)
		b.end(ctx, span, Event{Op: OpRead, Requested: max, Length: -1, Err: err})
		return 0, err
	}
	n, length, err := b.drain(max, func(data []byte) error {
		n, err := w.Write(data)
		if err == nil && n < len(data) {
			err = io.ErrShortWrite
		}
		return err
	})
	b.end(ctx, span, Event{Op: OpRead, Requested: max, Bytes: n, Length: length, Err: err})
	return n, err
}

func (b *Buffer) drain(max int, deliver func([]byte) error) (int, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.length == 0 {
		return 0, 0, nil
	}
	k := min(max, b.length)
	if err := deliver(b.storage[:k]); err != nil {
		return 0, b.length, fmt.Errorf("%w: %d bytes not delivered: %w", ErrFault, k, err)
	}
	b.length = 0
	return k, 0, nil
}

// Reset zeroes the buffer and empties it.
func (b *Buffer) Reset(ctx context.Context) error {
	_, err := b.Control(ctx, ResetCommand{})
	return err
}

// Size returns the number of bytes currently held.
func (b *Buffer) Size(ctx context.Context) int {
	res, _ := b.Control(ctx, GetSizeCommand{})
	return res.Size
}

// Reverse reverses the held bytes in place. It is a no-op on an empty buffer.
func (b *Buffer) Reverse(ctx context.Context) error {
	_, err := b.Control(ctx, ReverseCommand{})
	return err
}

// Control runs one control command. Commands other than the value forms of
// ResetCommand, GetSizeCommand and ReverseCommand fail with
// ErrUnsupportedOperation.
func (b *Buffer) Control(ctx context.Context, cmd Command) (Result, error) {
	op := opOf(cmd)
	ctx, span := b.begin(ctx, op)
	res, length, err := b.control(cmd)
	b.end(ctx, span, Event{Op: op, Length: length, Err: err})
	return res, err
}

func (b *Buffer) control(cmd Command) (Result, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch c := cmd.(type) {
	case ResetCommand:
		clear(b.storage)
		b.length = 0
	case GetSizeCommand:
		if c.Deliver != nil {
			if err := c.Deliver(b.length); err != nil {
				return Result{}, b.length, fmt.Errorf("%w: size not delivered: %w", ErrFault, err)
			}
		}
		return Result{Size: b.length}, b.length, nil
	case ReverseCommand:
		for i, j := 0, b.length-1; i < j; i, j = i+1, j-1 {
			b.storage[i], b.storage[j] = b.storage[j], b.storage[i]
		}
	default:
		return Result{}, b.length, fmt.Errorf("%w: %T", ErrUnsupportedOperation, cmd)
	}
	return Result{}, b.length, nil
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
