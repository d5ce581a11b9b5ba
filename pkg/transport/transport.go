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

// Package transport exposes a chardev.Buffer over a stream socket (unix or TCP)
// with a small framed protocol that mirrors a character device: every accepted
// connection is an open handle, and each request is a write, a read or a
// control command.
//
// Request frame:  op u8 | arg u32 | len u32 | payload
// Response frame: status u8 | value u32 | len u32 | payload
//
// All integers are big-endian.
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/srediag/plugin-chardev/pkg/chardev"
)

// Op is the request kind.
type Op uint8

const (
	OpWrite   Op = 1
	OpRead    Op = 2
	OpControl Op = 3
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpControl:
		return "control"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Status is the outcome carried by a response frame.
type Status uint8

const (
	StatusOK          Status = 0
	StatusInvalid     Status = 1 // EINVAL
	StatusUnsupported Status = 2 // ENOTTY
	StatusFault       Status = 3 // EFAULT
	StatusProtocol    Status = 4 // EPROTO
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "einval"
	case StatusUnsupported:
		return "enotty"
	case StatusFault:
		return "efault"
	case StatusProtocol:
		return "eproto"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ErrProtocol reports a malformed frame or a request the server does not know.
var ErrProtocol = errors.New("chardev: protocol error")

// StatusOf maps a buffer error onto its wire status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, chardev.ErrInvalidArgument):
		return StatusInvalid
	case errors.Is(err, chardev.ErrUnsupportedOperation):
		return StatusUnsupported
	case errors.Is(err, chardev.ErrFault):
		return StatusFault
	default:
		return StatusProtocol
	}
}

// Err rebuilds the buffer error for a status so callers can use errors.Is on
// the client side. It returns nil for StatusOK.
func (s Status) Err(detail string) error {
	var sentinel error
	switch s {
	case StatusOK:
		return nil
	case StatusInvalid:
		sentinel = chardev.ErrInvalidArgument
	case StatusUnsupported:
		sentinel = chardev.ErrUnsupportedOperation
	case StatusFault:
		sentinel = chardev.ErrFault
	default:
		sentinel = ErrProtocol
	}
	if detail == "" {
		return sentinel
	}
	return fmt.Errorf("%w (remote: %s)", sentinel, detail)
}

// Logger is the subset of a leveled logger used by the server and client.
type Logger interface {
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Warnf(format string, a ...interface{})
}

// Recorder receives transport-level measurements.
type Recorder interface {
	ObserveRequest(transport, op, status string, d time.Duration)
	HandleOpened(transport string)
	HandleClosed(transport string)
	ConnectionRejected(transport string)
}

// Journal receives handle lifecycle lines.
type Journal interface {
	Record(source, format string, a ...interface{})
	RecordFailure(source, format string, a ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, string, string, time.Duration) {}
func (nopRecorder) HandleOpened(string)                                  {}
func (nopRecorder) HandleClosed(string)                                  {}
func (nopRecorder) ConnectionRejected(string)                            {}

type nopJournal struct{}

func (nopJournal) Record(string, string, ...interface{})        {}
func (nopJournal) RecordFailure(string, string, ...interface{}) {}
