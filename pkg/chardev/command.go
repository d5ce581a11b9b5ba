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

import "fmt"

// Opcode is the wire number of a control command. The values are the ioctl
// request numbers of the character device this buffer was modelled on.
type Opcode uint32

const (
	OpcodeReset   Opcode = 0x00004d01 // _IO('M', 1)
	OpcodeGetSize Opcode = 0x80044d02 // _IOR('M', 2, int)
	OpcodeReverse Opcode = 0x00004d03 // _IO('M', 3)
)

func (o Opcode) String() string {
	switch o {
	case OpcodeReset:
		return "reset"
	case OpcodeGetSize:
		return "get-size"
	case OpcodeReverse:
		return "reverse"
	default:
		return fmt.Sprintf("opcode(%#x)", uint32(o))
	}
}

// Command is one of the control commands accepted by Buffer.Control. The set is
// closed: ResetCommand, GetSizeCommand and ReverseCommand.
type Command interface {
	Opcode() Opcode
	command()
}

// ResetCommand zeroes the buffer and empties it.
type ResetCommand struct{}

// GetSizeCommand reports the logical length of the buffer.
type GetSizeCommand struct {
	// Deliver, when set, receives the size while the buffer is still locked.
	// A non-nil error from it is reported as ErrFault.
	Deliver func(size int) error
}

// ReverseCommand reverses the held bytes in place.
type ReverseCommand struct{}

func (ResetCommand) Opcode() Opcode   { return OpcodeReset }
func (GetSizeCommand) Opcode() Opcode { return OpcodeGetSize }
func (ReverseCommand) Opcode() Opcode { return OpcodeReverse }

func (ResetCommand) command()   {}
func (GetSizeCommand) command() {}
func (ReverseCommand) command() {}

// Result is what a control command produced. Size is only meaningful for
// GetSizeCommand.
type Result struct {
	Size int
}

// ParseCommand maps a wire opcode onto its command. deliver is attached to
// GetSize and ignored otherwise.
func ParseCommand(op Opcode, deliver func(size int) error) (Command, error) {
	switch op {
	case OpcodeReset:
		return ResetCommand{}, nil
	case OpcodeGetSize:
		return GetSizeCommand{Deliver: deliver}, nil
	case OpcodeReverse:
		return ReverseCommand{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
	}
}
