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

import "errors"

var (
	// ErrInvalidArgument is returned when a write exceeds the buffer capacity or a
	// read is asked for a negative number of bytes.
	ErrInvalidArgument = errors.New("chardev: invalid argument")

	// ErrUnsupportedOperation is returned for a control opcode outside the
	// Reset/GetSize/Reverse set.
	ErrUnsupportedOperation = errors.New("chardev: unsupported operation")

	// ErrFault is returned when bytes could not be transferred to the caller.
	// The buffer is left exactly as it was before the call.
	ErrFault = errors.New("chardev: transfer fault")
)
