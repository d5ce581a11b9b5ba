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

// Package chardev implements a single shared, fixed-capacity byte buffer that many
// callers drive through write, drain-read and three control commands (reset, size
// query and in-place reverse).
//
// Every operation runs as one critical section guarded by an exclusive mutex, so
// concurrent callers always observe the buffer as if operations ran one after the
// other. The buffer owns no goroutines and no timers.
//
// Example usage:
//
//	buf, err := chardev.New(chardev.Options{Capacity: 1024})
//	if err != nil {
//		// ...
//	}
//	_, _ = buf.Write(ctx, []byte("Hello World"))
//	_ = buf.Reverse(ctx)
//	out := make([]byte, buf.Capacity())
//	n, _ := buf.Read(ctx, out) // "dlroW olleH", buffer is now empty
package chardev
