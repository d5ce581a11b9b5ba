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

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/valyala/bytebufferpool"
)

const headerSize = 1 + 4 + 4

// ErrFrameTooLarge is returned when a frame announces a payload above the limit.
var ErrFrameTooLarge = errors.New("chardev: frame too large")

// Request is a decoded request frame.
type Request struct {
	Op      Op
	Arg     uint32
	Payload []byte
}

// Response is a decoded response frame.
type Response struct {
	Status  Status
	Value   uint32
	Payload []byte
}

func putHeader(dst []byte, kind uint8, arg uint32, n int) []byte {
	var hdr [headerSize]byte
	hdr[0] = kind
	binary.BigEndian.PutUint32(hdr[1:5], arg)
	binary.BigEndian.PutUint32(hdr[5:9], uint32(n))
	return append(dst, hdr[:]...)
}

// writeFrame assembles the whole frame in a pooled buffer so it reaches the
// connection in a single Write.
func writeFrame(w io.Writer, kind uint8, arg uint32, payload []byte) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	bb.B = putHeader(bb.B[:0], kind, arg, len(payload))
	bb.B = append(bb.B, payload...)
	_, err := w.Write(bb.B)
	return err
}

// WriteRequest encodes req onto w.
func WriteRequest(w io.Writer, req Request) error {
	return writeFrame(w, uint8(req.Op), req.Arg, req.Payload)
}

// WriteResponse encodes resp onto w.
func WriteResponse(w io.Writer, resp Response) error {
	return writeFrame(w, uint8(resp.Status), resp.Value, resp.Payload)
}

func readHeader(r io.Reader) (uint8, uint32, uint32, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, 0, err
	}
	return hdr[0], binary.BigEndian.Uint32(hdr[1:5]), binary.BigEndian.Uint32(hdr[5:9]), nil
}

func readPayload(r io.Reader, n uint32, maxPayload int, dst []byte) ([]byte, error) {
	if maxPayload >= 0 && int64(n) > int64(maxPayload) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, n, maxPayload)
	}
	dst = slices.Grow(dst[:0], int(n))[:n]
	if _, err := io.ReadFull(r, dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return dst, nil
}

// ReadRequest decodes one request. The payload is read into dst's storage, so
// it is only valid until dst is reused. A negative maxPayload disables the limit.
func ReadRequest(r io.Reader, maxPayload int, dst *bytebufferpool.ByteBuffer) (Request, error) {
	op, arg, n, err := readHeader(r)
	if err != nil {
		return Request{}, err
	}
	payload, err := readPayload(r, n, maxPayload, dst.B)
	if err != nil {
		return Request{}, err
	}
	dst.B = payload
	return Request{Op: Op(op), Arg: arg, Payload: payload}, nil
}

// ReadResponse decodes one response into a freshly allocated payload.
func ReadResponse(r io.Reader, maxPayload int) (Response, error) {
	status, value, n, err := readHeader(r)
	if err != nil {
		return Response{}, err
	}
	payload, err := readPayload(r, n, maxPayload, nil)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: Status(status), Value: value, Payload: payload}, nil
}
