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
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/plugin-chardev/pkg/chardev"
)

// DialOptions configures Dial. Zero values select defaults.
type DialOptions struct {
	// Timeout bounds each connection attempt and, when the caller's context has
	// no deadline, each request.
	Timeout time.Duration
	// MaxRetries is the number of extra connection attempts after the first.
	MaxRetries uint64
	// InitialInterval is the first retry delay; later delays grow exponentially.
	InitialInterval time.Duration
	MaxFrameSize    int
	Logger          Logger
}

// Client is one open handle on a remote buffer. Requests on a Client are
// serialized; open several clients for parallel requests.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	timeout  time.Duration
	maxFrame int
}

// Dial connects to a server, retrying with exponential backoff until the
// connection succeeds, the retries are used up or ctx is done.
func Dial(ctx context.Context, network, address string, opts DialOptions) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultIOTimeout
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 50 * time.Millisecond
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	dialer := net.Dialer{Timeout: opts.Timeout}
	var conn net.Conn
	connect := func() error {
		c, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.InitialInterval
	policy.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		opts.Logger.Debugf("dial %s %s failed: %v, retrying in %s", network, address, err, wait)
	}
	err := backoff.RetryNotify(connect, backoff.WithContext(backoff.WithMaxRetries(policy, opts.MaxRetries), ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return &Client{conn: conn, timeout: opts.Timeout, maxFrame: opts.MaxFrameSize}, nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, timeout: defaultIOTimeout, maxFrame: defaultMaxFrameSize}
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Response{}, err
	}
	if err := WriteRequest(c.conn, req); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Op, err)
	}
	resp, err := ReadResponse(c.conn, c.maxFrame)
	if err != nil {
		return Response{}, fmt.Errorf("receive %s: %w", req.Op, err)
	}
	return resp, resp.Status.Err(string(resp.Payload))
}

// Write replaces the remote buffer contents with p.
func (c *Client) Write(ctx context.Context, p []byte) (int, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpWrite, Payload: p})
	if err != nil {
		return 0, err
	}
	return int(resp.Value), nil
}

// Read drains up to max bytes. An empty buffer yields an empty slice and no error.
func (c *Client) Read(ctx context.Context, max int) ([]byte, error) {
	if max < 0 {
		return nil, fmt.Errorf("%w: negative read size %d", chardev.ErrInvalidArgument, max)
	}
	resp, err := c.roundTrip(ctx, Request{Op: OpRead, Arg: uint32(max)})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Control sends a raw control opcode. For GetSize the size is returned; other
// commands return 0.
func (c *Client) Control(ctx context.Context, op chardev.Opcode) (int, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpControl, Arg: uint32(op)})
	if err != nil {
		return 0, err
	}
	return int(resp.Value), nil
}

func (c *Client) Reset(ctx context.Context) error {
	_, err := c.Control(ctx, chardev.OpcodeReset)
	return err
}

func (c *Client) Size(ctx context.Context) (int, error) {
	return c.Control(ctx, chardev.OpcodeGetSize)
}

func (c *Client) Reverse(ctx context.Context) error {
	_, err := c.Control(ctx, chardev.OpcodeReverse)
	return err
}

// Close closes the handle.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
