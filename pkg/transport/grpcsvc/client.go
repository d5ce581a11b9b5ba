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

package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/srediag/plugin-chardev/pkg/chardev"
)

// Client calls chardev.v1.CharDevice. Returned errors match the chardev
// sentinels with errors.Is.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target using plaintext credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps conn. Close closes conn.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Write(ctx context.Context, p []byte) (int, error) {
	out := new(wrapperspb.UInt32Value)
	if err := c.conn.Invoke(ctx, writeMethod, wrapperspb.Bytes(p), out); err != nil {
		return 0, fromStatus(err)
	}
	return int(out.GetValue()), nil
}

func (c *Client) Read(ctx context.Context, max int) ([]byte, error) {
	if max < 0 {
		return nil, chardev.ErrInvalidArgument
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, readMethod, wrapperspb.UInt32(uint32(max)), out); err != nil {
		return nil, fromStatus(err)
	}
	return out.GetValue(), nil
}

func (c *Client) Control(ctx context.Context, op chardev.Opcode) (int, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.conn.Invoke(ctx, controlMethod, wrapperspb.UInt32(uint32(op)), out); err != nil {
		return 0, fromStatus(err)
	}
	return int(out.GetValue()), nil
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

func (c *Client) Close() error {
	return c.conn.Close()
}
