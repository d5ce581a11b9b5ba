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
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-chardev/internal/journal"
	"github.com/srediag/plugin-chardev/pkg/chardev"
)

type ServerTestSuite struct {
	suite.Suite
	ctx     context.Context
	buf     *chardev.Buffer
	journal *journal.Journal
	srv     *Server
	addr    string
	served  chan error
}

func (s *ServerTestSuite) SetupTest() {
	s.ctx = context.Background()
	var err error
	s.buf, err = chardev.New(chardev.Options{Capacity: 1024})
	s.Require().NoError(err)
	s.journal = journal.New(256)
	s.startServer(ServerOptions{MaxHandles: 8, MaxFrameSize: 2048, IOTimeout: time.Second, Journal: s.journal})
}

func (s *ServerTestSuite) startServer(opts ServerOptions) {
	var err error
	s.srv, err = NewServer(s.buf, opts)
	s.Require().NoError(err)
	ln, err := s.srv.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.addr = ln.Addr().String()
	s.served = make(chan error, 1)
	go func() { s.served <- s.srv.Serve(ln) }()
}

func (s *ServerTestSuite) TearDownTest() {
	s.Require().NoError(s.srv.Close())
	s.Require().ErrorIs(<-s.served, ErrServerClosed)
}

func (s *ServerTestSuite) dial() *Client {
	c, err := Dial(s.ctx, "tcp", s.addr, DialOptions{Timeout: time.Second})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

func (s *ServerTestSuite) TestHelloWorldScenario() {
	c := s.dial()

	n, err := c.Write(s.ctx, []byte("Hello World"))
	s.Require().NoError(err)
	s.Require().Equal(11, n)

	size, err := c.Size(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(11, size)

	s.Require().NoError(c.Reverse(s.ctx))

	data, err := c.Read(s.ctx, 1024)
	s.Require().NoError(err)
	s.Require().Equal("dlroW olleH", string(data))

	s.Require().NoError(c.Reset(s.ctx))
	data, err = c.Read(s.ctx, 1024)
	s.Require().NoError(err)
	s.Require().Empty(data)
}

func (s *ServerTestSuite) TestShortReadDrains() {
	c := s.dial()
	_, err := c.Write(s.ctx, []byte("0123456789"))
	s.Require().NoError(err)

	data, err := c.Read(s.ctx, 3)
	s.Require().NoError(err)
	s.Require().Equal("012", string(data))
	s.Require().Equal(0, s.buf.Size(s.ctx))
}

func (s *ServerTestSuite) TestWriteTooLargeIsInvalidArgument() {
	c := s.dial()
	_, err := c.Write(s.ctx, []byte("keep"))
	s.Require().NoError(err)

	_, err = c.Write(s.ctx, make([]byte, 1500))
	s.Require().ErrorIs(err, chardev.ErrInvalidArgument)

	size, err := c.Size(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(4, size)
}

func (s *ServerTestSuite) TestUnsupportedOpcode() {
	c := s.dial()
	_, err := c.Write(s.ctx, []byte("abc"))
	s.Require().NoError(err)

	_, err = c.Control(s.ctx, chardev.Opcode(0x4d09))
	s.Require().ErrorIs(err, chardev.ErrUnsupportedOperation)
	s.Require().Equal(3, s.buf.Size(s.ctx))

	size, err := c.Size(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(3, size)
}

func (s *ServerTestSuite) TestUnknownRequestKeepsConnection() {
	conn, err := net.Dial("tcp", s.addr)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().NoError(WriteRequest(conn, Request{Op: Op(9)}))
	resp, err := ReadResponse(conn, -1)
	s.Require().NoError(err)
	s.Require().Equal(StatusProtocol, resp.Status)

	s.Require().NoError(WriteRequest(conn, Request{Op: OpControl, Arg: uint32(chardev.OpcodeGetSize)}))
	resp, err = ReadResponse(conn, -1)
	s.Require().NoError(err)
	s.Require().Equal(StatusOK, resp.Status)
}

func (s *ServerTestSuite) TestOversizedFrameClosesConnection() {
	conn, err := net.Dial("tcp", s.addr)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().NoError(WriteRequest(conn, Request{Op: OpWrite, Payload: make([]byte, 4096)}))
	resp, err := ReadResponse(conn, -1)
	s.Require().NoError(err)
	s.Require().Equal(StatusProtocol, resp.Status)
	s.Require().Contains(string(resp.Payload), "frame too large")
	s.Require().Equal(0, s.buf.Size(s.ctx))

	s.Require().Eventually(func() bool { return len(s.srv.Handles()) == 0 }, time.Second, 10*time.Millisecond)
}

func (s *ServerTestSuite) TestHandlesShareOneBuffer() {
	writer := s.dial()
	reader := s.dial()

	_, err := writer.Write(s.ctx, []byte("from writer"))
	s.Require().NoError(err)
	data, err := reader.Read(s.ctx, 64)
	s.Require().NoError(err)
	s.Require().Equal("from writer", string(data))

	data, err = writer.Read(s.ctx, 64)
	s.Require().NoError(err)
	s.Require().Empty(data)
}

func (s *ServerTestSuite) TestHandlesAreTracked() {
	a := s.dial()
	b := s.dial()
	_, err := a.Size(s.ctx)
	s.Require().NoError(err)
	_, err = b.Size(s.ctx)
	s.Require().NoError(err)

	handles := s.srv.Handles()
	s.Require().Len(handles, 2)
	s.Require().Less(handles[0].ID, handles[1].ID)
	s.Require().Equal(uint64(1), handles[0].Requests)

	s.Require().NoError(a.Close())
	s.Require().Eventually(func() bool { return len(s.srv.Handles()) == 1 }, time.Second, 10*time.Millisecond)

	var opened, closed int
	for _, e := range s.journal.Drain() {
		switch {
		case strings.HasPrefix(e.Message, "device opened"):
			opened++
		case strings.HasPrefix(e.Message, "device closed"):
			closed++
		}
	}
	s.Require().Equal(2, opened)
	s.Require().Equal(1, closed)
}

func (s *ServerTestSuite) TestHandleLimit() {
	s.Require().NoError(s.srv.Close())
	s.Require().ErrorIs(<-s.served, ErrServerClosed)
	rec := &countingRecorder{}
	s.startServer(ServerOptions{MaxHandles: 1, Recorder: rec})

	first := s.dial()
	_, err := first.Size(s.ctx)
	s.Require().NoError(err)

	second := s.dial()
	_, err = second.Size(s.ctx)
	s.Require().Error(err)
	s.Require().Eventually(func() bool { return rec.rejectedCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err = first.Size(s.ctx)
	s.Require().NoError(err)
}

// A read whose response cannot be delivered is not committed.
func (s *ServerTestSuite) TestReadFaultKeepsData() {
	_, err := s.buf.Write(s.ctx, []byte("precious"))
	s.Require().NoError(err)

	serverSide, clientSide := net.Pipe()
	s.Require().NoError(s.srv.ServeConn(serverSide))
	s.Require().NoError(WriteRequest(clientSide, Request{Op: OpRead, Arg: 64}))
	s.Require().NoError(clientSide.Close())

	var faulted bool
	s.Require().Eventually(func() bool {
		for _, e := range s.journal.Drain() {
			if e.Failed && strings.Contains(e.Message, "read failed") {
				faulted = true
			}
		}
		return faulted
	}, time.Second, 10*time.Millisecond)
	s.Require().Eventually(func() bool { return len(s.srv.Handles()) == 0 }, time.Second, 10*time.Millisecond)
	s.Require().Equal(8, s.buf.Size(s.ctx))
}

func (s *ServerTestSuite) TestConcurrentClientWritesAreAtomic() {
	const clients = 6
	payloads := make([][]byte, clients)
	errs := make(chan error, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		payloads[i] = bytes.Repeat([]byte(fmt.Sprintf("%c", 'a'+i)), 100+i*50)
		c := s.dial()
		wg.Add(1)
		go func(c *Client, p []byte) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := c.Write(s.ctx, p); err != nil {
					errs <- err
					return
				}
			}
		}(c, payloads[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	data, err := s.dial().Read(s.ctx, 1024)
	s.Require().NoError(err)
	matched := false
	for _, p := range payloads {
		matched = matched || bytes.Equal(p, data)
	}
	s.Require().True(matched)
}

func (s *ServerTestSuite) TestServeAfterClose() {
	s.Require().NoError(s.srv.Close())
	s.Require().ErrorIs(<-s.served, ErrServerClosed)
	s.served <- ErrServerClosed

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.Require().ErrorIs(s.srv.Serve(ln), ErrServerClosed)
	s.Require().False(s.srv.Listening())
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func TestUnixSocketPeerCredentials(t *testing.T) {
	dir, err := os.MkdirTemp("", "chardev")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "dev.sock")

	buf, err := chardev.New(chardev.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(buf, ServerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	// A stale socket file must not prevent listening.
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	ln, err := srv.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln) //nolint:errcheck

	c, err := Dial(context.Background(), "unix", path, DialOptions{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Write(context.Background(), []byte("over uds")); err != nil {
		t.Fatal(err)
	}

	handles := srv.Handles()
	if len(handles) != 1 {
		t.Fatalf("expected 1 handle, got %d", len(handles))
	}
	if runtime.GOOS == "linux" {
		if !handles[0].HasPeerCred || handles[0].PeerPID != int32(os.Getpid()) {
			t.Errorf("peer credentials not reported: %+v", handles[0])
		}
	}
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	buf, err := chardev.New(chardev.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(buf, ServerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "tcp", "127.0.0.1:0") }()

	deadline := time.Now().Add(time.Second)
	for !srv.Listening() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !srv.Listening() {
		t.Fatal("server never started listening")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrServerClosed) {
			t.Fatalf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}

func TestDialRetriesUntilListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	buf, _ := chardev.New(chardev.Options{})
	srv, err := NewServer(buf, ServerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	go func() {
		time.Sleep(150 * time.Millisecond)
		ln, err := srv.Listen("tcp", addr)
		if err != nil {
			return
		}
		_ = srv.Serve(ln)
	}()

	c, err := Dial(context.Background(), "tcp", addr, DialOptions{
		Timeout:         time.Second,
		MaxRetries:      20,
		InitialInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("dial with retries: %v", err)
	}
	defer c.Close()
	if _, err := c.Size(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestDialGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = Dial(context.Background(), "tcp", addr, DialOptions{MaxRetries: 2, InitialInterval: time.Millisecond})
	if err == nil {
		t.Fatal("expected dial to fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dial(ctx, "tcp", addr, DialOptions{MaxRetries: 100})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	rejected int
}

func (r *countingRecorder) ObserveRequest(string, string, string, time.Duration) {}
func (r *countingRecorder) HandleOpened(string)                                  {}
func (r *countingRecorder) HandleClosed(string)                                  {}

func (r *countingRecorder) ConnectionRejected(string) {
	r.mu.Lock()
	r.rejected++
	r.mu.Unlock()
}

func (r *countingRecorder) rejectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejected
}
