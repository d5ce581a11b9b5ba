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
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/plugin-chardev/pkg/chardev"
)

const transportName = "socket"

const (
	defaultMaxHandles   = 256
	defaultMaxFrameSize = 1 << 20
	defaultIOTimeout    = 5 * time.Second
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("chardev: server closed")

// ServerOptions configures a Server. Zero values select defaults.
type ServerOptions struct {
	// MaxHandles bounds concurrently served connections; extra connections are
	// closed immediately.
	MaxHandles int
	// MaxFrameSize bounds a request payload; larger frames close the connection.
	MaxFrameSize int
	// IOTimeout is the write deadline for a response. Read and GetSize responses
	// are written while the buffer is locked, so this also bounds how long a
	// stalled peer can hold the buffer.
	IOTimeout time.Duration
	Logger    Logger
	Recorder  Recorder
	Journal   Journal
}

// Server serves one buffer to any number of socket connections.
type Server struct {
	buf  *chardev.Buffer
	opts ServerOptions
	log  Logger
	pool *ants.Pool

	handles cmap.ConcurrentMap[string, *handle]
	nextID  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
}

// NewServer creates a server for buf.
func NewServer(buf *chardev.Buffer, opts ServerOptions) (*Server, error) {
	if buf == nil {
		return nil, errors.New("transport: nil buffer")
	}
	if opts.MaxHandles <= 0 {
		opts.MaxHandles = defaultMaxHandles
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = defaultIOTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}
	s := &Server{
		buf:       buf,
		opts:      opts,
		log:       opts.Logger,
		handles:   cmap.New[*handle](),
		listeners: make(map[net.Listener]struct{}),
	}
	pool, err := ants.NewPool(opts.MaxHandles,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			s.log.Warnf("handle goroutine panicked: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create handle pool: %w", err)
	}
	s.pool = pool
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Listen opens a listener for network/address. A stale unix socket file left
// behind by a previous run is removed first.
func (s *Server) Listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket %s: %w", address, err)
		}
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	s.log.Infof("listening on %s %s", network, ln.Addr())
	return ln, nil
}

// ListenAndServe listens on network/address and serves until ctx is done, at
// which point the server is closed.
func (s *Server) ListenAndServe(ctx context.Context, network, address string) error {
	ln, err := s.Listen(network, address)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close is called or ln fails.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			return err
		}
		if err := s.ServeConn(conn); err != nil && !errors.Is(err, ErrServerClosed) {
			s.log.Warnf("connection from %s refused: %v", conn.RemoteAddr(), err)
		}
	}
}

// ServeConn serves an already established connection on the handle pool. The
// connection is closed if it cannot be served.
func (s *Server) ServeConn(conn net.Conn) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrServerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	h := newHandle(s.nextID.Add(1), conn)
	if err := s.pool.Submit(func() { s.serveHandle(h) }); err != nil {
		s.wg.Done()
		_ = conn.Close()
		if errors.Is(err, ants.ErrPoolOverload) {
			s.opts.Recorder.ConnectionRejected(transportName)
			s.opts.Journal.RecordFailure(transportName, "handle %d refused: too many open handles", h.id)
		}
		return err
	}
	return nil
}

// Listening reports whether at least one listener is being served.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners) > 0
}

// Handles lists the open handles ordered by id.
func (s *Server) Handles() []HandleInfo {
	out := make([]HandleInfo, 0, s.handles.Count())
	for item := range s.handles.IterBuffered() {
		out = append(out, item.Val.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops every listener, closes every open handle and waits for their
// goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.cancel()

	var errs []error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()

	for item := range s.handles.IterBuffered() {
		_ = item.Val.conn.Close()
	}
	s.wg.Wait()
	s.pool.Release()
	return errors.Join(errs...)
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) serveHandle(h *handle) {
	defer s.wg.Done()

	s.handles.Set(h.key(), h)
	s.opts.Recorder.HandleOpened(transportName)
	s.opts.Journal.Record(transportName, "device opened (handle %d)", h.id)
	s.log.Infof("device opened: handle %d from %s", h.id, h.info().Remote)
	if s.closed.Load() {
		// Close may have iterated the handles before this one was added.
		_ = h.conn.Close()
	}

	defer func() {
		s.handles.Remove(h.key())
		if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warnf("handle %d close error: %v", h.id, err)
		}
		s.opts.Recorder.HandleClosed(transportName)
		s.opts.Journal.Record(transportName, "device closed (handle %d)", h.id)
		s.log.Infof("device closed: handle %d", h.id)
	}()

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	for {
		req, err := ReadRequest(h.conn, s.opts.MaxFrameSize, bb)
		if err != nil {
			s.readFailed(h, err)
			return
		}
		h.requests.Add(1)
		start := time.Now()
		name, status, err := s.dispatch(h, req)
		s.opts.Recorder.ObserveRequest(transportName, name, status.String(), time.Since(start))
		if err != nil {
			s.log.Warnf("handle %d: %s failed: %v", h.id, name, err)
			s.opts.Journal.RecordFailure(transportName, "handle %d: %s failed: %v", h.id, name, err)
			return
		}
	}
}

func (s *Server) readFailed(h *handle, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case errors.Is(err, ErrFrameTooLarge):
		s.log.Warnf("handle %d: %v", h.id, err)
		_ = s.send(h, Response{Status: StatusProtocol, Payload: []byte(err.Error())})
	default:
		s.log.Debugf("handle %d: read request: %v", h.id, err)
	}
}

// dispatch runs one request. The returned error is only set when the
// connection can no longer be used.
func (s *Server) dispatch(h *handle, req Request) (string, Status, error) {
	ctx := s.ctx
	switch req.Op {
	case OpWrite:
		n, err := s.buf.Write(ctx, req.Payload)
		return chardev.OpWrite.String(), StatusOf(err), s.reply(h, uint32(n), err)

	case OpRead:
		fw := &frameWriter{s: s, h: h}
		_, err := s.buf.ReadTo(ctx, fw, int(req.Arg))
		if fw.sent {
			return chardev.OpRead.String(), StatusOK, nil
		}
		if errors.Is(err, chardev.ErrFault) {
			return chardev.OpRead.String(), StatusFault, err
		}
		// Empty buffer, or the request was rejected before the copy-out.
		return chardev.OpRead.String(), StatusOf(err), s.reply(h, 0, err)

	case OpControl:
		var sent bool
		cmd, err := chardev.ParseCommand(chardev.Opcode(req.Arg), func(size int) error {
			if err := s.send(h, Response{Status: StatusOK, Value: uint32(size)}); err != nil {
				return err
			}
			sent = true
			return nil
		})
		if err != nil {
			return chardev.OpUnknown.String(), StatusOf(err), s.reply(h, 0, err)
		}
		name := cmd.Opcode().String()
		_, err = s.buf.Control(ctx, cmd)
		if sent {
			return name, StatusOK, nil
		}
		if errors.Is(err, chardev.ErrFault) {
			return name, StatusFault, err
		}
		return name, StatusOf(err), s.reply(h, 0, err)

	default:
		err := fmt.Errorf("%w: unknown request %s", ErrProtocol, req.Op)
		return req.Op.String(), StatusProtocol, s.reply(h, 0, err)
	}
}

func (s *Server) reply(h *handle, value uint32, opErr error) error {
	resp := Response{Status: StatusOf(opErr), Value: value}
	if opErr != nil {
		resp.Payload = []byte(opErr.Error())
	}
	return s.send(h, resp)
}

func (s *Server) send(h *handle, resp Response) error {
	if err := h.conn.SetWriteDeadline(time.Now().Add(s.opts.IOTimeout)); err != nil {
		return err
	}
	return WriteResponse(h.conn, resp)
}

// frameWriter turns the buffer's copy-out into a read response, so a read is
// only committed once its bytes are on the connection.
type frameWriter struct {
	s    *Server
	h    *handle
	sent bool
}

func (w *frameWriter) Write(p []byte) (int, error) {
	if err := w.s.send(w.h, Response{Status: StatusOK, Value: uint32(len(p)), Payload: p}); err != nil {
		return 0, err
	}
	w.sent = true
	return len(p), nil
}
