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

// Package grpcsvc serves a chardev.Buffer as the gRPC service
// chardev.v1.CharDevice. Messages are the protobuf well-known wrapper types,
// so no generated code is needed on either side:
//
//	Write(BytesValue) returns (UInt32Value)     bytes written
//	Read(UInt32Value) returns (BytesValue)      drained bytes, at most value
//	Control(UInt32Value) returns (Int64Value)   opcode in, size (or 0) out
//
// Buffer errors map to InvalidArgument, Unimplemented and DataLoss.
package grpcsvc

import (
	"context"
	"errors"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/srediag/plugin-chardev/pkg/chardev"
	"github.com/srediag/plugin-chardev/pkg/transport"
)

const (
	ServiceName   = "chardev.v1.CharDevice"
	writeMethod   = "/" + ServiceName + "/Write"
	readMethod    = "/" + ServiceName + "/Read"
	controlMethod = "/" + ServiceName + "/Control"

	transportName = "grpc"
)

// CharDeviceServer is the server API for chardev.v1.CharDevice.
type CharDeviceServer interface {
	Write(context.Context, *wrapperspb.BytesValue) (*wrapperspb.UInt32Value, error)
	Read(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error)
	Control(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.Int64Value, error)
}

// ServiceDesc describes chardev.v1.CharDevice for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CharDeviceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Write", Handler: writeHandler},
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "Control", Handler: controlHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chardev/v1/chardev.proto",
}

// Register adds srv to r.
func Register(r grpc.ServiceRegistrar, srv CharDeviceServer) {
	r.RegisterService(&ServiceDesc, srv)
}

// Options configures a Service.
type Options struct {
	Logger   transport.Logger
	Recorder transport.Recorder
}

// Service implements CharDeviceServer on top of a buffer. Handlers return
// buffer errors; UnaryInterceptor turns them into gRPC statuses.
type Service struct {
	buf  *chardev.Buffer
	opts Options
}

var _ CharDeviceServer = (*Service)(nil)

// NewService returns a Service for buf.
func NewService(buf *chardev.Buffer, opts Options) *Service {
	return &Service{buf: buf, opts: opts}
}

// NewServer builds a grpc.Server with the service registered and its
// interceptor installed.
func NewServer(buf *chardev.Buffer, opts Options, extra ...grpc.ServerOption) *grpc.Server {
	svc := NewService(buf, opts)
	srv := grpc.NewServer(append([]grpc.ServerOption{grpc.UnaryInterceptor(svc.UnaryInterceptor)}, extra...)...)
	Register(srv, svc)
	return srv
}

func (s *Service) Write(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.UInt32Value, error) {
	n, err := s.buf.Write(ctx, in.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.UInt32(uint32(n)), nil
}

// Read drains into memory before the response is sent, so unlike the socket
// transport a failed send loses the drained bytes.
func (s *Service) Read(ctx context.Context, in *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	p := make([]byte, min(int(in.GetValue()), s.buf.Capacity()))
	n, err := s.buf.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(p[:n]), nil
}

func (s *Service) Control(ctx context.Context, in *wrapperspb.UInt32Value) (*wrapperspb.Int64Value, error) {
	cmd, err := chardev.ParseCommand(chardev.Opcode(in.GetValue()), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.buf.Control(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Int64(int64(res.Size)), nil
}

// UnaryInterceptor records each call and converts buffer errors to statuses.
func (s *Service) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	op := path.Base(info.FullMethod)
	if s.opts.Recorder != nil {
		s.opts.Recorder.ObserveRequest(transportName, op, transport.StatusOf(err).String(), time.Since(start))
	}
	if err != nil {
		if s.opts.Logger != nil {
			s.opts.Logger.Debugf("grpc %s: %v", op, err)
		}
		return nil, toStatus(err)
	}
	return resp, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, chardev.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chardev.ErrUnsupportedOperation):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, chardev.ErrFault):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus is the inverse of toStatus for client-side errors.Is checks.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = chardev.ErrInvalidArgument
	case codes.Unimplemented:
		sentinel = chardev.ErrUnsupportedOperation
	case codes.DataLoss:
		sentinel = chardev.ErrFault
	default:
		return err
	}
	return &remoteError{sentinel: sentinel, status: err}
}

// remoteError matches both the buffer sentinel and the status it came from.
type remoteError struct {
	sentinel error
	status   error
}

func (e *remoteError) Error() string   { return e.status.Error() }
func (e *remoteError) Unwrap() []error { return []error{e.sentinel, e.status} }

func writeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CharDeviceServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: writeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CharDeviceServer).Write(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CharDeviceServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CharDeviceServer).Read(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func controlHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CharDeviceServer).Control(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CharDeviceServer).Control(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}
