// Package rpc defines the wire-level method shapes the Object Provider uses
// to forward mutable objects across nodes, plus a hand-written gRPC service
// description for them. There is no protobuf/protoc step here: requests and
// replies are plain Go structs carried by a small gob-based codec registered
// under the name "proto" (replacing the default codec), so a real
// google.golang.org/grpc ClientConn/Server pair can still be used end to end.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// PushMutableObjectRequest carries one published version of a mutable object
// from the node that owns it to a remote reader. Bytes is the contiguous
// data‖metadata blob; DataSize/MetadataSize tell the receiver how to split
// it back apart.
type PushMutableObjectRequest struct {
	ObjectID     []byte
	DataSize     uint64
	MetadataSize uint64
	Bytes        []byte
}

// PushMutableObjectReply is empty on success; errors are surfaced as gRPC
// statuses rather than reply fields.
type PushMutableObjectReply struct{}

// RegisterMutableObjectRequest tells a remote node that RemoteObjectID
// (an ID the caller writes to) should be forwarded into LocalObjectID on the
// receiving node, where each pushed version is written for NumReaders local
// readers to ReadAcquire and ReadRelease.
type RegisterMutableObjectRequest struct {
	RemoteObjectID []byte
	NumReaders     uint64
	LocalObjectID  []byte
}

// RegisterMutableObjectReply is empty on success.
type RegisterMutableObjectReply struct{}

// serviceName is the gRPC service path segment used by both the
// hand-written ServiceDesc and the client stub.
const serviceName = "mutablechannel.rpc.MutableObjectReader"

// MutableObjectReaderServer is implemented by whatever accepts inbound
// forwarded writes — the provider package's Forwarder, in this module.
type MutableObjectReaderServer interface {
	PushMutableObject(ctx context.Context, req *PushMutableObjectRequest) (*PushMutableObjectReply, error)
	RegisterMutableObject(ctx context.Context, req *RegisterMutableObjectRequest) (*RegisterMutableObjectReply, error)
}

// MutableObjectReaderClient is the caller-facing stub a NodeDialer hands
// back; the Forwarder's poll loop calls PushMutableObject on it once per
// published version.
type MutableObjectReaderClient interface {
	PushMutableObject(ctx context.Context, req *PushMutableObjectRequest) (*PushMutableObjectReply, error)
	RegisterMutableObject(ctx context.Context, req *RegisterMutableObjectRequest) (*RegisterMutableObjectReply, error)
}

// RegisterMutableObjectReaderServer registers srv's methods against the
// hand-written ServiceDesc below.
func RegisterMutableObjectReaderServer(s grpc.ServiceRegistrar, srv MutableObjectReaderServer) {
	s.RegisterService(&serviceDesc, srv)
}

func pushMutableObjectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PushMutableObjectRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MutableObjectReaderServer).PushMutableObject(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/PushMutableObject"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MutableObjectReaderServer).PushMutableObject(ctx, req.(*PushMutableObjectRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func registerMutableObjectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RegisterMutableObjectRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MutableObjectReaderServer).RegisterMutableObject(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RegisterMutableObject"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MutableObjectReaderServer).RegisterMutableObject(ctx, req.(*RegisterMutableObjectRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MutableObjectReaderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PushMutableObject", Handler: pushMutableObjectHandler},
		{MethodName: "RegisterMutableObject", Handler: registerMutableObjectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mutablechannel/rpc.proto",
}

// client is the concrete MutableObjectReaderClient backed by a grpc.ClientConn.
type client struct {
	cc grpc.ClientConnInterface
}

// NewMutableObjectReaderClient wraps cc as a MutableObjectReaderClient.
func NewMutableObjectReaderClient(cc grpc.ClientConnInterface) MutableObjectReaderClient {
	return &client{cc: cc}
}

func (c *client) PushMutableObject(ctx context.Context, req *PushMutableObjectRequest) (*PushMutableObjectReply, error) {
	reply := new(PushMutableObjectReply)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/PushMutableObject", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *client) RegisterMutableObject(ctx context.Context, req *RegisterMutableObjectRequest) (*RegisterMutableObjectReply, error) {
	reply := new(RegisterMutableObjectReply)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/RegisterMutableObject", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
