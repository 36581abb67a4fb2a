// Package provider implements the Object Provider / Forwarder: the
// component that wires an allocator and a Channel Manager together to turn
// a local reader into a remote writer (and vice versa) over the rpc
// package's method surface.
//
// Naming note, preserved from the system this is adapted from: a
// "RegisterWriterChannel" call makes this node the writer side of a
// *distributed* channel, but the bytes are produced by the application's
// own writer elsewhere — this forwarder's job is to drain them locally and
// ship them out, which means internally it registers itself as a local
// *reader* of that object. Symmetrically, "RegisterReaderChannel" makes this
// node the distributed reader side, and the forwarder registers itself as a
// local *writer* so it can deposit inbound pushes for the real local readers
// to consume. Follow the operations each role actually performs, not the
// name of the public method.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jackhumphries/mutablechannel/allocator"
	"github.com/jackhumphries/mutablechannel/channel"
	"github.com/jackhumphries/mutablechannel/internal/semaphore"
	"github.com/jackhumphries/mutablechannel/objectid"
	"github.com/jackhumphries/mutablechannel/rpc"
)

// crossNodeInfo records, for one remote object we have been told to ingest,
// how many local readers must ack a version and which local object the
// incoming bytes land in.
type crossNodeInfo struct {
	numReaders    uint64
	localObjectID objectid.ID
}

// Forwarder is the Object Provider. It satisfies rpc.MutableObjectReaderServer
// so a gRPC server can dispatch inbound RPCs straight into it.
type Forwarder struct {
	alloc allocator.Allocator
	mgr   *channel.Manager
	dial  rpc.NodeDialer
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu           sync.Mutex
	crossNodeMap map[objectid.ID]crossNodeInfo
}

// New returns a Forwarder built on alloc, mgr, and dial. The Forwarder does
// not own dial's lifecycle; callers close it separately if needed.
func New(alloc allocator.Allocator, mgr *channel.Manager, dial rpc.NodeDialer, log *zap.Logger) *Forwarder {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Forwarder{
		alloc:        alloc,
		mgr:          mgr,
		dial:         dial,
		log:          log.Named("provider"),
		ctx:          ctx,
		cancel:       cancel,
		group:        &errgroup.Group{},
		crossNodeMap: make(map[objectid.ID]crossNodeInfo),
	}
}

// RegisterWriterChannel makes this node the writer side of the distributed
// channel for objectID: it registers as a local reader so its poll goroutine
// can drain writes made by the application and forward them to node via RPC.
func (f *Forwarder) RegisterWriterChannel(ctx context.Context, objectID objectid.ID, node rpc.NodeID) error {
	obj, err := f.alloc.GetMutableObject(objectID)
	if err != nil {
		return fmt.Errorf("provider: get mutable object %s: %w", objectID, err)
	}
	if err := f.mgr.RegisterChannel(ctx, objectID, obj, channel.RoleReader); err != nil {
		return err
	}

	client, err := f.dial.Dial(ctx, node)
	if err != nil {
		return fmt.Errorf("provider: dial node %q: %w", node, err)
	}

	f.group.Go(func() error {
		return f.pollWriter(objectID, client)
	})
	return nil
}

// pollWriter repeatedly drains objectID locally and pushes each version to
// client. It returns cleanly (nil) once the channel enters the error state,
// which is this forwarder's shutdown signal.
func (f *Forwarder) pollWriter(objectID objectid.ID, client rpc.MutableObjectReaderClient) error {
	for {
		data, metadata, version, err := f.mgr.ReadAcquire(f.ctx, objectID)
		if errors.Is(err, channel.ErrChannelError) {
			f.log.Debug("poll loop exiting, channel errored", zap.Stringer("object_id", objectID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("provider: poll ReadAcquire for %s: %w", objectID, err)
		}

		combined := make([]byte, len(data)+len(metadata))
		copy(combined, data)
		copy(combined[len(data):], metadata)

		f.log.Debug("forwarding version",
			zap.Stringer("object_id", objectID), zap.Uint64("version", version))

		_, pushErr := client.PushMutableObject(f.ctx, &rpc.PushMutableObjectRequest{
			ObjectID:     objectID.Bytes(),
			DataSize:     uint64(len(data)),
			MetadataSize: uint64(len(metadata)),
			Bytes:        combined,
		})

		// ReadRelease must fire whether or not the push succeeded: skipping
		// it on a transient RPC failure would leave the local reader slot
		// permanently held and the writer's next WriteAcquire starved.
		if releaseErr := f.mgr.ReadRelease(f.ctx, objectID); releaseErr != nil {
			f.log.Warn("poll ReadRelease failed", zap.Stringer("object_id", objectID), zap.Error(releaseErr))
			if pushErr == nil {
				return fmt.Errorf("provider: poll ReadRelease for %s: %w", objectID, releaseErr)
			}
		}
		if pushErr != nil {
			return fmt.Errorf("provider: push %s: %w", objectID, pushErr)
		}
	}
}

// RegisterReaderChannel makes this node the reader side of the distributed
// channel for objectID: it registers as a local writer so PushMutableObject
// can deposit inbound bytes for the real local readers to ReadAcquire.
func (f *Forwarder) RegisterReaderChannel(ctx context.Context, objectID objectid.ID) error {
	obj, err := f.alloc.GetMutableObject(objectID)
	if err != nil {
		return fmt.Errorf("provider: get mutable object %s: %w", objectID, err)
	}
	return f.mgr.RegisterChannel(ctx, objectID, obj, channel.RoleWriter)
}

// RegisterMutableObject implements rpc.MutableObjectReaderServer. It
// records the remote-to-local object mapping and registers the local reader
// channel that will receive the forwarded writes.
func (f *Forwarder) RegisterMutableObject(ctx context.Context, req *rpc.RegisterMutableObjectRequest) (*rpc.RegisterMutableObjectReply, error) {
	remoteID, err := objectid.FromBytes(req.RemoteObjectID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid remote object id: %v", err)
	}
	localID, err := objectid.FromBytes(req.LocalObjectID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid local object id: %v", err)
	}

	f.mu.Lock()
	if _, exists := f.crossNodeMap[remoteID]; exists {
		f.mu.Unlock()
		return nil, status.Errorf(codes.AlreadyExists, "remote object %s already registered", remoteID)
	}
	f.crossNodeMap[remoteID] = crossNodeInfo{numReaders: req.NumReaders, localObjectID: localID}
	f.mu.Unlock()

	if err := f.RegisterReaderChannel(ctx, localID); err != nil {
		return nil, statusFromErr(err)
	}
	return &rpc.RegisterMutableObjectReply{}, nil
}

// PushMutableObject implements rpc.MutableObjectReaderServer: it maps the
// pushed remote object id to a local one and writes the payload through
// WriteAcquire/WriteRelease.
func (f *Forwarder) PushMutableObject(ctx context.Context, req *rpc.PushMutableObjectRequest) (*rpc.PushMutableObjectReply, error) {
	remoteID, err := objectid.FromBytes(req.ObjectID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid object id: %v", err)
	}

	f.mu.Lock()
	info, ok := f.crossNodeMap[remoteID]
	f.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "remote object %s not registered", remoteID)
	}

	if uint64(len(req.Bytes)) < req.DataSize+req.MetadataSize {
		return nil, status.Errorf(codes.InvalidArgument, "payload shorter than data_size+metadata_size")
	}
	metadata := req.Bytes[req.DataSize : req.DataSize+req.MetadataSize]

	buf, err := f.mgr.WriteAcquire(ctx, info.localObjectID, req.DataSize, metadata, req.MetadataSize, info.numReaders)
	if err != nil {
		return nil, statusFromErr(err)
	}
	copy(buf[:req.DataSize], req.Bytes[:req.DataSize])

	if err := f.mgr.WriteRelease(ctx, info.localObjectID); err != nil {
		return nil, statusFromErr(err)
	}
	return &rpc.PushMutableObjectReply{}, nil
}

// Close cancels the Forwarder's context (the one its poll goroutines use for
// ReadAcquire and pushes), signals error on every channel to unblock any
// poll goroutine or RPC handler waiting on a semaphore, and waits for all
// poll goroutines to return. Register calls made after Close are not
// rejected.
func (f *Forwarder) Close() error {
	f.cancel()

	var firstErr error
	if err := f.mgr.Close(); err != nil {
		firstErr = err
	}
	if err := f.group.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// statusFromErr maps the core's sentinel error kinds to gRPC statuses at the
// RPC boundary, leaving the sentinels themselves untouched for in-process
// callers that use errors.Is.
func statusFromErr(err error) error {
	switch {
	case errors.Is(err, channel.ErrNotRegistered):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, channel.ErrInvalidRegistration):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, channel.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, channel.ErrChannelError):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, semaphore.ErrNotImplemented):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
