package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackhumphries/mutablechannel/allocator/shmalloc"
	"github.com/jackhumphries/mutablechannel/channel"
	"github.com/jackhumphries/mutablechannel/objectid"
	"github.com/jackhumphries/mutablechannel/rpc"
)

// erroringClient is an rpc.MutableObjectReaderClient whose PushMutableObject
// always fails, used to drive pollWriter's failure path without a real
// network round trip.
type erroringClient struct{}

func (erroringClient) PushMutableObject(ctx context.Context, req *rpc.PushMutableObjectRequest) (*rpc.PushMutableObjectReply, error) {
	return nil, errors.New("simulated push failure")
}

func (erroringClient) RegisterMutableObject(ctx context.Context, req *rpc.RegisterMutableObjectRequest) (*rpc.RegisterMutableObjectReply, error) {
	return nil, errors.New("simulated register failure")
}

// erroringDialer is an rpc.NodeDialer that always hands back erroringClient.
type erroringDialer struct{}

func (erroringDialer) Dial(ctx context.Context, node rpc.NodeID) (rpc.MutableObjectReaderClient, error) {
	return erroringClient{}, nil
}

// TestCrossNodePush is scenario S5: register local object L mapped from
// remote R with num_readers=1, push R's bytes, and confirm a local reader of
// L observes the split data/metadata at version 1.
func TestCrossNodePush(t *testing.T) {
	alloc := shmalloc.New(64)
	mgr := channel.New(nil)
	dial := rpc.NewBufconnDialer()
	t.Cleanup(func() { dial.Close() })

	fwd := New(alloc, mgr, dial, nil)
	t.Cleanup(func() { fwd.Close() })

	ctx := context.Background()
	remote := objectid.New()
	local := objectid.New()

	_, err := fwd.RegisterMutableObject(ctx, &rpc.RegisterMutableObjectRequest{
		RemoteObjectID: remote.Bytes(),
		NumReaders:     1,
		LocalObjectID:  local.Bytes(),
	})
	require.NoError(t, err)

	localObj, err := alloc.GetMutableObject(local)
	require.NoError(t, err)
	require.NoError(t, mgr.RegisterChannel(ctx, local, localObj, channel.RoleReader))

	type readResult struct {
		data, metadata []byte
		version        uint64
		err            error
	}
	readCh := make(chan readResult, 1)
	go func() {
		data, metadata, version, err := mgr.ReadAcquire(ctx, local)
		dataCopy := append([]byte{}, data...)
		metaCopy := append([]byte{}, metadata...)
		readCh <- readResult{dataCopy, metaCopy, version, err}
	}()

	_, err = fwd.PushMutableObject(ctx, &rpc.PushMutableObjectRequest{
		ObjectID:     remote.Bytes(),
		DataSize:     3,
		MetadataSize: 1,
		Bytes:        []byte{0xDE, 0xAD, 0xBE, 0xEF},
	})
	require.NoError(t, err)

	select {
	case res := <-readCh:
		require.NoError(t, res.err)
		require.Equal(t, []byte{0xDE, 0xAD, 0xBE}, res.data)
		require.Equal(t, []byte{0xEF}, res.metadata)
		require.Equal(t, uint64(1), res.version)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for local read")
	}

	require.NoError(t, mgr.ReadRelease(ctx, local))
}

// TestRegisterWriterChannelForwardsLocalWrites drives the writer-side
// forwarding path end to end: RegisterWriterChannel's poll goroutine must
// itself ReadAcquire locally-written versions and push each one out over the
// RPC client, exercising pollWriter rather than simulating its effect by
// calling PushMutableObject directly.
func TestRegisterWriterChannelForwardsLocalWrites(t *testing.T) {
	writerAlloc := shmalloc.New(64)
	writerMgr := channel.New(nil)
	readerAlloc := shmalloc.New(64)
	readerMgr := channel.New(nil)
	dial := rpc.NewBufconnDialer()
	t.Cleanup(func() { dial.Close() })

	readerFwd := New(readerAlloc, readerMgr, dial, nil)
	t.Cleanup(func() { readerFwd.Close() })
	require.NoError(t, dial.RegisterNode(rpc.NodeID("node-b"), readerFwd, 0))

	writerFwd := New(writerAlloc, writerMgr, dial, nil)
	t.Cleanup(func() { writerFwd.Close() })

	ctx := context.Background()
	remote := objectid.New() // the forwarded object id, as both sides name it
	local := objectid.New()  // the reader node's local mirror of it

	_, err := readerFwd.RegisterMutableObject(ctx, &rpc.RegisterMutableObjectRequest{
		RemoteObjectID: remote.Bytes(),
		NumReaders:     1,
		LocalObjectID:  local.Bytes(),
	})
	require.NoError(t, err)

	localObj, err := readerAlloc.GetMutableObject(local)
	require.NoError(t, err)
	require.NoError(t, readerMgr.RegisterChannel(ctx, local, localObj, channel.RoleReader))

	require.NoError(t, writerFwd.RegisterWriterChannel(ctx, remote, rpc.NodeID("node-b")))

	// Simulate the application that owns this object actually producing
	// writes: register as writer on the same manager RegisterWriterChannel
	// registered as reader on, then publish a version.
	remoteObj, err := writerAlloc.GetMutableObject(remote)
	require.NoError(t, err)
	require.NoError(t, writerMgr.RegisterChannel(ctx, remote, remoteObj, channel.RoleWriter))

	buf, err := writerMgr.WriteAcquire(ctx, remote, 3, []byte{0xEF}, 1, 1)
	require.NoError(t, err)
	copy(buf, []byte{0xDE, 0xAD, 0xBE})
	require.NoError(t, writerMgr.WriteRelease(ctx, remote))

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	data, metadata, version, err := readerMgr.ReadAcquire(readCtx, local)
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE}, data)
	require.Equal(t, []byte{0xEF}, metadata)
	require.Equal(t, uint64(1), version)
	require.NoError(t, readerMgr.ReadRelease(ctx, local))
}

// TestPollWriterReleasesLocalReadOnPushFailure confirms that when the
// forwarding RPC fails, pollWriter still calls ReadRelease on the local
// channel rather than leaving the reader slot held forever: a second local
// WriteAcquire issued right after must still complete within a bounded
// time.
func TestPollWriterReleasesLocalReadOnPushFailure(t *testing.T) {
	alloc := shmalloc.New(64)
	mgr := channel.New(nil)

	fwd := New(alloc, mgr, erroringDialer{}, nil)
	t.Cleanup(func() { fwd.Close() })

	ctx := context.Background()
	id := objectid.New()

	require.NoError(t, fwd.RegisterWriterChannel(ctx, id, rpc.NodeID("node-x")))

	obj, err := alloc.GetMutableObject(id)
	require.NoError(t, err)
	require.NoError(t, mgr.RegisterChannel(ctx, id, obj, channel.RoleWriter))

	buf, err := mgr.WriteAcquire(ctx, id, 1, nil, 0, 1)
	require.NoError(t, err)
	buf[0] = 0x01
	require.NoError(t, mgr.WriteRelease(ctx, id))

	// pollWriter observes this version, fails the push against
	// erroringClient, but must still ReadRelease so this second
	// WriteAcquire does not block forever behind a reader slot a failed
	// push left held.
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = mgr.WriteAcquire(writeCtx, id, 1, nil, 0, 1)
	require.NoError(t, err)
	require.NoError(t, mgr.WriteRelease(ctx, id))
}

// TestPushUnregisteredRemoteObject confirms an inbound push for a remote id
// nobody called RegisterMutableObject for is rejected, not silently dropped.
func TestPushUnregisteredRemoteObject(t *testing.T) {
	alloc := shmalloc.New(64)
	mgr := channel.New(nil)
	dial := rpc.NewBufconnDialer()
	t.Cleanup(func() { dial.Close() })

	fwd := New(alloc, mgr, dial, nil)
	t.Cleanup(func() { fwd.Close() })

	_, err := fwd.PushMutableObject(context.Background(), &rpc.PushMutableObjectRequest{
		ObjectID:     objectid.New().Bytes(),
		DataSize:     1,
		MetadataSize: 0,
		Bytes:        []byte{0x01},
	})
	require.Error(t, err)
}

// TestRegisterMutableObjectRejectsDuplicate confirms a second registration of
// the same remote object id is rejected rather than silently overwriting the
// mapping.
func TestRegisterMutableObjectRejectsDuplicate(t *testing.T) {
	alloc := shmalloc.New(64)
	mgr := channel.New(nil)
	dial := rpc.NewBufconnDialer()
	t.Cleanup(func() { dial.Close() })

	fwd := New(alloc, mgr, dial, nil)
	t.Cleanup(func() { fwd.Close() })

	ctx := context.Background()
	req := &rpc.RegisterMutableObjectRequest{
		RemoteObjectID: objectid.New().Bytes(),
		NumReaders:     1,
		LocalObjectID:  objectid.New().Bytes(),
	}
	_, err := fwd.RegisterMutableObject(ctx, req)
	require.NoError(t, err)

	_, err = fwd.RegisterMutableObject(ctx, req)
	require.Error(t, err)
}
