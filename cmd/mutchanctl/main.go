// Command mutchanctl is a small demonstration and diagnostic CLI for the
// mutable object channel stack. It stands up an allocator, a Channel
// Manager, and a Provider in a single process and drives them through a
// local write/read round trip and, optionally, a simulated cross-node push.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jackhumphries/mutablechannel/allocator/shmalloc"
	"github.com/jackhumphries/mutablechannel/channel"
	"github.com/jackhumphries/mutablechannel/internal/config"
	"github.com/jackhumphries/mutablechannel/internal/logging"
	"github.com/jackhumphries/mutablechannel/objectid"
	"github.com/jackhumphries/mutablechannel/provider"
	"github.com/jackhumphries/mutablechannel/rpc"
)

func main() {
	mode := flag.String("mode", "local", "demo to run: local, cross-node, or capacity")
	dataSize := flag.Int("data-size", 32, "bytes of payload data to exercise")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logging.Build(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zlog.Sync()

	var runErr error
	switch *mode {
	case "local":
		runErr = runLocal(zlog, cfg, *dataSize)
	case "cross-node":
		runErr = runCrossNode(zlog, cfg, *dataSize)
	case "capacity":
		runErr = runCapacityProbe(zlog, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: want local, cross-node, or capacity\n", *mode)
		os.Exit(2)
	}
	if runErr != nil {
		zlog.Fatal("demo failed", zap.Error(runErr))
	}
}

// runLocal exercises a single-node WriteAcquire/WriteRelease followed by a
// ReadAcquire/ReadRelease on the same object, the single-reader-single-writer
// shape.
func runLocal(zlog *zap.Logger, cfg *config.Config, dataSize int) error {
	alloc := shmalloc.New(cfg.Allocator.DefaultAllocatedSize)
	mgr := channel.New(zlog)
	defer mgr.Close()

	id := objectid.New()
	ctx := context.Background()

	obj, err := alloc.GetMutableObject(id)
	if err != nil {
		return fmt.Errorf("get mutable object: %w", err)
	}
	if err := mgr.RegisterChannel(ctx, id, obj, channel.RoleWriter); err != nil {
		return fmt.Errorf("register writer: %w", err)
	}
	if err := mgr.RegisterChannel(ctx, id, obj, channel.RoleReader); err != nil {
		return fmt.Errorf("register reader: %w", err)
	}

	payload := make([]byte, dataSize)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	buf, err := mgr.WriteAcquire(ctx, id, uint64(len(payload)), nil, 0, 1)
	if err != nil {
		return fmt.Errorf("write acquire: %w", err)
	}
	copy(buf, payload)
	if err := mgr.WriteRelease(ctx, id); err != nil {
		return fmt.Errorf("write release: %w", err)
	}

	data, metadata, version, err := mgr.ReadAcquire(ctx, id)
	if err != nil {
		return fmt.Errorf("read acquire: %w", err)
	}
	fmt.Printf("object %s: version=%d data_len=%d metadata_len=%d\n", id, version, len(data), len(metadata))
	return mgr.ReadRelease(ctx, id)
}

// runCrossNode exercises a cross-node push: a local object is pushed as
// though it arrived from a remote node, and a local reader observes the
// result. The push calls the Forwarder's PushMutableObject handler directly
// in-process; no RPC connection is dialed.
func runCrossNode(zlog *zap.Logger, cfg *config.Config, dataSize int) error {
	alloc := shmalloc.New(cfg.Allocator.DefaultAllocatedSize)
	mgr := channel.New(zlog)
	dial := rpc.NewBufconnDialer()
	defer dial.Close()

	fwd := provider.New(alloc, mgr, dial, zlog)
	defer fwd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remote := objectid.New()
	local := objectid.New()

	if _, err := fwd.RegisterMutableObject(ctx, &rpc.RegisterMutableObjectRequest{
		RemoteObjectID: remote.Bytes(),
		NumReaders:     1,
		LocalObjectID:  local.Bytes(),
	}); err != nil {
		return fmt.Errorf("register mutable object: %w", err)
	}

	localObj, err := alloc.GetMutableObject(local)
	if err != nil {
		return fmt.Errorf("get mutable object: %w", err)
	}
	if err := mgr.RegisterChannel(ctx, local, localObj, channel.RoleReader); err != nil {
		return fmt.Errorf("register reader: %w", err)
	}

	payload := make([]byte, dataSize)
	for i := range payload {
		payload[i] = byte((i * 7) % 256)
	}

	readDone := make(chan error, 1)
	go func() {
		data, metadata, version, err := mgr.ReadAcquire(ctx, local)
		if err == nil {
			fmt.Printf("local object %s: version=%d data_len=%d metadata_len=%d\n", local, version, len(data), len(metadata))
		}
		readDone <- err
	}()

	if _, err := fwd.PushMutableObject(ctx, &rpc.PushMutableObjectRequest{
		ObjectID:     remote.Bytes(),
		DataSize:     uint64(len(payload)),
		MetadataSize: 0,
		Bytes:        payload,
	}); err != nil {
		return fmt.Errorf("push mutable object: %w", err)
	}

	if err := <-readDone; err != nil {
		return fmt.Errorf("read acquire: %w", err)
	}
	return mgr.ReadRelease(ctx, local)
}

// runCapacityProbe walks increasing payload sizes against WriteAcquire,
// reporting OK or FAIL for each size against the allocated region. It is the
// equivalent, for this stack, of probing a ring buffer's usable capacity.
func runCapacityProbe(zlog *zap.Logger, cfg *config.Config) error {
	alloc := shmalloc.New(cfg.Allocator.DefaultAllocatedSize)
	mgr := channel.New(zlog)
	defer mgr.Close()

	id := objectid.New()
	ctx := context.Background()

	obj, err := alloc.GetMutableObject(id)
	if err != nil {
		return fmt.Errorf("get mutable object: %w", err)
	}
	if err := mgr.RegisterChannel(ctx, id, obj, channel.RoleWriter); err != nil {
		return fmt.Errorf("register writer: %w", err)
	}
	if err := mgr.RegisterChannel(ctx, id, obj, channel.RoleReader); err != nil {
		return fmt.Errorf("register reader: %w", err)
	}

	fmt.Printf("allocated_size: %d bytes\n", cfg.Allocator.DefaultAllocatedSize)
	sizes := []int{10, 100, 1000, 10000, 100000, 500000, 1000000, 1048576, 2000000}
	for _, size := range sizes {
		_, err := mgr.WriteAcquire(ctx, id, uint64(size), nil, 0, 1)
		if err != nil {
			fmt.Printf("size %d bytes: FAIL (%v)\n", size, err)
			continue
		}
		fmt.Printf("size %d bytes: OK\n", size)
		if err := mgr.WriteRelease(ctx, id); err != nil {
			return fmt.Errorf("write release at size %d: %w", size, err)
		}
		if _, _, _, err := mgr.ReadAcquire(ctx, id); err != nil {
			return fmt.Errorf("read acquire at size %d: %w", size, err)
		}
		if err := mgr.ReadRelease(ctx, id); err != nil {
			return fmt.Errorf("read release at size %d: %w", size, err)
		}
	}
	return nil
}
