// Package channel implements the Channel Manager: a process-local, keyed
// store of per-object Channel records that wires the Object Header protocol
// (internal/header) to named cross-process semaphores (internal/semaphore)
// on behalf of a writer or reader.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jackhumphries/mutablechannel/allocator"
	"github.com/jackhumphries/mutablechannel/internal/header"
	"github.com/jackhumphries/mutablechannel/internal/semaphore"
	"github.com/jackhumphries/mutablechannel/objectid"
)

// Role is who a process registered as for a given object.
type Role int

const (
	RoleReader Role = iota
	RoleWriter
)

// Sentinel error kinds. Callers should compare with errors.Is; operations
// wrap these with additional context via fmt.Errorf("%w: ...").
var (
	ErrNotRegistered       = errors.New("channel: object is not registered")
	ErrInvalidRegistration = errors.New("channel: role already registered for this object")
	ErrInvalidArgument     = errors.New("channel: invalid argument")
	ErrChannelError        = header.ErrChannelError
)

// Channel is the per-process record for one registered object.
type Channel struct {
	mutableObject allocator.MutableObject

	readerRegistered bool
	writerRegistered bool
	written          bool
	read             bool

	nextVersionToRead uint64
	readerMutex       sync.Mutex
}

// Manager is the process-local Channel Manager. It is safe for concurrent
// use.
type Manager struct {
	log *zap.Logger

	mu         sync.Mutex
	channels   map[objectid.ID]*Channel
	semaphores map[objectid.ID]semaphore.Pair
}

// New returns an empty Manager.
func New(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:        log.Named("channel"),
		channels:   make(map[objectid.ID]*Channel),
		semaphores: make(map[objectid.ID]semaphore.Pair),
	}
}

// RegisterChannel registers obj under id for the given role. Re-registering
// the same role for an already-known object is rejected with
// ErrInvalidRegistration; registering the other role for the same object
// (e.g. a writer joining a channel a reader already opened) is allowed, as
// is re-registering an unknown object.
func (m *Manager) RegisterChannel(ctx context.Context, id objectid.ID, obj allocator.MutableObject, role Role) error {
	m.mu.Lock()
	ch, exists := m.channels[id]
	if !exists {
		ch = &Channel{mutableObject: obj, nextVersionToRead: 1}
		m.channels[id] = ch
	}

	if role == RoleReader {
		if ch.readerRegistered {
			m.mu.Unlock()
			return fmt.Errorf("%w: reader already registered for %s", ErrInvalidRegistration, id)
		}
		ch.readerRegistered = true
	} else {
		if ch.writerRegistered {
			m.mu.Unlock()
			return fmt.Errorf("%w: writer already registered for %s", ErrInvalidRegistration, id)
		}
		ch.writerRegistered = true
	}
	m.mu.Unlock()

	return m.openSemaphores(ctx, id, ch.mutableObject.Header, ch.mutableObject.UniqueName)
}

// openSemaphores ensures this process has both semaphore handles for id
// open, creating them on first use via the header's creation latch.
func (m *Manager) openSemaphores(ctx context.Context, id objectid.ID, hdr *header.Header, uniqueName string) error {
	m.mu.Lock()
	if _, ok := m.semaphores[id]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	pair, err := semaphore.Open(ctx, uniqueName, hdr)
	if err != nil {
		return fmt.Errorf("channel: open semaphores for %s: %w", id, err)
	}

	m.mu.Lock()
	m.semaphores[id] = pair
	m.mu.Unlock()
	return nil
}

// getChannel returns the channel for id, or ErrNotRegistered.
func (m *Manager) getChannel(id objectid.ID) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return ch, nil
}

// getSemaphores returns a copy of the semaphore pair for id. A copy, not a
// pointer into the map, since the map offers no pointer stability across
// mutation.
func (m *Manager) getSemaphores(id objectid.ID) (semaphore.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.semaphores[id]
	if !ok {
		return semaphore.Pair{}, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return pair, nil
}

// GetHeader returns the shared-memory header for id.
func (m *Manager) GetHeader(id objectid.ID) (*header.Header, error) {
	ch, err := m.getChannel(id)
	if err != nil {
		return nil, err
	}
	return ch.mutableObject.Header, nil
}

// WriteAcquire validates the payload against the object's allocated
// capacity, runs the header's WriteAcquire protocol, and returns the first
// dataSize+metadataSize bytes of the buffer: the data region followed by the
// metadata region. If metadata is non-empty it is copied into that tail,
// immediately after the data region. Once the channel is errored it returns
// ErrChannelError.
func (m *Manager) WriteAcquire(ctx context.Context, id objectid.ID, dataSize uint64, metadata []byte, metadataSize uint64, numReaders uint64) ([]byte, error) {
	ch, err := m.getChannel(id)
	if err != nil {
		return nil, err
	}
	if ch.mutableObject.Header.HasError() {
		return nil, fmt.Errorf("%w: %s", ErrChannelError, id)
	}
	if !ch.writerRegistered {
		return nil, fmt.Errorf("%w: no writer registered for %s", ErrInvalidRegistration, id)
	}
	if ch.written {
		return nil, fmt.Errorf("%w: WriteAcquire called before matching WriteRelease", ErrInvalidArgument)
	}

	total := dataSize + metadataSize
	if total > ch.mutableObject.AllocatedSize {
		return nil, fmt.Errorf("%w: data_size(%d)+metadata_size(%d) exceeds allocated_size(%d)",
			ErrInvalidArgument, dataSize, metadataSize, ch.mutableObject.AllocatedSize)
	}

	pair, err := m.getSemaphores(id)
	if err != nil {
		return nil, err
	}

	if err := ch.mutableObject.Header.WriteAcquire(ctx, pair, dataSize, metadataSize, numReaders); err != nil {
		return nil, translateHeaderErr(err)
	}

	buf := ch.mutableObject.Buffer[:total]
	if len(metadata) > 0 {
		copy(buf[dataSize:], metadata)
	}
	ch.written = true
	return buf, nil
}

// WriteRelease publishes the version written since the matching
// WriteAcquire.
func (m *Manager) WriteRelease(ctx context.Context, id objectid.ID) error {
	ch, err := m.getChannel(id)
	if err != nil {
		return err
	}
	if !ch.written {
		return fmt.Errorf("%w: WriteRelease called without a matching WriteAcquire", ErrInvalidArgument)
	}

	pair, err := m.getSemaphores(id)
	if err != nil {
		return err
	}

	if err := ch.mutableObject.Header.WriteRelease(ctx, pair); err != nil {
		return translateHeaderErr(err)
	}
	ch.written = false
	return nil
}

// ReadAcquire serializes local readers of this channel via ReaderMutex, then
// runs the header's ReadAcquire protocol starting from the channel's
// NextVersionToRead. It returns non-overlapping data and metadata slices
// sized by the header, plus the version actually observed. Once the channel
// is errored it returns ErrChannelError.
func (m *Manager) ReadAcquire(ctx context.Context, id objectid.ID) (data, metadata []byte, version uint64, err error) {
	ch, err := m.getChannel(id)
	if err != nil {
		return nil, nil, 0, err
	}
	if ch.mutableObject.Header.HasError() {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrChannelError, id)
	}
	if !ch.readerRegistered {
		return nil, nil, 0, fmt.Errorf("%w: no reader registered for %s", ErrInvalidRegistration, id)
	}

	ch.readerMutex.Lock()

	pair, err := m.getSemaphores(id)
	if err != nil {
		ch.readerMutex.Unlock()
		return nil, nil, 0, err
	}

	versionRead, err := ch.mutableObject.Header.ReadAcquire(ctx, pair, ch.nextVersionToRead)
	if err != nil {
		ch.readerMutex.Unlock()
		return nil, nil, 0, translateHeaderErr(err)
	}
	ch.nextVersionToRead = versionRead
	ch.read = true

	dataSize := ch.mutableObject.Header.DataSize()
	metadataSize := ch.mutableObject.Header.MetadataSize()
	data = ch.mutableObject.Buffer[:dataSize]
	metadata = ch.mutableObject.Buffer[dataSize : dataSize+metadataSize]
	return data, metadata, versionRead, nil
}

// ReadRelease completes the matching ReadAcquire, advances NextVersionToRead,
// and releases ReaderMutex. The ordering (semaphore release, then mutex
// unlock) mirrors ReadAcquire, which takes ReaderMutex before the semaphore
// wait, so ReaderMutex brackets the whole acquire/release pair.
func (m *Manager) ReadRelease(ctx context.Context, id objectid.ID) error {
	ch, err := m.getChannel(id)
	if err != nil {
		return err
	}
	if !ch.read {
		return fmt.Errorf("%w: ReadRelease called without a matching ReadAcquire", ErrInvalidArgument)
	}

	pair, err := m.getSemaphores(id)
	if err != nil {
		ch.readerMutex.Unlock()
		return err
	}

	err = ch.mutableObject.Header.ReadRelease(ctx, pair, ch.nextVersionToRead)
	ch.nextVersionToRead++
	ch.read = false
	ch.readerMutex.Unlock()
	if err != nil {
		return translateHeaderErr(err)
	}
	return nil
}

// SetError marks id's channel errored, unblocking any peer waiting on it,
// and clears its registration flags.
func (m *Manager) SetError(id objectid.ID) error {
	ch, err := m.getChannel(id)
	if err != nil {
		return err
	}
	pair, err := m.getSemaphores(id)
	if err != nil {
		return err
	}
	if err := ch.mutableObject.Header.SetErrorUnlocked(pair); err != nil {
		return err
	}

	m.mu.Lock()
	ch.readerRegistered = false
	ch.writerRegistered = false
	m.mu.Unlock()
	return nil
}

// SetErrorAll marks every registered channel errored. Used during teardown.
func (m *Manager) SetErrorAll() error {
	m.mu.Lock()
	ids := make([]objectid.ID, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.SetError(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close tears the Manager down: it sets error on every channel first (so any
// peer blocked on a semaphore unblocks), then closes and unlinks every
// semaphore pair. The semaphore map is snapshotted before iterating, since
// the unlink step mutates it as destruction proceeds.
func (m *Manager) Close() error {
	if err := m.SetErrorAll(); err != nil {
		m.log.Warn("error signalling channels during close", zap.Error(err))
	}

	m.mu.Lock()
	tmp := make(map[objectid.ID]semaphore.Pair, len(m.semaphores))
	for id, pair := range m.semaphores {
		tmp[id] = pair
	}
	m.mu.Unlock()

	var firstErr error
	for id, pair := range tmp {
		uniqueName := id.String()
		if ch, err := m.getChannel(id); err == nil {
			uniqueName = ch.mutableObject.UniqueName
		}

		if err := pair.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channel: close semaphores for %s: %w", id, err)
		}
		if err := semaphore.Unlink(uniqueName); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channel: unlink semaphores for %s: %w", id, err)
		}

		m.mu.Lock()
		delete(m.semaphores, id)
		m.mu.Unlock()
	}
	return firstErr
}

func translateHeaderErr(err error) error {
	if errors.Is(err, header.ErrChannelError) {
		return err
	}
	return fmt.Errorf("channel: %w", err)
}
