package meander

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ConnectionManager tracks live connections and their room memberships
// behind a pluggable Backend, and delivers targeted or room-wide messages.
// It is an application-level utility: resources call into it, the router
// does not depend on it.
type ConnectionManager struct {
	backend Backend
	logger  *zap.Logger
}

// ManagerOption configures a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithBackend replaces the default in-process backend.
func WithBackend(backend Backend) ManagerOption {
	return func(m *ConnectionManager) {
		m.backend = backend
	}
}

// WithManagerLogger sets the manager's logger. Defaults to a no-op logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *ConnectionManager) {
		m.logger = logger
	}
}

// NewConnectionManager creates a connection manager backed by an in-process
// MemoryBackend unless WithBackend overrides it.
func NewConnectionManager(opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		backend: NewMemoryBackend(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddConnection registers a connection under id. A duplicate id yields
// ErrConnectionExists.
func (m *ConnectionManager) AddConnection(ctx context.Context, id string, sock Socket) error {
	return m.backend.AddConnection(ctx, id, sock)
}

// RemoveConnection deregisters the connection and purges it from every
// room; rooms left empty disappear. Unknown ids are a no-op.
func (m *ConnectionManager) RemoveConnection(ctx context.Context, id string) error {
	return m.backend.RemoveConnection(ctx, id)
}

// JoinRoom adds the connection to a room, creating the room on first join.
// An unregistered id yields ErrConnectionNotFound.
func (m *ConnectionManager) JoinRoom(ctx context.Context, id string, room string) error {
	return m.backend.JoinRoom(ctx, id, room)
}

// LeaveRoom removes the connection from a room. Leaving a room the
// connection isn't in, or an unknown room, is a silent no-op.
func (m *ConnectionManager) LeaveRoom(ctx context.Context, id string, room string) error {
	return m.backend.LeaveRoom(ctx, id, room)
}

// SendToConnection delivers data to one connection. An unregistered id
// yields ErrConnectionNotFound.
func (m *ConnectionManager) SendToConnection(ctx context.Context, id string, data any) error {
	sock, err := m.backend.Connection(ctx, id)
	if err != nil {
		return err
	}
	return sock.SendMedia(ctx, data)
}

// BroadcastOption configures a broadcast or connection iteration.
type BroadcastOption func(*broadcastConfig)

type broadcastConfig struct {
	room    string
	exclude map[string]bool
}

// WithExclude omits the given connection ids from a broadcast or iteration.
func WithExclude(ids ...string) BroadcastOption {
	return func(cfg *broadcastConfig) {
		if cfg.exclude == nil {
			cfg.exclude = map[string]bool{}
		}
		for _, id := range ids {
			cfg.exclude[id] = true
		}
	}
}

// WithRoom restricts a Connections iteration to one room's members.
func WithRoom(room string) BroadcastOption {
	return func(cfg *broadcastConfig) {
		cfg.room = room
	}
}

// BroadcastToRoom sends data to every member of room except the excluded
// ids. Membership is snapshotted before any send is issued, so sends run
// concurrently against a frozen view. A single failed send is returned
// directly; several failures are joined so none is dropped.
func (m *ConnectionManager) BroadcastToRoom(ctx context.Context, room string, data any, opts ...BroadcastOption) error {
	cfg := &broadcastConfig{room: room}
	for _, opt := range opts {
		opt(cfg)
	}

	entries, err := m.backend.Snapshot(ctx, room, cfg.exclude)
	if err != nil {
		return err
	}

	sendErrs := make([]error, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry ConnectionEntry) {
			defer wg.Done()
			sendErrs[i] = entry.Socket.SendMedia(ctx, data)
		}(i, entry)
	}
	wg.Wait()

	var failed []error
	for i, sendErr := range sendErrs {
		if sendErr != nil {
			m.logger.Warn("broadcast send failed",
				zap.String("room", room),
				zap.String("connection_id", entries[i].ID),
				zap.Error(sendErr))
			failed = append(failed, sendErr)
		}
	}
	if len(failed) == 1 {
		return failed[0]
	}
	return errors.Join(failed...)
}

// Connections returns a lazy, one-shot iterator over live sockets matching
// the filter. The iteration is consistent with a snapshot taken at call
// time; membership changes made while iterating are not reflected.
func (m *ConnectionManager) Connections(ctx context.Context, opts ...BroadcastOption) (*ConnectionIter, error) {
	cfg := &broadcastConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	entries, err := m.backend.Snapshot(ctx, cfg.room, cfg.exclude)
	if err != nil {
		return nil, err
	}
	return &ConnectionIter{entries: entries}, nil
}

// Rooms returns the names of rooms that currently have members.
func (m *ConnectionManager) Rooms(ctx context.Context) ([]string, error) {
	return m.backend.Rooms(ctx)
}

// ConnectionIter iterates a snapshot of connections. Use it like a cursor:
//
//	iter, _ := manager.Connections(ctx, meander.WithRoom("lobby"))
//	for iter.Next() {
//	    _ = iter.Socket().SendMedia(ctx, data)
//	}
type ConnectionIter struct {
	entries []ConnectionEntry
	index   int
	started bool
}

// Next advances the iterator. It returns false once the snapshot is
// exhausted.
func (it *ConnectionIter) Next() bool {
	if !it.started {
		it.started = true
	} else {
		it.index++
	}
	return it.index < len(it.entries)
}

// ID returns the connection id at the current position.
func (it *ConnectionIter) ID() string {
	return it.entries[it.index].ID
}

// Socket returns the socket at the current position.
func (it *ConnectionIter) Socket() Socket {
	return it.entries[it.index].Socket
}
