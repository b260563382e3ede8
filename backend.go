package meander

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ConnectionEntry pairs a registered connection id with its socket.
// Snapshots are made of these.
type ConnectionEntry struct {
	ID     string
	Socket Socket
}

// Backend is the storage interface behind ConnectionManager. The default is
// the in-process MemoryBackend; a distributed backend (see the natsbackend
// package) can replace it without changing call sites.
//
// Snapshot must return a consistent view taken at call time: later
// membership changes must not affect a snapshot already returned.
type Backend interface {
	AddConnection(ctx context.Context, id string, sock Socket) error
	RemoveConnection(ctx context.Context, id string) error
	JoinRoom(ctx context.Context, id string, room string) error
	LeaveRoom(ctx context.Context, id string, room string) error
	Connection(ctx context.Context, id string) (Socket, error)

	// Snapshot returns the current members matching the filter. An empty
	// room selects every registered connection.
	Snapshot(ctx context.Context, room string, exclude map[string]bool) ([]ConnectionEntry, error)

	// Rooms returns the names of rooms with at least one member.
	Rooms(ctx context.Context) ([]string, error)
}

// MemoryBackend is the default in-process Backend. One mutex serializes all
// membership mutation so concurrent tasks cannot interleave inconsistently;
// snapshots are taken under that same lock.
type MemoryBackend struct {
	mu          sync.Mutex
	connections map[string]Socket
	rooms       map[string]map[string]bool
}

var _ Backend = &MemoryBackend{}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		connections: map[string]Socket{},
		rooms:       map[string]map[string]bool{},
	}
}

func (b *MemoryBackend) AddConnection(ctx context.Context, id string, sock Socket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.connections[id]; exists {
		return fmt.Errorf("connection %q: %w", id, ErrConnectionExists)
	}
	b.connections[id] = sock
	return nil
}

// RemoveConnection deregisters a connection and purges it from every room.
// Rooms left empty are pruned. Removing an unknown id is a no-op.
func (b *MemoryBackend) RemoveConnection(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.connections, id)
	for room, members := range b.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	return nil
}

func (b *MemoryBackend) JoinRoom(ctx context.Context, id string, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.connections[id]; !exists {
		return fmt.Errorf("connection %q: %w", id, ErrConnectionNotFound)
	}
	members, ok := b.rooms[room]
	if !ok {
		members = map[string]bool{}
		b.rooms[room] = members
	}
	members[id] = true
	return nil
}

// LeaveRoom removes the connection from the room. Leaving a room the
// connection isn't in, or an unknown room, is a silent no-op.
func (b *MemoryBackend) LeaveRoom(ctx context.Context, id string, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[room]
	if !ok {
		return nil
	}
	delete(members, id)
	if len(members) == 0 {
		delete(b.rooms, room)
	}
	return nil
}

func (b *MemoryBackend) Connection(ctx context.Context, id string) (Socket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sock, ok := b.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", id, ErrConnectionNotFound)
	}
	return sock, nil
}

func (b *MemoryBackend) Snapshot(ctx context.Context, room string, exclude map[string]bool) ([]ConnectionEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	if room == "" {
		for id := range b.connections {
			ids = append(ids, id)
		}
	} else {
		for id := range b.rooms[room] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	entries := make([]ConnectionEntry, 0, len(ids))
	for _, id := range ids {
		if exclude[id] {
			continue
		}
		sock, ok := b.connections[id]
		if !ok {
			continue
		}
		entries = append(entries, ConnectionEntry{ID: id, Socket: sock})
	}
	return entries, nil
}

func (b *MemoryBackend) Rooms(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rooms := make([]string, 0, len(b.rooms))
	for room := range b.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms, nil
}
