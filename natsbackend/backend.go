// Package natsbackend provides a distributed ConnectionManager backend for
// meander built on NATS. Each process runs one Backend node: connections
// registered locally are announced on shared subjects, every node mirrors
// the announcements of its peers, and sends addressed to a connection owned
// by another node are forwarded over NATS to the owner.
//
// Media forwarded between nodes is carried as JSON; the owning node
// delivers it to the local socket as a raw JSON value.
package natsbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/meanderkit/meander"
)

type presenceMessage struct {
	NodeID       string `json:"nodeId"`
	ConnectionID string `json:"connectionId"`
}

type membershipMessage struct {
	NodeID       string `json:"nodeId"`
	ConnectionID string `json:"connectionId"`
	Room         string `json:"room"`
}

type sendMessage struct {
	ConnectionID string          `json:"connectionId"`
	Data         json.RawMessage `json:"data"`
}

// Backend is a meander.Backend whose connection and room registry spans
// every node subscribed to the same NATS subjects.
type Backend struct {
	conn   *nats.Conn
	nodeID string
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	local  map[string]meander.Socket
	remote map[string]string
	rooms  map[string]map[string]bool

	subs []*nats.Subscription
}

var _ meander.Backend = &Backend{}

// Option configures a Backend.
type Option func(*Backend)

// WithSubjectPrefix overrides the subject prefix shared by all nodes of one
// deployment. Defaults to "meander".
func WithSubjectPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// WithLogger sets the backend's logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates a backend node on the given NATS connection and subscribes to
// the peer announcement subjects. Call Close to withdraw the node's
// connections and drop the subscriptions.
func New(conn *nats.Conn, opts ...Option) (*Backend, error) {
	b := &Backend{
		conn:   conn,
		nodeID: uuid.NewString(),
		prefix: "meander",
		logger: zap.NewNop(),
		local:  map[string]meander.Socket{},
		remote: map[string]string{},
		rooms:  map[string]map[string]bool{},
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.subscribe(); err != nil {
		b.unsubscribe()
		return nil, err
	}
	return b, nil
}

func (b *Backend) subject(parts ...string) string {
	subject := b.prefix
	for _, part := range parts {
		subject += "." + part
	}
	return subject
}

func (b *Backend) subscribe() error {
	bindings := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{b.subject("presence", "open"), b.handlePresenceOpen},
		{b.subject("presence", "close"), b.handlePresenceClose},
		{b.subject("room", "join"), b.handleRoomJoin},
		{b.subject("room", "leave"), b.handleRoomLeave},
		{b.subject("send", b.nodeID), b.handleSend},
	}

	for _, binding := range bindings {
		sub, err := b.conn.Subscribe(binding.subject, binding.handler)
		if err != nil {
			return err
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

func (b *Backend) unsubscribe() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	b.subs = nil
}

// Close withdraws every locally-registered connection from the cluster and
// drops the node's subscriptions.
func (b *Backend) Close() error {
	b.mu.Lock()
	localIDs := make([]string, 0, len(b.local))
	for id := range b.local {
		localIDs = append(localIDs, id)
	}
	b.mu.Unlock()

	for _, id := range localIDs {
		if err := b.RemoveConnection(context.Background(), id); err != nil {
			b.logger.Warn("failed to withdraw connection", zap.String("connection_id", id), zap.Error(err))
		}
	}

	b.unsubscribe()
	return nil
}

func (b *Backend) publish(subject string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

func (b *Backend) AddConnection(ctx context.Context, id string, sock meander.Socket) error {
	b.mu.Lock()
	_, localExists := b.local[id]
	_, remoteExists := b.remote[id]
	if localExists || remoteExists {
		b.mu.Unlock()
		return fmt.Errorf("connection %q: %w", id, meander.ErrConnectionExists)
	}
	b.local[id] = sock
	b.mu.Unlock()

	return b.publish(b.subject("presence", "open"), presenceMessage{
		NodeID:       b.nodeID,
		ConnectionID: id,
	})
}

func (b *Backend) RemoveConnection(ctx context.Context, id string) error {
	b.mu.Lock()
	_, isLocal := b.local[id]
	delete(b.local, id)
	b.purgeFromRoomsLocked(id)
	b.mu.Unlock()

	if !isLocal {
		return nil
	}
	return b.publish(b.subject("presence", "close"), presenceMessage{
		NodeID:       b.nodeID,
		ConnectionID: id,
	})
}

func (b *Backend) JoinRoom(ctx context.Context, id string, room string) error {
	b.mu.Lock()
	if !b.knownLocked(id) {
		b.mu.Unlock()
		return fmt.Errorf("connection %q: %w", id, meander.ErrConnectionNotFound)
	}
	b.joinRoomLocked(id, room)
	b.mu.Unlock()

	return b.publish(b.subject("room", "join"), membershipMessage{
		NodeID:       b.nodeID,
		ConnectionID: id,
		Room:         room,
	})
}

func (b *Backend) LeaveRoom(ctx context.Context, id string, room string) error {
	b.mu.Lock()
	b.leaveRoomLocked(id, room)
	b.mu.Unlock()

	return b.publish(b.subject("room", "leave"), membershipMessage{
		NodeID:       b.nodeID,
		ConnectionID: id,
		Room:         room,
	})
}

func (b *Backend) Connection(ctx context.Context, id string) (meander.Socket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sock, ok := b.local[id]; ok {
		return sock, nil
	}
	if nodeID, ok := b.remote[id]; ok {
		return b.remoteSocket(nodeID, id), nil
	}
	return nil, fmt.Errorf("connection %q: %w", id, meander.ErrConnectionNotFound)
}

func (b *Backend) Snapshot(ctx context.Context, room string, exclude map[string]bool) ([]meander.ConnectionEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	if room == "" {
		for id := range b.local {
			ids = append(ids, id)
		}
		for id := range b.remote {
			ids = append(ids, id)
		}
	} else {
		for id := range b.rooms[room] {
			ids = append(ids, id)
		}
	}

	entries := make([]meander.ConnectionEntry, 0, len(ids))
	for _, id := range ids {
		if exclude[id] {
			continue
		}
		if sock, ok := b.local[id]; ok {
			entries = append(entries, meander.ConnectionEntry{ID: id, Socket: sock})
		} else if nodeID, ok := b.remote[id]; ok {
			entries = append(entries, meander.ConnectionEntry{ID: id, Socket: b.remoteSocket(nodeID, id)})
		}
	}
	return entries, nil
}

func (b *Backend) Rooms(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rooms := make([]string, 0, len(b.rooms))
	for room := range b.rooms {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (b *Backend) knownLocked(id string) bool {
	_, localExists := b.local[id]
	_, remoteExists := b.remote[id]
	return localExists || remoteExists
}

func (b *Backend) joinRoomLocked(id string, room string) {
	members, ok := b.rooms[room]
	if !ok {
		members = map[string]bool{}
		b.rooms[room] = members
	}
	members[id] = true
}

func (b *Backend) leaveRoomLocked(id string, room string) {
	members, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(b.rooms, room)
	}
}

func (b *Backend) purgeFromRoomsLocked(id string) {
	for room, members := range b.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
}
