package meander_test

import (
	"context"
	"errors"
	"testing"

	"github.com/meanderkit/meander"
)

func TestConnectionManagerRegistration(t *testing.T) {
	ctx := context.Background()
	manager := meander.NewConnectionManager()

	if err := manager.AddConnection(ctx, "a", &recorderSocket{}); err != nil {
		t.Fatal(err)
	}
	if err := manager.AddConnection(ctx, "a", &recorderSocket{}); !errors.Is(err, meander.ErrConnectionExists) {
		t.Fatalf("expected ErrConnectionExists, got %v", err)
	}

	if err := manager.RemoveConnection(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	// removal frees the id for reuse
	if err := manager.AddConnection(ctx, "a", &recorderSocket{}); err != nil {
		t.Fatal(err)
	}
	// unknown ids are a no-op
	if err := manager.RemoveConnection(ctx, "never-registered"); err != nil {
		t.Fatal(err)
	}
}

func TestConnectionManagerRooms(t *testing.T) {
	ctx := context.Background()
	manager := meander.NewConnectionManager()

	for _, id := range []string{"a", "b"} {
		if err := manager.AddConnection(ctx, id, &recorderSocket{}); err != nil {
			t.Fatal(err)
		}
	}

	if err := manager.JoinRoom(ctx, "ghost", "lobby"); !errors.Is(err, meander.ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound, got %v", err)
	}

	if err := manager.JoinRoom(ctx, "a", "lobby"); err != nil {
		t.Fatal(err)
	}
	if err := manager.JoinRoom(ctx, "b", "lobby"); err != nil {
		t.Fatal(err)
	}
	if err := manager.JoinRoom(ctx, "b", "games"); err != nil {
		t.Fatal(err)
	}

	rooms, err := manager.Rooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 || rooms[0] != "games" || rooms[1] != "lobby" {
		t.Errorf("expected sorted room names, got %v", rooms)
	}

	// leaving a room the connection isn't in is a no-op
	if err := manager.LeaveRoom(ctx, "a", "games"); err != nil {
		t.Fatal(err)
	}

	// the last member leaving dissolves the room
	if err := manager.LeaveRoom(ctx, "b", "games"); err != nil {
		t.Fatal(err)
	}
	rooms, _ = manager.Rooms(ctx)
	if len(rooms) != 1 || rooms[0] != "lobby" {
		t.Errorf("expected empty rooms to be pruned, got %v", rooms)
	}

	// removing a connection purges its memberships
	if err := manager.RemoveConnection(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := manager.RemoveConnection(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	rooms, _ = manager.Rooms(ctx)
	if len(rooms) != 0 {
		t.Errorf("expected no rooms after all members left, got %v", rooms)
	}
}

func TestConnectionManagerSendToConnection(t *testing.T) {
	ctx := context.Background()
	manager := meander.NewConnectionManager()
	sock := &recorderSocket{}

	if err := manager.AddConnection(ctx, "a", sock); err != nil {
		t.Fatal(err)
	}

	if err := manager.SendToConnection(ctx, "a", map[string]string{"hello": "world"}); err != nil {
		t.Fatal(err)
	}
	if sock.sentCount() != 1 {
		t.Errorf("expected one send, got %d", sock.sentCount())
	}

	if err := manager.SendToConnection(ctx, "ghost", "x"); !errors.Is(err, meander.ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound, got %v", err)
	}
}

// failingSocket fails every send with a fixed error.
type failingSocket struct {
	recorderSocket
	err error
}

func (s *failingSocket) SendMedia(ctx context.Context, data any) error {
	return s.err
}

func TestConnectionManagerBroadcast(t *testing.T) {
	ctx := context.Background()
	manager := meander.NewConnectionManager()

	socks := map[string]*recorderSocket{}
	for _, id := range []string{"a", "b", "c"} {
		sock := &recorderSocket{}
		socks[id] = sock
		if err := manager.AddConnection(ctx, id, sock); err != nil {
			t.Fatal(err)
		}
		if err := manager.JoinRoom(ctx, id, "lobby"); err != nil {
			t.Fatal(err)
		}
	}

	if err := manager.BroadcastToRoom(ctx, "lobby", "hi", meander.WithExclude("b")); err != nil {
		t.Fatal(err)
	}
	if socks["a"].sentCount() != 1 || socks["c"].sentCount() != 1 {
		t.Error("expected every non-excluded member to receive the broadcast")
	}
	if socks["b"].sentCount() != 0 {
		t.Error("excluded member must not receive the broadcast")
	}

	// broadcasting to an unknown room reaches nobody and is not an error
	if err := manager.BroadcastToRoom(ctx, "nowhere", "hi"); err != nil {
		t.Fatal(err)
	}
}

func TestConnectionManagerBroadcastAggregatesErrors(t *testing.T) {
	ctx := context.Background()
	manager := meander.NewConnectionManager()

	errA := errors.New("send to a failed")
	errB := errors.New("send to b failed")
	goodSock := &recorderSocket{}

	for id, sock := range map[string]meander.Socket{
		"a": &failingSocket{err: errA},
		"b": &failingSocket{err: errB},
		"c": goodSock,
	} {
		if err := manager.AddConnection(ctx, id, sock); err != nil {
			t.Fatal(err)
		}
		if err := manager.JoinRoom(ctx, id, "lobby"); err != nil {
			t.Fatal(err)
		}
	}

	err := manager.BroadcastToRoom(ctx, "lobby", "hi")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both send failures to be reported, got %v", err)
	}
	// a failure for one member never stops delivery to the others
	if goodSock.sentCount() != 1 {
		t.Error("expected the healthy member to receive the broadcast")
	}
}

func TestConnectionManagerIterator(t *testing.T) {
	ctx := context.Background()
	manager := meander.NewConnectionManager()

	for _, id := range []string{"a", "b", "c"} {
		if err := manager.AddConnection(ctx, id, &recorderSocket{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := manager.JoinRoom(ctx, "a", "lobby"); err != nil {
		t.Fatal(err)
	}
	if err := manager.JoinRoom(ctx, "b", "lobby"); err != nil {
		t.Fatal(err)
	}

	iter, err := manager.Connections(ctx, meander.WithRoom("lobby"), meander.WithExclude("b"))
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for iter.Next() {
		if iter.Socket() == nil {
			t.Error("expected a socket at each position")
		}
		ids = append(ids, iter.ID())

		// membership changes after the snapshot are invisible to the cursor
		if err := manager.JoinRoom(ctx, "c", "lobby"); err != nil {
			t.Fatal(err)
		}
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("expected snapshot iteration over [a], got %v", ids)
	}

	// no filter iterates every registered connection
	iter, err = manager.Connections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids = ids[:0]
	for iter.Next() {
		ids = append(ids, iter.ID())
	}
	if len(ids) != 3 {
		t.Errorf("expected all three connections, got %v", ids)
	}
}
