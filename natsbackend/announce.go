package natsbackend

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Announcement handlers keep this node's mirror of the cluster state
// current. Announcements originating from this node are ignored; the local
// maps were already updated by the publishing call.

func (b *Backend) handlePresenceOpen(msg *nats.Msg) {
	var announcement presenceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		b.logger.Warn("malformed presence announcement", zap.Error(err))
		return
	}
	if announcement.NodeID == b.nodeID {
		return
	}

	b.mu.Lock()
	b.remote[announcement.ConnectionID] = announcement.NodeID
	b.mu.Unlock()
}

func (b *Backend) handlePresenceClose(msg *nats.Msg) {
	var announcement presenceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		b.logger.Warn("malformed presence announcement", zap.Error(err))
		return
	}
	if announcement.NodeID == b.nodeID {
		return
	}

	b.mu.Lock()
	delete(b.remote, announcement.ConnectionID)
	b.purgeFromRoomsLocked(announcement.ConnectionID)
	b.mu.Unlock()
}

func (b *Backend) handleRoomJoin(msg *nats.Msg) {
	var announcement membershipMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		b.logger.Warn("malformed membership announcement", zap.Error(err))
		return
	}
	if announcement.NodeID == b.nodeID {
		return
	}

	b.mu.Lock()
	b.joinRoomLocked(announcement.ConnectionID, announcement.Room)
	b.mu.Unlock()
}

func (b *Backend) handleRoomLeave(msg *nats.Msg) {
	var announcement membershipMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		b.logger.Warn("malformed membership announcement", zap.Error(err))
		return
	}
	if announcement.NodeID == b.nodeID {
		return
	}

	b.mu.Lock()
	b.leaveRoomLocked(announcement.ConnectionID, announcement.Room)
	b.mu.Unlock()
}

// handleSend delivers media forwarded by a peer node to a locally-owned
// socket.
func (b *Backend) handleSend(msg *nats.Msg) {
	var forwarded sendMessage
	if err := json.Unmarshal(msg.Data, &forwarded); err != nil {
		b.logger.Warn("malformed forwarded send", zap.Error(err))
		return
	}

	b.mu.Lock()
	sock, ok := b.local[forwarded.ConnectionID]
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("forwarded send for unknown connection",
			zap.String("connection_id", forwarded.ConnectionID))
		return
	}

	if err := sock.SendMedia(context.Background(), forwarded.Data); err != nil {
		b.logger.Warn("failed to deliver forwarded send",
			zap.String("connection_id", forwarded.ConnectionID), zap.Error(err))
	}
}
