package natsbackend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/meanderkit/meander"
)

// remoteSocket is a meander.Socket handle for a connection owned by a peer
// node. SendMedia forwards the value to the owner over NATS; lifecycle
// operations are not available remotely.
type remoteSocket struct {
	backend      *Backend
	nodeID       string
	connectionID string
}

func (b *Backend) remoteSocket(nodeID string, connectionID string) meander.Socket {
	return &remoteSocket{
		backend:      b,
		nodeID:       nodeID,
		connectionID: connectionID,
	}
}

func (s *remoteSocket) Accept(ctx context.Context, subprotocol string) error {
	return errors.New("cannot accept a remote connection")
}

func (s *remoteSocket) Close(code meander.Status) error {
	return errors.New("cannot close a remote connection")
}

func (s *remoteSocket) SendMedia(ctx context.Context, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.backend.publish(s.backend.subject("send", s.nodeID), sendMessage{
		ConnectionID: s.connectionID,
		Data:         encoded,
	})
}
