package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meanderkit/meander"
)

type chatMessage struct {
	Text string `json:"text"`
}

type chatRoomResource struct {
	meander.BaseResource
	manager *meander.ConnectionManager
	connID  string
}

func newChatRoomResource(manager *meander.ConnectionManager) meander.Factory {
	return func() meander.Resource {
		r := &chatRoomResource{manager: manager}
		r.UseHandlers(buildChatHandlers(r))
		return r
	}
}

// buildChatHandlers binds the room handlers to one resource instance so
// they can reach the connection manager and the resolved room name.
func buildChatHandlers(r *chatRoomResource) *meander.HandlerTable {
	table := meander.NewHandlerTable()
	meander.On(table, "message", func(ctx context.Context, sock meander.Socket, payload *chatMessage) error {
		room := r.Params().Get("room")
		return r.manager.BroadcastToRoom(ctx, room, map[string]any{
			"type": "message",
			"payload": map[string]string{
				"from": r.connID,
				"text": payload.Text,
			},
		}, meander.WithExclude(r.connID))
	})
	return table
}

func (r *chatRoomResource) OnConnect(ctx context.Context, req *meander.Request, sock meander.Socket, params meander.Params) (bool, error) {
	room := params.Get("room")
	if room == "" {
		return false, nil
	}

	r.connID = uuid.NewString()
	if err := r.manager.AddConnection(ctx, r.connID, sock); err != nil {
		return false, err
	}
	if err := r.manager.JoinRoom(ctx, r.connID, room); err != nil {
		return false, err
	}
	return true, nil
}

func (r *chatRoomResource) OnDisconnect(ctx context.Context, sock meander.Socket, closeCode meander.Status) error {
	if r.connID == "" {
		return nil
	}
	return r.manager.RemoveConnection(ctx, r.connID)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	manager := meander.NewConnectionManager(meander.WithManagerLogger(logger))

	hooks := meander.NewHookCollection(nil)
	hooks.MustAdd(meander.AfterConnect, func(ctx context.Context, hctx *meander.HookContext) error {
		logger.Info("connection",
			zap.String("path", hctx.Request.Path),
			zap.Bool("accepted", hctx.Result))
		return nil
	})

	router := meander.NewRouter(
		meander.WithLogger(logger),
		meander.WithHooks(hooks),
	)
	router.AddRoute("/rooms/{room}", newChatRoomResource(manager), meander.WithName("room"))

	// a background worker announces the server time to every room
	controller := meander.NewWorkerController(meander.WithWorkerLogger(logger))
	err = controller.Start(context.Background(), func(ctx context.Context) error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				rooms, err := manager.Rooms(ctx)
				if err != nil {
					return err
				}
				for _, room := range rooms {
					_ = manager.BroadcastToRoom(ctx, room, map[string]any{
						"type":    "server-time",
						"payload": map[string]int64{"unix": time.Now().Unix()},
					})
				}
			}
		}
	})
	if err != nil {
		logger.Fatal("failed to start workers", zap.Error(err))
	}
	defer controller.Stop()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", zap.Error(err))
			return
		}

		sock := meander.NewWebSocketSocket(wsConn, nil)
		conn, err := router.OnConnection(r.Context(), &meander.Request{
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			Header:     r.Header,
		}, sock)
		if err != nil {
			logger.Warn("connection rejected", zap.Error(err))
			return
		}
		if conn == nil {
			return
		}

		ctx := context.Background()
		defer conn.Close(ctx, meander.StatusNormalClosure)
		for {
			raw, err := sock.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					logger.Debug("read loop ended", zap.Error(err))
				}
				return
			}
			if err := conn.Dispatch(ctx, raw); err != nil {
				logger.Warn("dispatch failed", zap.Error(err))
			}
		}
	})

	logger.Info("starting server", zap.String("addr", ":8167"))
	if err := http.ListenAndServe(":8167", nil); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
