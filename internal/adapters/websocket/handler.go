// Package websocket serves the live machine-data channel.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AxisFlow/internal/app/access"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

// Registry is the subscription bookkeeping the handler drives.
type Registry interface {
	Register(conn ports.LiveConn) error
	Subscribe(connID, machineID string) error
	Unsubscribe(connID, machineID string) bool
	Subscription(connID string) (string, bool)
	OnDisconnect(connID string)
}

type Options struct {
	OutboxSize   int
	WriteTimeout time.Duration
	ReadLimit    int64

	// OriginPatterns is passed to websocket.Accept; empty allows same-origin only.
	OriginPatterns []string
}

type Handler struct {
	reg     Registry
	obs     ports.Observability
	resolve access.RoleResolver
	opts    Options
}

func NewHandler(reg Registry, obs ports.Observability, resolve access.RoleResolver, opts Options) *Handler {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 4096
	}
	if resolve == nil {
		resolve = access.HeaderResolver("")
	}
	return &Handler{reg: reg, obs: obs, resolve: resolve, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role, err := h.resolve(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err := access.Check(role, access.OpLiveSubscribe); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{SubprotocolCBOR},
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.obs.LogError("live_accept_failed", err)
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)

	conn := newLiveConn(uuid.NewString(), h.opts.OutboxSize)
	if err := h.reg.Register(conn); err != nil {
		h.obs.LogError("live_register_failed", err)
		ws.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	h.obs.LogInfo("live_connected", ports.F("connection_id", conn.ID()), ports.F("role", string(role)))

	err = h.serve(r.Context(), ws, conn, codecFor(ws.Subprotocol()))

	conn.close()
	h.reg.OnDisconnect(conn.ID())

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		h.obs.LogInfo("live_disconnected", ports.F("connection_id", conn.ID()))
		ws.Close(websocket.StatusNormalClosure, "")
		return
	}
	h.obs.LogError("live_connection_failed", err, ports.F("connection_id", conn.ID()))
	ws.CloseNow()
}

func (h *Handler) serve(ctx context.Context, ws *websocket.Conn, conn *liveConn, cdc codec) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readLoop(ctx, ws, conn, cdc) })
	g.Go(func() error { return h.writeLoop(ctx, ws, conn, cdc) })
	return g.Wait()
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *liveConn, cdc codec) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}

		var req Request
		if err := cdc.decode(typ, data, &req); err != nil {
			h.reply(conn, Frame{Type: FrameError, Error: "malformed request"})
			continue
		}

		switch req.Action {
		case ActionSubscribe:
			if err := h.reg.Subscribe(conn.ID(), req.MachineID); err != nil {
				h.reply(conn, Frame{Type: FrameError, MachineID: req.MachineID, Error: err.Error()})
				continue
			}
			h.reply(conn, Frame{Type: FrameSubscribed, MachineID: req.MachineID})
		case ActionUnsubscribe:
			// An empty machineId drops whatever the connection is watching.
			if req.MachineID == "" {
				req.MachineID, _ = h.reg.Subscription(conn.ID())
			}
			if !h.reg.Unsubscribe(conn.ID(), req.MachineID) {
				h.reply(conn, Frame{Type: FrameError, MachineID: req.MachineID, Error: "not subscribed to " + req.MachineID})
				continue
			}
			h.reply(conn, Frame{Type: FrameUnsubscribed, MachineID: req.MachineID})
		default:
			h.reply(conn, Frame{Type: FrameError, Error: fmt.Sprintf("unknown action %q", req.Action)})
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *liveConn, cdc codec) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.outbox.Ready():
		}
		for _, f := range conn.outbox.DequeueBatch(0) {
			typ, payload, err := cdc.encode(f)
			if err != nil {
				h.obs.LogError("live_encode_failed", err, ports.F("connection_id", conn.ID()))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err = ws.Write(wctx, typ, payload)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// reply queues a control frame; a full outbox drops it like any other push.
func (h *Handler) reply(conn *liveConn, f Frame) {
	if err := conn.send(f); err != nil {
		h.obs.RecordDeliveryFailure(conn.ID(), f.MachineID, err)
	}
}

var _ http.Handler = (*Handler)(nil)
