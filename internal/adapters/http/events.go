package http

import (
	"encoding/json"

	"github.com/dkeye/Realm/internal/adapters/ws"
	"github.com/dkeye/Realm/internal/app/fanout"
	"github.com/dkeye/Realm/internal/app/voice"
	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// TypeVoiceSnapshot tags voice roster frames on the event stream.
const TypeVoiceSnapshot protocol.Type = "VOICE_SNAPSHOT"

// slowLimit is how many events a UI socket may miss before it is dropped.
const slowLimit = 64

type streamFrame struct {
	Type protocol.Type `json:"type"`
	Data any           `json:"data"`
}

func encodeFrame(t protocol.Type, data any) (core.Frame, error) {
	return json.Marshal(streamFrame{Type: t, Data: data})
}

// events streams every realtime event and voice snapshot to one UI socket
// until either side goes away.
func (h *handlers) events(c *gin.Context) {
	tab := c.GetString("client_id")
	logger := log.With().Str("module", "adapters.http").Str("tab", tab).Logger()

	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("event stream upgrade failed")
		return
	}
	conn := ws.Accept(sock, h.ws, nil)
	defer conn.Close()

	policy := fanout.WithPolicy[protocol.Event](fanout.DropThenKick{Limit: slowLimit})
	events := h.svc.Realtime.Subscribe(fanout.WithName[protocol.Event]("ui:"+tab), policy)
	defer events.Close()
	snapshots := h.svc.Voice.Subscribe(
		fanout.WithName[voice.Snapshot]("ui:"+tab),
		fanout.WithBuffer[voice.Snapshot](h.buffer),
		fanout.WithPolicy[voice.Snapshot](fanout.FixedPolicy(fanout.DropEvent)),
	)
	defer snapshots.Close()

	logger.Info().Msg("event stream open")
	send := func(t protocol.Type, data any) bool {
		f, err := encodeFrame(t, data)
		if err != nil {
			logger.Error().Err(err).Str("type", string(t)).Msg("encode event")
			return true
		}
		if err := conn.TrySend(f); err != nil {
			logger.Warn().Err(err).Msg("ui too slow, dropping stream")
			return false
		}
		return true
	}

	if !send(TypeVoiceSnapshot, h.svc.Voice.Snapshot()) {
		return
	}
	snapC := snapshots.C()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-conn.Done():
			logger.Info().Msg("event stream closed")
			return
		case <-events.Done():
			logger.Warn().Uint64("dropped", events.Dropped()).Msg("event stream unsubscribed")
			return
		case ev, ok := <-events.C():
			if !ok {
				return
			}
			if !send(ev.EventType(), ev) {
				return
			}
		case snap, ok := <-snapC:
			if !ok {
				snapC = nil
				continue
			}
			if !send(TypeVoiceSnapshot, snap) {
				return
			}
		}
	}
}
