package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/push"
	"github.com/ternarybob/quaero/internal/stats"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is one inbound control frame from a push channel subscriber.
type clientMessage struct {
	Type   string `json:"type"`
	ScanID string `json:"scan_id"`
}

const (
	clientMsgSubscribe      = "subscribe"
	clientMsgUnsubscribe    = "unsubscribe"
	clientMsgGetProgress    = "get_current_progress"
)

// PushHandler upgrades HTTP connections onto the scan progress push
// channel and routes subscribe/unsubscribe control frames to the push
// service, adapted from the teacher's single global status socket into a
// per-scan subscription channel.
type PushHandler struct {
	pusher  *push.Service
	tracker *stats.Tracker
	logger  arbor.ILogger
}

// NewPushHandler creates a handler serving the scan progress push channel.
func NewPushHandler(pusher *push.Service, tracker *stats.Tracker, logger arbor.ILogger) *PushHandler {
	return &PushHandler{pusher: pusher, tracker: tracker, logger: logger}
}

// HandlePushChannel upgrades the connection and services subscribe,
// unsubscribe, and get_current_progress control frames until the client
// disconnects.
func (h *PushHandler) HandlePushChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade push channel connection")
		return
	}

	h.pusher.Register(conn)
	h.logger.Info().Msg("push channel subscriber connected")

	if scanID := r.URL.Query().Get("scan_id"); scanID != "" {
		h.pusher.SubscribeToScan(conn, scanID)
	}

	defer func() {
		h.pusher.Unregister(conn)
		conn.Close()
		h.logger.Info().Msg("push channel subscriber disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("push channel read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case clientMsgSubscribe:
			if msg.ScanID != "" {
				h.pusher.SubscribeToScan(conn, msg.ScanID)
			}
		case clientMsgUnsubscribe:
			if msg.ScanID != "" {
				h.pusher.UnsubscribeFromScan(conn, msg.ScanID)
			}
		case clientMsgGetProgress:
			h.sendCurrentProgress(conn, msg.ScanID)
		}
	}
}

// sendCurrentProgress writes a one-off page_progress snapshot directly to
// conn, bypassing the subscriber group broadcast since this reply is only
// meant for the requesting connection.
func (h *PushHandler) sendCurrentProgress(conn *websocket.Conn, scanID string) {
	if scanID == "" || h.tracker == nil {
		return
	}
	snap, ok := h.tracker.Snapshot(scanID)
	if !ok {
		return
	}

	payload := struct {
		Type    string            `json:"type"`
		Payload push.PageProgress `json:"payload"`
	}{
		Type: push.TypePageProgress,
		Payload: push.PageProgress{
			ScanID:          scanID,
			PagesScanned:    snap.PagesScanned,
			PagesDiscovered: snap.PagesDiscovered,
			ProgressPercent: progressPercent(snap.PagesScanned, snap.PagesDiscovered),
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal current progress reply")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write current progress reply")
	}
}

func progressPercent(scanned, discovered int) float64 {
	if discovered <= 0 {
		return 0
	}
	pct := float64(scanned) / float64(discovered) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
