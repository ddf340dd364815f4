package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

const (
	defaultIdleInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	maxMessageSize      = 4096
)

// LatestReader returns the newest stored reading.
type LatestReader interface {
	GetLatestReading(ctx context.Context) (types.Reading, error)
}

// Snapshot statuses.
const (
	StatusNoData = "no_data"
	StatusActive = "active"
	StatusError  = "error"
)

// CurrentData is the payload of a current_data frame.
type CurrentData struct {
	Timestamp     time.Time `json:"timestamp"`
	ProductionKW  float64   `json:"production_kw"`
	ConsumptionKW float64   `json:"consumption_kw"`
	GridKW        float64   `json:"grid_kw"`
	BatteryKW     *float64  `json:"battery_kw"`
	BatterySOC    *float64  `json:"battery_soc"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
}

// Snapshot builds the current_data payload from the latest stored reading.
func Snapshot(ctx context.Context, db LatestReader, now time.Time) CurrentData {
	r, err := db.GetLatestReading(ctx)
	if errors.Is(err, types.ErrNotFound) {
		return CurrentData{Timestamp: now.UTC(), Status: StatusNoData}
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get current solar data", slog.Any("error", err))
		return CurrentData{Timestamp: now.UTC(), Status: StatusError, Error: err.Error()}
	}
	return CurrentData{
		Timestamp:     r.Timestamp,
		ProductionKW:  r.ProductionKW,
		ConsumptionKW: r.ConsumptionKW,
		GridKW:        r.GridKW,
		BatteryKW:     r.BatteryKW,
		BatterySOC:    r.BatterySOC,
		Status:        StatusActive,
	}
}

// Handler upgrades requests to WebSocket sessions registered with a Manager.
type Handler struct {
	manager  *Manager
	db       LatestReader
	idle     time.Duration
	upgrader websocket.Upgrader
}

// NewHandler returns a handler serving sessions for m. Idle sessions get a
// current_data frame every idle interval.
func NewHandler(m *Manager, db LatestReader, idle time.Duration) *Handler {
	if idle <= 0 {
		idle = defaultIdleInterval
	}
	return &Handler{
		manager: m,
		db:      db,
		idle:    idle,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type clientMessage struct {
	Type string `json:"type"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	sub := h.manager.Register()
	defer h.manager.Unregister(sub)
	log.Ctx(ctx).InfoContext(ctx, "websocket client connected", slog.Int("total_connections", h.manager.Count()))

	go h.writeLoop(ctx, conn, sub)

	incoming := make(chan clientMessage)
	go func() {
		defer h.manager.Unregister(sub)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Ctx(ctx).WarnContext(ctx, "websocket read failed", slog.Any("error", err))
				}
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Ctx(ctx).DebugContext(ctx, "ignoring invalid websocket message", slog.Any("error", err))
				continue
			}
			select {
			case incoming <- msg:
			case <-sub.Done():
				return
			}
		}
	}()

	timer := time.NewTimer(h.idle)
	defer timer.Stop()
	for {
		select {
		case <-sub.Done():
			log.Ctx(ctx).InfoContext(ctx, "websocket client disconnected", slog.Int("total_connections", h.manager.Count()))
			return
		case msg := <-incoming:
			switch msg.Type {
			case TypeRequestData:
				h.sendCurrent(ctx, sub)
			case TypePing:
				h.manager.Send(sub, Message{Type: TypePong, Timestamp: time.Now().UTC()})
			}
			timer.Reset(h.idle)
		case <-timer.C:
			h.sendCurrent(ctx, sub)
			timer.Reset(h.idle)
		}
	}
}

func (h *Handler) sendCurrent(ctx context.Context, sub *Subscriber) {
	now := time.Now()
	h.manager.Send(sub, Message{Type: TypeCurrentData, Data: Snapshot(ctx, h.db, now), Timestamp: now.UTC()})
}

// writeLoop is the only goroutine writing to conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *Subscriber) {
	for {
		select {
		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "websocket write failed", slog.Any("error", err))
				h.manager.Unregister(sub)
				return
			}
		}
	}
}
