// Package live pushes readings to connected WebSocket clients.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/metrics"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// Message types sent to clients.
const (
	TypeSolarUpdate = "solar_update"
	TypeCurrentData = "current_data"
	TypeSystemAlert = "system_alert"
	TypePong        = "pong"
)

// Message types sent by clients.
const (
	TypeRequestData = "request_data"
	TypePing        = "ping"
)

// Message is a single frame pushed to a client.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Alert     *Alert    `json:"alert,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is the payload of a system_alert frame.
type Alert struct {
	Level     types.StatusLevel `json:"level"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
}

const defaultQueueSize = 16

// Subscriber is one registered client. Frames queued for it are read from C
// by the client's writer.
type Subscriber struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

// C returns the outbound frames.
func (s *Subscriber) C() <-chan []byte {
	return s.send
}

// Done is closed once the subscriber has been unregistered.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Manager tracks live subscribers. Broadcasting never blocks: a subscriber
// whose queue is full is dropped without affecting the others.
type Manager struct {
	mu        sync.RWMutex
	subs      map[*Subscriber]struct{}
	queueSize int
	now       func() time.Time
}

// NewManager returns a manager whose subscribers buffer up to queueSize
// frames.
func NewManager(queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Manager{
		subs:      make(map[*Subscriber]struct{}),
		queueSize: queueSize,
		now:       time.Now,
	}
}

// Register adds a new subscriber.
func (m *Manager) Register() *Subscriber {
	s := &Subscriber{
		send: make(chan []byte, m.queueSize),
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	n := len(m.subs)
	m.mu.Unlock()
	metrics.SetLiveSubscribers(n)
	return s
}

// Unregister removes s and closes its Done channel. It is safe to call more
// than once.
func (m *Manager) Unregister(s *Subscriber) {
	m.mu.Lock()
	delete(m.subs, s)
	n := len(m.subs)
	m.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	metrics.SetLiveSubscribers(n)
}

// Count returns the number of registered subscribers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Broadcast queues msg for every subscriber.
func (m *Manager) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		ctx := context.Background()
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal live message", slog.String("type", msg.Type), slog.Any("error", err))
		return
	}

	var slow []*Subscriber
	m.mu.RLock()
	for s := range m.subs {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range slow {
		m.drop(s)
	}
}

// Send queues msg for s alone. It reports false if s was dropped.
func (m *Manager) Send(s *Subscriber, msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case <-s.done:
		return false
	case s.send <- data:
		return true
	default:
		m.drop(s)
		return false
	}
}

func (m *Manager) drop(s *Subscriber) {
	ctx := context.Background()
	log.Ctx(ctx).WarnContext(ctx, "dropping slow live subscriber")
	metrics.IncLiveDropped()
	m.Unregister(s)
}

// PublishReading broadcasts a newly committed reading.
func (m *Manager) PublishReading(r types.Reading) {
	m.Broadcast(Message{Type: TypeSolarUpdate, Data: r, Timestamp: m.now().UTC()})
}

// PublishAlert broadcasts a system alert.
func (m *Manager) PublishAlert(level types.StatusLevel, component, message string) {
	m.Broadcast(Message{
		Type:      TypeSystemAlert,
		Alert:     &Alert{Level: level, Component: component, Message: message},
		Timestamp: m.now().UTC(),
	})
}
