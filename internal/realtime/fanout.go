package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"ordersaga/internal/event"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Message is the frame sent to observers for every consumed envelope.
type Message struct {
	Type      event.Type      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Service   string          `json:"service"`
}

// Broadcaster delivers a frame to observers.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg []byte) error
}

// Fanout mirrors envelopes to observers. It never emits events and holds no
// saga state.
type Fanout struct {
	out    Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

// NewFanout constructs a Fanout over out.
func NewFanout(out Broadcaster, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{out: out, logger: logger.With("component", "fanout"), now: time.Now}
}

// Handle broadcasts env. Failures only affect observers.
func (f *Fanout) Handle(ctx context.Context, env event.Envelope) ([]event.Envelope, error) {
	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	frame, err := json.Marshal(Message{
		Type:      env.Type,
		Payload:   payload,
		Timestamp: f.now().UTC(),
		Service:   env.Topic.ServiceName(),
	})
	if err != nil {
		return nil, err
	}
	if err := f.out.Broadcast(ctx, frame); err != nil {
		return nil, err
	}
	f.logger.DebugContext(ctx, "broadcast", "type", env.Type, "topic", env.Topic)
	return nil, nil
}

// NewRouter serves /ws and /health for the fanout role.
func NewRouter(hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", hub.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"service": "fanout",
			"clients": hub.ClientCount(),
		})
	})
	return r
}
