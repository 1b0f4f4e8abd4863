package chain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZKRand-Network/relay_layer/internal/system"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// RequestEvent is a RandomnessRequested notification from a chain node.
type RequestEvent struct {
	ChainID   string `json:"chain_id"`
	Event     string `json:"event"`
	RequestID string `json:"request_id"`
	Requester string `json:"requester"`
	Seed      string `json:"seed"`
	FeePaid   uint64 `json:"fee_paid"`
}

// EventHandler consumes chain request events.
type EventHandler func(ctx context.Context, event RequestEvent)

var _ system.Service = (*Subscriber)(nil)

// Subscriber listens on a chain node's websocket feed for
// RandomnessRequested events and forwards them to a handler. The connection
// is re-dialed with a fixed delay after read failures.
type Subscriber struct {
	chainID string
	wsURL   string
	handler EventHandler
	log     *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSubscriber creates a lifecycle-managed event subscriber for one chain.
func NewSubscriber(chainID, wsURL string, handler EventHandler, log *logger.Logger) *Subscriber {
	if log == nil {
		log = logger.NewDefault("chain-subscriber")
	}
	return &Subscriber{
		chainID: chainID,
		wsURL:   wsURL,
		handler: handler,
		log:     log.WithField("chain_id", chainID),
	}
}

func (s *Subscriber) Name() string { return "chain-subscriber-" + s.chainID }

func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.wsURL == "" {
		s.mu.Unlock()
		s.log.Warn("no websocket URL configured; event subscriber disabled")
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()

	s.log.Info("chain event subscriber started")
	return nil
}

func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("chain event subscriber stopped")
	return nil
}

func (s *Subscriber) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.listen(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("websocket connection lost; reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *Subscriber) listen(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event RequestEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.log.WithError(err).Warn("discarding malformed chain event")
			continue
		}
		if event.Event != "RandomnessRequested" {
			continue
		}
		event.ChainID = s.chainID

		s.handler(ctx, event)
	}
}
