// Package broker provides venue connectivity implementations.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hot-crypto/internal/models"
	"hot-crypto/pkg/utils"
)

// DefaultStreamURL is the venue's combined-stream websocket endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443/stream"

// StreamConfig holds configuration for the live trade stream.
type StreamConfig struct {
	// URL is the combined-stream endpoint; symbols are appended as
	// lowercase aggTrade stream names.
	URL     string
	Symbols []string

	// Reconnect backoff
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	BackoffFactor    float64
}

// DefaultStreamConfig returns the default stream configuration.
func DefaultStreamConfig(symbols []string) StreamConfig {
	return StreamConfig{
		URL:              DefaultStreamURL,
		Symbols:          symbols,
		ReconnectInitial: time.Second,
		ReconnectMax:     time.Minute,
		BackoffFactor:    2.0,
	}
}

// streamConn is the subset of *websocket.Conn the stream reads from.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// TradeStream consumes the venue's aggregated trade stream and forwards
// each print as a models.Tick. Disconnects trigger reconnection with
// exponential backoff; the stream only stops when its context is done.
type TradeStream struct {
	cfg StreamConfig

	onTick  func(models.Tick)
	onError func(error)

	dial func(ctx context.Context, url string) (streamConn, error)

	mu         sync.RWMutex
	connected  bool
	received   uint64
	reconnects uint64
}

// NewTradeStream creates a trade stream for the configured symbols.
func NewTradeStream(cfg StreamConfig) *TradeStream {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 2.0
	}

	return &TradeStream{
		cfg: cfg,
		dial: func(ctx context.Context, url string) (streamConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// OnTick registers the handler called for every trade print.
func (s *TradeStream) OnTick(handler func(models.Tick)) {
	s.onTick = handler
}

// OnError registers the handler called on stream errors. The stream keeps
// reconnecting regardless.
func (s *TradeStream) OnError(handler func(error)) {
	s.onError = handler
}

// Run connects and consumes the stream until ctx is done.
func (s *TradeStream) Run(ctx context.Context) error {
	if len(s.cfg.Symbols) == 0 {
		return fmt.Errorf("trade stream: no symbols configured")
	}
	url := s.streamURL()

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.dial(ctx, url)
		if err != nil {
			s.reportError(fmt.Errorf("stream dial: %w", err))
			if waitErr := s.backoff(ctx, attempt); waitErr != nil {
				return waitErr
			}
			attempt++
			continue
		}

		s.setConnected(true)
		attempt = 0

		err = s.readLoop(ctx, conn)
		s.setConnected(false)
		conn.Close()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.reportError(fmt.Errorf("stream read: %w", err))
		if waitErr := s.backoff(ctx, attempt); waitErr != nil {
			return waitErr
		}
		attempt++
	}
}

// readLoop reads frames until the connection breaks. A watcher goroutine
// closes the connection when ctx is done so the blocking read unblocks.
func (s *TradeStream) readLoop(ctx context.Context, conn streamConn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *TradeStream) handleMessage(msg []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame.Data) == 0 {
		return
	}

	var ev aggTradeEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil || ev.EventType != "aggTrade" {
		return
	}

	tick := models.Tick{
		Symbol:    ev.Symbol,
		Price:     parseF(ev.Price),
		Qty:       parseF(ev.Quantity),
		Timestamp: time.UnixMilli(ev.TradeTime).UTC(),
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	if s.onTick != nil {
		s.onTick(tick)
	}
}

func (s *TradeStream) backoff(ctx context.Context, attempt int) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()

	delay := utils.CalculateBackoff(attempt, s.cfg.ReconnectInitial, s.cfg.ReconnectMax, s.cfg.BackoffFactor)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (s *TradeStream) streamURL() string {
	streams := make([]string, 0, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		streams = append(streams, strings.ToLower(sym)+"@aggTrade")
	}
	return s.cfg.URL + "?streams=" + strings.Join(streams, "/")
}

func (s *TradeStream) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func (s *TradeStream) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// StreamStatus contains stream health counters.
type StreamStatus struct {
	Connected     bool
	TicksReceived uint64
	Reconnects    uint64
}

// Status returns current stream health.
func (s *TradeStream) Status() StreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamStatus{
		Connected:     s.connected,
		TicksReceived: s.received,
		Reconnects:    s.reconnects,
	}
}

// combinedFrame is the envelope of the combined-stream endpoint.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// aggTradeEvent is the venue's aggregated trade payload.
type aggTradeEvent struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}
