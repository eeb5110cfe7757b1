package wsvenue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

// stream owns one websocket subscription and reconnects it until closed.
type stream struct {
	url     string
	name    string
	symbols []string
	out     chan domain.Quote
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// StreamQuotes connects to the ticker feed and streams normalized quotes.
// The first connection is made synchronously; later disconnects reconnect
// with exponential backoff. The channel closes when ctx is done or the
// venue is closed.
func (v *Venue) StreamQuotes(ctx context.Context, symbols []string) (<-chan domain.Quote, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, fmt.Errorf("wsvenue: %s: %w", v.cfg.Name, domain.ErrWSDisconnect)
	}
	s := &stream{
		url:     v.cfg.WSURL,
		name:    v.cfg.Name,
		symbols: append([]string(nil), symbols...),
		out:     make(chan domain.Quote, 1024),
		logger:  v.logger,
		done:    make(chan struct{}),
	}
	v.streams = append(v.streams, s)
	v.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("wsvenue: %s: %w", v.cfg.Name, err)
	}
	go s.run(ctx)
	return s.out, nil
}

func (s *stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	sub := subscribeCommand{Op: "subscribe", Channel: "ticker", Symbols: s.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		conn.Close()
		return domain.ErrWSDisconnect
	}
	s.conn = conn
	return nil
}

// run reads until the stream is closed, reconnecting after read errors.
func (s *stream) run(ctx context.Context) {
	defer close(s.out)
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-s.done:
		}
	}()

	delay := reconnectDelay
	for {
		pingDone := make(chan struct{})
		go s.ping(pingDone)
		err := s.read(ctx)
		close(pingDone)

		if s.stopped() {
			return
		}
		s.logger.Warn("ticker stream disconnected", slog.String("error", err.Error()))

		for {
			t := time.NewTimer(delay)
			select {
			case <-s.done:
				t.Stop()
				return
			case <-t.C:
			}
			if err := s.connect(ctx); err != nil {
				delay = min(delay*2, maxReconnectDelay)
				s.logger.Warn("ticker reconnect failed",
					slog.Duration("next_attempt", delay),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.logger.Info("ticker stream reconnected")
			delay = reconnectDelay
			break
		}
	}
}

func (s *stream) read(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		q, ok := s.parse(raw)
		if !ok {
			continue
		}
		select {
		case s.out <- q:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		}
	}
}

// parse converts a ticker message. Other message types and quotes that
// fail validation are skipped; the quote cache re-validates anyway.
func (s *stream) parse(raw []byte) (domain.Quote, bool) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Debug("unparseable ticker message", slog.String("error", err.Error()))
		return domain.Quote{}, false
	}
	if msg.Type != "" && msg.Type != "ticker" {
		return domain.Quote{}, false
	}

	at := time.Now()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS)
	}
	bid, _ := msg.Bid.Float64()
	ask, _ := msg.Ask.Float64()
	bidSize, _ := msg.BidSize.Float64()
	askSize, _ := msg.AskSize.Float64()
	return domain.Quote{
		Symbol:     strings.ToUpper(msg.Symbol),
		Venue:      s.name,
		Bid:        bid,
		Ask:        ask,
		BidSize:    bidSize,
		AskSize:    askSize,
		ObservedAt: at,
	}, true
}

func (s *stream) ping(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *stream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}
