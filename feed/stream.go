package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const krakenWSEndpoint = "wss://ws.kraken.com"

// StreamSource keeps a websocket ticker subscription open and serves the
// latest top of book from memory. It implements Source, so the engine can
// swap it in for the REST poller per instrument. Entries older than MaxAge
// are reported as unavailable rather than served stale.
type StreamSource struct {
	Endpoint string
	Dialer   *websocket.Dialer
	MaxAge   time.Duration

	mu     sync.RWMutex
	latest map[string]streamEntry
}

type streamEntry struct {
	depth Depth
	at    time.Time
}

func NewStreamSource() *StreamSource {
	return &StreamSource{
		Endpoint: krakenWSEndpoint,
		Dialer:   websocket.DefaultDialer,
		MaxAge:   10 * time.Second,
		latest:   map[string]streamEntry{},
	}
}

// Run connects, subscribes to ticker updates for the given pair codes, and
// consumes messages until ctx is cancelled or the connection drops. The
// caller owns reconnection policy.
func (s *StreamSource) Run(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return fmt.Errorf("no codes subscribed")
	}
	conn, _, err := s.Dialer.DialContext(ctx, s.Endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{
		"event":        "subscribe",
		"pair":         codes,
		"subscription": map[string]string{"name": "ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.handleMessage(message)
	}
}

// handleMessage parses a ticker frame. Data frames are arrays of the form
// [channelID, {"b": [...], "a": [...]}, "ticker", "XBT/USD"]; everything
// else (heartbeats, subscription acks) is an object and ignored.
func (s *StreamSource) handleMessage(message []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 4 {
		return
	}
	var pair string
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil || pair == "" {
		return
	}
	var tick struct {
		B []json.RawMessage `json:"b"`
		A []json.RawMessage `json:"a"`
	}
	if err := json.Unmarshal(frame[1], &tick); err != nil {
		return
	}
	bid, err1 := firstFloat(tick.B)
	ask, err2 := firstFloat(tick.A)
	if err1 != nil || err2 != nil {
		return
	}

	s.mu.Lock()
	s.latest[pair] = streamEntry{depth: Depth{Bid: bid, Ask: ask}, at: time.Now()}
	s.mu.Unlock()
}

// FetchDepth serves the cached top of book for code.
func (s *StreamSource) FetchDepth(_ context.Context, code string) (Depth, error) {
	s.mu.RLock()
	entry, ok := s.latest[code]
	s.mu.RUnlock()
	if !ok {
		return Depth{}, fmt.Errorf("%w: no ticker yet for %s", ErrUnavailable, code)
	}
	if s.MaxAge > 0 && time.Since(entry.at) > s.MaxAge {
		return Depth{}, fmt.Errorf("%w: ticker stale for %s", ErrUnavailable, code)
	}
	return entry.depth, nil
}

func firstFloat(arr []json.RawMessage) (float64, error) {
	if len(arr) == 0 {
		return 0, fmt.Errorf("empty field")
	}
	var str string
	if err := json.Unmarshal(arr[0], &str); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(str, 64)
}
