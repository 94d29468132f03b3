// Package ingestion delivers live intraday spend signals to the pacing
// controller.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ad-budget-lab/internal/observability"
)

// SpendUpdate is one cumulative daily spend observation for a campaign,
// pushed by the ad platform's spend feed.
type SpendUpdate struct {
	CampaignID string    `json:"campaign_id"`
	Spend      float64   `json:"spend"`
	ObservedAt time.Time `json:"observed_at"`
}

// FeedConfig configures spend feed connection behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the update channel capacity.
	Buffer int
}

// DefaultFeedConfig returns default spend feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            256,
	}
}

// SpendFeed is a websocket client for the live spend feed. It reconnects
// with exponential backoff and keeps a ping loop alive.
type SpendFeed struct {
	endpoint string
	config   FeedConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	updates chan SpendUpdate

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewSpendFeed creates a spend feed client and connects to the endpoint.
func NewSpendFeed(ctx context.Context, endpoint string, config *FeedConfig, logger *log.Logger) (*SpendFeed, error) {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	f := &SpendFeed{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		updates:  make(chan SpendUpdate, cfg.Buffer),
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// Updates returns the channel of incoming spend updates. The channel is
// closed when the feed shuts down.
func (f *SpendFeed) Updates() <-chan SpendUpdate {
	return f.updates
}

// Close shuts the feed down and closes the updates channel.
func (f *SpendFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	f.wg.Wait()
	close(f.updates)
	return nil
}

// connect establishes the websocket connection.
func (f *SpendFeed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("spend feed dial: %w", err)
	}

	f.conn = conn
	return nil
}

// readLoop reads messages and delivers parsed updates.
func (f *SpendFeed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			if !f.reconnecting.Swap(true) {
				go f.reconnect(reconnectDelay)
			}

			// Exponential backoff for the next attempt
			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > f.config.MaxReconnectDelay {
				reconnectDelay = f.config.MaxReconnectDelay
			}

			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = f.config.ReconnectDelay

		f.handleMessage(message)
	}
}

// handleMessage parses one feed message. Malformed messages are logged
// and dropped, never fatal.
func (f *SpendFeed) handleMessage(message []byte) {
	var update SpendUpdate
	if err := json.Unmarshal(message, &update); err != nil {
		f.logger.Printf("[ingestion] dropping malformed spend message: %v", err)
		return
	}
	if update.CampaignID == "" || update.Spend < 0 {
		f.logger.Printf("[ingestion] dropping invalid spend update: campaign=%q spend=%v",
			update.CampaignID, update.Spend)
		return
	}
	if update.ObservedAt.IsZero() {
		update.ObservedAt = time.Now().UTC()
	}

	select {
	case f.updates <- update:
	case <-f.done:
	}
}

// reconnect attempts to re-establish the connection after a read error.
func (f *SpendFeed) reconnect(delay time.Duration) {
	defer f.reconnecting.Store(false)

	if f.closed.Load() {
		return
	}

	select {
	case <-f.done:
		return
	case <-time.After(delay):
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		f.logger.Printf("[ingestion] reconnect failed, will retry: %v", err)
		return
	}
	f.logger.Printf("[ingestion] reconnected to spend feed")
	observability.RecordWSReconnect()
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (f *SpendFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.logger.Printf("[ingestion] ping failed: %v", err)
				}
			}
			f.connMu.Unlock()
		}
	}
}
