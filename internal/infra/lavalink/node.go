// Package lavalink implements the audio node transport over the Lavalink v4 protocol.
package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/infra/config"
)

var (
	ErrNotConnected     = errors.New("lavalink node is not connected")
	ErrReconnectTimeout = errors.New("lavalink node reconnect attempts exhausted")
)

// Config represents one node connection.
type Config struct {
	ID            string
	Host          string
	Port          int
	Password      string
	Secure        bool
	Search        bool
	ResumeTimeout time.Duration
	UserID        string // Bot user ID
	ClientName    string

	ReconnectDelay  time.Duration // First reconnect wait, default 7s
	ReconnectFactor float64       // Growth per failed attempt, default 1.5
	MaxAttempts     int           // Default 30
}

// ConfigFrom builds a node Config from application settings.
func ConfigFrom(nc config.NodeConfig, userID string) Config {
	return Config{
		ID:            nc.ID,
		Host:          nc.Host,
		Port:          nc.Port,
		Password:      nc.Password,
		Secure:        nc.Secure,
		Search:        nc.Search,
		ResumeTimeout: time.Duration(nc.ResumeTimeoutSec) * time.Second,
		UserID:        userID,
	}
}

// Node is a connection to one Lavalink server.
type Node struct {
	cfg        Config
	restURL    string
	wsURL      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	events     chan<- node.Event

	mu        sync.RWMutex
	sessionID string
	connected bool
	healthy   bool
	players   int
}

// New creates a node that publishes its events to events. Call Run to connect.
func New(cfg Config, events chan<- node.Event) *Node {
	if cfg.ClientName == "" {
		cfg.ClientName = "lavabox"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 7 * time.Second
	}
	if cfg.ReconnectFactor < 1 {
		cfg.ReconnectFactor = 1.5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}

	httpScheme, wsScheme := "http", "ws"
	if cfg.Secure {
		httpScheme, wsScheme = "https", "wss"
	}
	hostPort := cfg.Host
	if cfg.Port > 0 {
		hostPort += ":" + strconv.Itoa(cfg.Port)
	}

	return &Node{
		cfg:        cfg,
		restURL:    httpScheme + "://" + hostPort + "/v4",
		wsURL:      wsScheme + "://" + hostPort + "/v4/websocket",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:     events,
	}
}

func (n *Node) ID() string { return n.cfg.ID }

func (n *Node) Search() bool { return n.cfg.Search }

func (n *Node) Healthy() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected && n.healthy
}

// Players returns the player count from the last stats op.
func (n *Node) Players() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.players
}

func (n *Node) session() (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.connected || n.sessionID == "" {
		return "", errors.Wrapf(ErrNotConnected, "node %s", n.cfg.ID)
	}
	return n.sessionID, nil
}

// Run keeps the websocket connected until ctx is done. A dropped connection is reported as
// NodeClosed and retried with a growing delay; Run gives up after MaxAttempts failures in a row.
func (n *Node) Run(ctx context.Context) error {
	delay := n.cfg.ReconnectDelay
	attempts := 0
	for {
		conn, err := n.dial(ctx)
		if err == nil {
			attempts = 0
			delay = n.cfg.ReconnectDelay
			err = n.read(ctx, conn)
			n.disconnected(ctx, err)
		} else {
			zlog.Warn().Msgf("lavalink: connect failed: node=%s err=%v", n.cfg.ID, err)
		}
		if ctx.Err() != nil {
			return nil
		}

		attempts++
		if attempts > n.cfg.MaxAttempts {
			zlog.Error().Msgf("lavalink: giving up: node=%s attempts=%d", n.cfg.ID, attempts-1)
			return errors.Wrapf(ErrReconnectTimeout, "node %s", n.cfg.ID)
		}
		zlog.Info().Msgf("lavalink: reconnecting: node=%s attempt=%d delay=%v", n.cfg.ID, attempts, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * n.cfg.ReconnectFactor)
	}
}

func (n *Node) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", n.cfg.Password)
	headers.Set("User-Id", n.cfg.UserID)
	headers.Set("Client-Name", n.cfg.ClientName)
	n.mu.RLock()
	if n.sessionID != "" {
		headers.Set("Session-Id", n.sessionID)
	}
	n.mu.RUnlock()

	conn, resp, err := n.dialer.DialContext(ctx, n.wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", n.wsURL, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", n.wsURL)
	}
	return conn, nil
}

// read consumes ops until the connection fails or ctx is done.
func (n *Node) read(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			zlog.Warn().Msgf("lavalink: undecodable op: node=%s err=%v", n.cfg.ID, err)
			continue
		}
		n.handle(ctx, &m)
	}
}

func (n *Node) handle(ctx context.Context, m *message) {
	switch m.Op {
	case opReady:
		n.mu.Lock()
		n.sessionID = m.SessionID
		n.connected = true
		n.mu.Unlock()
		zlog.Info().Msgf("lavalink: node ready: node=%s session=%s resumed=%t", n.cfg.ID, m.SessionID, m.Resumed)
		if n.cfg.ResumeTimeout > 0 {
			if err := n.configureResume(ctx, m.SessionID); err != nil {
				zlog.Warn().Msgf("lavalink: enable resuming failed: node=%s err=%v", n.cfg.ID, err)
			}
		}
		n.emit(ctx, node.Event{Type: node.EventNodeReady, NodeID: n.cfg.ID, Resumed: m.Resumed})
	case opStats:
		n.mu.Lock()
		n.healthy = true
		n.players = m.Players
		n.mu.Unlock()
	case opPlayerUpdate:
		if m.State == nil || m.GuildID == "" {
			return
		}
		n.emit(ctx, node.Event{
			Type:     node.EventPlayerUpdate,
			NodeID:   n.cfg.ID,
			GuildID:  m.GuildID,
			Position: time.Duration(m.State.Position) * time.Millisecond,
		})
	case opEvent:
		ev, ok := m.toEvent(n.cfg.ID)
		if !ok {
			zlog.Debug().Msgf("lavalink: ignoring event: node=%s type=%s", n.cfg.ID, m.Type)
			return
		}
		n.emit(ctx, ev)
	default:
		zlog.Debug().Msgf("lavalink: ignoring op: node=%s op=%s", n.cfg.ID, m.Op)
	}
}

func (n *Node) disconnected(ctx context.Context, err error) {
	n.mu.Lock()
	was := n.connected
	n.connected = false
	n.healthy = false
	n.mu.Unlock()
	if !was {
		return
	}
	zlog.Warn().Msgf("lavalink: node disconnected: node=%s err=%v", n.cfg.ID, err)
	n.emit(ctx, node.Event{Type: node.EventNodeClosed, NodeID: n.cfg.ID})
}

func (n *Node) emit(ctx context.Context, ev node.Event) {
	if n.events == nil {
		return
	}
	select {
	case n.events <- ev:
	case <-ctx.Done():
	}
}

// String returns the node ID and address for logs.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.cfg.ID, n.restURL)
}

var _ node.Client = (*Node)(nil)
