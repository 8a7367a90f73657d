// Package syncclient implements the client side of the sync protocol: it
// keeps local replicas of the auction documents, runs the bidding state
// machine against them and pushes full replacement documents back to the
// gateway. The server never interprets commands; every mutation happens
// here.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/turflads/crazy-bids-sub000/go/internal/auction"
	"github.com/turflads/crazy-bids-sub000/go/internal/gateway"
	"github.com/turflads/crazy-bids-sub000/go/internal/models"
)

// ErrNotSynced is returned by commands issued before any auction state has
// been received or seeded.
var ErrNotSynced = errors.New("no auction state synced yet")

// Config holds the agent's connection settings.
type Config struct {
	ServerURL    string // http(s) base URL of the gateway
	Role         string
	PollInterval time.Duration // REST poll cadence while the socket is down
}

// DefaultConfig returns the agent defaults.
func DefaultConfig() Config {
	return Config{
		Role:         "viewer",
		PollInterval: 5 * time.Second,
	}
}

// Agent is one sync client: a live replica of both documents plus the
// command surface that mutates them.
type Agent struct {
	config Config
	clock  clockwork.Clock
	client *http.Client
	rules  map[string]auction.GradeRule

	mu      sync.RWMutex
	auction *models.AuctionDocument
	teams   *models.TeamsDocument

	connMu sync.Mutex
	conn   *websocket.Conn

	// OnChat receives chat frames; nil drops them.
	OnChat func(msg gateway.Message)
}

// NewAgent creates an agent. clock may be nil for the real one.
func NewAgent(config Config, rules map[string]auction.GradeRule, clock clockwork.Clock) *Agent {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Agent{
		config: config,
		clock:  clock,
		client: &http.Client{Timeout: 10 * time.Second},
		rules:  rules,
	}
}

// Run keeps the agent connected until ctx is cancelled. While the WebSocket
// is up, updates stream in; while it is down, the REST endpoints are polled
// at the configured interval so replicas keep converging.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.runConnection(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("sync connection lost")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := a.Resync(ctx); err != nil {
			log.Warn().Err(err).Msg("state poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(a.config.PollInterval):
		}
	}
}

// runConnection dials the gateway and applies frames until the socket
// breaks or ctx is cancelled.
func (a *Agent) runConnection(ctx context.Context) error {
	url := wsURL(a.config.ServerURL) + "/ws?role=" + a.config.Role
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	defer func() {
		a.connMu.Lock()
		a.conn = nil
		a.connMu.Unlock()
		conn.Close()
	}()

	log.Info().Str("url", url).Msg("sync connection established")

	// Close unblocks ReadMessage when ctx is cancelled.
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
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		a.applyFrame(raw)
	}
}

// applyFrame applies one inbound frame to the local replicas. Malformed
// frames are logged and dropped.
func (a *Agent) applyFrame(raw []byte) {
	var msg gateway.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch msg.Type {
	case gateway.MessageTypeAuctionUpdate:
		var doc models.AuctionDocument
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Warn().Err(err).Msg("dropping unparseable auction document")
			return
		}
		a.mu.Lock()
		a.auction = &doc
		a.mu.Unlock()
	case gateway.MessageTypeTeamUpdate:
		var doc models.TeamsDocument
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Warn().Err(err).Msg("dropping unparseable teams document")
			return
		}
		a.mu.Lock()
		a.teams = &doc
		a.mu.Unlock()
	case gateway.MessageTypeChatMessage, gateway.MessageTypeChatReaction:
		if a.OnChat != nil {
			a.OnChat(msg)
		}
	default:
		log.Warn().Str("type", string(msg.Type)).Msg("dropping frame with unknown type")
	}
}

// Resync replaces both local replicas with the server's current state over
// REST. Run calls it while the socket is down; callers can also invoke it
// directly after suspected drift.
func (a *Agent) Resync(ctx context.Context) error {
	var auctionDoc models.AuctionDocument
	hasAuction, err := a.fetchState(ctx, "/api/auction-state", &auctionDoc)
	if err != nil {
		return err
	}

	var teamsDoc models.TeamsDocument
	hasTeams, err := a.fetchState(ctx, "/api/team-state", &teamsDoc)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if hasAuction {
		a.auction = &auctionDoc
	}
	if hasTeams {
		a.teams = &teamsDoc
	}
	a.mu.Unlock()
	return nil
}

// fetchState GETs one document. The gateway returns {} when nothing has
// been written yet; that case reports false without touching out.
func (a *Agent) fetchState(ctx context.Context, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.ServerURL+path, nil)
	if err != nil {
		return false, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if string(bytes.TrimSpace(body)) == "{}" {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return true, nil
}

// Reseed re-publishes the locally held snapshots, overwriting the server's
// state. This is a deliberate operator action for disaster recovery; it is
// never triggered by a reconnect, which only pulls.
func (a *Agent) Reseed(ctx context.Context) error {
	a.mu.RLock()
	auctionDoc := a.auction
	teamsDoc := a.teams
	a.mu.RUnlock()
	if auctionDoc == nil || teamsDoc == nil {
		return ErrNotSynced
	}

	log.Info().Msg("reseeding server state from local snapshots")
	if err := a.publish(ctx, gateway.MessageTypeAuctionUpdate, auctionDoc); err != nil {
		return err
	}
	return a.publish(ctx, gateway.MessageTypeTeamUpdate, teamsDoc)
}

// Auction returns a copy of the local auction replica, or nil before sync.
func (a *Agent) Auction() *models.AuctionDocument {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.auction == nil {
		return nil
	}
	return a.auction.Clone()
}

// Teams returns a copy of the local teams replica, or nil before sync.
func (a *Agent) Teams() *models.TeamsDocument {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.teams == nil {
		return nil
	}
	return a.teams.Clone()
}

// Seed installs fresh documents locally and pushes both to the server.
// Used by the operator starting an auction from a roster.
func (a *Agent) Seed(ctx context.Context, players []models.Player, teams []models.Team) error {
	auctionDoc, teamsDoc, err := auction.Reset(players, teams)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.auction = auctionDoc
	a.teams = teamsDoc
	a.mu.Unlock()

	if err := a.publish(ctx, gateway.MessageTypeAuctionUpdate, auctionDoc); err != nil {
		return err
	}
	return a.publish(ctx, gateway.MessageTypeTeamUpdate, teamsDoc)
}

// StartAuction flips the auction live and pushes the document.
func (a *Agent) StartAuction(ctx context.Context) error {
	return a.mutateAuction(ctx, func(doc *models.AuctionDocument) (*models.AuctionDocument, error) {
		return auction.StartAuction(doc), nil
	})
}

// PauseAuction pauses bidding and pushes the document.
func (a *Agent) PauseAuction(ctx context.Context) error {
	return a.mutateAuction(ctx, func(doc *models.AuctionDocument) (*models.AuctionDocument, error) {
		return auction.PauseAuction(doc), nil
	})
}

// PlaceBid records a bid for team and pushes the document.
func (a *Agent) PlaceBid(ctx context.Context, team string, amount int64) error {
	return a.mutateAuction(ctx, func(doc *models.AuctionDocument) (*models.AuctionDocument, error) {
		return auction.PlaceBid(doc, team, amount)
	})
}

// CancelBid undoes the most recent bid and pushes the document.
func (a *Agent) CancelBid(ctx context.Context) error {
	return a.mutateAuction(ctx, func(doc *models.AuctionDocument) (*models.AuctionDocument, error) {
		return auction.CancelBid(doc)
	})
}

// MarkUnsold requeues the current player at the back and pushes the
// document.
func (a *Agent) MarkUnsold(ctx context.Context) error {
	return a.mutateAuction(ctx, func(doc *models.AuctionDocument) (*models.AuctionDocument, error) {
		return auction.MarkUnsold(doc)
	})
}

// MarkSold closes the sale to the highest bidder and pushes both documents.
func (a *Agent) MarkSold(ctx context.Context) error {
	a.mu.Lock()
	if a.auction == nil || a.teams == nil {
		a.mu.Unlock()
		return ErrNotSynced
	}
	auctionDoc, teamsDoc, err := auction.MarkSold(a.auction, a.teams)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.auction = auctionDoc
	a.teams = teamsDoc
	a.mu.Unlock()

	if err := a.publish(ctx, gateway.MessageTypeAuctionUpdate, auctionDoc); err != nil {
		return err
	}
	return a.publish(ctx, gateway.MessageTypeTeamUpdate, teamsDoc)
}

// MaxBid returns the amount team can still safely bid on the current
// player, computed from the local replicas.
func (a *Agent) MaxBid(team string) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.auction == nil || a.teams == nil {
		return 0, ErrNotSynced
	}
	t, ok := a.teams.Teams[team]
	if !ok {
		return 0, auction.ErrUnknownTeam
	}
	player := a.auction.CurrentPlayer()
	if player == nil {
		return 0, auction.ErrNoCurrentPlayer
	}
	return auction.MaxBid(t, a.auction.Players, player.Grade, a.rules), nil
}

// SendChat pushes an ephemeral chat frame.
func (a *Agent) SendChat(ctx context.Context, payload interface{}) error {
	return a.publish(ctx, gateway.MessageTypeChatMessage, payload)
}

func (a *Agent) mutateAuction(ctx context.Context, fn func(*models.AuctionDocument) (*models.AuctionDocument, error)) error {
	a.mu.Lock()
	if a.auction == nil {
		a.mu.Unlock()
		return ErrNotSynced
	}
	doc, err := fn(a.auction)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.auction = doc
	a.mu.Unlock()

	return a.publish(ctx, gateway.MessageTypeAuctionUpdate, doc)
}

// publish sends a frame over the WebSocket when connected, falling back to
// the REST write endpoint otherwise.
func (a *Agent) publish(ctx context.Context, msgType gateway.MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg := gateway.Message{
		Type:      msgType,
		Timestamp: a.clock.Now(),
		Data:      data,
	}

	a.connMu.Lock()
	conn := a.conn
	if conn != nil {
		err := conn.WriteJSON(msg)
		a.connMu.Unlock()
		if err != nil {
			return fmt.Errorf("write %s frame: %w", msgType, err)
		}
		return nil
	}
	a.connMu.Unlock()

	path, ok := restPath(msgType)
	if !ok {
		// Chat has no REST surface; without a socket it is simply lost.
		log.Warn().Str("type", string(msgType)).Msg("dropping ephemeral frame while disconnected")
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.ServerURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func restPath(t gateway.MessageType) (string, bool) {
	switch t {
	case gateway.MessageTypeAuctionUpdate:
		return "/api/auction-state", true
	case gateway.MessageTypeTeamUpdate:
		return "/api/team-state", true
	default:
		return "", false
	}
}

func wsURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return serverURL
	}
}
