package store

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig holds settings for the Postgres LISTEN/NOTIFY watcher.
type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel name to LISTEN on
	FallbackInterval time.Duration // how often to re-read documents when notifies are missed
	PingInterval     time.Duration
}

// DefaultListenerConfig returns the listener defaults.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    NotifyChannel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// RefreshFunc receives each document reloaded because of a notification.
type RefreshFunc func(kind Kind, doc json.RawMessage)

// Listener watches the document notify channel and refreshes the store's
// cache when another process (a sibling server or the seed tool) writes a
// document. Writes made through this process's own store also notify; the
// resulting refresh is a harmless re-read of the value just written.
type Listener struct {
	store     *Store
	listener  *pq.Listener
	onRefresh RefreshFunc
	cfg       ListenerConfig
}

// NewListener starts LISTENing on the configured channel.
func NewListener(st *Store, onRefresh RefreshFunc, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("document listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, err
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for document updates")
	return &Listener{store: st, listener: l, onRefresh: onRefresh, cfg: cfg}, nil
}

// Start blocks processing notifications until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("document listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost and is
				// being re-established; the fallback tick covers the gap.
				continue
			}
			l.refresh(ctx, note.Extra)
		case <-fallbackTicker.C:
			for _, kind := range Kinds {
				l.refresh(ctx, string(kind))
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping document listener")
			}
		}
	}
}

// Stop closes the underlying Postgres listener.
func (l *Listener) Stop() error {
	return l.listener.Close()
}

func (l *Listener) refresh(ctx context.Context, payload string) {
	kind, ok := KindFromString(payload)
	if !ok {
		log.Warn().Str("payload", payload).Msg("notification for unknown document kind")
		return
	}
	prev, err := l.store.Get(ctx, kind)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to read cached document")
		return
	}
	doc, err := l.store.Refresh(ctx, kind)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to refresh document")
		return
	}
	// This process's own writes notify too; the cache already holds them,
	// so only genuinely new documents reach the callback.
	if doc != nil && !bytes.Equal(prev, doc) && l.onRefresh != nil {
		l.onRefresh(kind, doc)
	}
}
