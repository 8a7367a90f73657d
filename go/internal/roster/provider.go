// Package roster loads the player roster the auction is seeded from.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/turflads/crazy-bids-sub000/go/internal/models"
)

// Provider loads a roster from some source.
type Provider interface {
	Load(ctx context.Context) ([]models.Player, error)
}

// rosterEntry is the on-disk/over-the-wire player shape. Bid and sale state
// never appears in roster sources.
type rosterEntry struct {
	ID        string `json:"id" yaml:"id"`
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
	Grade     string `json:"grade" yaml:"grade"`
	BasePrice int64  `json:"base_price" yaml:"base_price"`
}

// FileProvider loads a roster from a local YAML or JSON file.
type FileProvider struct {
	Path string
}

// NewFileProvider creates a provider reading path on every Load.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// Load reads and normalizes the roster file. The format follows the file
// extension; anything that is not .json parses as YAML.
func (p *FileProvider) Load(_ context.Context) ([]models.Player, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var entries []rosterEntry
	if strings.EqualFold(filepath.Ext(p.Path), ".json") {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("unmarshal roster json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("unmarshal roster yaml: %w", err)
		}
	}
	return normalize(entries)
}

// HTTPProvider pulls a JSON roster from a remote endpoint.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewHTTPProvider creates a provider GETting baseURL+endpoint.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader adds a header (auth tokens and the like) to every request.
func (p *HTTPProvider) SetHeader(key, value string) {
	p.headers[key] = value
}

// Load fetches and normalizes the remote roster.
func (p *HTTPProvider) Load(ctx context.Context) ([]models.Player, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range p.headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("roster API returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var entries []rosterEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal roster response: %w", err)
	}
	return normalize(entries)
}

// normalize converts roster entries into unsold players, assigning IDs to
// entries that carry none.
func normalize(entries []rosterEntry) ([]models.Player, error) {
	players := make([]models.Player, 0, len(entries))
	for i, e := range entries {
		if e.FirstName == "" && e.LastName == "" {
			return nil, fmt.Errorf("roster entry %d has no name", i)
		}
		if e.BasePrice < 0 {
			return nil, fmt.Errorf("roster entry %d (%s %s) has a negative base price", i, e.FirstName, e.LastName)
		}
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		players = append(players, models.Player{
			ID:        id,
			FirstName: e.FirstName,
			LastName:  e.LastName,
			Grade:     e.Grade,
			BasePrice: e.BasePrice,
			Status:    models.PlayerStatusUnsold,
		})
	}
	return players, nil
}
