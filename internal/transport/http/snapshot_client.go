package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quizroom-service/internal/domain"
)

// SnapshotClient fetches room snapshots from a remote quizroom server. It backs the
// polling fallback of reconcile.Syncer.
type SnapshotClient struct {
	baseURL  string
	playerID string
	client   *http.Client
}

func NewSnapshotClient(baseURL, playerID string, client *http.Client) *SnapshotClient {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SnapshotClient{baseURL: strings.TrimRight(baseURL, "/"), playerID: playerID, client: client}
}

func (c *SnapshotClient) FetchSnapshot(ctx context.Context, roomID string) (domain.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rooms/"+url.PathEscape(roomID)+"/snapshot", nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if c.playerID != "" {
		req.Header.Set(PlayerHeader, c.playerID)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if sentinel := sentinelFor(body.Error); sentinel != nil {
			return domain.Snapshot{}, sentinel
		}
		return domain.Snapshot{}, fmt.Errorf("fetch snapshot: status %d", resp.StatusCode)
	}
	var snap domain.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// sentinelFor reverses classify so remote errors keep their identity.
func sentinelFor(code string) error {
	for _, m := range errorMappings {
		if m.code == code {
			return m.err
		}
	}
	return nil
}
