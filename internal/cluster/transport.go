package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// Client implements PeerClient over plain HTTP GET, the same transport
// style as the teacher's ingest handler (net/http, no RPC framework).
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with a bounded per-request timeout as a
// backstop under the caller's own deadline.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// ListPeer requests the recent-logs list for sourceToken from peerAddr's
// cluster server.
func (c *Client) ListPeer(ctx context.Context, peerAddr, sourceToken string) ([]domain.LogEvent, error) {
	url := fmt.Sprintf("%s/internal/cluster/logs?source_token=%s", peerAddr, sourceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned status %d", peerAddr, resp.StatusCode)
	}

	var events []domain.LogEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode peer response: %w", err)
	}
	return events, nil
}

// ServerHandler answers GET /internal/cluster/logs?source_token=... with
// the node's local view of that source's Recent-Logs Cache — the
// server-side half of list_for_cluster's peer fan-out.
func ServerHandler(local LocalLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("source_token")
		if token == "" {
			http.Error(w, "source_token is required", http.StatusBadRequest)
			return
		}
		events := local.List(token)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(events); err != nil {
			http.Error(w, "encode failed", http.StatusInternalServerError)
		}
	}
}
