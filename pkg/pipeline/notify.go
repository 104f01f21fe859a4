package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/estore/pkg/history"
)

// Notifier POSTs the final deployment record to a completion webhook so
// external systems can react to finished runs. Delivery is best-effort.
type Notifier struct {
	URL    string
	Client *http.Client
	Log    *slog.Logger
}

// Notify delivers the record. A nil notifier or empty URL is a no-op.
func (n *Notifier) Notify(ctx context.Context, rec history.Record) {
	if n == nil || n.URL == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{"run": rec})
	if err != nil {
		n.Log.Error("webhook marshal failed", "run_id", rec.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		n.Log.Error("webhook request failed", "run_id", rec.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		n.Log.Error("webhook call failed", "run_id", rec.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.Log.Error("webhook returned error status", "run_id", rec.ID, "status", resp.StatusCode)
	}
}
