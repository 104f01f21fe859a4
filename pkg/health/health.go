// Package health probes the deployed instance after a startup grace period.
// A failed probe is a soft signal: the pipeline records it as a warning and
// still finishes as a degraded success, because no rollback mechanism exists.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Verifier issues read probes against the instance's liveness path.
type Verifier struct {
	Client *http.Client
	Log    *slog.Logger
	// Grace is the fixed startup wait before the first probe.
	Grace time.Duration
	// Window bounds the whole probe phase; Interval spaces retries within it.
	// Both are fixed, not adaptive.
	Window   time.Duration
	Interval time.Duration
}

// Verify waits the grace period and then probes url until a 200-class
// response arrives or the window closes. The returned error describes the
// last failed probe; callers decide whether that is fatal.
func (v *Verifier) Verify(ctx context.Context, url string) error {
	v.Log.Info("waiting for instance startup", "grace", v.Grace)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(v.Grace):
	}

	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	deadline := time.Now().Add(v.Window)
	var lastErr error
	for {
		status, err := probe(ctx, client, url)
		if err == nil && status >= 200 && status < 300 {
			v.Log.Info("instance verified", "url", url, "status", status)
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("probe %s: status %d", url, status)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("instance not verified within %s: %w", v.Window, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.Interval):
		}
	}
}

func probe(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, nil
}

// URL assembles the probe target from host, port, and path.
func URL(host string, port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("http://%s:%d%s", host, port, path)
}
