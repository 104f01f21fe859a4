// Package deployd holds the wire types of the deployment service API and an
// HTTP client for them.
package deployd

import "github.com/example/estore/pkg/history"

// RunRequest is the payload for submitting a deployment run. Every field is
// optional; absent fields fall back to the server's configured pipeline.
type RunRequest struct {
	ImageTag string            `json:"image_tag,omitempty"`
	HostPort int               `json:"host_port,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// SubmissionEnvelope is the response for accepted run submissions.
type SubmissionEnvelope struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
	LogsURL   string `json:"logs_url"`
}

// RunResponse wraps one deployment record.
type RunResponse struct {
	Run history.Record `json:"run"`
}

// ListResponse wraps the recent deployment records.
type ListResponse struct {
	Runs []history.Record `json:"runs"`
}
