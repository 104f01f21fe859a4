// Package cleanup reclaims disk space from superseded images and artifacts.
// It runs best-effort after every pipeline run: its failures become warnings
// and never change the run outcome.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/estore/pkg/docker"
)

// Agent sweeps images of one repository and artifacts of one workspace.
type Agent struct {
	Docker docker.Client
	Log    *slog.Logger
	// Repository is the image name whose stale tags are reclaimed.
	Repository string
	// ArtifactPattern matches workspace artifacts eligible for removal.
	ArtifactPattern string
}

// Reclaim removes images of the repository not backing the named instance,
// prunes dangling layers, and deletes superseded artifacts. keepArtifact is
// the current artifact path, empty if this run produced none. All failures
// are returned as warnings, never as an error.
func (a *Agent) Reclaim(ctx context.Context, instanceName, keepArtifact string) []string {
	var warnings []string
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		a.Log.Warn("cleanup: " + msg)
		warnings = append(warnings, msg)
	}

	// The keep set is computed fresh: whatever image backs the currently
	// running instance is untouchable, regardless of age.
	keepRef, keepID := a.liveImage(ctx, instanceName, warn)

	images, err := a.Docker.ListImages(ctx, a.Repository)
	if err != nil {
		warn("list images: %v", err)
	}
	for _, img := range images {
		if img.Ref == keepRef || matchesID(keepID, img.ID) {
			continue
		}
		ref := img.Ref
		if !img.Tagged() {
			ref = img.ID
		}
		if _, err := a.Docker.RemoveImage(ctx, ref); err != nil {
			warn("remove image %s: %v", ref, err)
			continue
		}
		a.Log.Info("reclaimed image", "ref", ref)
	}

	if _, err := a.Docker.PruneDangling(ctx); err != nil {
		warn("prune dangling images: %v", err)
	}

	a.sweepArtifacts(keepArtifact, warn)
	return warnings
}

// liveImage resolves the image ref and ID of the running instance, if any.
func (a *Agent) liveImage(ctx context.Context, instanceName string, warn func(string, ...any)) (ref, id string) {
	c, err := a.Docker.FindContainer(ctx, instanceName)
	if err != nil {
		warn("look up instance %s: %v", instanceName, err)
		return "", ""
	}
	if c == nil || !c.Running() {
		return "", ""
	}
	imageID, err := a.Docker.ContainerImageID(ctx, c.ID)
	if err != nil {
		warn("resolve instance image: %v", err)
		// Fall back to the ref so the live image is still protected.
		return c.Image, ""
	}
	return c.Image, imageID
}

func (a *Agent) sweepArtifacts(keep string, warn func(string, ...any)) {
	if a.ArtifactPattern == "" {
		return
	}
	matches, err := filepath.Glob(a.ArtifactPattern)
	if err != nil {
		warn("artifact pattern %q: %v", a.ArtifactPattern, err)
		return
	}
	for _, m := range matches {
		if keep != "" && filepath.Clean(m) == filepath.Clean(keep) {
			continue
		}
		if err := os.Remove(m); err != nil {
			warn("remove artifact %s: %v", m, err)
			continue
		}
		a.Log.Info("reclaimed artifact", "path", m)
	}
}

// matchesID compares a full image ID from docker inspect against the short ID
// docker images prints.
func matchesID(fullID, shortID string) bool {
	if fullID == "" || shortID == "" {
		return false
	}
	trimmed := strings.TrimPrefix(fullID, "sha256:")
	return strings.HasPrefix(trimmed, shortID) || fullID == shortID
}
