// Package pipeline drives one deployment run through its stages:
// build -> image -> deploy -> verify -> cleanup, strictly sequential, each
// stage gating the next.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/estore/pkg/artifact"
	"github.com/example/estore/pkg/cleanup"
	"github.com/example/estore/pkg/health"
	"github.com/example/estore/pkg/history"
	"github.com/example/estore/pkg/image"
	"github.com/example/estore/pkg/runtime"
)

// Options parameterize one run.
type Options struct {
	InstanceName    string
	ImageName       string
	ImageTag        string
	HostPort        int
	ContainerPort   int
	ArtifactPattern string
	// ProbeHost and ProbePath locate the liveness endpoint on the deployed
	// instance.
	ProbeHost string
	ProbePath string
	// Env holds per-run launch parameters passed at instance start.
	Env map[string]string
}

// ImageRef returns the name:tag the run builds and deploys.
func (o Options) ImageRef() string {
	return fmt.Sprintf("%s:%s", o.ImageName, o.ImageTag)
}

// Pipeline wires the five stage components together with run recording.
type Pipeline struct {
	Artifacts *artifact.Builder
	Images    *image.Builder
	Runtime   *runtime.Supervisor
	Health    *health.Verifier
	Cleanup   *cleanup.Agent
	Recorder  *history.Recorder
	Notifier  *Notifier
	Log       *slog.Logger
}

// Run executes the full pipeline for the given record. The record's ID is
// reused so a run submitted through deployd keeps its identity. The returned
// record is the final deployment record; err is non-nil only for fatal
// failures.
func (p *Pipeline) Run(ctx context.Context, rec history.Record, opts Options) (history.Record, error) {
	tracer := otel.Tracer("deploy-pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", rec.ID),
		attribute.String("image.ref", opts.ImageRef()),
		attribute.String("instance.name", opts.InstanceName),
	))
	defer span.End()

	p.Recorder.Create(rec)
	p.logf(rec.ID, "run %s: deploying %s as instance %q on port %d", rec.ID, opts.ImageRef(), opts.InstanceName, opts.HostPort)

	var runErr error
	var currentArtifact string
	func() {
		// Build.
		if err := p.advance(rec.ID, rec.State, history.StateBuilding, "compiling artifact"); err != nil {
			runErr = err
			return
		}
		art, err := p.buildArtifact(ctx, tracer, rec.ID, opts)
		if err != nil {
			runErr = err
			return
		}
		currentArtifact = art.Path
		p.Recorder.SetArtifactVersion(rec.ID, art.Version)

		// Image.
		if err := p.advance(rec.ID, history.StateBuilding, history.StateImaging, "building image "+opts.ImageRef()); err != nil {
			runErr = err
			return
		}
		if err := p.buildImage(ctx, tracer, rec.ID, opts); err != nil {
			runErr = err
			return
		}

		// Deploy.
		if err := p.advance(rec.ID, history.StateImaging, history.StateDeploying, "replacing instance "+opts.InstanceName); err != nil {
			runErr = err
			return
		}
		if err := p.deploy(ctx, tracer, rec.ID, opts); err != nil {
			runErr = err
			return
		}

		// Verify. A failed probe downgrades the run, it does not fail it:
		// there is no rollback mechanism, so the operator follows up instead.
		if err := p.advance(rec.ID, history.StateDeploying, history.StateVerifying, "probing liveness endpoint"); err != nil {
			runErr = err
			return
		}
		p.verify(ctx, tracer, rec.ID, opts)

		p.Recorder.SetState(rec.ID, history.StateSucceeded, "")
		p.Recorder.AppendEvent(rec.ID, history.StateSucceeded, "run completed")
		p.logf(rec.ID, "run %s: succeeded", rec.ID)
	}()

	// Cleanup runs after success and failure alike, best-effort.
	p.reclaim(ctx, tracer, rec.ID, opts, currentArtifact)

	final, err := p.Recorder.Get(rec.ID)
	if err != nil {
		final = rec
	}
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		span.RecordError(runErr)
	}
	p.Notifier.Notify(ctx, final)
	return final, runErr
}

// advance validates and records a state transition.
func (p *Pipeline) advance(runID string, from, to history.State, message string) error {
	if err := Transition(from, to); err != nil {
		return err
	}
	p.Recorder.SetState(runID, to, "")
	p.Recorder.AppendEvent(runID, to, message)
	p.logf(runID, "stage %s: %s", strings.ToLower(string(to)), message)
	return nil
}

func (p *Pipeline) buildArtifact(ctx context.Context, tracer trace.Tracer, runID string, opts Options) (artifact.Artifact, error) {
	ctx, span := tracer.Start(ctx, "pipeline.build")
	defer span.End()

	art, out, err := p.Artifacts.Build(ctx, opts.ImageTag)
	if err != nil {
		return artifact.Artifact{}, p.fail(span, runID, &StageFailure{Class: BuildFailure, Stage: "build", Output: out, Err: err})
	}
	p.logf(runID, "artifact %s (%d bytes)", art.Path, art.Size)
	return art, nil
}

func (p *Pipeline) buildImage(ctx context.Context, tracer trace.Tracer, runID string, opts Options) error {
	ctx, span := tracer.Start(ctx, "pipeline.image")
	defer span.End()

	img, out, err := p.Images.Build(ctx, opts.ArtifactPattern, opts.ImageName, opts.ImageTag, opts.ContainerPort)
	if err != nil {
		return p.fail(span, runID, &StageFailure{Class: ImageFailure, Stage: "image", Output: out, Err: err})
	}
	p.logf(runID, "image %s carries artifact version %s", img.Ref(), img.ArtifactVersion)
	return nil
}

func (p *Pipeline) deploy(ctx context.Context, tracer trace.Tracer, runID string, opts Options) error {
	ctx, span := tracer.Start(ctx, "pipeline.deploy")
	defer span.End()

	inst, err := p.Runtime.Deploy(ctx, runtime.DeployOptions{
		Name:          opts.InstanceName,
		ImageRef:      opts.ImageRef(),
		HostPort:      opts.HostPort,
		ContainerPort: opts.ContainerPort,
		Env:           opts.Env,
	})
	if err != nil {
		return p.fail(span, runID, &StageFailure{Class: DeployFailure, Stage: "deploy", Err: err})
	}
	p.logf(runID, "instance %s running as container %s", inst.Name, inst.ContainerID)
	return nil
}

func (p *Pipeline) verify(ctx context.Context, tracer trace.Tracer, runID string, opts Options) {
	ctx, span := tracer.Start(ctx, "pipeline.verify")
	defer span.End()

	url := health.URL(opts.ProbeHost, opts.HostPort, opts.ProbePath)
	if err := p.Health.Verify(ctx, url); err != nil {
		w := history.Warning{Class: string(VerifyWarning), Stage: "verify", Message: err.Error()}
		p.Recorder.AddWarning(runID, w)
		p.logf(runID, "warning: %s (instance is up but unverified, follow up required)", err)
		span.RecordError(err)
		return
	}
	p.logf(runID, "instance verified at %s", url)
}

func (p *Pipeline) reclaim(ctx context.Context, tracer trace.Tracer, runID string, opts Options, keepArtifact string) {
	ctx, span := tracer.Start(ctx, "pipeline.cleanup")
	defer span.End()

	for _, msg := range p.Cleanup.Reclaim(ctx, opts.InstanceName, keepArtifact) {
		p.Recorder.AddWarning(runID, history.Warning{Class: string(CleanupWarning), Stage: "cleanup", Message: msg})
		p.logf(runID, "cleanup warning: %s", msg)
	}
}

// fail records a fatal stage failure, including the stage's captured output,
// and moves the run to FAILED.
func (p *Pipeline) fail(span trace.Span, runID string, failure *StageFailure) error {
	span.SetStatus(codes.Error, failure.Error())
	span.RecordError(failure.Err)

	if out := strings.TrimSpace(failure.Output); out != "" {
		for _, line := range strings.Split(out, "\n") {
			p.Recorder.AppendLog(runID, line)
		}
	}
	p.logf(runID, "%s", failure.Error())
	p.Recorder.SetState(runID, history.StateFailed, failure.Error())
	p.Recorder.AppendEvent(runID, history.StateFailed, failure.Error())
	return failure
}

// logf writes one line to both the structured log and the run's log record.
func (p *Pipeline) logf(runID, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	p.Log.Info(line, "run_id", runID)
	p.Recorder.AppendLog(runID, line)
}
