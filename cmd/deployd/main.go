// deployd serializes deployment runs behind an HTTP API: submissions are
// queued and a single worker executes them in order, streaming logs over SSE.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/estore/pkg/artifact"
	"github.com/example/estore/pkg/auth"
	"github.com/example/estore/pkg/cleanup"
	"github.com/example/estore/pkg/config"
	"github.com/example/estore/pkg/deployd"
	"github.com/example/estore/pkg/docker"
	"github.com/example/estore/pkg/health"
	"github.com/example/estore/pkg/history"
	"github.com/example/estore/pkg/image"
	"github.com/example/estore/pkg/lock"
	"github.com/example/estore/pkg/logging"
	"github.com/example/estore/pkg/pipeline"
	"github.com/example/estore/pkg/queue"
	"github.com/example/estore/pkg/runner"
	"github.com/example/estore/pkg/runtime"
	"github.com/example/estore/pkg/telemetry"
)

type server struct {
	cfg      config.Deployd
	pipe     config.Pipeline
	memStore *history.MemStore
	recorder *history.Recorder
	pipeline *pipeline.Pipeline
	queue    queue.Queue
	log      *slog.Logger
}

func main() {
	cfg, err := config.LoadDeployd()
	if err != nil {
		log.Fatalf("failed to load deployd config: %v", err)
	}
	pipeCfg, err := config.LoadPipeline()
	if err != nil {
		log.Fatalf("failed to load pipeline config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "deployd", logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	srv, closeSrv, err := newServer(cfg, pipeCfg, logger)
	if err != nil {
		log.Fatalf("deployd init failed: %v", err)
	}
	defer closeSrv()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	router.Route("/api", func(r chi.Router) {
		r.With(auth.RequireKey(cfg.APIKey)).Post("/runs", srv.handleSubmitRun)
		r.Get("/runs", srv.handleListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", srv.handleGetRun)
			r.Get("/logs", srv.handleStreamLogs)
		})
	})

	go srv.worker(ctx)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("deployd shutdown error", "error", err)
		}
	}()

	logger.Info("deployd listening", "addr", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("deployd failed: %v", err)
	}

	<-ctx.Done()
	logger.Info("deployd stopped")
}

func newServer(cfg config.Deployd, pipeCfg config.Pipeline, logger *slog.Logger) (*server, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	memStore := history.NewMemStore()
	stores := []history.Store{memStore}

	fileStore, err := history.NewFileStore(pipeCfg.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	stores = append(stores, fileStore)

	if pipeCfg.DatabaseURL != "" {
		pg, err := history.NewPostgresStore(pipeCfg.DatabaseURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = pg.Close() })
		stores = append(stores, pg)
	}
	recorder := history.NewRecorder(logger, stores...)

	var q queue.Queue
	if cfg.RedisURL != "" {
		rq, err := queue.NewRedisQueue(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rq.Close() })
		q = rq
	} else {
		q = queue.NewMemQueue()
	}

	local := &runner.Local{}
	var hostRunner runner.Runner = local
	var uploader runner.Uploader = local
	if pipeCfg.Remote.Enabled() {
		ssh, err := runner.DialSSH(runner.SSHOptions{
			Host:    pipeCfg.Remote.Host,
			Port:    pipeCfg.Remote.Port,
			User:    pipeCfg.Remote.User,
			KeyPath: pipeCfg.Remote.KeyPath,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = ssh.Close() })
		hostRunner = ssh
		uploader = ssh
	}
	dockerClient := docker.NewCmdClient(hostRunner)

	p := &pipeline.Pipeline{
		Artifacts: &artifact.Builder{
			Runner:     local,
			Workspace:  pipeCfg.Workspace,
			Package:    pipeCfg.BuildPackage,
			BinaryName: "estore-server",
		},
		Images: &image.Builder{
			Docker:     dockerClient,
			Uploader:   uploader,
			ContextDir: pipeCfg.Workspace + "/context",
			BinaryName: "estore-server",
			Dockerfile: pipeCfg.Dockerfile,
		},
		Runtime: &runtime.Supervisor{Docker: dockerClient, Log: logger},
		Health: &health.Verifier{
			Log:      logger,
			Grace:    pipeCfg.GracePeriod,
			Window:   pipeCfg.ProbeWindow,
			Interval: pipeCfg.ProbeInterval,
		},
		Cleanup: &cleanup.Agent{
			Docker:          dockerClient,
			Log:             logger,
			Repository:      pipeCfg.ImageName,
			ArtifactPattern: pipeCfg.ArtifactPattern,
		},
		Recorder: recorder,
		Notifier: &pipeline.Notifier{URL: pipeCfg.WebhookURL, Log: logger},
		Log:      logger,
	}

	return &server{
		cfg:      cfg,
		pipe:     pipeCfg,
		memStore: memStore,
		recorder: recorder,
		pipeline: p,
		queue:    q,
		log:      logger,
	}, closeAll, nil
}

func (s *server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var payload deployd.RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	opts := s.options(payload.ImageTag, payload.HostPort, payload.Env)
	rec := history.NewRecord(opts.InstanceName, opts.ImageRef(), opts.HostPort, opts.ContainerPort)
	s.recorder.Create(rec)
	s.recorder.AppendEvent(rec.ID, history.StatePending, "run queued")

	job := queue.Job{
		RunID:       rec.ID,
		ImageTag:    payload.ImageTag,
		HostPort:    payload.HostPort,
		Env:         payload.Env,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.recorder.SetState(rec.ID, history.StateFailed, "enqueue failed: "+err.Error())
		respondError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	respondJSON(w, deployd.SubmissionEnvelope{
		RunID:     rec.ID,
		StatusURL: fmt.Sprintf("/api/runs/%s", rec.ID),
		LogsURL:   fmt.Sprintf("/api/runs/%s/logs", rec.ID),
	}, http.StatusCreated)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.memStore.List(50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, deployd.ListResponse{Runs: runs}, http.StatusOK)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	rec, err := s.recorder.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, deployd.RunResponse{Run: rec}, http.StatusOK)
}

func (s *server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	ch, err := s.memStore.Subscribe(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				fmt.Fprintf(w, "data: %s\n\n", "[stream closed]")
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// worker consumes queued runs one at a time. FIFO consumption is the
// serialization guarantee; the instance lock additionally fences off ad-hoc
// CLI runs against the same host.
func (s *server) worker(ctx context.Context) {
	for {
		job, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.log.Error("dequeue failed", "error", err)
			continue
		}
		if job == nil {
			continue
		}
		s.execute(ctx, *job)
	}
}

func (s *server) execute(ctx context.Context, job queue.Job) {
	defer s.memStore.CloseSubscribers(job.RunID)

	l, err := s.acquireLock(ctx)
	if err != nil {
		s.recorder.SetState(job.RunID, history.StateFailed, "lock: "+err.Error())
		s.recorder.AppendLog(job.RunID, "could not take deployment lock: "+err.Error())
		return
	}
	defer l.Release()

	opts := s.options(job.ImageTag, job.HostPort, job.Env)
	rec, err := s.recorder.Get(job.RunID)
	if err != nil {
		rec = history.NewRecord(opts.InstanceName, opts.ImageRef(), opts.HostPort, opts.ContainerPort)
		rec.ID = job.RunID
	}

	if _, err := s.pipeline.Run(ctx, rec, opts); err != nil {
		s.log.Error("run failed", "run_id", job.RunID, "error", err)
	}
}

// acquireLock waits for the instance lock instead of refusing, since the
// queue has already accepted the run.
func (s *server) acquireLock(ctx context.Context) (*lock.Lock, error) {
	for {
		l, err := lock.Acquire(s.pipe.LockDir, s.pipe.InstanceName)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, lock.ErrHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *server) options(tag string, hostPort int, env map[string]string) pipeline.Options {
	opts := pipeline.Options{
		InstanceName:    s.pipe.InstanceName,
		ImageName:       s.pipe.ImageName,
		ImageTag:        s.pipe.ImageTag,
		HostPort:        s.pipe.HostPort,
		ContainerPort:   s.pipe.ContainerPort,
		ArtifactPattern: s.pipe.ArtifactPattern,
		ProbeHost:       "localhost",
		ProbePath:       s.pipe.ProbePath,
		Env:             s.pipe.RunEnv,
	}
	if s.pipe.Remote.Enabled() {
		opts.ProbeHost = s.pipe.Remote.Host
	}
	if tag != "" {
		opts.ImageTag = tag
	}
	if hostPort != 0 {
		opts.HostPort = hostPort
	}
	if len(env) > 0 {
		opts.Env = env
	}
	return opts
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
