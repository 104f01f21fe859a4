// deployctl drives the estore deployment pipeline: build the artifact, bake
// the image, replace the running instance, verify it, and reclaim leftovers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/estore/pkg/artifact"
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
	"github.com/example/estore/pkg/runner"
	"github.com/example/estore/pkg/runtime"
	"github.com/example/estore/pkg/telemetry"
)

var (
	flagTag      string
	flagInstance string
	flagHostPort int
	flagVerbose  bool

	flagServer  string
	flagFollow  bool
	flagHistory int
)

var rootCmd = &cobra.Command{
	Use:           "deployctl",
	Short:         "Build and deploy the estore service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: build, image, deploy, verify, cleanup",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, cleanupFn, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanupFn()

		l, err := lock.Acquire(env.cfg.LockDir, env.cfg.InstanceName)
		if err != nil {
			return err
		}
		defer l.Release()

		opts := env.options()
		rec := history.NewRecord(opts.InstanceName, opts.ImageRef(), opts.HostPort, opts.ContainerPort)
		final, err := env.pipeline.Run(cmd.Context(), rec, opts)
		if err != nil {
			return err
		}
		reportRun(final)
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the service into a single artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, cleanupFn, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanupFn()

		art, out, err := env.pipeline.Artifacts.Build(cmd.Context(), env.cfg.ImageTag)
		if err != nil {
			fmt.Fprint(os.Stderr, out)
			return err
		}
		fmt.Printf("artifact %s (%d bytes)\n", art.Path, art.Size)
		return nil
	},
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Build the tagged image from the artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, cleanupFn, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanupFn()

		img, out, err := env.pipeline.Images.Build(cmd.Context(),
			env.cfg.ArtifactPattern, env.cfg.ImageName, env.cfg.ImageTag, env.cfg.ContainerPort)
		if err != nil {
			fmt.Fprint(os.Stderr, out)
			return err
		}
		fmt.Printf("image %s (artifact version %s)\n", img.Ref(), img.ArtifactVersion)
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Replace the running instance with the tagged image",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, cleanupFn, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanupFn()

		l, err := lock.Acquire(env.cfg.LockDir, env.cfg.InstanceName)
		if err != nil {
			return err
		}
		defer l.Release()

		inst, err := env.pipeline.Runtime.Deploy(cmd.Context(), runtime.DeployOptions{
			Name:          env.cfg.InstanceName,
			ImageRef:      env.cfg.ImageRef(),
			HostPort:      env.cfg.HostPort,
			ContainerPort: env.cfg.ContainerPort,
			Env:           env.cfg.RunEnv,
		})
		if err != nil {
			return err
		}
		fmt.Printf("instance %s running as container %s\n", inst.Name, inst.ContainerID)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Probe the deployed instance's liveness endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, cleanupFn, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanupFn()

		url := health.URL(env.probeHost(), env.cfg.HostPort, env.cfg.ProbePath)
		if err := env.pipeline.Health.Verify(cmd.Context(), url); err != nil {
			return err
		}
		fmt.Printf("instance verified at %s\n", url)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim superseded images and artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, cleanupFn, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanupFn()

		warnings := env.pipeline.Cleanup.Reclaim(cmd.Context(), env.cfg.InstanceName, "")
		for _, w := range warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent deployment runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPipeline()
		if err != nil {
			return err
		}
		applyFlags(&cfg)

		store, err := history.NewFileStore(cfg.HistoryPath)
		if err != nil {
			return err
		}
		records, err := store.List(flagHistory)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no deployment runs recorded")
			return nil
		}
		for _, rec := range records {
			line := fmt.Sprintf("%s  %-9s  %s -> %s:%d", rec.CreatedAt.Format(time.RFC3339), rec.State, rec.ImageRef, rec.InstanceName, rec.HostPort)
			if rec.Degraded() {
				line += "  (degraded)"
			}
			if rec.Error != "" {
				line += "  " + rec.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a run to deployd and optionally follow its log",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := deployd.NewClient(flagServer, os.Getenv("DEPLOYD_API_KEY"))
		env, err := client.Submit(cmd.Context(), deployd.RunRequest{
			ImageTag: flagTag,
			HostPort: flagHostPort,
		})
		if err != nil {
			return err
		}
		fmt.Printf("run %s submitted (status: %s)\n", env.RunID, env.StatusURL)

		if !flagFollow {
			return nil
		}
		if err := client.FollowLogs(cmd.Context(), env.RunID, func(line string) error {
			fmt.Println(line)
			return nil
		}); err != nil {
			return err
		}
		rec, err := client.GetRun(cmd.Context(), env.RunID)
		if err != nil {
			return err
		}
		reportRun(rec)
		if rec.State == history.StateFailed {
			return fmt.Errorf("run %s failed: %s", rec.ID, rec.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagTag, "tag", "", "image tag (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagInstance, "instance", "", "instance name (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagHostPort, "host-port", 0, "host port (overrides config)")

	historyCmd.Flags().IntVarP(&flagHistory, "limit", "n", 10, "number of runs to show")
	submitCmd.Flags().StringVar(&flagServer, "server", "http://localhost:8086", "deployd base URL")
	submitCmd.Flags().BoolVar(&flagFollow, "follow", false, "stream the run log until completion")

	rootCmd.AddCommand(runCmd, buildCmd, imageCmd, deployCmd, verifyCmd, cleanupCmd, historyCmd, submitCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env bundles the wired pipeline with its configuration.
type env struct {
	cfg      config.Pipeline
	pipeline *pipeline.Pipeline
	log      *slog.Logger
}

func applyFlags(cfg *config.Pipeline) {
	if flagTag != "" {
		cfg.ImageTag = flagTag
	}
	if flagInstance != "" {
		cfg.InstanceName = flagInstance
	}
	if flagHostPort != 0 {
		cfg.HostPort = flagHostPort
	}
}

// newEnv loads configuration and wires the stage components. The returned
// function releases the SSH connection, telemetry, and store handles.
func newEnv(ctx context.Context) (*env, func(), error) {
	cfg, err := config.LoadPipeline()
	if err != nil {
		return nil, nil, err
	}
	applyFlags(&cfg)

	level := "info"
	if flagVerbose {
		level = "debug"
	}
	logger := logging.New(level, "text")

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Trace {
		shutdown := telemetry.InitTracer(ctx, "deployctl", logger)
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		})
	}

	// The artifact compiles where deployctl runs; docker commands and the
	// staged build context target the deployment host, local or remote.
	local := &runner.Local{}
	var hostRunner runner.Runner = local
	var uploader runner.Uploader = local
	if cfg.Remote.Enabled() {
		ssh, err := runner.DialSSH(runner.SSHOptions{
			Host:    cfg.Remote.Host,
			Port:    cfg.Remote.Port,
			User:    cfg.Remote.User,
			KeyPath: cfg.Remote.KeyPath,
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

	stores := []history.Store{}
	fileStore, err := history.NewFileStore(cfg.HistoryPath)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	stores = append(stores, fileStore)
	if cfg.DatabaseURL != "" {
		pg, err := history.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = pg.Close() })
		stores = append(stores, pg)
	}

	p := &pipeline.Pipeline{
		Artifacts: &artifact.Builder{
			Runner:     local,
			Workspace:  cfg.Workspace,
			Package:    cfg.BuildPackage,
			BinaryName: "estore-server",
		},
		Images: &image.Builder{
			Docker:     dockerClient,
			Uploader:   uploader,
			ContextDir: cfg.Workspace + "/context",
			BinaryName: "estore-server",
			Dockerfile: cfg.Dockerfile,
		},
		Runtime: &runtime.Supervisor{Docker: dockerClient, Log: logger},
		Health: &health.Verifier{
			Log:      logger,
			Grace:    cfg.GracePeriod,
			Window:   cfg.ProbeWindow,
			Interval: cfg.ProbeInterval,
		},
		Cleanup: &cleanup.Agent{
			Docker:          dockerClient,
			Log:             logger,
			Repository:      cfg.ImageName,
			ArtifactPattern: cfg.ArtifactPattern,
		},
		Recorder: history.NewRecorder(logger, stores...),
		Notifier: &pipeline.Notifier{URL: cfg.WebhookURL, Log: logger},
		Log:      logger,
	}

	return &env{cfg: cfg, pipeline: p, log: logger}, closeAll, nil
}

func (e *env) probeHost() string {
	if e.cfg.Remote.Enabled() {
		return e.cfg.Remote.Host
	}
	return "localhost"
}

func (e *env) options() pipeline.Options {
	return pipeline.Options{
		InstanceName:    e.cfg.InstanceName,
		ImageName:       e.cfg.ImageName,
		ImageTag:        e.cfg.ImageTag,
		HostPort:        e.cfg.HostPort,
		ContainerPort:   e.cfg.ContainerPort,
		ArtifactPattern: e.cfg.ArtifactPattern,
		ProbeHost:       e.probeHost(),
		ProbePath:       e.cfg.ProbePath,
		Env:             e.cfg.RunEnv,
	}
}

func reportRun(rec history.Record) {
	fmt.Printf("run %s: %s\n", rec.ID, rec.State)
	for _, w := range rec.Warnings {
		fmt.Printf("warning [%s/%s]: %s\n", w.Class, w.Stage, w.Message)
	}
	if rec.Degraded() {
		fmt.Println("deployment completed but the instance is unverified; follow up required")
	}
}
