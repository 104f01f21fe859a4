package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Pipeline captures runtime settings for one deployment pipeline run.
type Pipeline struct {
	InstanceName    string            `mapstructure:"instance_name"`
	ImageName       string            `mapstructure:"image_name"`
	ImageTag        string            `mapstructure:"image_tag"`
	HostPort        int               `mapstructure:"host_port"`
	ContainerPort   int               `mapstructure:"container_port"`
	GracePeriod     time.Duration     `mapstructure:"grace_period"`
	ProbePath       string            `mapstructure:"probe_path"`
	ProbeWindow     time.Duration     `mapstructure:"probe_window"`
	ProbeInterval   time.Duration     `mapstructure:"probe_interval"`
	Workspace       string            `mapstructure:"workspace"`
	BuildPackage    string            `mapstructure:"build_package"`
	Dockerfile      string            `mapstructure:"dockerfile"`
	ArtifactPattern string            `mapstructure:"artifact_pattern"`
	LockDir         string            `mapstructure:"lock_dir"`
	HistoryPath     string            `mapstructure:"history_path"`
	DatabaseURL     string            `mapstructure:"database_url"`
	WebhookURL      string            `mapstructure:"webhook_url"`
	RunEnv          map[string]string `mapstructure:"run_env"`
	Trace           bool              `mapstructure:"trace"`
	Remote          Remote            `mapstructure:"remote"`
}

// Remote selects an SSH deployment target. An empty Host means the pipeline
// runs docker against the local daemon.
type Remote struct {
	Host    string `mapstructure:"host"`
	User    string `mapstructure:"user"`
	Port    int    `mapstructure:"port"`
	KeyPath string `mapstructure:"key_path"`
}

// Enabled reports whether a remote deployment target is configured.
func (r Remote) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// ImageRef returns the name:tag reference the pipeline builds and deploys.
func (p Pipeline) ImageRef() string {
	return fmt.Sprintf("%s:%s", p.ImageName, p.ImageTag)
}

// LoadPipeline loads pipeline configuration from defaults, files, and env vars.
func LoadPipeline() (Pipeline, error) {
	v := newViper("DEPLOY")

	v.SetDefault("instance_name", "estore")
	v.SetDefault("image_name", "estore")
	v.SetDefault("image_tag", "latest")
	v.SetDefault("host_port", 9090)
	v.SetDefault("container_port", 9090)
	v.SetDefault("grace_period", "15s")
	v.SetDefault("probe_path", "/app/")
	v.SetDefault("probe_window", "30s")
	v.SetDefault("probe_interval", "3s")
	v.SetDefault("workspace", "dist")
	v.SetDefault("build_package", "./cmd/estore-server")
	v.SetDefault("dockerfile", "")
	v.SetDefault("artifact_pattern", "dist/estore-server_*")
	v.SetDefault("lock_dir", ".deploy")
	v.SetDefault("history_path", ".deploy/history.json")
	v.SetDefault("database_url", "")
	v.SetDefault("webhook_url", "")
	v.SetDefault("trace", false)
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.key_path", "")

	if err := readConfigFile(v); err != nil {
		return Pipeline{}, err
	}

	var cfg Pipeline
	if err := v.Unmarshal(&cfg); err != nil {
		return Pipeline{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Deployd captures runtime settings for the deployd service.
type Deployd struct {
	ListenAddr string `mapstructure:"listen_addr"`
	RedisURL   string `mapstructure:"redis_url"`
	APIKey     string `mapstructure:"api_key"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
}

// LoadDeployd loads deployd service configuration.
func LoadDeployd() (Deployd, error) {
	v := newViper("DEPLOYD")

	v.SetDefault("listen_addr", ":8086")
	v.SetDefault("redis_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if err := readConfigFile(v); err != nil {
		return Deployd{}, err
	}

	var cfg Deployd
	if err := v.Unmarshal(&cfg); err != nil {
		return Deployd{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Server captures runtime settings for the estore catalog service.
type Server struct {
	ListenAddr string `mapstructure:"listen_addr"`
	BasePath   string `mapstructure:"base_path"`
}

// LoadServer loads estore-server configuration.
func LoadServer() (Server, error) {
	v := newViper("ESTORE")

	v.SetDefault("listen_addr", ":9090")
	v.SetDefault("base_path", "/app")

	if err := readConfigFile(v); err != nil {
		return Server{}, err
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return Server{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func newViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("load config: %w", err)
		}
	}
	return nil
}
