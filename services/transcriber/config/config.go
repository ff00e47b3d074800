package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the transcriber service.
type Config struct {
	LogLevel     string
	HTTPPort     string
	MetricsAddr  string
	OTelEndpoint string

	// Pool
	ProcessIsolation  bool
	PoolSize          int
	MaxTasksPerWorker int
	CallTimeout       time.Duration
	KillGrace         time.Duration
	QueueWait         time.Duration
	QueueCapacity     int
	IdleTimeout       time.Duration
	ReapInterval      time.Duration
	SpawnTimeout      time.Duration
	RateLimitRPS      float64
	RateLimitBurst    int
	MonitorInterval   time.Duration

	// Engine run inside worker processes
	Engine          string
	TranscriberPath string
	DefaultLanguage string

	// Uploads
	MaxUploadMB int64
	TempDir     string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		HTTPPort:     v.GetString("http_port"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),

		ProcessIsolation:  v.GetBool("process_isolation"),
		PoolSize:          v.GetInt("pool_size"),
		MaxTasksPerWorker: v.GetInt("max_tasks_per_worker"),
		CallTimeout:       v.GetDuration("call_timeout"),
		KillGrace:         v.GetDuration("kill_grace"),
		QueueWait:         v.GetDuration("queue_wait"),
		QueueCapacity:     v.GetInt("queue_capacity"),
		IdleTimeout:       v.GetDuration("idle_timeout"),
		ReapInterval:      v.GetDuration("reap_interval"),
		SpawnTimeout:      v.GetDuration("spawn_timeout"),
		RateLimitRPS:      v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:    v.GetInt("rate_limit_burst"),
		MonitorInterval:   v.GetDuration("monitor_interval"),

		Engine:          v.GetString("engine"),
		TranscriberPath: v.GetString("transcriber_path"),
		DefaultLanguage: v.GetString("default_language"),

		MaxUploadMB: v.GetInt64("max_upload_mb"),
		TempDir:     v.GetString("temp_dir"),
	}
}
