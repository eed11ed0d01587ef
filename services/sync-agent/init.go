package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v2"

	"github.com/AppleJax2/OncoTracker-sub000/pkg/apihelpers"
	httpclient "github.com/AppleJax2/OncoTracker-sub000/pkg/http-client"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/utils"
)

// Environment variables
const (
	ENV_CONFIG_FILE_PATH = "CONFIG_FILE_PATH"

	// Variables to override "secrets" in the config file
	ENV_STUDY_ACCESS_TOKEN = "STUDY_ACCESS_TOKEN"
)

type SyncAgentConfig struct {
	// Logging configs
	Logging utils.LoggerConfig `json:"logging" yaml:"logging"`

	// Gin configs
	GinConfig struct {
		DebugMode bool `json:"debug_mode" yaml:"debug_mode"`
		// Port for the local capture API, bound to localhost
		Port string `json:"port" yaml:"port"`
	} `json:"gin_config" yaml:"gin_config"`

	// Ingestion API connection
	IngestionAPIConfig struct {
		RootURL        string `json:"root_url" yaml:"root_url"`
		InstanceID     string `json:"instance_id" yaml:"instance_id"`
		RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`

		MTLS struct {
			Use              bool                        `json:"use" yaml:"use"`
			CertificatePaths apihelpers.CertificatePaths `json:"certificate_paths" yaml:"certificate_paths"`
		} `json:"mtls" yaml:"mtls"`
	} `json:"ingestion_api_config" yaml:"ingestion_api_config"`

	// Access token stamped onto captures without their own token
	DefaultAccessToken string `json:"default_access_token" yaml:"default_access_token"`

	// Durable queue configs
	QueueConfig struct {
		Path       string `json:"path" yaml:"path"`
		SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
		MaxEntries int    `json:"max_entries" yaml:"max_entries"`
	} `json:"queue_config" yaml:"queue_config"`

	// Sync orchestration configs; durations are Go duration strings
	SyncConfig struct {
		MaxBatchSize   int    `json:"max_batch_size" yaml:"max_batch_size"`
		SyncInterval   string `json:"sync_interval" yaml:"sync_interval"`
		InitialBackoff string `json:"initial_backoff" yaml:"initial_backoff"`
		MaxBackoff     string `json:"max_backoff" yaml:"max_backoff"`
	} `json:"sync_config" yaml:"sync_config"`

	// Connectivity probe configs
	ConnectivityConfig struct {
		ProbeInterval        string `json:"probe_interval" yaml:"probe_interval"`
		ProbeTimeout         string `json:"probe_timeout" yaml:"probe_timeout"`
		PoorLatencyThreshold string `json:"poor_latency_threshold" yaml:"poor_latency_threshold"`
	} `json:"connectivity_config" yaml:"connectivity_config"`
}

func init() {
	// Read config from file
	yamlFile, err := os.ReadFile(os.Getenv(ENV_CONFIG_FILE_PATH))
	if err != nil {
		panic(err)
	}

	err = yaml.UnmarshalStrict(yamlFile, &conf)
	if err != nil {
		panic(err)
	}

	// Init logger:
	utils.InitLogger(
		conf.Logging.LogLevel,
		conf.Logging.IncludeSrc,
		conf.Logging.LogToFile,
		conf.Logging.Filename,
		conf.Logging.MaxSize,
		conf.Logging.MaxAge,
		conf.Logging.MaxBackups,
		conf.Logging.CompressOldLogs,
		conf.Logging.IncludeBuildInfo,
	)

	// Override secrets from environment variables
	secretsOverride()

	if !conf.GinConfig.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
}

func secretsOverride() {
	if accessToken := os.Getenv(ENV_STUDY_ACCESS_TOKEN); accessToken != "" {
		conf.DefaultAccessToken = accessToken
	}
}

// parseDurationWithDefault parses a config duration string, falling back to
// the given default when the field is empty. A malformed value is fatal.
func parseDurationWithDefault(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := utils.ParseDurationString(value)
	if err != nil {
		slog.Error("invalid duration in config", slog.String("value", value), slog.String("error", err.Error()))
		panic(err)
	}
	return d
}

func loadIngestionAPIClientConfig() httpclient.ClientConfig {
	clientConfig := httpclient.ClientConfig{
		RootURL:    conf.IngestionAPIConfig.RootURL,
		InstanceID: conf.IngestionAPIConfig.InstanceID,
		Timeout:    parseDurationWithDefault(conf.IngestionAPIConfig.RequestTimeout, 30*time.Second),
	}
	if conf.IngestionAPIConfig.MTLS.Use {
		certPaths := conf.IngestionAPIConfig.MTLS.CertificatePaths
		clientConfig.MTLSCertificatePaths = &certPaths
	}
	return clientConfig
}
