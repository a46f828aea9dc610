package cfg

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" default:"sqlite://data/listing-comb.db" description:"Run ledger database (sqlite://path or postgres://...)"`

	// Application configuration
	ProfilesDir       string `long:"profiles-dir" env:"PROFILES_DIR" default:"./profiles" description:"Directory containing catalog profile files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://catalog.example.com)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers running sync cycles"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler interval in seconds"`
	TaskTimeout       int    `long:"task-timeout" env:"TASK_TIMEOUT" default:"1800" description:"Maximum duration of one sync cycle in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	Once              bool   `long:"once" env:"RUN_ONCE" description:"Run every enabled profile once and exit"`

	// Remote store configuration
	StoreBackend     string `long:"store" env:"STORE_BACKEND" default:"none" choice:"none" choice:"drive" choice:"s3" description:"Remote store for published assets"`
	DriveCredentials string `long:"drive-credentials" env:"DRIVE_CREDENTIALS" default:"credentials.json" description:"Service account credentials file for Google Drive"`
	S3Endpoint       string `long:"s3-endpoint" env:"S3_ENDPOINT" description:"S3 compatible endpoint (host:port)"`
	S3AccessKey      string `long:"s3-access-key" env:"S3_ACCESS_KEY" description:"S3 access key"`
	S3SecretKey      string `long:"s3-secret-key" env:"S3_SECRET_KEY" description:"S3 secret key"`
	S3Bucket         string `long:"s3-bucket" env:"S3_BUCKET" description:"S3 bucket for published assets"`
	S3Region         string `long:"s3-region" env:"S3_REGION" description:"S3 region"`
	S3UseSSL         bool   `long:"s3-ssl" env:"S3_USE_SSL" description:"Use TLS for the S3 endpoint"`
	ImageHost        string `long:"image-host" env:"IMAGE_HOST" default:"drive.google.com" description:"Host used in published image links"`
	TableHost        string `long:"table-host" env:"TABLE_HOST" default:"docs.google.com" description:"Host used in published catalog links"`
	RemoteAttempts   int    `long:"remote-attempts" env:"REMOTE_ATTEMPTS" default:"3" description:"Attempts per remote store call"`
	RemoteRetryDelay int    `long:"remote-retry-delay" env:"REMOTE_RETRY_DELAY" default:"5" description:"Delay between remote store attempts in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Listing Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Moscow)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses the given command line on top of the environment
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DatabaseURL:       raw.DatabaseURL,
		ProfilesDir:       raw.ProfilesDir,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		TaskTimeout:       raw.TaskTimeout,
		APIAccessKey:      raw.APIAccessKey,
		Once:              raw.Once,
		StoreBackend:      raw.StoreBackend,
		DriveCredentials:  raw.DriveCredentials,
		S3Endpoint:        raw.S3Endpoint,
		S3AccessKey:       raw.S3AccessKey,
		S3SecretKey:       raw.S3SecretKey,
		S3Bucket:          raw.S3Bucket,
		S3Region:          raw.S3Region,
		S3UseSSL:          raw.S3UseSSL,
		ImageHost:         raw.ImageHost,
		TableHost:         raw.TableHost,
		RemoteAttempts:    raw.RemoteAttempts,
		RemoteRetryDelay:  raw.RemoteRetryDelay,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	if cfg.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", cfg.WorkerCount)
	}
	if cfg.SchedulerInterval < 1 {
		return fmt.Errorf("scheduler interval must be at least 1 second, got %d", cfg.SchedulerInterval)
	}
	if cfg.RemoteAttempts < 1 {
		return fmt.Errorf("remote attempts must be at least 1, got %d", cfg.RemoteAttempts)
	}
	if cfg.RemoteRetryDelay < 0 {
		return fmt.Errorf("remote retry delay cannot be negative, got %d", cfg.RemoteRetryDelay)
	}

	switch cfg.StoreBackend {
	case StoreNone, StoreDrive:
	case StoreS3:
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
			return fmt.Errorf("s3 store requires S3_ENDPOINT and S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
