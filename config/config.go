/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	DEFAULT_SNAPSHOT_THRESHOLD = 100
	DEFAULT_MAX_RETRIES        = 5
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"EVENTLEDGER_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"EVENTLEDGER_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"EVENTLEDGER_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"EVENTLEDGER_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"EVENTLEDGER_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"EVENTLEDGER_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"EVENTLEDGER_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"EVENTLEDGER_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"EVENTLEDGER_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns    string `json:"dns" envconfig:"EVENTLEDGER_TYPESENSE_DNS"`
	ApiKey string `json:"api_key" envconfig:"EVENTLEDGER_TYPESENSE_API_KEY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"EVENTLEDGER_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"EVENTLEDGER_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"EVENTLEDGER_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"EVENTLEDGER_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type QueueConfig struct {
	ReplayQueue      string `json:"replay_queue" envconfig:"EVENTLEDGER_QUEUE_REPLAY"`
	MaintenanceQueue string `json:"maintenance_queue" envconfig:"EVENTLEDGER_QUEUE_MAINTENANCE"`
	IndexQueue       string `json:"index_queue" envconfig:"EVENTLEDGER_QUEUE_INDEX"`
	Concurrency      int    `json:"concurrency" envconfig:"EVENTLEDGER_QUEUE_CONCURRENCY"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"EVENTLEDGER_QUEUE_MONITORING_PORT"`
}

// DispatchRetryConfig bounds the retries around read-model writes.
type DispatchRetryConfig struct {
	MaxAttempts       int     `json:"max_attempts" envconfig:"EVENTLEDGER_DISPATCH_RETRY_MAX_ATTEMPTS"`
	InitialIntervalMs int     `json:"initial_interval_ms" envconfig:"EVENTLEDGER_DISPATCH_RETRY_INITIAL_INTERVAL_MS"`
	Multiplier        float64 `json:"multiplier" envconfig:"EVENTLEDGER_DISPATCH_RETRY_MULTIPLIER"`
	MaxIntervalMs     int     `json:"max_interval_ms" envconfig:"EVENTLEDGER_DISPATCH_RETRY_MAX_INTERVAL_MS"`
}

type LedgerConfig struct {
	SnapshotThreshold int                 `json:"snapshot_threshold" envconfig:"EVENTLEDGER_SNAPSHOT_THRESHOLD"`
	DispatchRetry     DispatchRetryConfig `json:"dispatch_retry"`
}

type RetryConfig struct {
	MaxRetries            int    `json:"max_retries" envconfig:"EVENTLEDGER_RETRY_MAX_RETRIES"`
	BatchSize             int    `json:"batch_size" envconfig:"EVENTLEDGER_RETRY_BATCH_SIZE"`
	SweepSchedule         string `json:"sweep_schedule" envconfig:"EVENTLEDGER_RETRY_SWEEP_SCHEDULE"`
	StaleThresholdMinutes int    `json:"stale_threshold_minutes" envconfig:"EVENTLEDGER_RETRY_STALE_THRESHOLD_MINUTES"`
	StaleCheckSchedule    string `json:"stale_check_schedule" envconfig:"EVENTLEDGER_RETRY_STALE_CHECK_SCHEDULE"`
}

type ConsistencyConfig struct {
	Schedule string `json:"schedule" envconfig:"EVENTLEDGER_CONSISTENCY_SCHEDULE"`
	PageSize int    `json:"page_size" envconfig:"EVENTLEDGER_CONSISTENCY_PAGE_SIZE"`
}

type RecoveryConfig struct {
	PendingThresholdSec int `json:"pending_threshold_sec" envconfig:"EVENTLEDGER_RECOVERY_PENDING_THRESHOLD_SEC"`
	PollIntervalSec     int `json:"poll_interval_sec" envconfig:"EVENTLEDGER_RECOVERY_POLL_INTERVAL_SEC"`
	MaxWorkers          int `json:"max_workers" envconfig:"EVENTLEDGER_RECOVERY_MAX_WORKERS"`
	BatchSize           int `json:"batch_size" envconfig:"EVENTLEDGER_RECOVERY_BATCH_SIZE"`
}

type TelemetryConfig struct {
	PosthogKey string `json:"posthog_key" envconfig:"EVENTLEDGER_POSTHOG_KEY"`
}

// OtelExporter is copied into the standard OTEL_EXPORTER_OTLP_* variables read by the exporters.
type OtelExporter struct {
	Protocol string `json:"protocol" envconfig:"EVENTLEDGER_OTEL_EXPORTER_OTLP_PROTOCOL"`
	Endpoint string `json:"endpoint" envconfig:"EVENTLEDGER_OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers  string `json:"headers" envconfig:"EVENTLEDGER_OTEL_EXPORTER_OTLP_HEADERS"`
}

type Configuration struct {
	ProjectName     string            `json:"project_name" envconfig:"EVENTLEDGER_PROJECT_NAME"`
	EnableTelemetry bool              `json:"enable_telemetry" envconfig:"EVENTLEDGER_ENABLE_TELEMETRY"`
	Server          ServerConfig      `json:"server"`
	DataSource      DataSourceConfig  `json:"data_source"`
	Redis           RedisConfig       `json:"redis"`
	TypeSense       TypeSenseConfig   `json:"typesense"`
	Notification    Notification      `json:"notification"`
	RateLimit       RateLimitConfig   `json:"rate_limit"`
	Queue           QueueConfig       `json:"queue"`
	Ledger          LedgerConfig      `json:"ledger"`
	Retry           RetryConfig       `json:"retry"`
	Consistency     ConsistencyConfig `json:"consistency"`
	Recovery        RecoveryConfig    `json:"recovery"`
	Telemetry       TelemetryConfig   `json:"telemetry"`
	OtelExporter    OtelExporter      `json:"otel_exporter"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("eventledger", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called eventledger.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Event Ledger"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	cnf.setQueueDefaults()
	cnf.setLedgerDefaults()
	cnf.setRetryDefaults()

	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.ReplayQueue == "" {
		cnf.Queue.ReplayQueue = "replay"
	}
	if cnf.Queue.MaintenanceQueue == "" {
		cnf.Queue.MaintenanceQueue = "maintenance"
	}
	if cnf.Queue.IndexQueue == "" {
		cnf.Queue.IndexQueue = "index"
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
}

func (cnf *Configuration) setLedgerDefaults() {
	if cnf.Ledger.SnapshotThreshold <= 0 {
		cnf.Ledger.SnapshotThreshold = DEFAULT_SNAPSHOT_THRESHOLD
	}
	dr := &cnf.Ledger.DispatchRetry
	if dr.MaxAttempts <= 0 {
		dr.MaxAttempts = 3
	}
	if dr.InitialIntervalMs <= 0 {
		dr.InitialIntervalMs = 100
	}
	if dr.Multiplier < 1 {
		dr.Multiplier = 2.0
	}
	if dr.MaxIntervalMs <= 0 {
		dr.MaxIntervalMs = 1000
	}
}

func (cnf *Configuration) setRetryDefaults() {
	if cnf.Retry.MaxRetries <= 0 {
		cnf.Retry.MaxRetries = DEFAULT_MAX_RETRIES
	}
	if cnf.Retry.BatchSize <= 0 {
		cnf.Retry.BatchSize = 100
	}
	if cnf.Retry.SweepSchedule == "" {
		cnf.Retry.SweepSchedule = "@every 5m"
	}
	if cnf.Retry.StaleThresholdMinutes <= 0 {
		cnf.Retry.StaleThresholdMinutes = 1440
	}
	if cnf.Retry.StaleCheckSchedule == "" {
		cnf.Retry.StaleCheckSchedule = "@every 1h"
	}

	if cnf.Consistency.Schedule == "" {
		cnf.Consistency.Schedule = "0 3 * * *"
	}
	if cnf.Consistency.PageSize <= 0 {
		cnf.Consistency.PageSize = 200
	}

	if cnf.Recovery.PendingThresholdSec <= 0 {
		cnf.Recovery.PendingThresholdSec = 60
	}
	if cnf.Recovery.PollIntervalSec <= 0 {
		cnf.Recovery.PollIntervalSec = 30
	}
	if cnf.Recovery.MaxWorkers <= 0 {
		cnf.Recovery.MaxWorkers = 10
	}
	if cnf.Recovery.BatchSize <= 0 {
		cnf.Recovery.BatchSize = 500
	}
}

// SetOtelExporterEnvs exports the configured OTLP settings for the trace exporter.
func SetOtelExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	envs := map[string]string{
		"OTEL_EXPORTER_OTLP_PROTOCOL": cnf.OtelExporter.Protocol,
		"OTEL_EXPORTER_OTLP_ENDPOINT": cnf.OtelExporter.Endpoint,
		"OTEL_EXPORTER_OTLP_HEADERS":  cnf.OtelExporter.Headers,
	}
	for key, value := range envs {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
