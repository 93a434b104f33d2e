package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tracehub/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName          = "tracehub"
	defaultHTTPListen           = ":8080"
	defaultAPIPrefix            = "/api"
	defaultHealthPath           = "/healthz"
	defaultReadyPath            = "/readyz"
	defaultMetricsPath          = "/metrics"
	defaultMaxBodyBytes         = 2 << 20
	defaultNATSURL              = "nats://127.0.0.1:4222"
	defaultNATSSubject          = "tracehub.operations"
	defaultNATSStream           = "TRACEHUB_OPERATIONS"
	defaultNATSConsumer         = "tracehub-ingest"
	defaultNATSGroup            = "tracehub-workers"
	defaultNATSWorkers          = 1
	defaultNATSAckWaitSec       = 30
	defaultNATSNackDelayMS      = 1000
	defaultNATSMaxDeliver       = 5
	defaultNATSMaxAckPending    = 1024
	defaultStateBucket          = "tracehub_state"
	defaultStateKey             = "snapshot"
	defaultMaintenanceSec       = 60
	defaultSnapshotSec          = 30
	defaultShutdownTimeoutSec   = 10
	defaultRetentionHours       = 7 * 24
	defaultAlertMaxAgeHours     = 48
	defaultMaxAlerts            = 200
	defaultExportLimit          = 1000
	defaultTrendModeratePercent = 5
	defaultTrendStrongPercent   = 10
	defaultBrokerHealthPath     = "/health"
	defaultBrokerTimeoutSec     = 5
	defaultBrokerProbeSec       = 60
	defaultBrokerMaxAttempts    = 3
	defaultNotifyWorkers        = 2
	defaultNotifyQueueSize      = 256
	defaultNotifySubject        = "tracehub.alerts"

	// StateBackendMemory keeps snapshots in process memory.
	StateBackendMemory = "memory"
	// StateBackendNATS keeps snapshots in a JetStream KV bucket.
	StateBackendNATS = "nats"

	// DuplicateAccept stores reused operation numbers under a derived id.
	DuplicateAccept = "accept"
	// DuplicateReject refuses reused operation numbers.
	DuplicateReject = "reject"

	// NotifyChannelTelegram identifies Telegram transport.
	NotifyChannelTelegram = "telegram"
	// NotifyChannelHTTP identifies webhook transport.
	NotifyChannelHTTP = "http"
	// NotifyChannelNATS identifies NATS publish transport.
	NotifyChannelNATS = "nats"
)

// Config holds every runtime setting of the service.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	Log        LogConfig        `toml:"log"`
	Ingest     IngestConfig     `toml:"ingest"`
	State      StateConfig      `toml:"state"`
	Registry   RegistryConfig   `toml:"registry"`
	Validation ValidationConfig `toml:"validation"`
	Alerts     AlertsConfig     `toml:"alerts"`
	Analytics  AnalyticsConfig  `toml:"analytics"`
	Query      QueryConfig      `toml:"query"`
	Broker     BrokerConfig     `toml:"broker"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name                   string `toml:"name"`
	Debug                  bool   `toml:"debug"`
	SeedDemo               bool   `toml:"seed_demo"`
	DuplicatePolicy        string `toml:"duplicate_policy"`
	MaintenanceIntervalSec int    `toml:"maintenance_interval_sec"`
	SnapshotIntervalSec    int    `toml:"snapshot_interval_sec"`
	ShutdownTimeoutSec     int    `toml:"shutdown_timeout_sec"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound interfaces.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the HTTP server that carries ingestion and queries.
// Params: listen address, route prefixes and body size limit.
// Returns: HTTP server behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	APIPrefix    string `toml:"api_prefix"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection, stream routing, worker and redelivery policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	Workers       int      `toml:"workers"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StateConfig selects the snapshot store.
// Params: backend name plus KV settings for the nats backend.
// Returns: persistence options.
type StateConfig struct {
	Backend            string   `toml:"backend"`
	URL                []string `toml:"url"`
	Bucket             string   `toml:"bucket"`
	Key                string   `toml:"key"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// RegistryConfig overrides the built-in member list when countries are listed.
type RegistryConfig struct {
	Country []CountryConfig `toml:"country"`
}

// CountryConfig is one `[[registry.country]]` entry.
type CountryConfig struct {
	Code     string   `toml:"code"`
	Name     string   `toml:"name"`
	City     string   `toml:"city"`
	Category string   `toml:"category"`
	Role     string   `toml:"role"`
	Aliases  []string `toml:"aliases"`
}

// ValidationConfig controls intake checks.
// Params: strict membership, declared-value fields and per-type payload rules.
// Returns: validator options.
type ValidationConfig struct {
	Strict       *bool               `toml:"strict"`
	VolumeFields []string            `toml:"volume_fields"`
	PayloadRule  []PayloadRuleConfig `toml:"payload_rule"`
}

// PayloadRuleConfig is one `[[validation.payload_rule]]` entry.
type PayloadRuleConfig struct {
	Name         string   `toml:"name"`
	TypeContains []string `toml:"type_contains"`
	Required     []string `toml:"required"`
	Numeric      []string `toml:"numeric"`
	RelaxWhen    []string `toml:"relax_when"`
}

// StrictEnabled reports whether unknown country codes are rejected.
// Params: none.
// Returns: configured flag, true when unset.
func (v ValidationConfig) StrictEnabled() bool {
	return v.Strict == nil || *v.Strict
}

// AlertsConfig holds thresholds and alert lifecycle limits.
type AlertsConfig struct {
	HighVolume          float64 `toml:"high_volume"`
	MaxErrorRate        float64 `toml:"max_error_rate"`
	MaxLatencyMS        float64 `toml:"max_latency_ms"`
	MinOpsPerDay        int     `toml:"min_ops_per_day"`
	MaxSupervisedVolume float64 `toml:"max_supervised_volume"`
	MinActiveCorridors  int     `toml:"min_active_corridors"`
	MaxAgeHours         int     `toml:"max_age_hours"`
	MaxAlerts           int     `toml:"max_alerts"`
	EmitCompletion      bool    `toml:"emit_completion"`
}

// AnalyticsConfig sets the rolling sample window.
type AnalyticsConfig struct {
	RetentionHours int `toml:"retention_hours"`
}

// QueryConfig holds listing and trend settings.
type QueryConfig struct {
	ExportLimit          int     `toml:"export_limit"`
	TrendModeratePercent float64 `toml:"trend_moderate_percent"`
	TrendStrongPercent   float64 `toml:"trend_strong_percent"`
}

// BrokerConfig configures the integration broker health client and prober.
// Params: endpoint, timeout, probe period and retry attempts.
// Returns: broker options.
type BrokerConfig struct {
	Enabled          bool   `toml:"enabled"`
	BaseURL          string `toml:"base_url"`
	HealthPath       string `toml:"health_path"`
	TimeoutSec       int    `toml:"timeout_sec"`
	ProbeIntervalSec int    `toml:"probe_interval_sec"`
	MaxAttempts      int    `toml:"max_attempts"`
}

// NotifyConfig defines outbound alert delivery.
// Params: queue sizing, level filter and per-channel transport settings.
// Returns: notification controls.
type NotifyConfig struct {
	Workers   int              `toml:"workers"`
	QueueSize int              `toml:"queue_size"`
	MinLevel  string           `toml:"min_level"`
	Telegram  TelegramNotifier `toml:"telegram"`
	HTTP      HTTPNotifier     `toml:"http"`
	NATS      NATSNotifier     `toml:"nats"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// TelegramNotifier defines Telegram channel settings.
type TelegramNotifier struct {
	Enabled  bool        `toml:"enabled"`
	BotToken string      `toml:"bot_token"`
	ChatID   string      `toml:"chat_id"`
	APIBase  string      `toml:"api_base"`
	Template string      `toml:"template"`
	Retry    NotifyRetry `toml:"retry"`
}

// HTTPNotifier defines the webhook channel.
type HTTPNotifier struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
	Template   string            `toml:"template"`
	Retry      NotifyRetry       `toml:"retry"`
}

// NATSNotifier publishes alerts to a NATS subject.
type NATSNotifier struct {
	Enabled  bool        `toml:"enabled"`
	URL      []string    `toml:"url"`
	Subject  string      `toml:"subject"`
	Template string      `toml:"template"`
	Retry    NotifyRetry `toml:"retry"`
}

// MetricsConfig exposes Prometheus collectors.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var body []byte
	var err error
	if src.File != "" {
		body, err = readFile(src.File)
	} else {
		body, err = mergeDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	cfg, err := decode(body)
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readFile reads one TOML file and checks it parses.
// Params: file path.
// Returns: raw body or read/parse error.
func readFile(path string) ([]byte, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	var probe map[string]any
	if err := toml.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return body, nil
}

// mergeDir deep-merges every *.toml fragment of a directory in lexical order.
// Params: directory path.
// Returns: merged TOML document or read/parse error.
func mergeDir(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	merged := make(map[string]any)
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", file, err)
		}
		fragment := make(map[string]any)
		if err := toml.Unmarshal(body, &fragment); err != nil {
			return nil, fmt.Errorf("decode config file %q: %w", file, err)
		}
		mergeTables(merged, fragment)
	}
	body, err := toml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged config %q: %w", dir, err)
	}
	return body, nil
}

// mergeTables overlays src onto dst; tables merge key by key, arrays of tables append, scalars replace.
// Params: destination and fragment tables.
// Returns: merged result side-effect in dst.
func mergeTables(dst, src map[string]any) {
	for key, value := range src {
		switch typed := value.(type) {
		case map[string]any:
			if existing, ok := dst[key].(map[string]any); ok {
				mergeTables(existing, typed)
				continue
			}
			dst[key] = maps.Clone(typed)
		case []any:
			if existing, ok := dst[key].([]any); ok && isTableArray(typed) && isTableArray(existing) {
				dst[key] = append(existing, typed...)
				continue
			}
			dst[key] = typed
		default:
			dst[key] = typed
		}
	}
}

func isTableArray(values []any) bool {
	if len(values) == 0 {
		return false
	}
	for _, value := range values {
		if _, ok := value.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// decode strictly decodes a TOML document into Config.
// Params: TOML body.
// Returns: config or decode error naming unknown keys.
func decode(body []byte) (Config, error) {
	var cfg Config
	decoder := toml.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("decode config: unknown keys:\n%s", strict.String())
		}
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills optional fields.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.DuplicatePolicy = strings.ToLower(strings.TrimSpace(cfg.Service.DuplicatePolicy))
	if cfg.Service.DuplicatePolicy == "" {
		cfg.Service.DuplicatePolicy = DuplicateAccept
	}
	if cfg.Service.MaintenanceIntervalSec <= 0 {
		cfg.Service.MaintenanceIntervalSec = defaultMaintenanceSec
	}
	if cfg.Service.SnapshotIntervalSec <= 0 {
		cfg.Service.SnapshotIntervalSec = defaultSnapshotSec
	}
	if cfg.Service.ShutdownTimeoutSec <= 0 {
		cfg.Service.ShutdownTimeoutSec = defaultShutdownTimeoutSec
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	http := &cfg.Ingest.HTTP
	if strings.TrimSpace(http.Listen) == "" {
		http.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(http.APIPrefix) == "" {
		http.APIPrefix = defaultAPIPrefix
	}
	http.APIPrefix = "/" + strings.Trim(strings.TrimSpace(http.APIPrefix), "/")
	if strings.TrimSpace(http.HealthPath) == "" {
		http.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(http.ReadyPath) == "" {
		http.ReadyPath = defaultReadyPath
	}
	if http.MaxBodyBytes <= 0 {
		http.MaxBodyBytes = defaultMaxBodyBytes
	}
	if !http.Enabled && !cfg.Ingest.NATS.Enabled {
		http.Enabled = true
	}

	nats := &cfg.Ingest.NATS
	nats.URL = normalizeNATSURLs(nats.URL)
	if len(nats.URL) == 0 {
		nats.URL = []string{defaultNATSURL}
	}
	if strings.TrimSpace(nats.Subject) == "" {
		nats.Subject = defaultNATSSubject
	}
	if strings.TrimSpace(nats.Stream) == "" {
		nats.Stream = defaultNATSStream
	}
	if strings.TrimSpace(nats.ConsumerName) == "" {
		nats.ConsumerName = defaultNATSConsumer
	}
	if strings.TrimSpace(nats.DeliverGroup) == "" {
		nats.DeliverGroup = defaultNATSGroup
	}
	if nats.Workers == 0 {
		nats.Workers = defaultNATSWorkers
	}
	if nats.AckWaitSec <= 0 {
		nats.AckWaitSec = defaultNATSAckWaitSec
	}
	if nats.NackDelayMS == 0 {
		nats.NackDelayMS = defaultNATSNackDelayMS
	}
	if nats.MaxDeliver == 0 {
		nats.MaxDeliver = defaultNATSMaxDeliver
	}
	if nats.MaxAckPending <= 0 {
		nats.MaxAckPending = defaultNATSMaxAckPending
	}

	cfg.State.Backend = strings.ToLower(strings.TrimSpace(cfg.State.Backend))
	if cfg.State.Backend == "" {
		cfg.State.Backend = StateBackendMemory
	}
	cfg.State.URL = normalizeNATSURLs(cfg.State.URL)
	if len(cfg.State.URL) == 0 {
		cfg.State.URL = append([]string(nil), nats.URL...)
	}
	if strings.TrimSpace(cfg.State.Bucket) == "" {
		cfg.State.Bucket = defaultStateBucket
	}
	if strings.TrimSpace(cfg.State.Key) == "" {
		cfg.State.Key = defaultStateKey
	}

	alerts := &cfg.Alerts
	if alerts.HighVolume == 0 {
		alerts.HighVolume = 100_000_000
	}
	if alerts.MaxErrorRate == 0 {
		alerts.MaxErrorRate = 0.10
	}
	if alerts.MaxLatencyMS == 0 {
		alerts.MaxLatencyMS = 5000
	}
	if alerts.MinOpsPerDay == 0 {
		alerts.MinOpsPerDay = 5
	}
	if alerts.MaxSupervisedVolume == 0 {
		alerts.MaxSupervisedVolume = 500_000_000
	}
	if alerts.MinActiveCorridors == 0 {
		alerts.MinActiveCorridors = 2
	}
	if alerts.MaxAgeHours <= 0 {
		alerts.MaxAgeHours = defaultAlertMaxAgeHours
	}
	if alerts.MaxAlerts <= 0 {
		alerts.MaxAlerts = defaultMaxAlerts
	}

	if cfg.Analytics.RetentionHours <= 0 {
		cfg.Analytics.RetentionHours = defaultRetentionHours
	}
	if cfg.Query.ExportLimit <= 0 {
		cfg.Query.ExportLimit = defaultExportLimit
	}
	if cfg.Query.TrendModeratePercent == 0 {
		cfg.Query.TrendModeratePercent = defaultTrendModeratePercent
	}
	if cfg.Query.TrendStrongPercent == 0 {
		cfg.Query.TrendStrongPercent = defaultTrendStrongPercent
	}

	broker := &cfg.Broker
	if strings.TrimSpace(broker.HealthPath) == "" {
		broker.HealthPath = defaultBrokerHealthPath
	}
	if broker.TimeoutSec <= 0 {
		broker.TimeoutSec = defaultBrokerTimeoutSec
	}
	if broker.ProbeIntervalSec <= 0 {
		broker.ProbeIntervalSec = defaultBrokerProbeSec
	}
	if broker.MaxAttempts <= 0 {
		broker.MaxAttempts = defaultBrokerMaxAttempts
	}

	notify := &cfg.Notify
	if notify.Workers <= 0 {
		notify.Workers = defaultNotifyWorkers
	}
	if notify.QueueSize <= 0 {
		notify.QueueSize = defaultNotifyQueueSize
	}
	notify.MinLevel = strings.ToLower(strings.TrimSpace(notify.MinLevel))
	if notify.MinLevel == "" {
		notify.MinLevel = "info"
	}
	if notify.Telegram.APIBase == "" {
		notify.Telegram.APIBase = "https://api.telegram.org"
	}
	if strings.TrimSpace(notify.Telegram.Template) == "" {
		notify.Telegram.Template = templatefmt.DefaultTelegramTemplate
	}
	fillNotifyRetryDefaults(&notify.Telegram.Retry)
	if notify.HTTP.Method == "" {
		notify.HTTP.Method = "POST"
	}
	if notify.HTTP.TimeoutSec <= 0 {
		notify.HTTP.TimeoutSec = 10
	}
	if strings.TrimSpace(notify.HTTP.Template) == "" {
		notify.HTTP.Template = templatefmt.DefaultTextTemplate
	}
	fillNotifyRetryDefaults(&notify.HTTP.Retry)
	notify.NATS.URL = normalizeNATSURLs(notify.NATS.URL)
	if len(notify.NATS.URL) == 0 {
		notify.NATS.URL = append([]string(nil), nats.URL...)
	}
	if strings.TrimSpace(notify.NATS.Subject) == "" {
		notify.NATS.Subject = defaultNotifySubject
	}
	if strings.TrimSpace(notify.NATS.Template) == "" {
		notify.NATS.Template = templatefmt.DefaultTextTemplate
	}
	fillNotifyRetryDefaults(&notify.NATS.Retry)

	if strings.TrimSpace(cfg.Metrics.Path) == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
}

// fillNotifyRetryDefaults normalizes retry policy fields for one channel.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 60000
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first failing rule.
func validateConfig(cfg Config) error {
	switch cfg.Service.DuplicatePolicy {
	case DuplicateAccept, DuplicateReject:
	default:
		return fmt.Errorf("service.duplicate_policy has unsupported value %q", cfg.Service.DuplicatePolicy)
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		return errors.New("ingest.http.listen is required")
	}
	for name, path := range map[string]string{
		"ingest.http.health_path": cfg.Ingest.HTTP.HealthPath,
		"ingest.http.ready_path":  cfg.Ingest.HTTP.ReadyPath,
		"metrics.path":            cfg.Metrics.Path,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with /", name)
		}
	}
	if cfg.Ingest.HTTP.APIPrefix == "/" {
		return errors.New("ingest.http.api_prefix must not be the root path")
	}
	if cfg.Ingest.NATS.Enabled {
		if err := validateNATSURLs("ingest.nats.url", cfg.Ingest.NATS.URL); err != nil {
			return err
		}
		if cfg.Ingest.NATS.Workers <= 0 {
			return errors.New("ingest.nats.workers must be >0 when ingest.nats.enabled=true")
		}
		if cfg.Ingest.NATS.NackDelayMS < 0 {
			return errors.New("ingest.nats.nack_delay_ms must be >=0")
		}
		if cfg.Ingest.NATS.MaxDeliver < -1 {
			return errors.New("ingest.nats.max_deliver must be -1 or >0")
		}
	}

	switch cfg.State.Backend {
	case StateBackendMemory:
	case StateBackendNATS:
		if err := validateNATSURLs("state.url", cfg.State.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("state.backend has unsupported value %q", cfg.State.Backend)
	}

	codes := make(map[string]struct{}, len(cfg.Registry.Country))
	for i, country := range cfg.Registry.Country {
		code := strings.ToUpper(strings.TrimSpace(country.Code))
		if code == "" {
			return fmt.Errorf("registry.country[%d].code is required", i)
		}
		if _, exists := codes[code]; exists {
			return fmt.Errorf("registry.country[%d].code %q is duplicated", i, code)
		}
		codes[code] = struct{}{}
		switch strings.ToLower(strings.TrimSpace(country.Category)) {
		case "coastal", "landlocked":
		default:
			return fmt.Errorf("registry.country[%d].category has unsupported value %q", i, country.Category)
		}
	}
	for i, rule := range cfg.Validation.PayloadRule {
		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("validation.payload_rule[%d].name is required", i)
		}
		if len(rule.TypeContains) == 0 {
			return fmt.Errorf("validation.payload_rule[%d].type_contains is required", i)
		}
	}

	if cfg.Alerts.MaxErrorRate < 0 || cfg.Alerts.MaxErrorRate > 1 {
		return errors.New("alerts.max_error_rate must be within [0,1]")
	}
	if cfg.Alerts.HighVolume < 0 || cfg.Alerts.MaxSupervisedVolume < 0 || cfg.Alerts.MaxLatencyMS < 0 {
		return errors.New("alerts volume and latency thresholds must be >=0")
	}
	// -1 disables the activity and corridor-count rules; 0 means default.
	if cfg.Alerts.MinOpsPerDay < -1 || cfg.Alerts.MinActiveCorridors < -1 {
		return errors.New("alerts.min_ops_per_day and alerts.min_active_corridors must be -1 or >0")
	}
	if cfg.Query.TrendModeratePercent <= 0 || cfg.Query.TrendStrongPercent < cfg.Query.TrendModeratePercent {
		return errors.New("query.trend_strong_percent must be >= query.trend_moderate_percent > 0")
	}

	if cfg.Broker.Enabled && strings.TrimSpace(cfg.Broker.BaseURL) == "" {
		return errors.New("broker.base_url is required when broker.enabled=true")
	}

	switch cfg.Notify.MinLevel {
	case "info", "success", "attention", "warning":
	default:
		return fmt.Errorf("notify.min_level has unsupported value %q", cfg.Notify.MinLevel)
	}
	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when notify.telegram.enabled=true")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when notify.telegram.enabled=true")
		}
	}
	if cfg.Notify.HTTP.Enabled && strings.TrimSpace(cfg.Notify.HTTP.URL) == "" {
		return errors.New("notify.http.url is required when notify.http.enabled=true")
	}
	if cfg.Notify.NATS.Enabled {
		if err := validateNATSURLs("notify.nats.url", cfg.Notify.NATS.URL); err != nil {
			return err
		}
	}
	for path, body := range map[string]string{
		"notify.telegram.template": cfg.Notify.Telegram.Template,
		"notify.http.template":     cfg.Notify.HTTP.Template,
		"notify.nats.template":     cfg.Notify.NATS.Template,
	} {
		if err := validateMessageTemplate(path, body); err != nil {
			return err
		}
	}
	return nil
}

// MaintenanceInterval returns the maintenance ticker period.
func (c Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Service.MaintenanceIntervalSec) * time.Second
}

// SnapshotInterval returns the snapshot ticker period.
func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Service.SnapshotIntervalSec) * time.Second
}

// ShutdownTimeout returns the drain deadline.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Service.ShutdownTimeoutSec) * time.Second
}

// Retention returns the analytics window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Analytics.RetentionHours) * time.Hour
}

// AlertMaxAge returns the alert lifetime.
func (c Config) AlertMaxAge() time.Duration {
	return time.Duration(c.Alerts.MaxAgeHours) * time.Hour
}

// ProbeInterval returns the broker probe period.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Broker.ProbeIntervalSec) * time.Second
}

func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		trimmed := strings.TrimSpace(url)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func validateNATSURLs(path string, urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("%s is required", path)
	}
	for i, url := range urls {
		if !strings.HasPrefix(url, "nats://") && !strings.HasPrefix(url, "tls://") {
			return fmt.Errorf("%s[%d] must use nats:// or tls:// scheme", path, i)
		}
	}
	return nil
}

// validateMessageTemplate parses one text template and checks it is non-empty.
// Params: field path and template body.
// Returns: parse/empty error.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, err := templatefmt.ParseAlertTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}
