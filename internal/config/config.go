package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Alert      AlertConfig      `json:"alert" yaml:"alert"`
	Notifier   NotifierConfig   `json:"notifier" yaml:"notifier"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	WebSocket     WebSocketConfig `json:"websocket" yaml:"websocket"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type WebSocketConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	DefaultSource string  `json:"default_source" yaml:"default_source"`
	MinVisibility float64 `json:"min_visibility" yaml:"min_visibility"`
	// EdgeTolerance is how far past the frame edge a coordinate may sit and
	// still be clamped onto it rather than dropped.
	EdgeTolerance float64       `json:"edge_tolerance" yaml:"edge_tolerance"`
	MaxClockSkew  time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

// ClassifierConfig thresholds are in normalized image coordinates.
type ClassifierConfig struct {
	ShoulderTiltThreshold float64  `json:"shoulder_tilt_threshold" yaml:"shoulder_tilt_threshold"`
	HeadTiltThreshold     float64  `json:"head_tilt_threshold" yaml:"head_tilt_threshold"`
	SlouchThreshold       float64  `json:"slouch_threshold" yaml:"slouch_threshold"`
	Epsilon               float64  `json:"epsilon" yaml:"epsilon"`
	Triggers              []string `json:"triggers" yaml:"triggers"`
}

type AlertConfig struct {
	RepeatPeriod       time.Duration `json:"repeat_period" yaml:"repeat_period"`
	InitialVolume      float64       `json:"initial_volume" yaml:"initial_volume"`
	NoDetectionPolicy  string        `json:"no_detection_policy" yaml:"no_detection_policy"`
	NoDetectionTimeout time.Duration `json:"no_detection_timeout" yaml:"no_detection_timeout"`
}

type NotifierConfig struct {
	Log     bool          `json:"log" yaml:"log"`
	Command CommandConfig `json:"command" yaml:"command"`
	MQTT    MQTTConfig    `json:"mqtt" yaml:"mqtt"`
}

type CommandConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Path    string   `json:"path" yaml:"path"`
	Args    []string `json:"args" yaml:"args"`
	File    string   `json:"file" yaml:"file"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Driver         string        `json:"driver" yaml:"driver"`
	DSN            string        `json:"dsn" yaml:"dsn"`
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size"`
}

type MetricsConfig struct {
	Windows    []time.Duration `json:"windows" yaml:"windows"`
	StoreLimit int             `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	NoDetectionHold  = "hold"
	NoDetectionClear = "clear"
)

const (
	TriggerHead      = "head"
	TriggerShoulders = "shoulders"
	TriggerSlouch    = "slouch"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 64,
			DedupeWindow:  2 * time.Second,
			REST:          RESTConfig{Enabled: true, Addr: ":8090"},
			WebSocket:     WebSocketConfig{Enabled: true, Addr: ":8092"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9010"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{DefaultSource: "camera", EdgeTolerance: 0.1, MaxClockSkew: 5 * time.Second, MaxFutureSkew: 2 * time.Second},
		},
		Classifier: ClassifierConfig{
			ShoulderTiltThreshold: 0.05,
			HeadTiltThreshold:     0.05,
			SlouchThreshold:       0.025,
			Epsilon:               1e-9,
			Triggers:              []string{TriggerHead, TriggerShoulders, TriggerSlouch},
		},
		Alert: AlertConfig{
			RepeatPeriod:       5 * time.Second,
			InitialVolume:      1.0,
			NoDetectionPolicy:  NoDetectionHold,
			NoDetectionTimeout: 10 * time.Second,
		},
		Notifier: NotifierConfig{
			Log:     true,
			Command: CommandConfig{Enabled: false, Path: "paplay", Args: []string{"--volume={volume_pa}", "{file}"}},
			MQTT:    MQTTConfig{Enabled: false, Topic: "posturewatch/cue", ClientID: "posturewatch"},
		},
		API:     APIConfig{Enabled: true, Addr: ":8091"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:posturewatch.db?_pragma=busy_timeout(5000)", SampleInterval: time.Second, QueueSize: 1024},
		Metrics: MetricsConfig{Windows: []time.Duration{time.Minute, 10 * time.Minute}, StoreLimit: 64},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 64
	}
	if cfg.Ingest.Parser.DefaultSource == "" {
		cfg.Ingest.Parser.DefaultSource = "camera"
	}
	if cfg.Classifier.Epsilon <= 0 {
		cfg.Classifier.Epsilon = 1e-9
	}
	if len(cfg.Classifier.Triggers) == 0 {
		cfg.Classifier.Triggers = []string{TriggerHead, TriggerShoulders, TriggerSlouch}
	}
	if cfg.Alert.RepeatPeriod <= 0 {
		cfg.Alert.RepeatPeriod = 5 * time.Second
	}
	if cfg.Alert.NoDetectionPolicy == "" {
		cfg.Alert.NoDetectionPolicy = NoDetectionHold
	}
	if cfg.Storage.SampleInterval <= 0 {
		cfg.Storage.SampleInterval = time.Second
	}
	if cfg.Storage.QueueSize <= 0 {
		cfg.Storage.QueueSize = 1024
	}
	if len(cfg.Metrics.Windows) == 0 {
		cfg.Metrics.Windows = []time.Duration{time.Minute, 10 * time.Minute}
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 64
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.WebSocket.Enabled && cfg.Ingest.WebSocket.Addr == "" {
		return errors.New("ingest.websocket.addr required when ingest.websocket.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.Parser.MinVisibility < 0 || cfg.Ingest.Parser.MinVisibility > 1 {
		return errors.New("ingest.parser.min_visibility must be within [0,1]")
	}
	if cfg.Ingest.Parser.EdgeTolerance < 0 || cfg.Ingest.Parser.EdgeTolerance > 0.5 {
		return errors.New("ingest.parser.edge_tolerance must be within [0,0.5]")
	}
	if err := ValidateClassifier(cfg.Classifier); err != nil {
		return err
	}
	if cfg.Alert.InitialVolume < 0 || cfg.Alert.InitialVolume > 1 {
		return errors.New("alert.initial_volume must be within [0,1]")
	}
	switch cfg.Alert.NoDetectionPolicy {
	case NoDetectionHold, NoDetectionClear:
	default:
		return fmt.Errorf("alert.no_detection_policy must be %q or %q", NoDetectionHold, NoDetectionClear)
	}
	if cfg.Alert.NoDetectionTimeout < 0 {
		return errors.New("alert.no_detection_timeout must be >= 0")
	}
	if cfg.Notifier.Command.Enabled && cfg.Notifier.Command.Path == "" {
		return errors.New("notifier.command.path required when notifier.command.enabled is true")
	}
	if cfg.Notifier.MQTT.Enabled {
		if cfg.Notifier.MQTT.Broker == "" || cfg.Notifier.MQTT.Topic == "" {
			return errors.New("notifier.mqtt requires broker and topic")
		}
		if cfg.Notifier.MQTT.QoS > 2 {
			return errors.New("notifier.mqtt.qos must be 0, 1 or 2")
		}
	}
	for _, win := range cfg.Metrics.Windows {
		if win <= 0 {
			return fmt.Errorf("metrics.windows contains non-positive duration: %s", win)
		}
	}
	return nil
}

func ValidateClassifier(c ClassifierConfig) error {
	if c.ShoulderTiltThreshold <= 0 {
		return errors.New("classifier.shoulder_tilt_threshold must be > 0")
	}
	if c.HeadTiltThreshold <= 0 {
		return errors.New("classifier.head_tilt_threshold must be > 0")
	}
	if c.SlouchThreshold <= 0 {
		return errors.New("classifier.slouch_threshold must be > 0")
	}
	for _, t := range c.Triggers {
		switch t {
		case TriggerHead, TriggerShoulders, TriggerSlouch:
		default:
			return fmt.Errorf("classifier.triggers contains unknown trigger: %q", t)
		}
	}
	return nil
}

// Manager is shared by the API handlers and the Watch goroutine. writeMu
// serializes file writes and reloads; modTime holds UnixNano.
type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Int64
	writeMu sync.Mutex
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.stampModTime()
	return m, nil
}

// NewStaticManager serves cfg without a backing file; Update keeps the
// change in memory only.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.stampModTime()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.stampModTime()
	return nil
}

func (m *Manager) stampModTime() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
