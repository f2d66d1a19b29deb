package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/edgelink/internal/channel"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Kinds of channel a file can describe.
const (
	KindServer = "server"
	KindClient = "client"
	KindSerial = "serial"
)

// ChannelFile is the on-disk channel description. Keys map to the options
// documented in the templates; unset keys keep the package defaults.
type ChannelFile struct {
	Name    string `toml:"name" yaml:"name"`
	Mode    string `toml:"mode" yaml:"mode"`
	Framing string `toml:"framing" yaml:"framing"`

	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`

	RequestTimeoutMS          int64 `toml:"request_timeout_ms" yaml:"request_timeout_ms"`
	IdleTimeoutMS             int64 `toml:"idle_timeout_ms" yaml:"idle_timeout_ms"`
	ConnectTimeoutMS          int64 `toml:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	ReconnectBackoffInitialMS int64 `toml:"reconnect_backoff_initial_ms" yaml:"reconnect_backoff_initial_ms"`
	ReconnectBackoffMaxMS     int64 `toml:"reconnect_backoff_max_ms" yaml:"reconnect_backoff_max_ms"`
	AcceptBackoffInitialMS    int64 `toml:"accept_backoff_initial_ms" yaml:"accept_backoff_initial_ms"`
	AcceptBackoffMaxMS        int64 `toml:"accept_backoff_max_ms" yaml:"accept_backoff_max_ms"`
	MaxRetries                int   `toml:"max_retries" yaml:"max_retries"`

	WriteQueueLimit       int `toml:"write_queue_limit" yaml:"write_queue_limit"`
	BackpressureThreshold int `toml:"backpressure_threshold" yaml:"backpressure_threshold"`
	MaxPacketBytes        int `toml:"max_packet_bytes" yaml:"max_packet_bytes"`

	BindRetry           bool  `toml:"bind_retry" yaml:"bind_retry"`
	MaxBindRetries      int   `toml:"max_bind_retries" yaml:"max_bind_retries"`
	BindRetryIntervalMS int64 `toml:"bind_retry_interval_ms" yaml:"bind_retry_interval_ms"`

	Serial SerialFile `toml:"serial" yaml:"serial"`
}

type SerialFile struct {
	Device          string `toml:"device" yaml:"device"`
	BaudRate        int    `toml:"baud_rate" yaml:"baud_rate"`
	CharSize        int    `toml:"char_size" yaml:"char_size"`
	Parity          string `toml:"parity" yaml:"parity"`
	StopBits        int    `toml:"stop_bits" yaml:"stop_bits"`
	FlowControl     string `toml:"flow_control" yaml:"flow_control"`
	ReadChunkSize   int    `toml:"read_chunk_size" yaml:"read_chunk_size"`
	ReopenOnError   bool   `toml:"reopen_on_error" yaml:"reopen_on_error"`
	RetryIntervalMS int64  `toml:"retry_interval_ms" yaml:"retry_interval_ms"`
}

// DefaultChannelFile mirrors the channel package defaults so a sparse file
// only overrides what it names.
func DefaultChannelFile() ChannelFile {
	return ChannelFile{
		Mode:                      KindClient,
		Framing:                   channel.ModeFramed.String(),
		Host:                      "127.0.0.1",
		Port:                      9000,
		RequestTimeoutMS:          1500,
		ConnectTimeoutMS:          channel.DefaultConnectTimeout.Milliseconds(),
		ReconnectBackoffInitialMS: 1000,
		ReconnectBackoffMaxMS:     30000,
		AcceptBackoffInitialMS:    1000,
		AcceptBackoffMaxMS:        30000,
		MaxRetries:                channel.UnlimitedRetries,
		WriteQueueLimit:           1024,
		BackpressureThreshold:     1 << 20,
		MaxPacketBytes:            65535,
		MaxBindRetries:            channel.DefaultMaxBindRetries,
		BindRetryIntervalMS:       channel.DefaultBindRetryInterval.Milliseconds(),
		Serial: SerialFile{
			Device:          "/dev/ttyUSB0",
			BaudRate:        115200,
			CharSize:        8,
			Parity:          "none",
			StopBits:        1,
			FlowControl:     "none",
			ReadChunkSize:   channel.DefaultReadChunkSize,
			ReopenOnError:   true,
			RetryIntervalMS: channel.DefaultSerialRetryInterval.Milliseconds(),
		},
	}
}

// Load reads a channel file. The format follows the extension: .toml, or
// .yaml/.yml.
func Load(path string) (ChannelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChannelFile{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return ChannelFile{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format onto the defaults and validates
// the result. Unknown keys are rejected.
func Parse(data []byte, format string) (ChannelFile, error) {
	cfg := DefaultChannelFile()
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return ChannelFile{}, fmt.Errorf("%w: %v", channel.ErrInvalidConfig, err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return ChannelFile{}, fmt.Errorf("%w: %v", channel.ErrInvalidConfig, err)
		}
	default:
		return ChannelFile{}, fmt.Errorf("%w: unsupported config format %q", channel.ErrInvalidConfig, format)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return ChannelFile{}, err
	}
	return cfg, nil
}

func (f *ChannelFile) normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Mode = strings.ToLower(strings.TrimSpace(f.Mode))
	f.Framing = strings.ToLower(strings.TrimSpace(f.Framing))
	f.Host = strings.TrimSpace(f.Host)
	f.Serial.Device = strings.TrimSpace(f.Serial.Device)
}

func (f ChannelFile) Validate() error {
	switch f.Mode {
	case KindServer, KindClient, KindSerial:
	default:
		return fmt.Errorf("%w: mode %q (want server|client|serial)", channel.ErrInvalidConfig, f.Mode)
	}
	if _, err := parseFraming(f.Framing); err != nil {
		return err
	}
	if f.Mode == KindClient && f.Host == "" {
		return fmt.Errorf("%w: client host is required", channel.ErrInvalidConfig)
	}
	if f.Mode != KindSerial && (f.Port < 0 || f.Port > 65535) {
		return fmt.Errorf("%w: port %d", channel.ErrInvalidConfig, f.Port)
	}
	if f.Mode == KindSerial && f.Serial.Device == "" {
		return fmt.Errorf("%w: serial.device is required", channel.ErrInvalidConfig)
	}
	for key, v := range map[string]int64{
		"request_timeout_ms":           f.RequestTimeoutMS,
		"idle_timeout_ms":              f.IdleTimeoutMS,
		"connect_timeout_ms":           f.ConnectTimeoutMS,
		"reconnect_backoff_initial_ms": f.ReconnectBackoffInitialMS,
		"reconnect_backoff_max_ms":     f.ReconnectBackoffMaxMS,
		"accept_backoff_initial_ms":    f.AcceptBackoffInitialMS,
		"accept_backoff_max_ms":        f.AcceptBackoffMaxMS,
		"bind_retry_interval_ms":       f.BindRetryIntervalMS,
		"serial.retry_interval_ms":     f.Serial.RetryIntervalMS,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", channel.ErrInvalidConfig, key)
		}
	}
	if f.MaxPacketBytes != 0 && (f.MaxPacketBytes < 5 || f.MaxPacketBytes > 65535) {
		return fmt.Errorf("%w: max_packet_bytes %d (want 5..65535)", channel.ErrInvalidConfig, f.MaxPacketBytes)
	}
	return nil
}

func parseFraming(raw string) (channel.Mode, error) {
	switch raw {
	case "", "framed", "packet":
		return channel.ModeFramed, nil
	case "raw", "copy":
		return channel.ModeRaw, nil
	default:
		return channel.ModeRaw, fmt.Errorf("%w: framing %q (want framed|raw)", channel.ErrInvalidConfig, raw)
	}
}
