package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker Broker `json:"broker" yaml:"broker"`

	// Queue configures the publish queue between producers and the publisher.
	Queue struct {
		// Capacity bounds the number of queued requests. 0 is unbounded.
		// When full, Publish fails instead of blocking.
		Capacity int `json:"capacity" yaml:"capacity"`
	} `json:"queue" yaml:"queue"`

	// Driver configures the background loop that ticks the publisher.
	Driver struct {
		// Poll interval in ms while waiting on the broker. Default 10ms.
		TickMS int64 `json:"tick_ms" yaml:"tick_ms"`
		// Delay in ms before reconnecting after a failed session. Default 1000ms.
		RetryMS int64 `json:"retry_ms" yaml:"retry_ms"`
	} `json:"driver" yaml:"driver"`

	// Spool optionally persists requests still queued at shutdown, and loads them on startup.
	// If Dir is empty, they are dropped.
	Spool struct {
		Dir string `json:"dir" yaml:"dir"`
	} `json:"spool" yaml:"spool"`

	// Log configures optional log output file as well as the log level setting.
	Log Log `json:"log" yaml:"log"`

	// Publish configures the message the command publishes periodically.
	Publish struct {
		Topic      string `json:"topic" yaml:"topic"`
		Message    string `json:"message" yaml:"message"`
		IntervalMS int64  `json:"interval_ms" yaml:"interval_ms"`
	} `json:"publish" yaml:"publish"`
}

type Broker struct {
	// Address of the broker in the form "host:port" or "ws://host:port/path".
	// If only a host is specified, port 1883 is used.
	Address string `json:"address" yaml:"address"`

	// ClientID sent in CONNECT. If empty, a random one is generated.
	ClientID string `json:"client_id" yaml:"client_id"`

	// Keep Alive in s sent in CONNECT. Default 10s.
	KeepAlive uint16 `json:"keep_alive" yaml:"keep_alive"`

	// Time in ms to wait for CONNACK after sending CONNECT. Default 1000ms.
	ConnackTimeoutMS int64 `json:"connack_timeout_ms" yaml:"connack_timeout_ms"`

	// Time in ms to wait for the network connection. Default 5000ms.
	DialTimeoutMS int64 `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
}

type Log struct {
	File  string `json:"file" yaml:"file"`
	Level string `json:"level" yaml:"level"`
}

const (
	DefaultKeepAlive  = 10
	DefaultConnackMS  = 1000
	DefaultDialMS     = 5000
	DefaultTickMS     = 10
	DefaultRetryMS    = 1000
	DefaultIntervalMS = 1000
)

// New returns the config in fPath, or the defaults if fPath is empty.
// Environment overrides are applied in both cases.
func New(fPath string) (*Config, error) {
	c := Config{}
	if fPath != "" {
		if err := c.LoadFromFile(fPath); err != nil {
			return nil, err
		}
	}

	c.LoadFromEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFromFile reads JSON, or YAML if the file extension is .yaml or .yml.
func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.New("error opening config file: " + err.Error())
	}

	defer f.Close()

	switch strings.ToLower(filepath.Ext(fPath)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(c)
	default:
		err = json.NewDecoder(f).Decode(c)
	}
	if err != nil {
		return errors.New("error reading config file: " + err.Error())
	}

	return nil
}

// LoadFromEnv overrides config values with GOPUB_ prefixed environment variables.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("GOPUB_BROKER_ADDRESS"); v != "" {
		c.Broker.Address = v
	}
	if v := os.Getenv("GOPUB_CLIENT_ID"); v != "" {
		c.Broker.ClientID = v
	}
	if v := os.Getenv("GOPUB_KEEP_ALIVE"); v != "" {
		if ka, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.Broker.KeepAlive = uint16(ka)
		}
	}
	if v := os.Getenv("GOPUB_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.Capacity = n
		}
	}
	if v := os.Getenv("GOPUB_SPOOL_DIR"); v != "" {
		c.Spool.Dir = v
	}
	if v := os.Getenv("GOPUB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GOPUB_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// Validate checks values and fills in defaults for the ones not set.
func (c *Config) Validate() error {
	b := &c.Broker
	if b.Address == "" {
		b.Address = "localhost:1883"
	}

	if strings.Contains(b.Address, "://") {
		u, err := url.Parse(b.Address)
		if err != nil {
			return errors.New("invalid broker address: " + err.Error())
		}
		switch u.Scheme {
		case "ws":
		case "tcp", "mqtt":
			b.Address = u.Host
		default:
			return errors.New("unsupported broker address scheme: " + u.Scheme)
		}
	}

	if !b.IsWebsocket() {
		if _, _, err := net.SplitHostPort(b.Address); err != nil {
			b.Address = net.JoinHostPort(strings.Trim(b.Address, "[]"), "1883") // if just ip/host specified
		}
	}

	if b.ClientID == "" {
		b.ClientID = GenerateClientID()
	}
	if len(b.ClientID) > 0xFFFF {
		return errors.New("client id too long")
	}

	if b.KeepAlive == 0 {
		b.KeepAlive = DefaultKeepAlive
	}
	if b.ConnackTimeoutMS <= 0 {
		b.ConnackTimeoutMS = DefaultConnackMS
	}
	if b.DialTimeoutMS <= 0 {
		b.DialTimeoutMS = DefaultDialMS
	}

	if c.Queue.Capacity < 0 {
		return errors.New("queue capacity cannot be negative")
	}

	if c.Driver.TickMS <= 0 {
		c.Driver.TickMS = DefaultTickMS
	}
	if c.Driver.RetryMS <= 0 {
		c.Driver.RetryMS = DefaultRetryMS
	}

	if c.Publish.IntervalMS <= 0 {
		c.Publish.IntervalMS = DefaultIntervalMS
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "error", "warn", "info", "debug":
	default:
		return errors.New("unknown log level: " + c.Log.Level)
	}

	return nil
}

// IsWebsocket reports if the broker is reached over MQTT over WebSocket.
func (b *Broker) IsWebsocket() bool {
	return strings.HasPrefix(b.Address, "ws://")
}

func (b *Broker) ConnackTimeout() time.Duration {
	return time.Duration(b.ConnackTimeoutMS) * time.Millisecond
}

func (b *Broker) DialTimeout() time.Duration {
	return time.Duration(b.DialTimeoutMS) * time.Millisecond
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.Driver.TickMS) * time.Millisecond
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Driver.RetryMS) * time.Millisecond
}

func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.Publish.IntervalMS) * time.Millisecond
}

// GenerateClientID returns a random id that fits the 23 byte limit of MQTT 3.1.
func GenerateClientID() string {
	id := [16]byte(uuid.New())
	return "gopub-" + hex.EncodeToString(id[:8])
}
