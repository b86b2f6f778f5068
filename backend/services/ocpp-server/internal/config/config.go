package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "ocpphub/backend/libs/config"
)

// Directory backends.
const (
	DirectoryMemory   = "memory"
	DirectoryHTTP     = "http"
	DirectoryPostgres = "postgres"
)

// Config defines OCPP server configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Commands  CommandsConfig  `yaml:"commands"`
	Directory DirectoryConfig `yaml:"directory"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Services  ServicesConfig  `yaml:"services"`
	Influx    InfluxConfig    `yaml:"influx"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Auth      AuthConfig      `yaml:"auth"`
}

type HTTPConfig struct {
	Port string `yaml:"port" env:"OCPP_HTTP_PORT"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"pingInterval" env:"OCPP_PING_INTERVAL"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"OCPP_WRITE_TIMEOUT"`
	// ReadTimeout of zero disables the read deadline.
	ReadTimeout time.Duration `yaml:"readTimeout" env:"OCPP_READ_TIMEOUT"`
}

type CommandsConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"OCPP_COMMAND_TIMEOUT"`
}

type DirectoryConfig struct {
	Mode    string        `yaml:"mode" env:"OCPP_DIRECTORY"`
	URL     string        `yaml:"url" env:"DIRECTORY_SERVICE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"DIRECTORY_TIMEOUT"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"OCPP_POSTGRES_DSN"`
	// Migrate creates the tables on startup.
	Migrate bool `yaml:"migrate" env:"OCPP_POSTGRES_MIGRATE"`
	// Journal stores every OCPP frame in ocpp_messages.
	Journal bool `yaml:"journal" env:"OCPP_JOURNAL"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_SESSION_TTL"`
}

type ServicesConfig struct {
	BillingURL   string `yaml:"billingUrl" env:"BILLING_SERVICE_URL"`
	TelemetryURL string `yaml:"telemetryUrl" env:"TELEMETRY_SERVICE_URL"`
}

type InfluxConfig struct {
	URL    string `yaml:"url" env:"INFLUX_URL"`
	Token  string `yaml:"token" env:"INFLUX_TOKEN"`
	Org    string `yaml:"org" env:"INFLUX_ORG"`
	Bucket string `yaml:"bucket" env:"INFLUX_BUCKET"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID    string `yaml:"clientId" env:"MQTT_CLIENT_ID"`
	Username    string `yaml:"username" env:"MQTT_USERNAME"`
	Password    string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix string `yaml:"topicPrefix" env:"MQTT_TOPIC_PREFIX"`
	QoS         int    `yaml:"qos" env:"MQTT_QOS"`
}

type AuthConfig struct {
	// JWTSecret protects the operator API when set.
	JWTSecret string `yaml:"jwtSecret" env:"JWT_SECRET"`
	// Stations lists "stationId:bcryptHash" pairs for websocket basic auth.
	Stations []string `yaml:"stations" env:"OCPP_STATION_CREDENTIALS"`
}

// Default returns configuration with every default filled in.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: "8081"},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Commands:  CommandsConfig{Timeout: 30 * time.Second},
		Directory: DirectoryConfig{Mode: DirectoryMemory, Timeout: 10 * time.Second},
		Redis:     RedisConfig{TTL: 24 * time.Hour},
		MQTT:      MQTTConfig{ClientID: "ocpp-server", TopicPrefix: "ocpp"},
	}
}

// Load uses shared config loader and validates required fields. An empty path falls back to
// CONFIG_FILE and then to environment variables only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(path, cfg); err != nil {
		return nil, err
	}
	cfg.Directory.Mode = strings.ToLower(strings.TrimSpace(cfg.Directory.Mode))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Directory.Mode {
	case DirectoryMemory:
	case DirectoryHTTP:
		if strings.TrimSpace(c.Directory.URL) == "" {
			return errors.New("config: directory url is required for http mode")
		}
	case DirectoryPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database DSN is required for postgres mode")
		}
	default:
		return fmt.Errorf("config: unknown directory mode %q", c.Directory.Mode)
	}
	if c.Database.Journal && strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database DSN is required for the message journal")
	}
	if c.Commands.Timeout < 0 {
		return errors.New("config: command timeout must not be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos %d out of range", c.MQTT.QoS)
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return errors.New("config: influx org and bucket are required")
	}
	if _, err := c.StationCredentials(); err != nil {
		return err
	}
	return nil
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8081"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	if c.WebSocket.PingInterval <= 0 {
		return 30 * time.Second
	}
	return c.WebSocket.PingInterval
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	if c.WebSocket.WriteTimeout <= 0 {
		return 15 * time.Second
	}
	return c.WebSocket.WriteTimeout
}

// CommandTimeout returns the default deadline of server initiated commands.
func (c *Config) CommandTimeout() time.Duration {
	if c.Commands.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Commands.Timeout
}

// HTTPWriteTimeout outlives the longest command wait so /api/commands can answer.
func (c *Config) HTTPWriteTimeout() time.Duration {
	return c.CommandTimeout() + 15*time.Second
}

// StationCredentials parses Auth.Stations into a station id to bcrypt hash map.
func (c *Config) StationCredentials() (map[string]string, error) {
	creds := make(map[string]string, len(c.Auth.Stations))
	for _, entry := range c.Auth.Stations {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// bcrypt hashes never contain ':'
		idx := strings.LastIndex(entry, ":")
		if idx <= 0 || idx == len(entry)-1 {
			return nil, fmt.Errorf("config: invalid station credential %q", entry)
		}
		creds[strings.TrimSpace(entry[:idx])] = strings.TrimSpace(entry[idx+1:])
	}
	return creds, nil
}
