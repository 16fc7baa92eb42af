package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=release debug"`
	LogLevel   string        `mapstructure:"log_level"`
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath string        `mapstructure:"static_path"`
	TLSCert    string        `mapstructure:"tls_cert"`
	TLSKey     string        `mapstructure:"tls_key"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	SendBuffer int           `mapstructure:"send_buffer" validate:"gt=0"`
	// JoinLimit caps joins per peer id within JoinWindow; 0 disables the cap.
	JoinLimit  int           `mapstructure:"join_limit" validate:"gte=0"`
	JoinWindow time.Duration `mapstructure:"join_window" validate:"gt=0"`

	ICEServers []ICEServer  `mapstructure:"ice_servers" validate:"dive"`
	Client     ClientConfig `mapstructure:"client"`
}

// ICEServer is one network-candidate discovery endpoint (STUN or TURN).
type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls" validate:"required,min=1,dive,required"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

type ClientConfig struct {
	ServerURL          string        `mapstructure:"server_url" validate:"required"`
	Room               string        `mapstructure:"room"`
	ID                 string        `mapstructure:"id" validate:"max=64"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	PingPeriod         time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// TLSEnabled reports whether the server should listen with HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// New builds a viper instance with defaults, the config file and MESH_*
// environment overrides applied. An empty file selects
// config/config.<CONFIG_ENV>.yaml.
func New(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8443)
	v.SetDefault("static_path", "./web")
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "180s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("join_limit", 20)
	v.SetDefault("join_window", "10s")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
		{"urls": []string{"stun:stun1.l.google.com:19302"}},
		{"urls": []string{"stun:stun2.l.google.com:19302"}},
	})

	v.SetDefault("client.server_url", "wss://localhost:8443/")
	v.SetDefault("client.room", "")
	v.SetDefault("client.id", "")
	v.SetDefault("client.reconnect_delay", "5s")
	v.SetDefault("client.ping_period", "30s")
	v.SetDefault("client.insecure_skip_verify", false)
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for i, s := range cfg.ICEServers {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: ice_servers[%d]: %w", i, err)
		}
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, errors.New("invalid config: tls_cert and tls_key must be set together")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Bool("tls", cfg.TLSEnabled()).Int("ice_servers", len(cfg.ICEServers)).Msg("config ready")
	return &cfg, nil
}

func Load(file string) (*Config, error) {
	return Decode(New(file))
}
