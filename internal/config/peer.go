package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "MESHCALL"

// Peer is the participant configuration. Priority: flags, then MESHCALL_*
// environment variables, then an optional config file, then defaults.
type Peer struct {
	Server             string        `mapstructure:"server"`
	Room               string        `mapstructure:"room"`
	Name               string        `mapstructure:"name"`
	Codec              string        `mapstructure:"codec"`
	STUN               []string      `mapstructure:"stun"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	Initiate           string        `mapstructure:"initiate"`
	Media              string        `mapstructure:"media"`
	LogLevel           string        `mapstructure:"log_level"`
}

// peerFlags maps config keys to flag names.
var peerFlags = map[string]string{
	"server":              "server",
	"room":                "room",
	"name":                "name",
	"codec":               "codec",
	"stun":                "stun",
	"negotiation_timeout": "negotiation-timeout",
	"initiate":            "initiate",
	"media":               "media",
	"log_level":           "log-level",
}

func NewPeerViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server", "ws://localhost:8080")
	v.SetDefault("room", "")
	v.SetDefault("name", "")
	v.SetDefault("codec", "json")
	v.SetDefault("stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("initiate", "joiner")
	v.SetDefault("media", "recv")
	v.SetDefault("log_level", "warn")
	return v
}

// BindPeerFlags binds every flag of fs that has a config key.
func BindPeerFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range peerFlags {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// LoadPeer reads an optional config file and unmarshals the result.
func LoadPeer(v *viper.Viper, file string) (*Peer, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var p Peer
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if p.Server == "" {
		return nil, fmt.Errorf("server address is required")
	}
	return &p, nil
}

// SignalURL is the websocket endpoint of the relay for the configured codec.
func (p *Peer) SignalURL() string {
	base := strings.TrimRight(p.Server, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case !strings.Contains(base, "://"):
		base = "ws://" + base
	}
	url := base + "/api/ws/signal"
	if p.Codec != "" && p.Codec != "json" {
		url += "?codec=" + p.Codec
	}
	return url
}

// HTTPBase is the REST base address of the relay.
func (p *Peer) HTTPBase() string {
	base := strings.TrimRight(p.Server, "/")
	switch {
	case strings.HasPrefix(base, "ws://"):
		return "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		return "https://" + strings.TrimPrefix(base, "wss://")
	case !strings.Contains(base, "://"):
		return "http://" + base
	}
	return base
}
