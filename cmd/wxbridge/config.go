package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type OpenerConfig struct {
	Command   string   `json:"command" yaml:"command"`
	Args      []string `json:"args" yaml:"args"`
	TimeoutMs int      `json:"timeout_ms" yaml:"timeout_ms"`
}

type BridgeConfig struct {
	AppID         string `json:"app_id" yaml:"app_id"`
	UniversalLink string `json:"universal_link" yaml:"universal_link"`
	AppSecret     string `json:"app_secret" yaml:"app_secret"`
	LoginState    string `json:"login_state" yaml:"login_state"`
	// LoginTimeoutMs bounds how long a login started over HTTP waits for the
	// peer's reply.
	LoginTimeoutMs int `json:"login_timeout_ms" yaml:"login_timeout_ms"`

	PeerScheme     string       `json:"peer_scheme" yaml:"peer_scheme"`
	PeerLink       string       `json:"peer_link" yaml:"peer_link"`
	Transport      string       `json:"transport" yaml:"transport"` // "launcher" or "hub"
	Opener         OpenerConfig `json:"opener" yaml:"opener"`
	MinPeerVersion string       `json:"min_peer_version" yaml:"min_peer_version"`

	OAuthBaseURL string `json:"oauth_base_url" yaml:"oauth_base_url"`
	QRConnectURL string `json:"qrconnect_url" yaml:"qrconnect_url"`
	PublicURL    string `json:"public_url" yaml:"public_url"`

	InboundRPS   float64 `json:"inbound_rps" yaml:"inbound_rps"`
	InboundBurst int     `json:"inbound_burst" yaml:"inbound_burst"`
	HotReload    bool    `json:"hot_reload" yaml:"hot_reload"`
}

// configFileNames are tried in order when no path is given.
var configFileNames = []string{"wxbridge.yaml", "wxbridge.yml", "wxbridge.json"}

func defaultConfig() *BridgeConfig {
	return &BridgeConfig{
		PeerScheme: "weixin",
		Transport:  "hub",
		Opener: OpenerConfig{
			Command:   "xdg-open",
			TimeoutMs: 5000,
		},
		LoginTimeoutMs: 300000,
		PublicURL:      "http://localhost:8080",
		InboundRPS:     5,
		InboundBurst:   20,
	}
}

// findConfig returns the first config file present in dir, or "".
func findConfig(dir string) string {
	for _, name := range configFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig reads cfgPath (YAML or JSON by extension), falls back to
// defaults on any error, and fixes up invalid fields one by one.
func loadConfig(cfgPath string) *BridgeConfig {
	def := defaultConfig()
	if cfgPath == "" {
		log.Printf("[config] no config file found, using defaults")
		applyEnvOverrides(def)
		return def
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		log.Printf("[config] cannot read %s, using defaults: %v", cfgPath, err)
		applyEnvOverrides(def)
		return def
	}

	cfg := defaultConfig()
	switch strings.ToLower(filepath.Ext(cfgPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		log.Printf("[config] invalid %s, using defaults: %v", cfgPath, err)
		applyEnvOverrides(def)
		return def
	}

	if cfg.PeerScheme == "" && cfg.PeerLink == "" {
		log.Printf("[config] neither peer_scheme nor peer_link set, falling back to %q", def.PeerScheme)
		cfg.PeerScheme = def.PeerScheme
	}

	switch cfg.Transport {
	case "launcher", "hub":
	default:
		log.Printf("[config] transport=%q is invalid, falling back to %q", cfg.Transport, def.Transport)
		cfg.Transport = def.Transport
	}

	if cfg.Opener.Command == "" {
		log.Printf("[config] opener.command missing, falling back to %q", def.Opener.Command)
		cfg.Opener.Command = def.Opener.Command
	}
	if cfg.Opener.TimeoutMs <= 0 {
		log.Printf("[config] opener.timeout_ms=%d is invalid, falling back to %dms", cfg.Opener.TimeoutMs, def.Opener.TimeoutMs)
		cfg.Opener.TimeoutMs = def.Opener.TimeoutMs
	}

	if cfg.LoginTimeoutMs <= 0 {
		log.Printf("[config] login_timeout_ms=%d is invalid, falling back to %dms", cfg.LoginTimeoutMs, def.LoginTimeoutMs)
		cfg.LoginTimeoutMs = def.LoginTimeoutMs
	}

	if cfg.InboundRPS <= 0 {
		log.Printf("[config] inbound_rps=%v is invalid, falling back to %v", cfg.InboundRPS, def.InboundRPS)
		cfg.InboundRPS = def.InboundRPS
	}
	if cfg.InboundBurst <= 0 {
		log.Printf("[config] inbound_burst=%d is invalid, falling back to %d", cfg.InboundBurst, def.InboundBurst)
		cfg.InboundBurst = def.InboundBurst
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = def.PublicURL
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if cfg.AppID == "" || cfg.UniversalLink == "" {
		log.Printf("[config] app_id or universal_link missing, the bridge will start unregistered")
	}

	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides lets secrets stay out of the config file.
func applyEnvOverrides(cfg *BridgeConfig) {
	if v := strings.TrimSpace(os.Getenv("WXBRIDGE_APP_SECRET")); v != "" {
		cfg.AppSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("WXBRIDGE_APP_ID")); v != "" {
		cfg.AppID = v
	}
	if v := strings.TrimSpace(os.Getenv("WXBRIDGE_UNIVERSAL_LINK")); v != "" {
		cfg.UniversalLink = v
	}
}
