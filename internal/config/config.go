package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the VoxGate server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir  string
	HTTPPort int

	// SIP trunk account.
	SIPServer      string // registrar/proxy host, e.g. "sipgate.de"
	SIPPort        int    // registrar port
	SIPUsername    string
	SIPPassword    string
	SIPListenPort  int    // local SIP listen port
	PublicIP       string // public IP for Contact header and SDP rewriting
	STUNServers    string // comma-separated STUN servers, probed in order
	RegisterExpiry int    // REGISTER expiry in seconds
	RTPPortMin     int
	RTPPortMax     int

	// Realtime AI service.
	OpenAIKey    string
	RealtimeURL  string // base websocket URL; "?model=<id>" is appended
	ModelMini    string
	ModelPremium string
	Voice        string

	// Security gate.
	UnlockCode string

	// Dashboard/API.
	CORSOrigins  string
	AllowedCIDRs string // comma-separated CIDRs allowed to reach the API; loopback is always allowed

	LogLevel  string
	LogFormat string
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultHTTPPort       = 8080
	defaultSIPPort        = 5060
	defaultSIPListenPort  = 5060
	defaultRTPPortMin     = 4000
	defaultRTPPortMax     = 4100
	defaultRegisterExpiry = 300
	defaultSTUNServers    = "stun.sipgate.de:3478,stun.l.google.com:19302"
	defaultRealtimeURL    = "wss://api.openai.com/v1/realtime"
	defaultModelMini      = "gpt-4o-mini-realtime-preview"
	defaultModelPremium   = "gpt-4o-realtime-preview"
	defaultVoice          = "alloy"
	defaultUnlockCode     = "7234"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// envPrefix is the prefix for all VoxGate environment variables.
const envPrefix = "VOXGATE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voxgate", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port (dashboard + REST)")
	fs.StringVar(&cfg.SIPServer, "sip-server", "", "SIP registrar/proxy host")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "SIP registrar/proxy port")
	fs.StringVar(&cfg.SIPUsername, "sip-username", "", "SIP account username")
	fs.StringVar(&cfg.SIPPassword, "sip-password", "", "SIP account password")
	fs.IntVar(&cfg.SIPListenPort, "sip-listen-port", defaultSIPListenPort, "local SIP UDP/TCP listen port")
	fs.StringVar(&cfg.PublicIP, "public-ip", "", "public IP for Contact header and SDP (STUN-detected if empty)")
	fs.StringVar(&cfg.STUNServers, "stun-servers", defaultSTUNServers, "comma-separated STUN servers probed in order")
	fs.IntVar(&cfg.RegisterExpiry, "register-expiry", defaultRegisterExpiry, "SIP REGISTER expiry in seconds")
	fs.IntVar(&cfg.RTPPortMin, "rtp-port-min", defaultRTPPortMin, "minimum UDP port for RTP media")
	fs.IntVar(&cfg.RTPPortMax, "rtp-port-max", defaultRTPPortMax, "maximum UDP port for RTP media")
	fs.StringVar(&cfg.OpenAIKey, "openai-key", "", "API key for the realtime AI service")
	fs.StringVar(&cfg.RealtimeURL, "realtime-url", defaultRealtimeURL, "base websocket URL of the realtime AI service")
	fs.StringVar(&cfg.ModelMini, "model-mini", defaultModelMini, "model id for the mini tier")
	fs.StringVar(&cfg.ModelPremium, "model-premium", defaultModelPremium, "model id for the premium tier")
	fs.StringVar(&cfg.Voice, "voice", defaultVoice, "AI voice name")
	fs.StringVar(&cfg.UnlockCode, "unlock-code", defaultUnlockCode, "security gate unlock code")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.AllowedCIDRs, "allowed-cidrs", "", "comma-separated CIDRs allowed to reach the API (loopback always allowed)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":        envPrefix + "DATA_DIR",
		"http-port":       envPrefix + "HTTP_PORT",
		"sip-server":      envPrefix + "SIP_SERVER",
		"sip-port":        envPrefix + "SIP_PORT",
		"sip-username":    envPrefix + "SIP_USERNAME",
		"sip-password":    envPrefix + "SIP_PASSWORD",
		"sip-listen-port": envPrefix + "SIP_LISTEN_PORT",
		"public-ip":       envPrefix + "PUBLIC_IP",
		"stun-servers":    envPrefix + "STUN_SERVERS",
		"register-expiry": envPrefix + "REGISTER_EXPIRY",
		"rtp-port-min":    envPrefix + "RTP_PORT_MIN",
		"rtp-port-max":    envPrefix + "RTP_PORT_MAX",
		"openai-key":      envPrefix + "OPENAI_KEY",
		"realtime-url":    envPrefix + "REALTIME_URL",
		"model-mini":      envPrefix + "MODEL_MINI",
		"model-premium":   envPrefix + "MODEL_PREMIUM",
		"voice":           envPrefix + "VOICE",
		"unlock-code":     envPrefix + "UNLOCK_CODE",
		"cors-origins":    envPrefix + "CORS_ORIGINS",
		"allowed-cidrs":   envPrefix + "ALLOWED_CIDRS",
		"log-level":       envPrefix + "LOG_LEVEL",
		"log-format":      envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "sip-server":
			cfg.SIPServer = val
		case "sip-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPPort = v
			}
		case "sip-username":
			cfg.SIPUsername = val
		case "sip-password":
			cfg.SIPPassword = val
		case "sip-listen-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPListenPort = v
			}
		case "public-ip":
			cfg.PublicIP = val
		case "stun-servers":
			cfg.STUNServers = val
		case "register-expiry":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RegisterExpiry = v
			}
		case "rtp-port-min":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPPortMin = v
			}
		case "rtp-port-max":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPPortMax = v
			}
		case "openai-key":
			cfg.OpenAIKey = val
		case "realtime-url":
			cfg.RealtimeURL = val
		case "model-mini":
			cfg.ModelMini = val
		case "model-premium":
			cfg.ModelPremium = val
		case "voice":
			cfg.Voice = val
		case "unlock-code":
			cfg.UnlockCode = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "allowed-cidrs":
			cfg.AllowedCIDRs = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}
	if c.SIPListenPort < 1 || c.SIPListenPort > 65535 {
		return fmt.Errorf("sip-listen-port must be between 1 and 65535, got %d", c.SIPListenPort)
	}
	if c.RTPPortMin < 1024 || c.RTPPortMin > 65534 {
		return fmt.Errorf("rtp-port-min must be between 1024 and 65534, got %d", c.RTPPortMin)
	}
	if c.RTPPortMax < c.RTPPortMin+2 || c.RTPPortMax > 65535 {
		return fmt.Errorf("rtp-port-max must be between rtp-port-min+2 and 65535, got %d", c.RTPPortMax)
	}
	// RTP ports must be even (RTP uses even ports, RTCP uses the next odd port).
	if c.RTPPortMin%2 != 0 {
		return fmt.Errorf("rtp-port-min must be even, got %d", c.RTPPortMin)
	}
	if c.RegisterExpiry < 60 {
		return fmt.Errorf("register-expiry must be at least 60 seconds, got %d", c.RegisterExpiry)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	for _, cidr := range c.AllowedCIDRList() {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("allowed-cidrs entry %q is not a valid CIDR: %w", cidr, err)
		}
	}

	return nil
}

// STUNServerList returns the configured STUN servers in probe order.
func (c *Config) STUNServerList() []string {
	return splitList(c.STUNServers)
}

// AllowedCIDRList returns the configured API allow-list CIDRs.
func (c *Config) AllowedCIDRList() []string {
	return splitList(c.AllowedCIDRs)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SIPConfigured reports whether a SIP trunk account is fully configured.
func (c *Config) SIPConfigured() bool {
	return c.SIPServer != "" && c.SIPUsername != "" && c.SIPPassword != ""
}

// MediaIP returns the IP address to advertise in SDP and the Contact header.
// If PublicIP is configured, it is returned directly. Otherwise the function
// attempts to detect the machine's primary non-loopback IPv4 address.
// Falls back to "127.0.0.1" if detection fails.
func (c *Config) MediaIP() string {
	if c.PublicIP != "" {
		return c.PublicIP
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
