package config

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/quantumauth-io/tuxedex/internal/constants"
	"github.com/quantumauth-io/tuxedex/internal/normalize"
	"github.com/quantumauth-io/tuxedex/internal/upstream"
)

type AgentSettings struct {
	Listen         string        `mapstructure:"listen"`
	PollInterval   time.Duration `mapstructure:"-"`
	StateKeyPrefix string        `mapstructure:"state_key_prefix"`
	ContractPath   string        `mapstructure:"contract_path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Fields         []string      `mapstructure:"fields"`
}

type WalletSettings struct {
	Keystore        string `mapstructure:"keystore"`
	SignatureScheme string `mapstructure:"signature_scheme"`
	Network         string `mapstructure:"network"`
	// Password is only ever taken from the environment.
	Password string `mapstructure:"-"`
}

type Config struct {
	Upstream upstream.Config `mapstructure:"upstream"`
	Agent    AgentSettings   `mapstructure:"agent"`
	Wallet   WalletSettings  `mapstructure:"wallet"`
}

var envBindings = map[string]string{
	"upstream.protocol":       "UPSTREAM_PROTOCOL",
	"upstream.host":           "UPSTREAM_HOST",
	"upstream.port":           "UPSTREAM_PORT",
	"upstream.prefix":         "UPSTREAM_PREFIX",
	"agent.listen":            "TUXEDEX_LISTEN",
	"agent.poll_interval":     "TUXEDEX_POLL_INTERVAL",
	"agent.state_key_prefix":  "TUXEDEX_STATE_KEY_PREFIX",
	"agent.contract_path":     "TUXEDEX_CONTRACT_PATH",
	"agent.allowed_origins":   "TUXEDEX_ALLOWED_ORIGINS",
	"wallet.keystore":         "TUXEDEX_KEYSTORE",
	"wallet.signature_scheme": "TUXEDEX_SIGNATURE_SCHEME",
	"wallet.network":          "TUXEDEX_NETWORK",
}

// SearchPaths are the directories probed for config.yaml, first match wins.
func SearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".config", constants.AppName),
		filepath.Join(home, "config"),
		".",
	}
}

func Load() (*Config, error) {
	return LoadFrom(SearchPaths())
}

// LoadFrom layers the embedded defaults, the first config.yaml found in
// paths and the environment, in that order.
func LoadFrom(paths []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(EmbeddedConfigYAML)); err != nil {
		return nil, errors.Wrap(err, "read embedded config")
	}

	for _, dir := range paths {
		file := filepath.Join(dir, constants.ConfigFile)
		if _, err := os.Stat(file); err != nil {
			continue
		}
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
		break
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind %s", env)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	interval, err := ParsePollInterval(v.GetString("agent.poll_interval"))
	if err != nil {
		return nil, err
	}
	cfg.Agent.PollInterval = interval
	cfg.Wallet.Password = os.Getenv("TUXEDEX_PASSWORD")

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParsePollInterval accepts a Go duration ("3s") or a bare number of
// milliseconds. Empty means the default.
func ParsePollInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return constants.DefaultPollInterval, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms <= 0 {
			return 0, errors.Newf("poll interval must be positive, got %q", raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid poll interval %q", raw)
	}
	if d <= 0 {
		return 0, errors.Newf("poll interval must be positive, got %q", raw)
	}
	return d, nil
}

func (c *Config) normalize() error {
	c.Upstream = c.Upstream.Normalize()

	c.Agent.Listen = strings.TrimSpace(c.Agent.Listen)
	if c.Agent.Listen == "" {
		c.Agent.Listen = constants.DefaultListenAddr
	}
	if _, _, err := net.SplitHostPort(c.Agent.Listen); err != nil {
		return errors.Wrapf(err, "invalid listen address %q", c.Agent.Listen)
	}

	c.Agent.ContractPath = upstream.NormalizePrefix(c.Agent.ContractPath)
	if c.Agent.ContractPath == "" {
		c.Agent.ContractPath = constants.DefaultContractPath
	}

	fields := make([]string, 0, len(c.Agent.Fields))
	for _, f := range c.Agent.Fields {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		fields = normalize.DefaultFields
	}
	c.Agent.Fields = fields

	if strings.TrimSpace(c.Wallet.SignatureScheme) == "" {
		c.Wallet.SignatureScheme = constants.DefaultSignatureScheme
	}
	return nil
}

// UIOrigins are the browser origins allowed to call the agent API: the
// configured ones plus the page's own origin under its local host names.
func (c *Config) UIOrigins() []string {
	out := append([]string(nil), c.Agent.AllowedOrigins...)

	host, port, err := net.SplitHostPort(c.Agent.Listen)
	if err != nil {
		return out
	}
	hosts := []string{"127.0.0.1", "localhost"}
	if host != "" && host != "0.0.0.0" && host != "::" {
		hosts = append(hosts, host)
	}
	seen := map[string]struct{}{}
	for _, h := range hosts {
		o := "http://" + net.JoinHostPort(h, port)
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}
