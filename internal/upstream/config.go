package upstream

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultProtocol = "http"
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 5001
	DefaultPrefix   = "/v1"
)

// Config locates the upstream state/transaction service. Built once at
// startup and never mutated afterwards.
type Config struct {
	Protocol string `mapstructure:"protocol" json:"protocol"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// ConfigFromEnv reads UPSTREAM_PROTOCOL, UPSTREAM_HOST, UPSTREAM_PORT and
// UPSTREAM_PREFIX through getenv (os.Getenv when nil).
func ConfigFromEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Config{
		Protocol: getenv("UPSTREAM_PROTOCOL"),
		Host:     getenv("UPSTREAM_HOST"),
		Port:     parsePort(getenv("UPSTREAM_PORT")),
		Prefix:   envOr(getenv("UPSTREAM_PREFIX"), DefaultPrefix),
	}.Normalize()
}

// Normalize fills defaults and canonicalizes every field.
func (c Config) Normalize() Config {
	c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
	if c.Protocol != "http" && c.Protocol != "https" {
		c.Protocol = DefaultProtocol
	}
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = DefaultPort
	}
	c.Prefix = NormalizePrefix(c.Prefix)
	return c
}

// NormalizePrefix makes p start with '/' and never end with '/'.
// "" and "/" both normalize to "".
func NormalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

// URL joins the configured base with pathname.
func (c Config) URL(pathname string) string {
	if !strings.HasPrefix(pathname, "/") {
		pathname = "/" + pathname
	}
	return fmt.Sprintf("%s://%s:%d%s%s", c.Protocol, c.Host, c.Port, c.Prefix, pathname)
}

// StatePath is the upstream path for a state lookup. The key is
// percent-encoded (spaces as %20); an empty key is left off entirely.
func StatePath(key string) string {
	if key == "" {
		return "/state"
	}
	return "/state?key=" + strings.ReplaceAll(url.QueryEscape(key), "+", "%20")
}

func parsePort(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultPort
	}
	p, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultPort
	}
	return p
}

func envOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
