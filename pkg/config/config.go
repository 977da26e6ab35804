// Package config holds the agent's configuration: the key/value
// options the agent understands, their defaults, and a YAML loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PublicDNSEnv overrides the advertised public hostname, for machines
// whose externally routable name differs from their hostname.
const PublicDNSEnv = "BURROW_PUBLIC_DNS"

// Config is the agent configuration.
type Config struct {
	// Resources is the total consumable resource bundle offered by
	// this agent, in the "name:value;name:value" encoding.
	Resources string `yaml:"resources"`

	// Attributes are free-form machine attributes advertised to the
	// master (rack, zone, ...).
	Attributes map[string]string `yaml:"attributes"`

	// WorkDir is where executor work directories are placed.
	WorkDir string `yaml:"work_dir"`

	// HadoopHome locates a Hadoop installation used to fetch executor
	// URIs from HDFS. Empty means "hadoop" is looked up on PATH.
	HadoopHome string `yaml:"hadoop_home"`

	// SwitchUser runs executors as the user who submitted the
	// framework rather than the user running the agent.
	SwitchUser bool `yaml:"switch_user"`

	// FrameworksHome is prepended to relative executor paths.
	FrameworksHome string `yaml:"frameworks_home"`
}

// Default returns the configuration defaults.
func Default() *Config {
	workDir := "work"
	if home, err := os.UserHomeDir(); err == nil {
		workDir = filepath.Join(home, "work")
	}
	return &Config{
		Resources:  "cpus:1;mem:1024",
		WorkDir:    workDir,
		SwitchUser: true,
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// PublicHostname resolves the advertised public hostname: the
// PublicDNSEnv override when set, otherwise the given hostname.
func PublicHostname(hostname string) string {
	if public := os.Getenv(PublicDNSEnv); public != "" {
		return public
	}
	return hostname
}

// Map renders the configuration as ordered key/value pairs for the
// plain-text introspection surface.
func (c *Config) Map() [][2]string {
	out := [][2]string{
		{"resources", c.Resources},
		{"work_dir", c.WorkDir},
		{"hadoop_home", c.HadoopHome},
		{"switch_user", strconv.FormatBool(c.SwitchUser)},
		{"frameworks_home", c.FrameworksHome},
	}

	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, [2]string{"attributes." + k, c.Attributes[k]})
	}
	return out
}

// ParseAttributes parses a "key:value;key:value" attribute list.
func ParseAttributes(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, field := range strings.Split(s, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed attribute %q", field)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}
