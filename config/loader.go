package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/testbedbus/errors"
)

// DefaultEnvPrefix prefixes the environment overrides.
const DefaultEnvPrefix = "TESTBEDBUS"

// durationKeys lists, per section, the keys holding durations. Files may
// write them as strings such as "30s".
var durationKeys = map[string][]string{
	"broker":   {"reconnect_wait"},
	"timeouts": {"connect", "subscribe", "request", "shutdown"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of the environment overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// Load reads a single configuration file, JSON or YAML by extension, on top
// of the defaults. An empty path loads the defaults and the environment.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw loads a configuration file as a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}
	if err := checkNesting(raw, 1); err != nil {
		return nil, err
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for section, keys := range durationKeys {
		m, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, key, err)
			}
			m[key] = d.Nanoseconds()
		}
	}
	return nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	dec := json.NewDecoder(bytes.NewReader(mergedJSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies PREFIX_SECTION_KEY variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"BROKER_KIND":        &cfg.Broker.Kind,
		"BROKER_URL":         &cfg.Broker.URL,
		"BROKER_CLIENT_NAME": &cfg.Broker.ClientName,
		"BROKER_USERNAME":    &cfg.Broker.Username,
		"BROKER_PASSWORD":    &cfg.Broker.Password,
		"BROKER_TOKEN":       &cfg.Broker.Token,
		"TOPICS_PREFIX":      &cfg.Topics.Prefix,
		"TOPICS_AGENT_TOPIC": &cfg.Topics.AgentTopic,
		"TOPICS_SITE":        &cfg.Topics.Site,
		"LOG_LEVEL":          &cfg.Log.Level,
		"LOG_FORMAT":         &cfg.Log.Format,
		"METRICS_PATH":       &cfg.Metrics.Path,
	}
	ints := map[string]*int{
		"BROKER_QOS":     &cfg.Broker.QoS,
		"WORKERS_COUNT":  &cfg.Workers.Count,
		"METRICS_PORT":   &cfg.Metrics.Port,
		"START_ATTEMPTS": &cfg.StartAttempts,
	}
	durations := map[string]*time.Duration{
		"TIMEOUTS_CONNECT":   &cfg.Timeouts.Connect,
		"TIMEOUTS_SUBSCRIBE": &cfg.Timeouts.Subscribe,
		"TIMEOUTS_REQUEST":   &cfg.Timeouts.Request,
		"TIMEOUTS_SHUTDOWN":  &cfg.Timeouts.Shutdown,
	}

	for suffix, dst := range strs {
		if val, ok := l.lookup(suffix); ok {
			if err := validateEnvVar(l.envPrefix+"_"+suffix, val); err != nil {
				return err
			}
			*dst = val
		}
	}
	for suffix, dst := range ints {
		if val, ok := l.lookup(suffix); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, err)
			}
			*dst = n
		}
	}
	for suffix, dst := range durations {
		if val, ok := l.lookup(suffix); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, err)
			}
			*dst = d
		}
	}
	if val, ok := l.lookup("METRICS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_ENABLED: %w", l.envPrefix, err)
		}
		cfg.Metrics.Enabled = enabled
	}
	return nil
}

func (l *Loader) lookup(suffix string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + suffix)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

// SaveToFile saves the configuration, JSON or YAML by extension
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "marshal")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := yamlTree(data)
		if err != nil {
			return errors.Wrap(err, "Config", "SaveToFile", "convert")
		}
		data, err = yaml.Marshal(raw)
		if err != nil {
			return errors.Wrap(err, "Config", "SaveToFile", "marshal YAML")
		}
	}
	return safeWriteFile(path, data)
}

// yamlTree converts the JSON form of a config to a YAML friendly map:
// integers stay integers and durations are written as strings.
func yamlTree(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	var convert func(v any) any
	convert = func(v any) any {
		switch v := v.(type) {
		case map[string]any:
			for k, item := range v {
				v[k] = convert(item)
			}
		case []any:
			for i, item := range v {
				v[i] = convert(item)
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
			f, _ := v.Float64()
			return f
		}
		return v
	}
	convert(raw)

	for section, keys := range durationKeys {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if n, ok := m[key].(int64); ok {
				m[key] = time.Duration(n).String()
			}
		}
	}
	return raw, nil
}
