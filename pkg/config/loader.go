package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ACE_EXECUTION_THREADS.
const EnvPrefix = "ACE"

// DefaultPath returns the per-user settings file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ace", "settings.yaml")
}

// Load layers defaults, the YAML file at path and ACE_ environment
// variables, in increasing precedence. ${VAR} references inside the file are
// substituted before parsing. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: settings path is chosen by the user
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
		content := substituteEnvVars(string(data))
		if err := v.ReadConfig(strings.NewReader(content)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").
				WithDetail("path", path)
		}
	}

	return decode(v)
}

// LoadOptional behaves like Load but treats a missing file as empty.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Load("")
	}
	return Load(path)
}

// Save writes cfg as YAML to path atomically, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to create config directory").
			WithDetail("path", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to write config file").
			WithDetail("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to replace config file").
			WithDetail("path", path)
	}
	return nil
}

// Set assigns value to the dotted key (e.g. "execution.threads"), converting
// it to the key's type. The result is validated before cfg is modified.
func (c *Config) Set(key, value string) error {
	v, err := c.viper()
	if err != nil {
		return err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return errors.Newf(errors.ErrorTypeNotFound, "unknown setting %q", key).WithDetail("key", key)
	}
	if _, section := v.Get(key).(map[string]interface{}); section {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "%q is a section, not a setting", key).
			WithDetail("key", key)
	}

	v.Set(key, value)
	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeInvalidArgument, "invalid value %q for %s", value, key).
			WithDetail("key", key)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}

// Settings returns every setting as a sorted list of dotted keys with their
// current values.
func (c *Config) Settings() ([]Setting, error) {
	v, err := c.viper()
	if err != nil {
		return nil, err
	}
	keys := v.AllKeys()
	sort.Strings(keys)
	out := make([]Setting, 0, len(keys))
	for _, k := range keys {
		out = append(out, Setting{Key: k, Value: v.Get(k)})
	}
	return out, nil
}

// Setting is one dotted key and its value.
type Setting struct {
	Key   string
	Value interface{}
}

func (c *Config) viper() (*viper.Viper, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}
	return v, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("chunk.dir", d.Chunk.Dir)
	v.SetDefault("chunk.prefix", d.Chunk.Prefix)
	v.SetDefault("chunk.extension", d.Chunk.Extension)
	v.SetDefault("chunk.compression", d.Chunk.Compression)
	v.SetDefault("chunk.keep", d.Chunk.Keep)
	v.SetDefault("execution.threads", d.Execution.Threads)
	v.SetDefault("execution.buffer_size", d.Execution.BufferSize)
	v.SetDefault("cluster.listen", d.Cluster.Listen)
	v.SetDefault("cluster.participants", d.Cluster.Participants)
	v.SetDefault("cluster.accept_timeout", d.Cluster.AcceptTimeout)
	v.SetDefault("cluster.compression", d.Cluster.Compression)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)
	v.SetDefault("observability.enable_metrics", d.Observability.EnableMetrics)
	v.SetDefault("observability.metrics_addr", d.Observability.MetricsAddr)
	v.SetDefault("observability.enable_tracing", d.Observability.EnableTracing)
	v.SetDefault("observability.tracing_sample_rate", d.Observability.TracingSampleRate)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode settings")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
