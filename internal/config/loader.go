package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/molident/pkg/errors"
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "MOLIDENT"

// envKeys are bound explicitly so LoadFromEnv sees them without a file;
// AutomaticEnv only resolves keys viper already knows about.
var envKeys = []string{
	"log.level", "log.format",
	"store.backend", "store.dir", "store.database", "store.include", "store.lazy",
	"minio.endpoint", "minio.access_key_id", "minio.secret_access_key", "minio.use_ssl",
	"minio.region", "minio.bucket", "minio.prefix", "minio.compress",
	"redis.addr", "redis.password", "redis.db", "redis.key_prefix",
	"publish.lock_ttl", "publish.lock_wait", "publish.publisher",
	"database.driver", "database.host", "database.port", "database.database",
	"database.username", "database.password", "database.ssl_mode",
	"metrics.enabled", "metrics.addr", "metrics.namespace",
	"canon.exact",
	"import.workers", "import.checkpoint", "import.allow_autofix", "import.check_valence",
}

// newViper builds a Viper with YAML files, the MOLIDENT_ env prefix and a
// "." to "_" key replacer, so "store.dir" resolves to MOLIDENT_STORE_DIR.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	v.SetDefault("canon.exact", true)
	v.SetDefault("import.check_valence", true)
	return v
}

// Load reads the YAML file at configPath, merges MOLIDENT_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeValidation, "config: failed to read config file %q", configPath)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from MOLIDENT_<SECTION>_<FIELD> variables and
// defaults only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "config: failed to unmarshal configuration")
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch calls onChange with the re-parsed Config whenever configPath changes
// on disk. Changes that fail to parse or validate are reported to onError,
// when given, and otherwise dropped. Watch does not block.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, errors.ErrCodeValidation, "config: failed to read config file %q", configPath)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on error, for use in main.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic("config: MustLoad failed: " + err.Error())
	}
	return cfg
}
