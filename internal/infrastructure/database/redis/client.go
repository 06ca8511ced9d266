// Package redis coordinates publishers of binary databases: a connection
// wrapper, a distributed mutex serialising publishes of the same database
// and a manifest registry describing what was published.
package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/pkg/errors"
)

var (
	ErrClientClosed     = errors.New(errors.ErrCodeInternal, "redis client is closed")
	ErrConnectionFailed = errors.New(errors.ErrCodeCacheError, "redis connection failed")
)

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "molident"

// Deployment modes of RedisConfig.Mode.
const (
	ModeStandalone = "standalone"
	ModeSentinel   = "sentinel"
	ModeCluster    = "cluster"
)

type RedisConfig struct {
	Mode            string        `mapstructure:"mode"` // standalone, sentinel, cluster
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Addr            string        `mapstructure:"addr"`
	MasterName      string        `mapstructure:"master_name"`
	SentinelAddrs   []string      `mapstructure:"sentinel_addrs"`
	ClusterAddrs    []string      `mapstructure:"cluster_addrs"`
	Password        string        `mapstructure:"password"`
	Username        string        `mapstructure:"username"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	MaxIdleTime     time.Duration `mapstructure:"max_idle_time"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	TLSEnabled      bool          `mapstructure:"tls_enabled"`
	TLSCertFile     string        `mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `mapstructure:"tls_key_file"`
	TLSCAFile       string        `mapstructure:"tls_ca_file"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// Client is the connection shared by the publish locks and the manifest
// registry. Every key it hands out lives under the configured prefix.
type Client struct {
	rdb    redis.UniversalClient
	config *RedisConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient connects in the configured mode and pings the server. An
// unknown mode falls back to standalone.
func NewClient(cfg *RedisConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(cfg)

	opts, err := universalOptions(cfg)
	if err != nil {
		return nil, err
	}

	var rdb redis.UniversalClient
	switch cfg.Mode {
	case ModeCluster:
		rdb = redis.NewClusterClient(opts.Cluster())
	case ModeSentinel:
		rdb = redis.NewFailoverClient(opts.Failover())
	default:
		if cfg.Mode != ModeStandalone {
			log.Warn("unknown redis mode, using standalone", logging.String("mode", cfg.Mode))
			cfg.Mode = ModeStandalone
		}
		rdb = redis.NewClient(opts.Simple())
	}

	client := &Client{rdb: rdb, config: cfg, logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		rdb.Close()
		return nil, ErrConnectionFailed.WithCause(err)
	}

	log.Info("connected to coordination redis",
		logging.String("mode", cfg.Mode),
		logging.String("addrs", strings.Join(opts.Addrs, ",")),
		logging.String("key_prefix", cfg.KeyPrefix))
	return client, nil
}

func applyDefaults(cfg *RedisConfig) {
	if cfg.Mode == "" {
		cfg.Mode = ModeStandalone
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 2 * runtime.GOMAXPROCS(0)
	}
	if cfg.MaxIdleTime == 0 {
		cfg.MaxIdleTime = 5 * time.Minute
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = 8 * time.Millisecond
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = 512 * time.Millisecond
	}
}

// universalOptions maps cfg onto the options of every deployment mode. The
// addresses are the ones of the configured mode.
func universalOptions(cfg *RedisConfig) (*redis.UniversalOptions, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	addrs := []string{cfg.Addr}
	switch cfg.Mode {
	case ModeCluster:
		addrs = cfg.ClusterAddrs
	case ModeSentinel:
		addrs = cfg.SentinelAddrs
	}
	return &redis.UniversalOptions{
		Addrs:           addrs,
		MasterName:      cfg.MasterName,
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxIdleTime: cfg.MaxIdleTime,
		PoolTimeout:     cfg.PoolTimeout,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		TLSConfig:       tlsConfig,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	}, nil
}

func buildTLSConfig(cfg *RedisConfig) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.TLSInsecure}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "load redis tls key pair")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "read redis tls ca")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New(errors.ErrCodeValidation, "no certificate in redis tls ca "+cfg.TLSCAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Ping checks the connection. It is the health check of the coordination
// backend.
func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rdb.Close()
	if err != nil {
		c.logger.Error("failed to close coordination redis", logging.Err(err))
		return err
	}
	c.logger.Debug("coordination redis closed")
	return nil
}

// Key joins parts under the configured prefix: "molident:lock:publish:main".
func (c *Client) Key(parts ...string) string {
	return strings.Join(append([]string{c.config.KeyPrefix}, parts...), ":")
}

// Options returns the effective configuration.
func (c *Client) Options() RedisConfig {
	return *c.config
}

// setIfAbsent stores value under key with a lease of ttl unless key exists.
func (c *Client) setIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if c.isClosed() {
		return false, ErrClientClosed
	}
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// run evaluates script against keys.
func (c *Client) run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (int64, error) {
	if c.isClosed() {
		return 0, ErrClientClosed
	}
	return script.Run(ctx, c.rdb, keys, args...).Int64()
}

func (c *Client) pttl(ctx context.Context, key string) (time.Duration, error) {
	if c.isClosed() {
		return 0, ErrClientClosed
	}
	return c.rdb.PTTL(ctx, key).Result()
}

func (c *Client) hashFields(ctx context.Context, key string) (map[string]string, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) setMembers(ctx context.Context, key string) ([]string, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.rdb.SMembers(ctx, key).Result()
}

// transaction queues the commands of fn in MULTI/EXEC.
func (c *Client) transaction(ctx context.Context, fn func(pipe redis.Pipeliner)) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe)
		return nil
	})
	return err
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
