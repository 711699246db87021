package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/skatterlabs/skatter/internal/util"
)

const (
	RoutingModeStatic = "static"
	RoutingModeEtcd   = "etcd"

	ReplicaPickRandom     = "random"
	ReplicaPickRoundRobin = "round_robin"

	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

const (
	defaultBrokerTimeout  = 10 * time.Second
	defaultConnectTimeout = 500 * time.Millisecond
	defaultRequestTimeout = 1 * time.Second

	defaultMinConnectionsPerServer = 2
	defaultMaxConnectionsPerServer = 10
	defaultIdleTimeout             = 3 * time.Minute
	defaultMaxBacklogPerServer     = 128

	defaultCacheTTL        = 30 * time.Second
	defaultCacheMaxEntries = 4096

	defaultEtcdDialTimeout = 5 * time.Second
	defaultStorageTimeout  = time.Second
)

type Config struct {
	Broker struct {
		Port        string        `yaml:"port"`
		Timeout     time.Duration `yaml:"timeout"`
		ConsolePath string        `yaml:"console_path"`
		Logging     Logging       `yaml:"logging"`
	} `yaml:"broker"`

	Transport Transport `yaml:"transport"`
	Pool      Pool      `yaml:"pool"`
	Routing   Routing   `yaml:"routing"`
	Cache     Cache     `yaml:"cache"`
	Storage   Storage   `yaml:"storage"`
}

type Logging struct {
	Level              string `yaml:"level"`
	SysLogEnabled      bool   `yaml:"syslog_enabled"`
	FileLoggingEnabled bool   `yaml:"file_logging_enabled"`
	Filename           string `yaml:"filename"`
	MaxSize            int    `yaml:"max_size"`
	MaxBackups         int    `yaml:"max_backups"`
	MaxAge             int    `yaml:"max_age"`
}

type Transport struct {
	ConnectTimeout *time.Duration `yaml:"connect_timeout"`
	RequestTimeout *time.Duration `yaml:"request_timeout"`
}

// Pool carries the process-wide connection pool defaults plus optional
// per-endpoint overrides keyed by "host:port".
type Pool struct {
	MinConnectionsPerServer *int            `yaml:"min_connections_per_server"`
	MaxConnectionsPerServer *int            `yaml:"max_connections_per_server"`
	IdleTimeout             *time.Duration  `yaml:"idle_timeout"`
	MaxBacklogPerServer     *int            `yaml:"max_backlog_per_server"`
	Overrides               map[string]Pool `yaml:"overrides"`
}

type Routing struct {
	Mode        string        `yaml:"mode"`
	ReplicaPick string        `yaml:"replica_pick"`
	Static      StaticRouting `yaml:"static"`
	Etcd        EtcdRouting   `yaml:"etcd"`
}

type StaticRouting struct {
	Tables []StaticTable `yaml:"tables"`
}

type StaticTable struct {
	Name     string          `yaml:"name"`
	Segments []StaticSegment `yaml:"segments"`
}

type StaticSegment struct {
	Name      string   `yaml:"name"`
	Endpoints []string `yaml:"endpoints"`
}

type EtcdRouting struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
}

type Cache struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      Redis         `yaml:"redis"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Storage configures the optional sqlite execution history. An empty
// filename disables it.
type Storage struct {
	Filename       string        `yaml:"filename"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

func Setup(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	cfg.withDefaults()
	err = cfg.validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) withDefaults() {
	if c.Broker.Port == "" {
		c.Broker.Port = ":8099"
	}
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = defaultBrokerTimeout
	}
	if c.Broker.Logging.Level == "" {
		c.Broker.Logging.Level = "info"
	}

	if c.Transport.ConnectTimeout == nil {
		c.Transport.ConnectTimeout = util.NewDuration(defaultConnectTimeout)
	}
	if c.Transport.RequestTimeout == nil {
		c.Transport.RequestTimeout = util.NewDuration(defaultRequestTimeout)
	}

	c.Pool.withDefaults(Pool{
		MinConnectionsPerServer: util.NewInt(defaultMinConnectionsPerServer),
		MaxConnectionsPerServer: util.NewInt(defaultMaxConnectionsPerServer),
		IdleTimeout:             util.NewDuration(defaultIdleTimeout),
		MaxBacklogPerServer:     util.NewInt(defaultMaxBacklogPerServer),
	})
	for key, override := range c.Pool.Overrides {
		override.withDefaults(c.Pool)
		override.Overrides = nil
		c.Pool.Overrides[key] = override
	}

	if c.Routing.Mode == "" {
		c.Routing.Mode = RoutingModeStatic
	}
	if c.Routing.ReplicaPick == "" {
		c.Routing.ReplicaPick = ReplicaPickRandom
	}
	if c.Routing.Etcd.DialTimeout == 0 {
		c.Routing.Etcd.DialTimeout = defaultEtcdDialTimeout
	}
	if c.Routing.Etcd.Prefix == "" {
		c.Routing.Etcd.Prefix = "/skatter/backends/"
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheDriverMemory
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaultCacheTTL
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = defaultCacheMaxEntries
	}

	if c.Storage.ConnectTimeout == 0 {
		c.Storage.ConnectTimeout = defaultStorageTimeout
	}
	if c.Storage.QueryTimeout == 0 {
		c.Storage.QueryTimeout = defaultStorageTimeout
	}
}

func (p *Pool) withDefaults(base Pool) {
	if p.MinConnectionsPerServer == nil {
		p.MinConnectionsPerServer = base.MinConnectionsPerServer
	}
	if p.MaxConnectionsPerServer == nil {
		p.MaxConnectionsPerServer = base.MaxConnectionsPerServer
	}
	if p.IdleTimeout == nil {
		p.IdleTimeout = base.IdleTimeout
	}
	if p.MaxBacklogPerServer == nil {
		p.MaxBacklogPerServer = base.MaxBacklogPerServer
	}
}
