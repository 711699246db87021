package config

import (
	"fmt"
	"net"
)

func (c *Config) validate() error {
	if err := validatePool("pool", c.Pool); err != nil {
		return err
	}
	for key, override := range c.Pool.Overrides {
		if _, _, err := net.SplitHostPort(key); err != nil {
			return fmt.Errorf("option 'pool.overrides' has a key that is not host:port: %q", key)
		}
		if err := validatePool(fmt.Sprintf("pool.overrides[%s]", key), override); err != nil {
			return err
		}
	}

	if err := c.validateRouting(); err != nil {
		return err
	}

	if c.Cache.Driver != CacheDriverMemory && c.Cache.Driver != CacheDriverRedis {
		return fmt.Errorf("option 'cache.driver' has a wrong value: %s", c.Cache.Driver)
	}
	if c.Cache.Enabled && c.Cache.Driver == CacheDriverRedis && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("option 'cache.redis.addr' must not be empty when the redis driver is enabled")
	}

	return nil
}

func validatePool(prefix string, p Pool) error {
	if *p.MinConnectionsPerServer < 0 {
		return fmt.Errorf("option '%s.min_connections_per_server' must not be negative", prefix)
	}
	if *p.MaxConnectionsPerServer < 1 {
		return fmt.Errorf("option '%s.max_connections_per_server' must be positive", prefix)
	}
	if *p.MinConnectionsPerServer > *p.MaxConnectionsPerServer {
		return fmt.Errorf("option '%s.min_connections_per_server' must not exceed max_connections_per_server", prefix)
	}
	if *p.MaxBacklogPerServer < 0 {
		return fmt.Errorf("option '%s.max_backlog_per_server' must not be negative", prefix)
	}

	return nil
}

func (c *Config) validateRouting() error {
	if c.Routing.ReplicaPick != ReplicaPickRandom && c.Routing.ReplicaPick != ReplicaPickRoundRobin {
		return fmt.Errorf("option 'routing.replica_pick' has a wrong value: %s", c.Routing.ReplicaPick)
	}

	switch c.Routing.Mode {
	case RoutingModeStatic:
		for _, table := range c.Routing.Static.Tables {
			if table.Name == "" {
				return fmt.Errorf("option 'routing.static.tables' has a table without a name")
			}
			for _, segment := range table.Segments {
				if segment.Name == "" {
					return fmt.Errorf("option 'routing.static.tables[%s]' has a segment without a name", table.Name)
				}
				if len(segment.Endpoints) == 0 {
					return fmt.Errorf("segment '%s' of table '%s' has no endpoints", segment.Name, table.Name)
				}
				for _, addr := range segment.Endpoints {
					if _, _, err := net.SplitHostPort(addr); err != nil {
						return fmt.Errorf("segment '%s' of table '%s' has an invalid endpoint %q", segment.Name, table.Name, addr)
					}
				}
			}
		}
	case RoutingModeEtcd:
		if len(c.Routing.Etcd.Endpoints) == 0 {
			return fmt.Errorf("option 'routing.etcd.endpoints' must not be empty")
		}
	default:
		return fmt.Errorf("option 'routing.mode' has a wrong value: %s", c.Routing.Mode)
	}

	return nil
}
