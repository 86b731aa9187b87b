package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 缓存探针配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	PoolSize int    `yaml:"pool_size" validate:"gte=0"`
}

// RedisProbe Redis探针，PING延迟加连接池统计
type RedisProbe struct {
	client redis.UniversalClient
	owned  bool
}

// NewRedisProbe 按配置创建客户端
func NewRedisProbe(config RedisConfig) *RedisProbe {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &RedisProbe{client: client, owned: true}
}

// NewRedisProbeFromClient 复用业务已有的客户端，关闭时不释放
func NewRedisProbeFromClient(client redis.UniversalClient) *RedisProbe {
	return &RedisProbe{client: client}
}

func (p *RedisProbe) Probe(ctx context.Context) (ProbeResult, error) {
	start := time.Now()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return ProbeResult{}, fmt.Errorf("ping redis: %w", err)
	}
	latency := time.Since(start)

	metrics := map[string]float64{}
	if stats := p.client.PoolStats(); stats != nil {
		metrics["pool_total_conns"] = float64(stats.TotalConns)
		metrics["pool_idle_conns"] = float64(stats.IdleConns)
		metrics["pool_timeouts"] = float64(stats.Timeouts)
		if lookups := stats.Hits + stats.Misses; lookups > 0 {
			metrics["pool_hit_ratio"] = 100 * float64(stats.Hits) / float64(lookups)
		}
	}
	return ProbeResult{ResponseTimeMs: milliseconds(latency), Metrics: metrics}, nil
}

func (p *RedisProbe) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}
