package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"

	"github.com/nats-io/nats.go"
)

// NatsConfig 实时消息探针配置
type NatsConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NatsProbe NATS探针，以一次Flush往返作为延迟
type NatsProbe struct {
	conn  *nats.Conn
	owned bool
}

// NewNatsProbe 建立连接。服务端暂不可用时后台重连，不阻塞启动
func NewNatsProbe(config NatsConfig) (*NatsProbe, error) {
	opts := []nats.Option{
		nats.Name("aio-apm-health"),
		nats.Timeout(2 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	}
	if config.Username != "" {
		opts = append(opts, nats.UserInfo(config.Username, config.Password))
	}

	url := config.URL
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NatsProbe{conn: conn, owned: true}, nil
}

// NewNatsProbeFromConn 复用已有连接，关闭时不释放
func NewNatsProbeFromConn(conn *nats.Conn) *NatsProbe {
	return &NatsProbe{conn: conn}
}

func (p *NatsProbe) Probe(ctx context.Context) (ProbeResult, error) {
	if !p.conn.IsConnected() {
		return ProbeResult{}, common.NewUnavailableError("nats not connected", errors.New(p.conn.Status().String()))
	}

	start := time.Now()
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return ProbeResult{}, fmt.Errorf("nats round trip: %w", err)
	}
	rtt := time.Since(start)

	stats := p.conn.Stats()
	return ProbeResult{
		ResponseTimeMs: milliseconds(rtt),
		Metrics: map[string]float64{
			"in_msgs":    float64(stats.InMsgs),
			"out_msgs":   float64(stats.OutMsgs),
			"reconnects": float64(stats.Reconnects),
		},
	}, nil
}

func (p *NatsProbe) Close() error {
	if p.owned {
		p.conn.Close()
	}
	return nil
}
