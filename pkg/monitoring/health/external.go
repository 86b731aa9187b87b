package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

// Endpoint 一个被探测的外部接口
type Endpoint struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
	// StatusPath 响应体中状态字段的gjson路径，为空时只检查HTTP状态码
	StatusPath string `yaml:"status_path"`
	// Expect StatusPath 取值的期望值，为空时要求字段存在且不为false
	Expect string `yaml:"expect"`
}

// ExternalProbe 并发探测一组外部接口，延迟取最慢的一个，任一失败即整体失败
type ExternalProbe struct {
	endpoints []Endpoint
}

func NewExternalProbe(endpoints []Endpoint) *ExternalProbe {
	return &ExternalProbe{endpoints: endpoints}
}

func (p *ExternalProbe) Probe(ctx context.Context) (ProbeResult, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		slowest time.Duration
		errs    []string
	)

	for _, endpoint := range p.endpoints {
		wg.Add(1)
		go func(endpoint Endpoint) {
			defer wg.Done()
			latency, err := p.check(ctx, endpoint)

			mu.Lock()
			defer mu.Unlock()
			if latency > slowest {
				slowest = latency
			}
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", endpoint.Name, err))
			}
		}(endpoint)
	}
	wg.Wait()

	result := ProbeResult{
		ResponseTimeMs: milliseconds(slowest),
		Metrics: map[string]float64{
			"endpoints_total":  float64(len(p.endpoints)),
			"endpoints_failed": float64(len(errs)),
		},
	}
	if len(errs) > 0 {
		return result, common.NewUnavailableError(strings.Join(errs, "; "), nil)
	}
	return result, nil
}

func (p *ExternalProbe) check(ctx context.Context, endpoint Endpoint) (time.Duration, error) {
	timeout := utils.DefaultHttpTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, ctx.Err()
		}
	}

	h := utils.NewHttp(fasthttp.MethodGet, endpoint.URL, nil)
	h.Timeout = timeout

	start := time.Now()
	err := h.Do()
	latency := time.Since(start)
	if err != nil {
		return latency, err
	}

	result := h.Result()
	if endpoint.StatusPath == "" {
		return latency, nil
	}
	value := result.Get(endpoint.StatusPath)
	if !value.Exists() {
		return latency, fmt.Errorf("status path %q not found", endpoint.StatusPath)
	}
	if endpoint.Expect != "" {
		if !strings.EqualFold(value.String(), endpoint.Expect) {
			return latency, fmt.Errorf("status %q, expected %q", value.String(), endpoint.Expect)
		}
		return latency, nil
	}
	if value.Type == gjson.False {
		return latency, errors.New("status is false")
	}
	return latency, nil
}
