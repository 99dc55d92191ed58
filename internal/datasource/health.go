package datasource

import (
	"context"
	"fmt"
	"time"

	"zendesk_datasource/internal/cache"
)

const (
	HealthOK    = "ok"
	HealthError = "error"

	upstreamHealthWindow = time.Minute
)

type HealthReport struct {
	Status           string      `json:"status"`
	Message          string      `json:"message"`
	Timestamp        time.Time   `json:"timestamp"`
	APILatencyMS     float64     `json:"api_latency_ms"`
	Cache            cache.Stats `json:"cache"`
	RecentUpstream   int         `json:"recent_upstream_requests"`
	RecentUpstreamKO int         `json:"recent_upstream_failures"`
}

// CheckHealth probes the upstream API and reports it together with cache state.
func (d *Datasource) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Timestamp: d.now(),
		Cache:     d.cache.Store.Stats(),
	}
	report.RecentUpstream, report.RecentUpstreamKO = d.metrics.UpstreamCounts(upstreamHealthWindow)

	if d.pinger == nil {
		report.Status = HealthOK
		report.Message = "upstream probe not configured"
		return report
	}

	start := d.now()
	err := d.pinger.TestConnection(ctx)
	report.APILatencyMS = float64(d.now().Sub(start).Nanoseconds()) / 1e6
	if err != nil {
		report.Status = HealthError
		report.Message = fmt.Sprintf("Zendesk API connection failed: %v", err)
		return report
	}
	report.Status = HealthOK
	report.Message = "All systems operational"
	return report
}
