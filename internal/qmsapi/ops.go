package qmsapi

import (
	"context"
	"fmt"
	"net/http"
)

// Analytics returns today's operations summary.
func (a *AuthClient) Analytics(ctx context.Context) (*Analytics, error) {
	var out Analytics
	if err := a.do(ctx, call{name: "ops_analytics", method: http.MethodGet, path: "/ops/analytics/", out: &out}); err != nil {
		return nil, fmt.Errorf("get analytics: %w", err)
	}
	return &out, nil
}

// ServicePerformance returns per-service throughput figures.
func (a *AuthClient) ServicePerformance(ctx context.Context) (*ServicePerformance, error) {
	var out ServicePerformance
	if err := a.do(ctx, call{name: "ops_service_performance", method: http.MethodGet, path: "/ops/service-performance/", out: &out}); err != nil {
		return nil, fmt.Errorf("get service performance: %w", err)
	}
	return &out, nil
}
