package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/t77yq/metricwatch/internal/model"
)

// HTTP checks an HTTP endpoint. 5xx responses are unhealthy, 4xx degraded.
type HTTP struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewHTTP creates an HTTP probe
func NewHTTP(name, url string) *HTTP {
	return &HTTP{
		name:       name,
		url:        url,
		httpClient: &http.Client{},
	}
}

// Check performs a GET request against the endpoint
func (p *HTTP) Check(ctx context.Context) (model.ServiceHealth, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return result(p.name, start, fmt.Errorf("failed to create request: %w", err), nil)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return result(p.name, start, fmt.Errorf("request failed: %w", err), nil)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	details := map[string]string{"status_code": strconv.Itoa(resp.StatusCode)}
	if resp.StatusCode >= 500 {
		return result(p.name, start, fmt.Errorf("endpoint returned status: %d", resp.StatusCode), details)
	}

	health, _ := result(p.name, start, nil, details)
	if resp.StatusCode >= 400 {
		health.Status = model.HealthStatusDegraded
	}
	return health, nil
}
