// Package health implements the self-check used as a container
// healthcheck: it probes the discovery endpoints a DVR client needs.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CheckEndpoints hits the discovery surface at baseURL and returns the
// first failure, if any. /healthz is not probed: it reports 503 until the
// first catalog load, which would flap a freshly started container.
func CheckEndpoints(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/discover.json", "/lineup.json", "/lineup_status.json"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
	}
	return nil
}
