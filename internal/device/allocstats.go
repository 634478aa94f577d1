package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const scrapeTimeout = 5 * time.Second

// allocStatsRuntime implements Runtime against an allocator stats endpoint:
// GET /metrics for counters, POST /reset_peaks and /release_cached for the
// two control operations. Device identity and capacity are scraped once at
// binding and cached for the lifetime of the runtime.
type allocStatsRuntime struct {
	client   *http.Client
	endpoint string
	index    int

	name     string
	uuid     string
	capacity int64
}

// NewAllocStatsRuntime binds to the device at the given index as reported by
// the allocator stats endpoint. It scrapes once to resolve device identity
// and capacity; failure to reach the endpoint or to find the device means
// there is nothing to observe and is returned as an error.
func NewAllocStatsRuntime(client *http.Client, endpoint string, index int) (Runtime, error) {
	if client == nil {
		client = &http.Client{Timeout: scrapeTimeout}
	}
	rt := &allocStatsRuntime{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		index:    index,
	}

	report, err := rt.scrape(context.Background())
	if err != nil {
		return nil, fmt.Errorf("device: binding device %d via %s: %w", index, endpoint, err)
	}

	rt.name = report.Name
	rt.uuid = report.UUID
	rt.capacity = report.CapacityBytes
	return rt, nil
}

func (rt *allocStatsRuntime) Name() string         { return rt.name }
func (rt *allocStatsRuntime) Index() int           { return rt.index }
func (rt *allocStatsRuntime) CapacityBytes() int64 { return rt.capacity }

// PeakStats scrapes the stats endpoint and returns the bound device's counters.
func (rt *allocStatsRuntime) PeakStats(ctx context.Context) (PeakStats, error) {
	report, err := rt.scrape(ctx)
	if err != nil {
		return PeakStats{}, err
	}
	return report.Stats, nil
}

// ResetPeaks asks the allocator to restart the peak-tracking window.
func (rt *allocStatsRuntime) ResetPeaks(ctx context.Context) error {
	return rt.post(ctx, "/reset_peaks")
}

// ReleaseCached asks the allocator to free cached-but-unused memory.
func (rt *allocStatsRuntime) ReleaseCached(ctx context.Context) error {
	return rt.post(ctx, "/release_cached")
}

// scrape fetches and parses the stats endpoint, returning the report for the
// bound device index.
func (rt *allocStatsRuntime) scrape(ctx context.Context) (*DeviceReport, error) {
	url := rt.endpoint + "/metrics"

	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraping %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	reports := ParseAllocStats(body)
	report, ok := reports[rt.index]
	if !ok {
		return nil, fmt.Errorf("device %d not present in stats from %s", rt.index, url)
	}
	return report, nil
}

func (rt *allocStatsRuntime) post(ctx context.Context, path string) error {
	url := rt.endpoint + path

	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", url, err)
	}
	req.Header.Set("X-Device-Index", fmt.Sprintf("%d", rt.index))

	resp, err := rt.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}
