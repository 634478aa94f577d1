package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/trainwatch/trainwatch-agent/internal/config"
	agenterrors "github.com/trainwatch/trainwatch-agent/internal/errors"
	"github.com/trainwatch/trainwatch-agent/internal/observability"
	"github.com/trainwatch/trainwatch-agent/pkg/model"
)

// HTTPBackend batches scalar samples and POSTs them to the backend's ingest
// endpoint with streaming zstd compression. It never buffers the full JSON
// payload in memory. Send retries happen inside the queue's writer
// goroutine, so the sampling loop is never blocked by backoff sleeps.
type HTTPBackend struct {
	httpClient *http.Client
	config     *config.Config
	metrics    *observability.Metrics
	errs       *agenterrors.ErrorCollector

	batch []model.ScalarSample
}

// NewHTTPBackend creates an HTTPBackend from config. An empty backend URL is
// a construction error.
func NewHTTPBackend(cfg *config.Config, metrics *observability.Metrics, errs *agenterrors.ErrorCollector) (*HTTPBackend, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("sink: backend URL is empty")
	}

	// Explicit transport instead of http.DefaultTransport to avoid sharing
	// mutable state with other code in the process.
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &HTTPBackend{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: WithAuth(cfg.APIKey, base),
		},
		config:  cfg,
		metrics: metrics,
		errs:    errs,
		batch:   make([]model.ScalarSample, 0, cfg.BatchSize),
	}, nil
}

// WriteSample buffers a sample and flushes once the batch is full.
func (b *HTTPBackend) WriteSample(s model.ScalarSample) error {
	b.batch = append(b.batch, s)
	if len(b.batch) >= b.config.BatchSize {
		return b.Flush()
	}
	return nil
}

// Flush sends the pending batch, retrying transient failures with backoff.
// A batch that still fails after all attempts is dropped and reported.
func (b *HTTPBackend) Flush() error {
	if len(b.batch) == 0 {
		return nil
	}

	start := time.Now()
	batch := b.batch
	b.batch = make([]model.ScalarSample, 0, b.config.BatchSize)

	var compressedBytes int64
	var lastErr error

	maxAttempts := b.config.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if b.metrics != nil {
				b.metrics.SinkRetries.Inc()
			}
			sleepWithBackoff(attempt - 1)
		}

		bytes, err := b.doSend(batch)
		compressedBytes = bytes
		if err != nil {
			lastErr = err
			if isNonRetryableError(err) {
				break
			}
			continue
		}

		lastErr = nil
		break
	}

	if b.metrics != nil {
		b.metrics.SinkFlushDuration.Observe(time.Since(start).Seconds())
		if compressedBytes > 0 {
			b.metrics.SinkBatchBytes.Observe(float64(compressedBytes))
		}
		if lastErr != nil {
			b.metrics.SinkSendTotal.WithLabelValues("error").Inc()
		} else {
			b.metrics.SinkSendTotal.WithLabelValues("success").Inc()
		}
	}

	if lastErr != nil {
		if b.errs != nil {
			b.errs.Report(agenterrors.AgentError{
				Code:      agenterrors.ErrSinkSendFailed,
				Message:   fmt.Sprintf("scalar batch send failed: %v", lastErr),
				Component: "sink.http",
				Timestamp: time.Now().UnixMilli(),
				Err:       lastErr,
			})
		}
		return lastErr
	}

	return nil
}

// Close flushes any pending samples.
func (b *HTTPBackend) Close() error {
	return b.Flush()
}

// doSend performs a single HTTP POST with streaming compression. Each call
// creates a fresh io.Pipe so it can be called multiple times for retries.
func (b *HTTPBackend) doSend(batch []model.ScalarSample) (int64, error) {
	pr, pw := io.Pipe()

	// CountingWriter wraps the pipe writer to track compressed bytes.
	cw := NewCountingWriter(pw)

	zw, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = pw.Close()
		return 0, fmt.Errorf("sink: failed to create zstd encoder: %w", err)
	}

	payload := model.IngestRequest{
		RunID:   b.config.RunID,
		Rank:    b.config.Rank,
		Samples: batch,
	}

	// Encode JSON through the zstd writer into the pipe.
	go func() {
		encodeErr := json.NewEncoder(zw).Encode(&payload)
		// Close zstd first to flush, then close the pipe.
		closeErr := zw.Close()
		if encodeErr != nil {
			pw.CloseWithError(fmt.Errorf("sink: JSON encode failed: %w", encodeErr))
		} else if closeErr != nil {
			pw.CloseWithError(fmt.Errorf("sink: zstd close failed: %w", closeErr))
		} else {
			_ = pw.Close()
		}
	}()

	url := b.config.BackendURL + "/api/v1/scalars/ingest"
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, pr)
	if err != nil {
		_ = pr.Close()
		return 0, fmt.Errorf("sink: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("X-Run-ID", b.config.RunID)
	req.Header.Set("X-Rank", strconv.Itoa(b.config.Rank))
	req.Header.Set("X-Agent-Version", b.config.AgentVersion)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return cw.Count(), fmt.Errorf("sink: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return cw.Count(), err
	}

	return cw.Count(), nil
}

// checkResponse maps HTTP status codes to errors, draining the body so the
// connection can be reused.
func checkResponse(resp *http.Response) error {
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("sink: authentication failed (HTTP %d)", resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("sink: rate limited (HTTP 429)")

	case resp.StatusCode >= 500:
		return fmt.Errorf("sink: server error (HTTP %d)", resp.StatusCode)

	default:
		var errResp model.IngestErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("sink: ingest rejected (HTTP %d): %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("sink: unexpected status (HTTP %d)", resp.StatusCode)
	}
}

// isNonRetryableError checks if an error should not be retried.
func isNonRetryableError(err error) bool {
	return strings.Contains(err.Error(), "authentication failed")
}
