package cluster

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// Sort modes accepted by POST /api/v1/sort.
const (
	ModeDistributed = "distributed"
	ModeLocal       = "local"
)

// WorkerInfo describes one registered worker.
type WorkerInfo struct {
	RegisteredAt time.Time  `json:"registered_at"`
	LastProbe    *time.Time `json:"last_probe,omitempty"`
	Addr         string     `json:"addr"`
	Status       string     `json:"status"`
	Index        int        `json:"index"`
}

type WorkersResponse struct {
	Workers []WorkerInfo `json:"workers"`
	Count   int          `json:"count"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
}

type SortRequest struct {
	Values []int32 `json:"values"`
}

// Failure is one chunk that did not come back from its worker.
type Failure struct {
	Worker string `json:"worker"`
	Error  string `json:"error"`
	Chunk  int    `json:"chunk"`
}

// SortResponse carries the sorted values. Error and Failures are set when a
// worker failed; under the partial policy Values still holds the merged
// chunks that succeeded.
type SortResponse struct {
	Report   *JobReport `json:"report,omitempty"`
	Mode     string     `json:"mode"`
	Error    string     `json:"error,omitempty"`
	Values   []int32    `json:"values"`
	Failures []Failure  `json:"failures,omitempty"`
}

// JobReport summarizes one sort job. Durations are in nanoseconds. Compute
// is Wall minus Communication and can be negative when round trips overlap.
type JobReport struct {
	ID            string        `json:"id"`
	InputLen      int           `json:"input_len"`
	Chunks        int           `json:"chunks"`
	Workers       int           `json:"workers"`
	Failures      int           `json:"failures"`
	Partial       bool          `json:"partial"`
	Wall          time.Duration `json:"wall_ns"`
	Communication time.Duration `json:"communication_ns"`
	Compute       time.Duration `json:"compute_ns"`
	RoundTripP50  time.Duration `json:"round_trip_p50_ns"`
	RoundTripP99  time.Duration `json:"round_trip_p99_ns"`
	RoundTripMax  time.Duration `json:"round_trip_max_ns"`
}

// ProbeRequest names the addresses to probe. An empty list probes every
// registered worker.
type ProbeRequest struct {
	Addrs []string `json:"addrs"`
}

type ProbeResult struct {
	Addr    string        `json:"addr"`
	Target  string        `json:"target"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency_ns"`
}

type EvictResponse struct {
	Evicted []string `json:"evicted"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx response.
type APIError struct {
	URL     string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Status)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Status, e.Message)
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// PostJSON posts body as JSON and decodes the response into out, which may be
// nil.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	resp, err := post(ctx, httpClient, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// GetJSON decodes the response of a GET into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// streamClient has no overall timeout; a stream ends when the server closes
// it or ctx is done.
var streamClient = &http.Client{}

// StreamJSON posts body and calls fn with each line of a newline-delimited
// JSON response as it arrives. Blank lines are skipped. An error from fn
// stops the stream and is returned.
func StreamJSON(ctx context.Context, url string, body any, fn func(line []byte) error) error {
	resp, err := post(ctx, streamClient, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decode(resp, nil)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream %s: %w", url, err)
	}
	return nil
}

func post(ctx context.Context, client *http.Client, url string, body any) (*http.Response, error) {
	reqBody, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func decode(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{URL: resp.Request.URL.String(), Status: resp.StatusCode}
		var e ErrorResponse
		if sonic.Unmarshal(data, &e) == nil {
			apiErr.Message = e.Error
		}
		// Some endpoints answer with a body even on failure, e.g. a partial
		// sort result.
		if out != nil && len(data) > 0 {
			_ = sonic.Unmarshal(data, out)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
