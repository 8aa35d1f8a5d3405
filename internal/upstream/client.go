// Package upstream fetches pendant audio from the wearable service.
package upstream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"context"

	"github.com/rs/zerolog"
)

// The wearable API rejects download windows longer than two hours.
const MaxWindow = 2 * time.Hour

const requestTimeout = 5 * time.Minute

// ResultKind classifies a fetch outcome. Expected failure modes (no data,
// transient upstream trouble) are outcomes, not errors.
type ResultKind int

const (
	ResultBlob ResultKind = iota
	ResultNoData
	ResultTransient
	ResultFatal
)

func (k ResultKind) String() string {
	switch k {
	case ResultBlob:
		return "blob"
	case ResultNoData:
		return "no_data"
	case ResultTransient:
		return "transient"
	case ResultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Fatal reasons surfaced in processing_logs.error_details.
const (
	ReasonInvalidCredential = "invalid_credential"
	ReasonRateLimited       = "rate_limited"
	ReasonUpstream          = "upstream_error"
	ReasonWindowTooLarge    = "window_too_large"
)

// FetchResult is the tagged outcome of one download attempt.
type FetchResult struct {
	Kind        ResultKind
	Data        []byte
	Start, End  time.Time
	StatusCode  int
	FatalReason string
}

// APICall is the observability record for one upstream request, collected
// into the run's processing log.
type APICall struct {
	Endpoint     string            `json:"endpoint"`
	Status       int               `json:"status"`
	DurationMs   int64             `json:"duration_ms"`
	ResponseSize int               `json:"response_size"`
	Params       map[string]string `json:"params"`
	Error        string            `json:"error,omitempty"`
}

// Client downloads audio for one user. It is created per user and torn
// down afterwards to release sockets.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.With().Str("component", "upstream").Logger(),
	}
}

// Close releases idle connections. Call between users.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Fetch downloads the audio blob for [start, end). The second return value
// is always populated, even for failed calls.
func (c *Client) Fetch(ctx context.Context, apiKey string, start, end time.Time) (FetchResult, APICall) {
	startMs := strconv.FormatInt(start.UnixMilli(), 10)
	endMs := strconv.FormatInt(end.UnixMilli(), 10)

	call := APICall{
		Endpoint: "/v1/download-audio",
		Params:   map[string]string{"startMs": startMs, "endMs": endMs},
	}

	// Validate before touching the network.
	if end.Sub(start) > MaxWindow {
		call.Error = ReasonWindowTooLarge
		return FetchResult{Kind: ResultFatal, FatalReason: ReasonWindowTooLarge, Start: start, End: end}, call
	}

	u, err := url.Parse(c.baseURL + "/v1/download-audio")
	if err != nil {
		call.Error = err.Error()
		return FetchResult{Kind: ResultFatal, FatalReason: ReasonUpstream, Start: start, End: end}, call
	}
	q := u.Query()
	q.Set("startMs", startMs)
	q.Set("endMs", endMs)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		call.Error = err.Error()
		return FetchResult{Kind: ResultFatal, FatalReason: ReasonUpstream, Start: start, End: end}, call
	}
	req.Header.Set("X-API-Key", apiKey)

	began := time.Now()
	resp, err := c.http.Do(req)
	call.DurationMs = time.Since(began).Milliseconds()
	if err != nil {
		// Network-level failures are transient: skip the chunk, keep going.
		call.Error = err.Error()
		return FetchResult{Kind: ResultTransient, Start: start, End: end}, call
	}
	defer resp.Body.Close()

	call.Status = resp.StatusCode
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		call.Error = fmt.Sprintf("read body: %v", err)
		return FetchResult{Kind: ResultTransient, StatusCode: resp.StatusCode, Start: start, End: end}, call
	}
	call.ResponseSize = len(body)

	switch {
	case resp.StatusCode == http.StatusOK:
		if !bytes.HasPrefix(body, []byte("OggS")) {
			// The pendant occasionally ships blobs without the container
			// magic; downstream decode copes, so note and continue.
			c.log.Debug().
				Time("start", start).
				Int("size", len(body)).
				Msg("audio blob missing OggS magic")
		}
		return FetchResult{Kind: ResultBlob, Data: body, Start: start, End: end, StatusCode: resp.StatusCode}, call

	case resp.StatusCode == http.StatusNotFound:
		// No audio for this window — an expected outcome, not an error.
		return FetchResult{Kind: ResultNoData, StatusCode: resp.StatusCode, Start: start, End: end}, call

	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return FetchResult{Kind: ResultTransient, StatusCode: resp.StatusCode, Start: start, End: end}, call

	case resp.StatusCode == http.StatusUnauthorized:
		call.Error = ReasonInvalidCredential
		return FetchResult{Kind: ResultFatal, FatalReason: ReasonInvalidCredential, StatusCode: resp.StatusCode, Start: start, End: end}, call

	case resp.StatusCode == http.StatusTooManyRequests:
		call.Error = ReasonRateLimited
		return FetchResult{Kind: ResultFatal, FatalReason: ReasonRateLimited, StatusCode: resp.StatusCode, Start: start, End: end}, call

	default:
		call.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return FetchResult{Kind: ResultFatal, FatalReason: ReasonUpstream, StatusCode: resp.StatusCode, Start: start, End: end}, call
	}
}
