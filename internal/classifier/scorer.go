package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scorer runs the patch classifier over a decoded waveform.
type Scorer interface {
	// Score returns one probability vector per patch, indexed by class id.
	Score(ctx context.Context, samples []float32) ([][]float32, error)
	// Reset clears per-session model state. Called after each segment.
	Reset(ctx context.Context)
}

// RemoteScorer talks to the inference sidecar serving the pretrained
// model. The sidecar loads the model from its weight cache once; this
// client mirrors that lifecycle — EnsureLoaded is a process-wide one-shot,
// and a corrupted weight cache gets one purge-and-retry before the
// process gives up.
type RemoteScorer struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	loadOnce sync.Once
	loadErr  error
}

func NewRemoteScorer(baseURL string, timeout time.Duration, log zerolog.Logger) *RemoteScorer {
	return &RemoteScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "classifier").Logger(),
	}
}

type scoreResponse struct {
	Patches [][]float32 `json:"patches"`
}

// EnsureLoaded asks the sidecar to load the model. Runs at most once per
// process. On a corrupt-cache failure it purges the sidecar's weight
// cache and retries once; a second failure is returned and the caller
// must treat it as fatal.
func (s *RemoteScorer) EnsureLoaded(ctx context.Context) error {
	s.loadOnce.Do(func() {
		if err := s.load(ctx); err != nil {
			if !isCacheCorrupt(err) {
				s.loadErr = err
				return
			}
			s.log.Warn().Err(err).Msg("model cache corrupt, purging and retrying")
			if err := s.purgeCache(ctx); err != nil {
				s.loadErr = fmt.Errorf("purge model cache: %w", err)
				return
			}
			s.loadErr = s.load(ctx)
		}
	})
	return s.loadErr
}

func (s *RemoteScorer) load(ctx context.Context) error {
	return s.post(ctx, "/v1/model/load", nil, nil)
}

func (s *RemoteScorer) purgeCache(ctx context.Context) error {
	return s.post(ctx, "/v1/model/cache/purge", nil, nil)
}

// isCacheCorrupt matches the sidecar's corrupt-weight-cache failure.
func isCacheCorrupt(err error) bool {
	return err != nil && strings.Contains(err.Error(), "cache_corrupt")
}

// Score sends the waveform as raw f32le and returns per-patch class
// probability vectors.
func (s *RemoteScorer) Score(ctx context.Context, samples []float32) ([][]float32, error) {
	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, fmt.Errorf("model load: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	raw := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	var resp scoreResponse
	if err := s.post(ctx, fmt.Sprintf("/v1/score?sr=%d", SampleRate), raw, &resp); err != nil {
		return nil, err
	}
	return resp.Patches, nil
}

// Reset clears the sidecar's per-session state. Best effort — a failed
// reset costs memory on the sidecar, not correctness here.
func (s *RemoteScorer) Reset(ctx context.Context) {
	if err := s.post(ctx, "/v1/session/reset", nil, nil); err != nil {
		s.log.Warn().Err(err).Msg("classifier session reset failed")
	}
}

func (s *RemoteScorer) post(ctx context.Context, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier %s (status %d): %s", path, resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
