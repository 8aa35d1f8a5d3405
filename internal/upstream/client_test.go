package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var (
	t0 = time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	t1 = t0.Add(30 * time.Minute)
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, zerolog.Nop()), srv
}

func TestFetch_Blob(t *testing.T) {
	var gotKey, gotStart, gotEnd string
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotStart = r.URL.Query().Get("startMs")
		gotEnd = r.URL.Query().Get("endMs")
		w.Write([]byte("OggS\x00audio-bytes"))
	})
	defer srv.Close()

	res, call := c.Fetch(context.Background(), "sk-test", t0, t1)
	if res.Kind != ResultBlob {
		t.Fatalf("Kind = %v, want blob", res.Kind)
	}
	if string(res.Data[:4]) != "OggS" {
		t.Errorf("Data prefix = %q, want OggS", res.Data[:4])
	}
	if gotKey != "sk-test" {
		t.Errorf("X-API-Key = %q, want sk-test", gotKey)
	}
	if want := "1773162000000"; gotStart != want {
		t.Errorf("startMs = %q, want %q", gotStart, want)
	}
	if want := "1773163800000"; gotEnd != want {
		t.Errorf("endMs = %q, want %q", gotEnd, want)
	}
	if call.Status != 200 || call.ResponseSize == 0 {
		t.Errorf("api_call = %+v, want status 200 with size", call)
	}
}

func TestFetch_MissingMagicStillBlob(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-an-ogg"))
	})
	defer srv.Close()

	res, _ := c.Fetch(context.Background(), "k", t0, t1)
	if res.Kind != ResultBlob {
		t.Errorf("Kind = %v, want blob (missing magic is noted, not rejected)", res.Kind)
	}
}

func TestFetch_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantKind   ResultKind
		wantReason string
	}{
		{"404_no_data", http.StatusNotFound, ResultNoData, ""},
		{"502_transient", http.StatusBadGateway, ResultTransient, ""},
		{"503_transient", http.StatusServiceUnavailable, ResultTransient, ""},
		{"504_transient", http.StatusGatewayTimeout, ResultTransient, ""},
		{"401_invalid_credential", http.StatusUnauthorized, ResultFatal, ReasonInvalidCredential},
		{"429_rate_limited", http.StatusTooManyRequests, ResultFatal, ReasonRateLimited},
		{"500_fatal_upstream", http.StatusInternalServerError, ResultFatal, ReasonUpstream},
		{"418_fatal_upstream", http.StatusTeapot, ResultFatal, ReasonUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			defer srv.Close()

			res, call := c.Fetch(context.Background(), "k", t0, t1)
			if res.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", res.Kind, tt.wantKind)
			}
			if res.FatalReason != tt.wantReason {
				t.Errorf("FatalReason = %q, want %q", res.FatalReason, tt.wantReason)
			}
			if call.Status != tt.status {
				t.Errorf("api_call status = %d, want %d", call.Status, tt.status)
			}
		})
	}
}

func TestFetch_WindowTooLarge(t *testing.T) {
	requested := false
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	})
	defer srv.Close()

	// 2h01m: rejected before the network call.
	res, call := c.Fetch(context.Background(), "k", t0, t0.Add(2*time.Hour+time.Minute))
	if res.Kind != ResultFatal || res.FatalReason != ReasonWindowTooLarge {
		t.Errorf("result = %+v, want fatal window_too_large", res)
	}
	if requested {
		t.Error("oversized window must not reach the network")
	}
	if call.Error != ReasonWindowTooLarge {
		t.Errorf("api_call error = %q, want %q", call.Error, ReasonWindowTooLarge)
	}
}

func TestFetch_ExactlyTwoHoursAllowed(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	res, _ := c.Fetch(context.Background(), "k", t0, t0.Add(2*time.Hour))
	if res.Kind != ResultNoData {
		t.Errorf("Kind = %v, want no_data (2h window is within the cap)", res.Kind)
	}
}

func TestFetch_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClient(srv.URL, zerolog.Nop())
	srv.Close() // connection refused from here on

	res, call := c.Fetch(context.Background(), "k", t0, t1)
	if res.Kind != ResultTransient {
		t.Errorf("Kind = %v, want transient", res.Kind)
	}
	if call.Error == "" {
		t.Error("api_call should record the network error")
	}
}
