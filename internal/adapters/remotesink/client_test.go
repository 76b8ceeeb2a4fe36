package remotesink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL:    srv.URL,
		UserID:     "user-1",
		Password:   "secret",
		DetectorID: "det-7",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestClientLoginStoresToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "user-1" || body["password"] != "secret" {
			t.Errorf("unexpected login body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-abc"})
	}))

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.Token() != "tok-abc" {
		t.Fatalf("expected token stored, got %q", c.Token())
	}
}

func TestClientLoginBadCredentials(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := c.Login(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestClientUploadEventWireFormat(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-data/det-7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	c.setToken("tok")

	hum := 45.0
	press := 1012.3
	ev := &domain.Event{
		SequenceID:      42,
		SourceTimestamp: "2025-06-18-14-30-25.123",
		ADC:             512,
		SiPMMilliVolts:  3.3,
		DeadtimeMs:      100,
		TemperatureC:    21.5,
		Humidity:        &hum,
		PressureHPa:     &press,
	}
	if err := c.UploadEvent(context.Background(), ev); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got["timestamp"] != "2025-06-18-14-30-25.123" {
		t.Fatalf("device timestamp must be sent verbatim, got %v", got["timestamp"])
	}
	if got["adc"] != float64(512) || got["vol"] != 3.3 || got["deadtime"] != float64(100) {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestClientUploadFallsBackToReceiveTime(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))

	recv := time.Date(2025, 6, 18, 14, 30, 25, 123456000, time.UTC)
	ev := &domain.Event{SequenceID: 1, ADC: 1, ReceivedAt: recv}
	if err := c.UploadEvent(context.Background(), ev); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got["timestamp"] != "2025-06-18-14-30-25.123456" {
		t.Fatalf("unexpected fallback timestamp %v", got["timestamp"])
	}
}

func TestClientRefreshesOnceOn401(t *testing.T) {
	var uploads, refreshes atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshes.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-new"})
		case "/upload-data/det-7":
			if uploads.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("Authorization") != "Bearer tok-new" {
				t.Errorf("retry must carry the refreshed token, got %q", r.Header.Get("Authorization"))
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	c.setToken("tok-old")

	if err := c.UploadEvent(context.Background(), &domain.Event{ReceivedAt: time.Now()}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uploads.Load() != 2 || refreshes.Load() != 1 {
		t.Fatalf("expected exactly one refresh and one retry, got uploads=%d refreshes=%d",
			uploads.Load(), refreshes.Load())
	}
}

func TestClientGivesUpAfterSecondAuthFailure(t *testing.T) {
	var uploads atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-new"})
		default:
			uploads.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}
	}))

	err := c.UploadEvent(context.Background(), &domain.Event{ReceivedAt: time.Now()})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth after failed retry, got %v", err)
	}
	if uploads.Load() != 2 {
		t.Fatalf("expected exactly two upload attempts, got %d", uploads.Load())
	}
}

func TestClientTransientRefreshFailureIsNotAuthLoss(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			// The refresh endpoint is briefly down, not rejecting us.
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	c.setToken("tok-old")

	err := c.UploadEvent(context.Background(), &domain.Event{ReceivedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected upload failure")
	}
	if errors.Is(err, ErrAuth) {
		t.Fatalf("server-side refresh failure must stay retryable, got %v", err)
	}
}

func TestClientRejectedRefreshIsAuthLoss(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	c.setToken("tok-old")

	err := c.UploadEvent(context.Background(), &domain.Event{ReceivedAt: time.Now()})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth when the refresh itself is rejected, got %v", err)
	}
}

func TestClientSetupIDTimestampFormat(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/setup-id" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))

	created := time.Date(2025, 6, 18, 14, 30, 25, 0, time.UTC)
	if err := c.SetupID(context.Background(), "roof", 52.2, 4.4, created); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got["id"] != "det-7" || got["comment"] != "roof" {
		t.Fatalf("unexpected setup payload: %v", got)
	}
	if got["created_at"] != "2025-06-18-14-30-25.000000" {
		t.Fatalf("unexpected created_at format: %v", got["created_at"])
	}
}
