package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lair-chat/internal/chat"
	"lair-chat/internal/errs"
	"lair-chat/internal/validate"
)

type fakeCounter struct{ n int }

func (f fakeCounter) ActiveConnections() int { return f.n }

func newTestServer(n int) *Server {
	v := validate.New(validate.Config{RateLimit: validate.RateLimiterConfig{
		RequestsPerWindow: 60, Window: time.Minute, BurstAllowance: 15,
	}})
	breakers := errs.NewRegistry(5, 30*time.Second)
	hub := chat.NewHub(chat.DefaultMailboxCapacity)
	return New(fakeCounter{n: n}, v, breakers, hub, errs.NewStats())
}

func TestHandleHealthzReportsConnectionCount(t *testing.T) {
	s := newTestServer(3)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.ActiveConnections != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleStatsIncludesValidatorAndBreakerSnapshots(t *testing.T) {
	s := newTestServer(0)
	if _, err := s.validator.Validate("user-1", "LIST_ROOMS"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s.breakers.For("repo.message.create")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ValidationTotal == 0 {
		t.Fatalf("expected validation_total > 0, got %+v", got)
	}
	if _, ok := got.Breakers["repo.message.create"]; !ok {
		t.Fatalf("expected breakers snapshot to include repo.message.create, got %+v", got.Breakers)
	}
}

func TestHandleStatsIncludesErrorTaxonomyCounters(t *testing.T) {
	s := newTestServer(0)
	s.errStats.Record(errs.InvalidFormat("bad input"))
	s.errStats.Record(errs.RateLimitExceeded())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ErrorsTotal != 2 {
		t.Fatalf("ErrorsTotal = %d, want 2", got.ErrorsTotal)
	}
	if got.LastErrorCode != "RateLimitExceeded" {
		t.Fatalf("LastErrorCode = %q, want RateLimitExceeded", got.LastErrorCode)
	}
	if got.LastErrorAt == nil {
		t.Fatalf("expected LastErrorAt to be set")
	}
	found := false
	for _, c := range got.ErrorsByKind {
		if c.Kind == errs.KindValidation && c.Severity == errs.SeverityInfo && c.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a validation/info bucket with count 1, got %+v", got.ErrorsByKind)
	}
	if got.ErrorRecoveries[errs.RecoveryRateLimitDelay] != 1 {
		t.Fatalf("ErrorRecoveries[RecoveryRateLimitDelay] = %d, want 1", got.ErrorRecoveries[errs.RecoveryRateLimitDelay])
	}
}
