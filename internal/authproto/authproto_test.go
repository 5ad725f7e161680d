package authproto

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestRegisterRoundTrip(t *testing.T) {
	req := Request{Type: RequestRegister, Username: "alice", Password: "hunter2", Email: "a@example.com"}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Request
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != req {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestRequestOmitsUnusedFields(t *testing.T) {
	req := Request{Type: RequestLogout, Token: "tok"}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(line)
	if strings.Contains(s, "username") || strings.Contains(s, "password") || strings.Contains(s, "email") {
		t.Fatalf("expected unused fields omitted, got %s", s)
	}
}

func TestResponseOkRoundTrip(t *testing.T) {
	resp := Ok(SessionView{ID: "s1", Token: "t1", CreatedAt: 100, ExpiresAt: 200},
		ProfileView{ID: "u1", Username: "alice", Roles: []string{"user"}})

	line, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Response
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Status != StatusOk || got.Session == nil || got.Session.ID != "s1" || got.Profile == nil {
		t.Fatalf("got %+v", got)
	}
	if got.Code != "" || got.Message != "" {
		t.Fatalf("expected no error fields on Ok, got %+v", got)
	}
}

func TestResponseErrRoundTrip(t *testing.T) {
	resp := Err("AuthenticationFailed", "invalid credentials")
	line, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Response
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Status != StatusErr || got.Code != "AuthenticationFailed" || got.Session != nil {
		t.Fatalf("got %+v", got)
	}
}
