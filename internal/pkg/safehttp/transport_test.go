package safehttp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"100.64.1.1", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		if got := IsPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestValidateURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/file", "https://", "::bad"} {
		if _, err := ValidateURL(raw); err == nil {
			t.Errorf("ValidateURL(%q) expected error", raw)
		}
	}
	if _, err := ValidateURL("https://example.com/a"); err != nil {
		t.Errorf("ValidateURL() error = %v", err)
	}
}

func TestNewTransport_BlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	blocked := &http.Client{Transport: NewTransport(false)}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if resp, err := blocked.Do(req); err == nil {
		resp.Body.Close()
		t.Fatal("expected loopback dial to be refused")
	}

	allowed := &http.Client{Transport: NewTransport(true)}
	req, _ = http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := allowed.Do(req)
	if err != nil {
		t.Fatalf("allowPrivate transport error = %v", err)
	}
	resp.Body.Close()
}
