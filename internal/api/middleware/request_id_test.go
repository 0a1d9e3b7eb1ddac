package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDKeepsWellFormedClientID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t1/events", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen != "req-42" || w.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("request id = %q, header = %q", seen, w.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDReplacesMalformedClientID(t *testing.T) {
	for _, bad := range []string{"", "has space", "tab\tid", strings.Repeat("x", maxRequestIDLen+1)} {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(RequestIDHeader, bad)
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen == "" || seen == bad {
			t.Errorf("client id %q: got %q", bad, seen)
		}
	}
}
