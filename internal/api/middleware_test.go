package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// okHandler is a trivial handler that writes 200 OK.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Run("generates_hex_id_when_missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequestID(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		id := rec.Header().Get("X-Request-ID")
		if len(id) != 16 {
			t.Fatalf("X-Request-ID = %q, want 16 hex chars", id)
		}
		if _, err := hex.DecodeString(id); err != nil {
			t.Errorf("X-Request-ID %q is not hex: %v", id, err)
		}
	})

	t.Run("preserves_provided_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "upstream-trace-7")
		RequestID(okHandler).ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "upstream-trace-7" {
			t.Errorf("X-Request-ID = %q, want the provided one", got)
		}
	})
}

func TestCORSWithOrigins(t *testing.T) {
	tests := []struct {
		name            string
		origins         []string
		method          string
		origin          string
		wantStatus      int
		wantAllowOrigin string
		wantVary        string
		wantInnerCalled bool
	}{
		{
			name:            "open_allows_any_origin",
			method:          "GET",
			origin:          "https://app.local",
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "*",
			wantInnerCalled: true,
		},
		{
			name:            "open_preflight_short_circuits",
			method:          "OPTIONS",
			wantStatus:      http.StatusNoContent,
			wantAllowOrigin: "*",
		},
		{
			name:            "listed_origin_echoed",
			origins:         []string{"https://app.example"},
			method:          "GET",
			origin:          "https://app.example",
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "https://app.example",
			wantVary:        "Origin",
			wantInnerCalled: true,
		},
		{
			name:            "configured_trailing_slash_normalized",
			origins:         []string{"https://app.example/"},
			method:          "GET",
			origin:          "https://app.example",
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "https://app.example",
			wantVary:        "Origin",
			wantInnerCalled: true,
		},
		{
			name:            "unlisted_origin_served_without_cors_headers",
			origins:         []string{"https://app.example"},
			method:          "GET",
			origin:          "https://evil.example",
			wantStatus:      http.StatusOK,
			wantInnerCalled: true,
		},
		{
			name:       "unlisted_preflight_refused",
			origins:    []string{"https://app.example"},
			method:     "OPTIONS",
			origin:     "https://evil.example",
			wantStatus: http.StatusForbidden,
		},
		{
			name:            "listed_preflight_no_content",
			origins:         []string{"https://app.example"},
			method:          "OPTIONS",
			origin:          "https://app.example",
			wantStatus:      http.StatusNoContent,
			wantAllowOrigin: "https://app.example",
			wantVary:        "Origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			innerCalled := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				innerCalled = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			CORSWithOrigins(tt.origins)(inner).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowOrigin)
			}
			if got := rec.Header().Get("Vary"); got != tt.wantVary {
				t.Errorf("Vary = %q, want %q", got, tt.wantVary)
			}
			if innerCalled != tt.wantInnerCalled {
				t.Errorf("inner called = %v, want %v", innerCalled, tt.wantInnerCalled)
			}
		})
	}

	t.Run("preflight_advertises_sse_resume_header", func(t *testing.T) {
		// EventSource reconnects send Last-Event-ID; a preflight that does
		// not allow it breaks stream resumption from browsers.
		rec := httptest.NewRecorder()
		CORSWithOrigins(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/", nil))

		allowed := rec.Header().Get("Access-Control-Allow-Headers")
		for _, h := range []string{"Authorization", "Content-Type", "Last-Event-ID"} {
			if !headerListContains(allowed, h) {
				t.Errorf("Allow-Headers %q missing %s", allowed, h)
			}
		}
	})
}

func headerListContains(list, name string) bool {
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == name {
			return true
		}
	}
	return false
}

func TestRateLimiter(t *testing.T) {
	send := func(handler http.Handler, addr string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("burst_exhaustion_gets_429", func(t *testing.T) {
		handler := RateLimiter(1, 2)(okHandler)
		for i := 0; i < 2; i++ {
			if rec := send(handler, "5.6.7.8:1234"); rec.Code != http.StatusOK {
				t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusOK)
			}
		}

		rec := send(handler, "5.6.7.8:1234")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
		}
		if got := rec.Header().Get("Retry-After"); got != "1" {
			t.Errorf("Retry-After = %q, want %q", got, "1")
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if body.Error != "rate limit exceeded" {
			t.Errorf("error = %q, want %q", body.Error, "rate limit exceeded")
		}
	})

	t.Run("addresses_limited_independently", func(t *testing.T) {
		handler := RateLimiter(1, 1)(okHandler)
		send(handler, "10.0.0.1:1234")
		if rec := send(handler, "10.0.0.1:1234"); rec.Code != http.StatusTooManyRequests {
			t.Errorf("exhausted address: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
		}
		if rec := send(handler, "10.0.0.2:1234"); rec.Code != http.StatusOK {
			t.Errorf("fresh address: status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("address_without_port_still_limited", func(t *testing.T) {
		handler := RateLimiter(1, 1)(okHandler)
		send(handler, "7.7.7.7")
		if rec := send(handler, "7.7.7.7"); rec.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("zero_rps_disables_limiting", func(t *testing.T) {
		handler := RateLimiter(0, 1)(okHandler)
		for i := 0; i < 20; i++ {
			if rec := send(handler, "9.9.9.9:1234"); rec.Code != http.StatusOK {
				t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusOK)
			}
		}
	})
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		header     string
		target     string
		wantStatus int
	}{
		{"no_token_configured_passes_all", "", "", "/", http.StatusOK},
		{"valid_bearer_header", "secret123", "Bearer secret123", "/", http.StatusOK},
		{"wrong_bearer_header", "secret123", "Bearer nope", "/", http.StatusUnauthorized},
		{"missing_credentials", "secret123", "", "/", http.StatusUnauthorized},
		{"non_bearer_scheme", "secret123", "Basic c2VjcmV0MTIz", "/", http.StatusUnauthorized},
		{"query_token_for_eventsource", "secret123", "", "/?token=secret123", http.StatusOK},
		{"wrong_query_token", "secret123", "", "/?token=nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			BearerAuth(tt.token)(okHandler).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	t.Run("no_token_fails_closed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAuth("")(okHandler).ServeHTTP(rec, httptest.NewRequest("DELETE", "/", nil))

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if body.Error != "disabled: no auth token configured" {
			t.Errorf("error = %q", body.Error)
		}
	})

	t.Run("configured_token_passes_through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireAuth("secret123")(okHandler).ServeHTTP(rec, httptest.NewRequest("DELETE", "/", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})
}

func TestRecoverer(t *testing.T) {
	t.Run("normal_request_passes_through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Recoverer(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("panic_becomes_500_json", func(t *testing.T) {
		panicker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
		rec := httptest.NewRecorder()
		Recoverer(panicker).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if body.Error != "internal server error" {
			t.Errorf("error = %q, want %q", body.Error, "internal server error")
		}
	})
}
