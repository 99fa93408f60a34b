package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	reqctx "github.com/geosuggest/geosuggest/internal/pkg/context"
	apperrors "github.com/geosuggest/geosuggest/internal/pkg/errors"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
)

func TestClientIP_RemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "192.168.1.100:12345"

	if ip := ClientIP(req, false); ip != "192.168.1.100" {
		t.Errorf("expected IP 192.168.1.100, got %s", ip)
	}
}

func TestClientIP_IgnoresHeadersWithoutTrust(t *testing.T) {
	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	req.Header.Set("X-Real-IP", "203.0.113.50")

	if ip := ClientIP(req, false); ip != "10.0.0.1" {
		t.Errorf("expected IP 10.0.0.1, got %s", ip)
	}
}

func TestClientIP_XForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 198.51.100.1")

	if ip := ClientIP(req, true); ip != "203.0.113.1" {
		t.Errorf("expected IP 203.0.113.1, got %s", ip)
	}
}

func TestClientIP_XRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Real-IP", "203.0.113.50")

	if ip := ClientIP(req, true); ip != "203.0.113.50" {
		t.Errorf("expected IP 203.0.113.50, got %s", ip)
	}
}

func TestClientIP_HeaderPriority(t *testing.T) {
	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	req.Header.Set("X-Real-IP", "203.0.113.50")

	// X-Forwarded-For should take precedence
	if ip := ClientIP(req, true); ip != "203.0.113.1" {
		t.Errorf("expected IP 203.0.113.1 (X-Forwarded-For priority), got %s", ip)
	}
}

func TestClientIP_IPv6(t *testing.T) {
	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "[2001:db8::1]:12345"

	if ip := ClientIP(req, false); ip != "2001:db8::1" {
		t.Errorf("expected IP 2001:db8::1, got %s", ip)
	}
}

func TestClientIP_NoPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "pipe"

	if ip := ClientIP(req, false); ip != "pipe" {
		t.Errorf("expected raw RemoteAddr, got %s", ip)
	}
}

func TestClientIDMiddleware(t *testing.T) {
	var got string
	h := ClientID(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = reqctx.GetClientID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/autocomplete", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "198.51.100.7" {
		t.Errorf("client id = %q, want 198.51.100.7", got)
	}
}

func TestRequestID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		var fromCtx string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fromCtx = reqctx.GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		header := rec.Header().Get(RequestIDHeader)
		if header == "" {
			t.Fatal("X-Request-ID not set")
		}
		if fromCtx != header {
			t.Errorf("context id %q != header id %q", fromCtx, header)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
			t.Errorf("X-Request-ID = %q, want abc-123", got)
		}
	})

	t.Run("oversized replaced", func(t *testing.T) {
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); len(got) > maxRequestIDLength {
			t.Errorf("oversized request id was propagated")
		}
	})
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", "text")

	h := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/autocomplete", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	var resp apperrors.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(resp.Error, "boom") {
		t.Error("panic value leaked to client")
	}
	if !strings.Contains(buf.String(), "Handler panic") {
		t.Error("panic not logged")
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("wildcard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORS("*")(next).ServeHTTP(rec, httptest.NewRequest("GET", "/autocomplete", nil))

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q, want *", got)
		}
	})

	t.Run("listed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/autocomplete", nil)
		req.Header.Set("Origin", "https://maps.example.com")
		rec := httptest.NewRecorder()
		CORS("https://a.example.com, https://maps.example.com")(next).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://maps.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("unlisted origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/autocomplete", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		CORS("https://maps.example.com")(next).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		called := false
		h := CORS("*")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/feedback", nil))

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if called {
			t.Error("preflight reached the handler")
		}
	})
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", "text")

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		RequestID,
		Logging(log),
	)

	req := httptest.NewRequest("GET", "/popular", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"HTTP request", "status=418", "path=/popular", "request_id=req-42"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if strings.Join(order, ",") != "outer,inner,handler" {
		t.Errorf("order = %v", order)
	}
}
