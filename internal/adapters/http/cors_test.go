package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobrunner/tilework/internal/config"
)

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		origin  string
		pattern string
		want    bool
	}{
		{"https://app.example.com", "https://app.example.com", true},
		{"https://other.example.com", "https://app.example.com", false},
		{"https://anything.test", "*", true},
		{"https://tiles.example.com", "*.example.com", true},
		{"https://a.b.example.com:8443", "*.example.com", true},
		{"https://example.com", "*.example.com", false},
		{"https://evilexample.com", "*.example.com", false},
		{"tiles.example.com", "*.example.com", true},
		{"https://tiles.example.com", "*example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin+"|"+tt.pattern, func(t *testing.T) {
			if got := matchOrigin(tt.origin, tt.pattern); got != tt.want {
				t.Errorf("matchOrigin(%q, %q) = %v, want %v", tt.origin, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestOriginHost(t *testing.T) {
	tests := map[string]string{
		"https://example.com:8080":      "example.com",
		"http://tiles.example.com/path": "tiles.example.com",
		"example.com":                   "example.com",
	}
	for in, want := range tests {
		if got := originHost(in); got != want {
			t.Errorf("originHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	s := &Server{config: config.ServerConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"*.example.com"}}}}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := s.corsMiddleware(next)

	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantAllowed bool
	}{
		{"allowed post", http.MethodPost, "https://tiles.example.com", http.StatusTeapot, true},
		{"allowed preflight", http.MethodOptions, "https://tiles.example.com", http.StatusNoContent, true},
		{"denied origin", http.MethodPost, "https://evil.test", http.StatusTeapot, false},
		{"denied preflight", http.MethodOptions, "https://evil.test", http.StatusNoContent, false},
		{"no origin", http.MethodGet, "", http.StatusTeapot, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/maps/map-1/rpc/loadTile", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			allowed := tt.origin != "" && rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
			if allowed != tt.wantAllowed {
				t.Errorf("Access-Control-Allow-Origin = %q, want allowed=%v", rec.Header().Get("Access-Control-Allow-Origin"), tt.wantAllowed)
			}
			if tt.wantAllowed && rec.Header().Get("Access-Control-Allow-Methods") != corsAllowedMethods {
				t.Errorf("Access-Control-Allow-Methods = %q", rec.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}
