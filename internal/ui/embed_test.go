package ui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	h := Handler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /: status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/assets/app.js") {
		t.Fatal("GET /: board page not served")
	}
}

func TestHandler_assets(t *testing.T) {
	h := Handler()
	for _, p := range []string{"/assets/app.js", "/assets/app.css"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
			t.Fatalf("GET %s: status=%d len=%d", p, rec.Code, rec.Body.Len())
		}
	}
}

func TestHandler_spaFallback(t *testing.T) {
	h := Handler()
	req := httptest.NewRequest(http.MethodGet, "/tasks/t1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	// Unknown path falls back to index.html
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /tasks/t1 (fallback): status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agentdeck") {
		t.Fatal("fallback did not serve index.html")
	}
}
