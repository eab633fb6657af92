package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORSPreflightAllowsMutatingMethods(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	request := httptest.NewRequest(http.MethodOptions, "/logs", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}

	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowMethods, http.MethodPatch) {
		t.Fatalf("expected Access-Control-Allow-Methods to include PATCH, got %q", allowMethods)
	}
}
