package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func TestAssertStatusCode_Matching(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}
}

func TestNewJSONRequest(t *testing.T) {
	req := NewJSONRequest(t, http.MethodPost, "/api/telemetry", map[string]float64{"speed_kmh": 3})
	if req.Method != http.MethodPost || req.URL.Path != "/api/telemetry" {
		t.Fatalf("request = %s %s", req.Method, req.URL.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	body, _ := io.ReadAll(req.Body)
	var got map[string]float64
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if got["speed_kmh"] != 3 {
		t.Errorf("speed_kmh = %v, want 3", got["speed_kmh"])
	}

	raw := NewJSONRequest(t, http.MethodPost, "/", "{not json")
	body, _ = io.ReadAll(raw.Body)
	if string(body) != "{not json" {
		t.Errorf("raw body = %q", body)
	}
}

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	})
	rec := Serve(h, NewTestRequest(http.MethodGet, "/api/state"))
	AssertStatusCode(t, rec.Code, http.StatusOK)
	got := DecodeJSON[map[string]string](t, rec)
	if got["path"] != "/api/state" {
		t.Errorf("path = %q", got["path"])
	}
}
