package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	server "github.com/takakanai/github-issue-linker/pkg/controller/http"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/infra/sink"
	"github.com/takakanai/github-issue-linker/pkg/infra/storage"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Memory) {
	t.Helper()

	store := storage.NewMemory()
	errSink := sink.New(store)
	scanner := usecase.NewPageScanner(store, errSink)
	sessions := usecase.NewSessionManager(store, errSink)
	t.Cleanup(sessions.CloseAll)

	srv, err := server.NewServer(context.Background(), scanner, sessions, store)
	gt.NoError(t, err)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	gt.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	gt.NoError(t, err)
	return resp
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		gt.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	gt.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	gt.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func seedMapping(t *testing.T, store *storage.Memory) model.RepositoryMapping {
	t.Helper()
	m := model.NewRepositoryMapping("acme/widgets", "https://issues.acme.com", "WMS")
	gt.NoError(t, store.PutMappings(context.Background(), []model.RepositoryMapping{m}))
	return m
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	gt.NoError(t, err)
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	var status model.HealthStatus
	decodeBody(t, resp, &status)
	gt.Equal(t, status.Status, "healthy")
	gt.Equal(t, status.Service, "github-issue-linker")
	gt.Equal(t, status.Sessions, 0)
}

func TestScanEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	seedMapping(t, store)

	resp := postJSON(t, ts.URL+"/api/v1/scan", map[string]any{
		"url":     "https://github.com/acme/widgets/pull/1",
		"html":    `<main><p>See WMS-42 for details</p></main>`,
		"linkify": true,
	})
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	var body struct {
		Detections []model.DetectedKey   `json:"detections"`
		KeysFound  int                   `json:"keys_found"`
		Mode       model.PerformanceMode `json:"mode"`
		HTML       string                `json:"html"`
	}
	decodeBody(t, resp, &body)
	gt.Equal(t, body.KeysFound, 1)
	gt.Equal(t, body.Detections[0].Key, "WMS-42")
	gt.Equal(t, body.Mode, model.ModeComprehensive)
	gt.True(t, strings.Contains(body.HTML, `href="https://issues.acme.com/WMS-42"`))
}

func TestScanEndpointValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "missing html", body: map[string]any{"url": "https://github.com/acme/widgets"}},
		{name: "missing url", body: map[string]any{"html": "<p>WMS-1</p>"}},
		{name: "malformed url", body: map[string]any{"url": "not a url", "html": "<p></p>"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/scan", tc.body)
			resp.Body.Close()
			gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts, store := newTestServer(t)
	seedMapping(t, store)

	resp := postJSON(t, ts.URL+"/api/v1/sessions/", map[string]any{
		"url":  "https://github.com/acme/widgets/pull/1",
		"html": `<main><p>WMS-1</p></main>`,
	})
	gt.Equal(t, resp.StatusCode, http.StatusCreated)

	var opened struct {
		SessionID  string              `json:"session_id"`
		Detections []model.DetectedKey `json:"detections"`
	}
	decodeBody(t, resp, &opened)
	gt.NotEqual(t, opened.SessionID, "")
	gt.Equal(t, len(opened.Detections), 1)
	gt.Equal(t, opened.Detections[0].Key, "WMS-1")

	base := ts.URL + "/api/v1/sessions/" + opened.SessionID

	// mutation fragments are debounced and scanned in the background
	resp = postJSON(t, base+"/mutations", map[string]any{
		"fragments": []string{`<p>WMS-2</p>`},
	})
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusAccepted)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(base + "/detections")
		gt.NoError(t, err)
		var detections struct {
			Count int `json:"count"`
		}
		decodeBody(t, resp, &detections)
		if detections.Count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mutation not scanned, count=%d", detections.Count)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// navigation clears the detection set
	resp = postJSON(t, base+"/navigation", map[string]any{
		"url":    "https://github.com/acme/widgets/pull/2",
		"source": "popstate",
	})
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusAccepted)

	resp = doJSON(t, http.MethodDelete, base+"/", nil)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	resp, err := http.Get(base + "/detections")
	gt.NoError(t, err)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNotFound)
}

func TestSessionVisibilityValidation(t *testing.T) {
	ts, store := newTestServer(t)
	seedMapping(t, store)

	resp := postJSON(t, ts.URL+"/api/v1/sessions/", map[string]any{
		"url":  "https://github.com/acme/widgets/pull/1",
		"html": `<main><p>WMS-1</p></main>`,
	})
	var opened struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &opened)

	resp = postJSON(t, ts.URL+"/api/v1/sessions/"+opened.SessionID+"/visibility", map[string]any{})
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

func TestSessionNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/sessions/no-such-session/detections")
	gt.NoError(t, err)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNotFound)
}

func TestMappingCRUD(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/v1/mappings/"

	resp := postJSON(t, base, map[string]any{
		"repository":  "acme/widgets",
		"tracker_url": "https://issues.acme.com",
		"key_prefix":  "WMS",
	})
	gt.Equal(t, resp.StatusCode, http.StatusCreated)

	var created model.RepositoryMapping
	decodeBody(t, resp, &created)
	gt.NotEqual(t, string(created.ID), "")
	gt.True(t, created.Enabled)

	resp, err := http.Get(base)
	gt.NoError(t, err)
	var listed struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &listed)
	gt.Equal(t, listed.Count, 1)

	resp = doJSON(t, http.MethodPut, base+string(created.ID), map[string]any{
		"repository":  "acme/widgets",
		"tracker_url": "https://issues.acme.com/browse",
		"key_prefix":  "WMS",
		"enabled":     false,
	})
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	var updated model.RepositoryMapping
	decodeBody(t, resp, &updated)
	gt.Equal(t, updated.TrackerURL, "https://issues.acme.com/browse")
	gt.False(t, updated.Enabled)

	resp = doJSON(t, http.MethodPut, base+"missing-id", map[string]any{
		"repository":  "acme/widgets",
		"tracker_url": "https://issues.acme.com",
		"key_prefix":  "WMS",
	})
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNotFound)

	resp = doJSON(t, http.MethodDelete, base+string(created.ID), nil)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	resp = doJSON(t, http.MethodDelete, base+string(created.ID), nil)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNotFound)
}

func TestMappingValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/v1/mappings/"

	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "http tracker url", body: map[string]any{
			"repository": "acme/widgets", "tracker_url": "http://issues.acme.com", "key_prefix": "WMS"}},
		{name: "repository without slash", body: map[string]any{
			"repository": "widgets", "tracker_url": "https://issues.acme.com", "key_prefix": "WMS"}},
		{name: "prefix starting with digit", body: map[string]any{
			"repository": "acme/widgets", "tracker_url": "https://issues.acme.com", "key_prefix": "1WMS"}},
		{name: "missing prefix", body: map[string]any{
			"repository": "acme/widgets", "tracker_url": "https://issues.acme.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, base, tc.body)
			resp.Body.Close()
			gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
		})
	}
}

func TestPreferencesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	url := ts.URL + "/api/v1/preferences"

	resp, err := http.Get(url)
	gt.NoError(t, err)
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	var prefs model.Preferences
	decodeBody(t, resp, &prefs)
	gt.True(t, prefs.Enabled)
	gt.Equal(t, prefs.PerformanceMode, model.ModeAuto)

	prefs.PerformanceMode = model.ModeFast
	prefs.Enabled = false
	resp = doJSON(t, http.MethodPut, url, &prefs)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	resp, err = http.Get(url)
	gt.NoError(t, err)
	var stored model.Preferences
	decodeBody(t, resp, &stored)
	gt.False(t, stored.Enabled)
	gt.Equal(t, stored.PerformanceMode, model.ModeFast)

	resp = doJSON(t, http.MethodPut, url, map[string]any{"performance_mode": "turbo"})
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

func TestScanEndpointUnknownRepositoryUsesAllMappings(t *testing.T) {
	ts, store := newTestServer(t)
	seedMapping(t, store)

	resp := postJSON(t, ts.URL+"/api/v1/scan", map[string]any{
		"url":  "https://example.com/",
		"html": `<main><p>WMS-8</p></main>`,
	})
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	var body struct {
		KeysFound int `json:"keys_found"`
	}
	decodeBody(t, resp, &body)
	gt.Equal(t, body.KeysFound, 1)
}
