package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/kv"
	"github.com/hyperjump/kura/internal/vfs"
	"github.com/hyperjump/kura/internal/watcher"
)

var nodeID = identity.MustParse("node/main")

func newTestServer(t *testing.T) *Server {
	t.Helper()
	model, err := embedding.DefaultCatalog().Lookup("all-minilm-l6-v2")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	fs, err := vfs.New(kv.NewMemoryStore(), embedding.DefaultCatalog(), []embedding.ModelType{model}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return NewServer(fs, embedding.NewMockEmbedder(model), nodeID, cfg, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func uploadFile(t *testing.T, handler http.Handler, target, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateFolderAndList(t *testing.T) {
	router := newTestServer(t).Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "docs"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create folder status = %d: %s", rec.Code, rec.Body)
	}
	if got := decodeBody(t, rec)["path"]; got != "/docs" {
		t.Errorf("path = %v", got)
	}

	// Creating the same folder again conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "docs"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate folder status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/entries?path=/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	folders, ok := body["folders"].([]interface{})
	if !ok || len(folders) != 1 {
		t.Errorf("folders = %v", body["folders"])
	}
}

func TestUploadAndRetrieve(t *testing.T) {
	router := newTestServer(t).Router()
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "docs"})

	rec := uploadFile(t, router, "/api/v1/fs/items?parent=/docs", "intro.txt", "alpha beta gamma")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body)
	}
	path, _ := decodeBody(t, rec)["path"].(string)
	if !strings.HasPrefix(path, "/docs/") {
		t.Fatalf("item path = %q", path)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/entries?path="+path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("entry status = %d: %s", rec.Code, rec.Body)
	}
	entry := decodeBody(t, rec)
	if entry["has_source"] != true {
		t.Errorf("has_source = %v", entry["has_source"])
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/source?path="+path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("source status = %d", rec.Code)
	}
	if rec.Body.String() != "alpha beta gamma" {
		t.Errorf("source bytes = %q", rec.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	router := newTestServer(t).Router()
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "docs"})
	uploadFile(t, router, "/api/v1/fs/items?parent=/docs", "a.txt", "alpha beta gamma")
	uploadFile(t, router, "/api/v1/fs/items?parent=/docs", "b.txt", "delta epsilon zeta")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/fs/search",
		searchRequest{Query: "alpha beta gamma", Limit: 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	results, ok := body["results"].([]interface{})
	if !ok || len(results) == 0 {
		t.Fatalf("results = %v", body["results"])
	}
	first, _ := results[0].(map[string]interface{})
	entry, _ := first["entry"].(map[string]interface{})
	path, _ := entry["path"].(string)
	if !strings.Contains(path, "a.txt") {
		t.Errorf("top result = %q, want the matching document", path)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/fs/search", searchRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", rec.Code)
	}
}

func TestPermissionEnforcement(t *testing.T) {
	router := newTestServer(t).Router()
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "private"})

	// A foreign identity cannot list the owner's tree.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/fs/entries?path=/private", nil)
	req.Header.Set(identityHeader, "mallory/main")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign list status = %d: %s", rec.Code, rec.Body)
	}

	// Grant read, and listing works.
	rec2 := doJSON(t, router, http.MethodPost, "/api/v1/fs/permissions",
		permissionRequest{Path: "/private", Identity: "mallory/main", Level: "read"})
	if rec2.Code != http.StatusOK {
		t.Fatalf("set permission status = %d: %s", rec2.Code, rec2.Body)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("granted list status = %d: %s", rec.Code, rec.Body)
	}

	// Read does not allow deletion.
	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/fs/entries?path=/private", nil)
	delReq.Header.Set(identityHeader, "mallory/main")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, delReq)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign delete status = %d", rec.Code)
	}
}

func TestMoveEndpoint(t *testing.T) {
	router := newTestServer(t).Router()
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "docs"})
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "archive"})
	rec := uploadFile(t, router, "/api/v1/fs/items?parent=/docs", "intro.txt", "body text here")
	path, _ := decodeBody(t, rec)["path"].(string)

	name := path[strings.LastIndex(path, "/")+1:]
	rec = doJSON(t, router, http.MethodPost, "/api/v1/fs/move",
		moveRequest{Source: path, Destination: "/archive/" + name})
	if rec.Code != http.StatusOK {
		t.Fatalf("move status = %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/entries?path="+path, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("old path status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/entries?path=/archive/"+name, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("new path status = %d: %s", rec.Code, rec.Body)
	}
}

func TestVRKaiRoundTripOverHTTP(t *testing.T) {
	router := newTestServer(t).Router()
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "docs"})
	rec := uploadFile(t, router, "/api/v1/fs/items?parent=/docs", "guide.txt", "portable unit of content")
	path, _ := decodeBody(t, rec)["path"].(string)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/vrkai?path="+path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body)
	}
	exported := rec.Body.Bytes()
	if len(exported) < 4 || string(exported[:3]) != "KAI" {
		t.Fatalf("export is not a KAI unit: % x", exported[:4])
	}

	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "restored"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fs/vrkai?parent=/restored", bytes.NewReader(exported))
	imp := httptest.NewRecorder()
	router.ServeHTTP(imp, req)
	if imp.Code != http.StatusCreated {
		t.Fatalf("import status = %d: %s", imp.Code, imp.Body)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/entries?path=/restored", nil)
	body := decodeBody(t, rec)
	entries, _ := body["entries"].([]interface{})
	if len(entries) != 1 {
		t.Errorf("restored entries = %v", body["entries"])
	}
}

func TestProfileIsolationAndDelete(t *testing.T) {
	router := newTestServer(t).Router()
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders?profile=alice/main",
		createFolderRequest{Parent: "/", Name: "docs"})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/profiles", nil)
	body := decodeBody(t, rec)
	profiles, _ := body["profiles"].([]interface{})
	if len(profiles) == 0 {
		t.Fatalf("profiles = %v", body["profiles"])
	}

	// Only the owner may delete a profile.
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/profiles?profile=alice/main", nil)
	req.Header.Set(identityHeader, "bob/main")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusForbidden {
		t.Errorf("foreign profile delete status = %d", rec2.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/profiles?profile=alice/main", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("owner profile delete status = %d: %s", rec.Code, rec.Body)
	}
}

func TestSubscriptionsOverHTTP(t *testing.T) {
	router := newTestServer(t).Router()
	doJSON(t, router, http.MethodPost, "/api/v1/fs/folders",
		createFolderRequest{Parent: "/", Name: "shared"})
	doJSON(t, router, http.MethodPost, "/api/v1/fs/permissions",
		permissionRequest{Path: "/shared", Identity: "bob/main", Level: "read"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fs/subscriptions",
		bytes.NewReader([]byte(`{"path":"/shared"}`)))
	req.Header.Set(identityHeader, "bob/main")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/fs/subscribers?path=/shared", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribers status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	subscribers, _ := body["subscribers"].([]interface{})
	if len(subscribers) != 1 || subscribers[0] != "bob/main" {
		t.Errorf("subscribers = %v", body["subscribers"])
	}
}

func TestErrorStatuses(t *testing.T) {
	router := newTestServer(t).Router()
	cases := []struct {
		name   string
		method string
		target string
		body   interface{}
		want   int
	}{
		{"missing entry", http.MethodGet, "/api/v1/fs/entries?path=/nope", nil, http.StatusNotFound},
		{"bad path", http.MethodGet, "/api/v1/fs/entries?path=nope", nil, http.StatusBadRequest},
		{"bad profile", http.MethodGet, "/api/v1/fs/entries?path=/&profile=%20", nil, http.StatusBadRequest},
		{"folder into missing parent", http.MethodPost, "/api/v1/fs/folders",
			createFolderRequest{Parent: "/missing", Name: "x"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, tc.method, tc.target, tc.body)
			if rec.Code != tc.want {
				t.Errorf("%s %s = %d, want %d (%s)", tc.method, tc.target, rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestWatchEndpoints(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	w := newTestWatcher(t)
	s.watch = w
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/watch/directories",
		watchAddRequest{Path: dir, Sync: boolPtr(false)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("watch add status = %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/watch/directories", nil)
	body := decodeBody(t, rec)
	dirs, _ := body["directories"].([]interface{})
	if len(dirs) != 1 {
		t.Fatalf("directories = %v", body["directories"])
	}

	rec = doJSON(t, router, http.MethodDelete,
		fmt.Sprintf("/api/v1/watch/directories?path=%s", dir), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("watch remove status = %d: %s", rec.Code, rec.Body)
	}
}

func newTestWatcher(t *testing.T) *watcher.Watcher {
	t.Helper()
	w := watcher.New(nil, nil, false, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func boolPtr(b bool) *bool { return &b }
