package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/acl"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/subs"
	"github.com/hyperjump/kura/internal/vfs"
	"github.com/hyperjump/kura/internal/vrkai"
	"github.com/hyperjump/kura/internal/vrpath"
)

// identities resolves the acting and owning identities for a request. The
// profile query parameter selects the owner (default: the node identity);
// the identity header names the caller (default: the owner).
func (s *Server) identities(r *http.Request) (requester, owner identity.Identity, err error) {
	owner = s.node
	if p := r.URL.Query().Get("profile"); p != "" {
		owner, err = identity.Parse(p)
		if err != nil {
			return identity.Identity{}, identity.Identity{}, err
		}
	}
	requester = owner
	if h := r.Header.Get(identityHeader); h != "" {
		requester, err = identity.Parse(h)
		if err != nil {
			return identity.Identity{}, identity.Identity{}, err
		}
	}
	return requester, owner, nil
}

func pathQuery(r *http.Request, name string) (vrpath.Path, error) {
	return vrpath.FromString(r.URL.Query().Get(name))
}

// statusFor maps filesystem errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vfs.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, vfs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, vfs.ErrPathNotFound),
		errors.Is(err, vfs.ErrNodeNotFound),
		errors.Is(err, vfs.ErrNoSourceFile):
		return http.StatusNotFound
	case errors.Is(err, vfs.ErrInvalidPath),
		errors.Is(err, vfs.ErrResourceTypeMismatch),
		errors.Is(err, vfs.ErrSerialization),
		errors.Is(err, resource.ErrModelMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFSError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProfilesList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"profiles": s.fs.Profiles()})
}

func (s *Server) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fs.DeleteProfile(r.Context(), requester, owner); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"profile": owner.String(), "status": "deleted"})
}

type createFolderRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	parent, err := vrpath.FromString(req.Parent)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := s.fs.NewWriter(requester, owner).CreateFolder(r.Context(), parent, req.Name)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": path.String()})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reader := s.fs.NewReader(requester, owner)
	recursive := r.URL.Query().Get("recursive") == "true"

	if folder, err := reader.ListFolder(r.Context(), path, recursive); err == nil {
		s.respondJSON(w, http.StatusOK, folder)
		return
	} else if !errors.Is(err, vfs.ErrResourceTypeMismatch) && !errors.Is(err, vfs.ErrNodeNotFound) {
		s.respondFSError(w, err)
		return
	}
	entry, err := reader.Entry(r.Context(), path)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fs.NewWriter(requester, owner).DeleteEntry(r.Context(), path); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": path.String(), "status": "deleted"})
}

type moveRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	src, err := vrpath.FromString(req.Source)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	dst, err := vrpath.FromString(req.Destination)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fs.NewWriter(requester, owner).MoveEntry(r.Context(), src, dst); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": dst.String(), "status": "moved"})
}

// handleSaveItem accepts a file upload (multipart field "file") and saves it
// as an embedded item under the parent folder given in the query.
func (s *Server) handleSaveItem(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	parent, err := pathQuery(r, "parent")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = filepath.Base(header.Filename)
	}
	ext := filepath.Ext(header.Filename)
	groups, err := extract.NewExtractor().GroupsFromBytes(content, ext)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	builder := ingest.NewIngester(s.fs, owner, s.embedder)
	doc, err := builder.BuildResource(r.Context(), name, groups)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	path, err := s.fs.NewWriter(requester, owner).SaveResource(r.Context(), parent, doc, content)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"path":   path.String(),
		"chunks": doc.NodeCount(),
	})
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := s.fs.NewReader(requester, owner).SourceBytes(r.Context(), path)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExportVRKai(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := s.fs.NewReader(requester, owner).RetrieveVRKai(r.Context(), path)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	data, err := k.EncodeBytes()
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportVRKai(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	parent, err := pathQuery(r, "parent")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := vrkai.DecodeBytes(data)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := s.fs.NewWriter(requester, owner).SaveVRKai(r.Context(), parent, k)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": path.String()})
}

func (s *Server) handleImportVRPack(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	parent, err := pathQuery(r, "parent")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pack, err := vrkai.DecodePackBytes(data)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	overwrite := r.URL.Query().Get("overwrite") == "true"
	paths, err := s.fs.NewWriter(requester, owner).UnpackPack(r.Context(), parent, pack, overwrite)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"paths": out})
}

type searchRequest struct {
	Path     string  `json:"path"`
	Query    string  `json:"query"`
	Limit    int     `json:"limit"`
	MinScore float64 `json:"min_score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	scope := vrpath.Root()
	if req.Path != "" {
		scope, err = vrpath.FromString(req.Path)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.Search.DefaultLimit
	}
	if limit > s.cfg.Search.MaxLimit {
		limit = s.cfg.Search.MaxLimit
	}
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = s.cfg.Search.DefaultMinScore
	}

	start := time.Now()
	vector, err := s.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results, err := s.fs.NewReader(requester, owner).VectorSearch(r.Context(), scope, vector, limit, minScore)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results":       results,
		"total":         len(results),
		"query_time_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	level, err := s.fs.NewReader(requester, owner).Permission(r.Context(), path)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"path":     path.String(),
		"identity": requester.String(),
		"level":    level.String(),
	})
}

type permissionRequest struct {
	Path     string `json:"path"`
	Identity string `json:"identity"`
	Level    string `json:"level"`
}

func (s *Server) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req permissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path, err := vrpath.FromString(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	grantee, err := identity.Parse(req.Identity)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var level acl.Level
	if err := level.UnmarshalText([]byte(req.Level)); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fs.NewWriter(requester, owner).SetPermission(r.Context(), path, grantee, level); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"path":     path.String(),
		"identity": grantee.String(),
		"level":    level.String(),
	})
}

func (s *Server) handleRemovePermission(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	grantee, err := identity.Parse(r.URL.Query().Get("identity"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fs.NewWriter(requester, owner).RemovePermission(r.Context(), path, grantee); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": path.String(), "status": "removed"})
}

func (s *Server) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := s.fs.NewReader(requester, owner).Subscribers(r.Context(), path)
	if err != nil {
		s.respondFSError(w, err)
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"path": path.String(), "subscribers": out})
}

type subscribeRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path, err := vrpath.FromString(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fs.NewWriter(requester, owner).Subscribe(r.Context(), path); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"path":       path.String(),
		"subscriber": requester.String(),
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := pathQuery(r, "path")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.fs.NewWriter(requester, owner).Unsubscribe(r.Context(), path); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": path.String(), "status": "unsubscribed"})
}

type lastSyncedRequest struct {
	Path       string    `json:"path"`
	Subscriber string    `json:"subscriber"`
	SyncedAt   time.Time `json:"synced_at"`
	Version    string    `json:"version,omitempty"`
}

func (s *Server) handleSetLastSynced(w http.ResponseWriter, r *http.Request) {
	requester, owner, err := s.identities(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req lastSyncedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path, err := vrpath.FromString(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	subscriber, err := identity.Parse(req.Subscriber)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	marker := subs.Marker{SyncedAt: req.SyncedAt, Version: req.Version}
	if marker.SyncedAt.IsZero() {
		marker.SyncedAt = time.Now().UTC()
	}
	if err := s.fs.NewWriter(requester, owner).SetLastSynced(r.Context(), path, subscriber, marker); err != nil {
		s.respondFSError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": path.String(), "status": "synced"})
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Roots()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchAdd(w http.ResponseWriter, r *http.Request) {
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddRoot(abs, syncExisting); err != nil {
		s.logger.Error("watch add failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchRoots()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchRemove(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveRoot(abs); err != nil {
		s.logger.Error("watch remove failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchRoots()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchRoots() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	s.cfg.Watch.Directories = s.watch.Roots()
	err := config.Save(s.configPath, s.cfg)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
