// Package phoestoragetest runs an in memory PhoeStorage server for
// tests.
package phoestoragetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ianusa/phoeup/backend/phoestorage/api"
)

// RootID is the ID of the folder every Server starts with
const RootID = "root"

const owner = "phoestoragetest"

// upload is a file whose chunks are still arriving
type upload struct {
	folderID string
	name     string
	total    int
	chunks   map[int][]byte
}

// Server is a fake PhoeStorage server
type Server struct {
	*httptest.Server

	// ChunkSize is the offset between chunks when a file is assembled
	ChunkSize int64
	// Latency is added to every request
	Latency time.Duration
	// OnChunk, if set, is called for every chunk request and can make
	// it fail by returning an error
	OnChunk func(index int) *api.Error
	// OnFind, if set, is called for every folder lookup and can make
	// it fail by returning an error
	OnFind func(name string) *api.Error

	chunkCalls  atomic.Int64
	findCalls   atomic.Int64
	createCalls atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	mu      sync.Mutex
	folders map[string]api.Folder
	files   map[string][]byte // folderID/name -> content
	uploads map[string]*upload
}

// New starts a Server. Call Close when done.
func New() *Server {
	s := &Server{
		ChunkSize: api.MaxChunkSize,
		folders: map[string]api.Folder{
			RootID: {UUID: RootID, Owner: owner, Name: ""},
		},
		files:   map[string][]byte{},
		uploads: map[string]*upload{},
	}
	router := chi.NewRouter()
	router.Use(
		middleware.SetHeader("Server", "phoestoragetest"),
		s.delay,
	)
	router.Post("/api/files/upload", s.handleUpload)
	router.Get("/api/folders/parent", s.handleFind)
	router.Post("/api/folders/upload", s.handleCreate)
	s.Server = httptest.NewServer(router)
	return s
}

func (s *Server) delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Latency > 0 {
			time.Sleep(s.Latency)
		}
		next.ServeHTTP(w, r)
	})
}

func fileKey(folderID, name string) string {
	return folderID + "/" + name
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.chunkCalls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	part, header, err := r.FormFile(api.FieldFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer func() { _ = part.Close() }()
	if header.Size > api.MaxChunkSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf(api.MsgChunkTooLarge, header.Size))
		return
	}
	index, err1 := strconv.Atoi(r.FormValue(api.FieldChunkIndex))
	total, err2 := strconv.Atoi(r.FormValue(api.FieldTotalChunks))
	if err1 != nil || err2 != nil || index < 0 || index >= total {
		writeError(w, http.StatusBadRequest, "bad chunk index")
		return
	}
	uploadID := r.FormValue(api.FieldUploadID)
	if uploadID == "" {
		writeError(w, http.StatusBadRequest, api.MsgUploadIDRequired)
		return
	}
	if s.OnChunk != nil {
		if apiErr := s.OnChunk(index); apiErr != nil {
			writeError(w, apiErr.StatusCode, apiErr.Detail)
			return
		}
	}
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusInternalServerError, api.MsgInternal)
		return
	}
	folderID := r.FormValue(api.FieldFolderID)
	name := strings.Join(strings.Fields(r.FormValue(api.FieldFileName)), " ")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[folderID]; !ok {
		writeError(w, http.StatusNotFound, api.MsgNotFound)
		return
	}
	if _, ok := s.files[fileKey(folderID, name)]; ok {
		writeError(w, http.StatusConflict, api.MsgNameTaken)
		return
	}
	up, ok := s.uploads[uploadID]
	if !ok {
		up = &upload{folderID: folderID, name: name, total: total, chunks: map[int][]byte{}}
		s.uploads[uploadID] = up
	}
	up.chunks[index] = data
	if len(up.chunks) == up.total {
		s.files[fileKey(up.folderID, up.name)] = s.assemble(up)
		delete(s.uploads, uploadID)
	}
	_, _ = io.WriteString(w, uploadID)
}

// assemble places every chunk at index * ChunkSize
func (s *Server) assemble(up *upload) []byte {
	var size int64
	for i, c := range up.chunks {
		size = max(size, int64(i)*s.ChunkSize+int64(len(c)))
	}
	out := make([]byte, size)
	for i, c := range up.chunks {
		copy(out[int64(i)*s.ChunkSize:], c)
	}
	return out
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	s.findCalls.Add(1)
	parentID := r.URL.Query().Get(api.FieldFolderID)
	name := r.URL.Query().Get(api.FieldFolderName)
	if s.OnFind != nil {
		if apiErr := s.OnFind(name); apiErr != nil {
			writeError(w, apiErr.StatusCode, apiErr.Detail)
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders {
		if f.FolderID == parentID && f.Name == name && f.UUID != RootID {
			writeJSON(w, f)
			return
		}
	}
	writeError(w, http.StatusNotFound, api.MsgNotFound)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.createCalls.Add(1)
	parentID := r.URL.Query().Get(api.FieldFolderID)
	name := strings.TrimSpace(r.URL.Query().Get(api.FieldFolderName))
	if name == "" {
		writeError(w, http.StatusBadRequest, "Folder name can't be empty")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[parentID]; !ok {
		writeError(w, http.StatusNotFound, api.MsgNotFound)
		return
	}
	f := api.Folder{
		UUID:     uuid.NewString(),
		Owner:    owner,
		Name:     name,
		FolderID: parentID,
	}
	s.folders[f.UUID] = f
	writeJSON(w, f)
}

// AddFolder creates a folder directly and returns its ID
func (s *Server) AddFolder(parentID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := api.Folder{UUID: uuid.NewString(), Owner: owner, Name: name, FolderID: parentID}
	s.folders[f.UUID] = f
	return f.UUID
}

// Path returns the "/" separated path of folderID below the root
func (s *Server) Path(folderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path(folderID)
}

func (s *Server) path(folderID string) string {
	var parts []string
	for folderID != RootID {
		f, ok := s.folders[folderID]
		if !ok {
			return "?" + folderID
		}
		parts = append([]string{f.Name}, parts...)
		folderID = f.FolderID
	}
	return strings.Join(parts, "/")
}

// Files returns every completed file keyed by its path below the root
func (s *Server) Files() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.files))
	for key, data := range s.files {
		i := strings.LastIndex(key, "/")
		p := s.path(key[:i])
		if p != "" {
			p += "/"
		}
		out[p+key[i+1:]] = data
	}
	return out
}

// Folders returns the number of folders, the root excluded
func (s *Server) Folders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.folders) - 1
}

// Pending returns the number of uploads with chunks still missing
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// ChunkCalls returns the number of chunk requests received
func (s *Server) ChunkCalls() int { return int(s.chunkCalls.Load()) }

// FindCalls returns the number of folder lookups received
func (s *Server) FindCalls() int { return int(s.findCalls.Load()) }

// CreateCalls returns the number of folder creations received
func (s *Server) CreateCalls() int { return int(s.createCalls.Load()) }

// MaxInFlight returns the largest number of chunk requests seen at once
func (s *Server) MaxInFlight() int { return int(s.maxInFlight.Load()) }
