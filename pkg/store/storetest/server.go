// Package storetest provides an in-memory emulation of the remote store:
// the row API, the blob API and the websocket change-stream. Tests exercise
// the real clients against it.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"pairchat/pkg/store/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
)

// Server is a fake remote store. Insert and update requests are applied to
// the in-memory table and broadcast to all stream subscribers, mirroring
// the echo behavior the merger relies on.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	rows        map[string]types.MessageRow
	nextID      int
	subscribers map[chan types.ChangeEvent]struct{}

	// FailInserts and FailUpdates make the corresponding endpoints return
	// 500, for rollback and read-mark failure tests.
	FailInserts bool
	FailUpdates bool
	FailUploads bool
}

// New starts the emulator.
func New() *Server {
	s := &Server{
		rows:        make(map[string]types.MessageRow),
		nextID:      1,
		subscribers: make(map[chan types.ChangeEvent]struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/messages", s.handleInsert).Methods(http.MethodPost)
	r.HandleFunc("/messages", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/messages/read-sweep", s.handleReadSweep).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", s.handleUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/storage/{bucket}/{path:.*}", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// StreamURL returns the websocket URL of the change-stream endpoint.
func (s *Server) StreamURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/stream"
}

// Rows returns the current table sorted by timestamp.
func (s *Server) Rows() []types.MessageRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRowsLocked()
}

// Seed inserts a row directly, without broadcasting.
func (s *Server) Seed(row types.MessageRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = row
}

// SubscriberCount returns the number of connected stream subscribers.
// Tests use it to wait for the subscription before writing.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Broadcast pushes an arbitrary event to all subscribers, for redelivery
// and out-of-order scenarios.
func (s *Server) Broadcast(event types.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(event)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if s.FailInserts {
		http.Error(w, "insert rejected", http.StatusInternalServerError)
		return
	}

	var req types.InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	row := types.MessageRow{
		ID:          fmt.Sprintf("%d", s.nextID),
		Sender:      req.Sender,
		Message:     req.Message,
		Timestamp:   req.Timestamp,
		Status:      req.Status,
		FileURL:     req.FileURL,
		FileType:    req.FileType,
		RepliedToID: req.RepliedToID,
	}
	if row.Status == "" {
		row.Status = types.StatusSent
	}
	s.nextID++
	s.rows[row.ID] = row
	s.broadcastLocked(types.ChangeEvent{Kind: types.EventInsert, Row: row})
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.FailUpdates {
		http.Error(w, "update rejected", http.StatusInternalServerError)
		return
	}

	var req types.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]

	s.mu.Lock()
	row, ok := s.rows[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "row not found", http.StatusNotFound)
		return
	}
	if req.Status != nil {
		row.Status = *req.Status
	}
	s.rows[id] = row
	s.broadcastLocked(types.ChangeEvent{Kind: types.EventUpdate, Row: row})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rows := s.sortedRowsLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleReadSweep(w http.ResponseWriter, r *http.Request) {
	if s.FailUpdates {
		http.Error(w, "sweep rejected", http.StatusInternalServerError)
		return
	}

	var req struct {
		Sender string `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	for id, row := range s.rows {
		if row.Sender != req.Sender || row.Status == types.StatusRead {
			continue
		}
		row.Status = types.StatusRead
		s.rows[id] = row
		s.broadcastLocked(types.ChangeEvent{Kind: types.EventUpdate, Row: row})
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.FailUploads {
		http.Error(w, "upload rejected", http.StatusInternalServerError)
		return
	}

	vars := mux.Vars(r)
	url := fmt.Sprintf("%s/public/%s/%s", s.URL, vars["bucket"], vars["path"])
	writeJSON(w, http.StatusCreated, types.UploadResponse{URL: url})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	events := make(chan types.ChangeEvent, 64)
	s.mu.Lock()
	s.subscribers[events] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, events)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcastLocked(event types.ChangeEvent) {
	for events := range s.subscribers {
		select {
		case events <- event:
		default:
			// Slow subscriber; the engine recovers via Refresh.
		}
	}
}

func (s *Server) sortedRowsLocked() []types.MessageRow {
	rows := make([]types.MessageRow, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Timestamp == rows[j].Timestamp {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].Timestamp < rows[j].Timestamp
	})
	return rows
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
