package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/sender"
	"github.com/ryandielhenn/feedwire/pkg/snapshot"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

const (
	maxBodyBytes = 1 << 20
	maxWait      = 30 * time.Second
)

// Healthz returns 200 OK while the process is serving.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info reports process and channel liveness.
func (s *Server) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID             int                   `json:"pid"`
		Now             time.Time             `json:"now"`
		Uptime          string                `json:"uptime"`
		ConnectionState state.ConnectionState `json:"connectionState"`
		Sender          sender.Mode           `json:"sender"`
		Pending         int                   `json:"pending"`
		Posts           int                   `json:"posts"`
		CurrentNode     string                `json:"currentNode,omitempty"`
	}
	st := s.ch.State()
	writeJSON(w, http.StatusOK, resp{
		PID:             os.Getpid(),
		Now:             time.Now(),
		Uptime:          time.Since(s.started).Round(time.Second).String(),
		ConnectionState: s.ch.ConnectionState(),
		Sender:          s.ch.Mode(),
		Pending:         len(state.PendingIDs(st)),
		Posts:           len(st.Posts),
		CurrentNode:     st.CurrentNode,
	})
}

func (s *Server) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ch.State())
}

// Posts lists known posts newest first.
func (s *Server) Posts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, state.PostList(s.ch.State()))
}

// Discover accepts {"urls": [...]} as JSON, or any other body as
// whitespace-separated urls.
func (s *Server) Discover(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var urls []string
	if isJSON(req) {
		var in struct {
			URLs []string `json:"urls"`
		}
		if err := json.Unmarshal(body, &in); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		urls = in.URLs
	} else {
		urls = strings.Fields(string(body))
	}
	s.dispatch(w, req, protocol.NewDiscover(urls))
}

// Fetch requests the entries of one discovered feed.
func (s *Server) Fetch(w http.ResponseWriter, req *http.Request) {
	var feed protocol.FeedDescriptor
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&feed); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.dispatch(w, req, protocol.NewFetchFeed(feed))
}

type commandResponse struct {
	CorrelationID string           `json:"correlationId"`
	Result        *protocol.Result `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// dispatch sends cmd and answers 202 with its correlation id, or with the
// result itself when the caller asked to wait.
func (s *Server) dispatch(w http.ResponseWriter, req *http.Request, cmd protocol.Command) {
	fut, err := s.ch.Dispatch(cmd)
	switch {
	case errors.Is(err, protocol.ErrInvalidCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, sender.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, commandResponse{CorrelationID: cmd.CorrelationID, Error: err.Error()})
		return
	case err != nil:
		s.logger.Warn("dispatch failed", zap.String("correlation_id", cmd.CorrelationID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, commandResponse{CorrelationID: cmd.CorrelationID, Error: err.Error()})
		return
	}

	if wait, _ := strconv.ParseBool(req.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, commandResponse{CorrelationID: cmd.CorrelationID})
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), maxWait)
	defer cancel()
	res, err := fut.Wait(ctx)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, commandResponse{CorrelationID: cmd.CorrelationID, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{CorrelationID: cmd.CorrelationID, Result: &res})
}

func (s *Server) Select(w http.ResponseWriter, req *http.Request) {
	var in struct {
		EntryID string `json:"entryId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if in.EntryID == "" {
		http.Error(w, "entryId required", http.StatusBadRequest)
		return
	}
	s.ch.SelectPost(in.EntryID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Unselect(w http.ResponseWriter, _ *http.Request) {
	s.ch.ClearPost()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ClearLog(w http.ResponseWriter, _ *http.Request) {
	s.ch.ClearLog()
	w.WriteHeader(http.StatusNoContent)
}

// SaveSnapshot persists posts and the selection for the next startup.
func (s *Server) SaveSnapshot(w http.ResponseWriter, req *http.Request) {
	if s.snap == nil {
		http.Error(w, "snapshot storage not configured", http.StatusNotImplemented)
		return
	}
	if err := snapshot.Save(req.Context(), s.snap, s.snapKey, s.ch.State()); err != nil {
		s.logger.Error("snapshot save failed", zap.String("key", s.snapKey), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isJSON(req *http.Request) bool {
	mt, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
