// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package testserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/morganforge/packmate/internal/api"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// =============================================================================
// JSON
// =============================================================================

type envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *api.ErrorBody `json:"error,omitempty"`
}

type validationItem struct {
	Type  string   `json:"type"`
	Loc   []string `json:"loc"`
	Msg   string   `json:"msg"`
	Input any      `json:"input"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

// writeError writes an error envelope wrapped under "detail".
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"detail": envelope{Error: &api.ErrorBody{Code: code, Message: message}},
	})
}

// writeValidation writes a 422 whose detail is a list of field problems.
func writeValidation(w http.ResponseWriter, loc, field, msg string) {
	path := []string{loc}
	if field != "" {
		path = append(path, field)
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []validationItem{{Type: "value_error", Loc: path, Msg: msg}},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeValidation(w, "body", "", "Unable to read body")
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		writeValidation(w, "body", "", "JSON decode error")
		return false
	}
	return true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeValidation(w, "query", name, "Input should be a valid non-negative integer")
		return 0, false
	}
	return n, true
}

func pathInt(w http.ResponseWriter, raw, name string) (int64, bool) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeValidation(w, "path", name, "Input should be a valid integer")
		return 0, false
	}
	return n, true
}

// =============================================================================
// EVENT STREAM
// =============================================================================

type frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

// eventStream writes CRLF-delimited server-sent events and flushes each one.
type eventStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	f, _ := w.(http.Flusher)
	return &eventStream{w: w, f: f}
}

func (es *eventStream) send(fr frame) error {
	data, err := sonic.Marshal(fr)
	if err != nil {
		return err
	}
	return es.raw(fmt.Sprintf("event: message\r\ndata: %s\r\n\r\n", data))
}

func (es *eventStream) raw(s string) error {
	if _, err := io.WriteString(es.w, s); err != nil {
		return err
	}
	if es.f != nil {
		es.f.Flush()
	}
	return nil
}

// chunks splits s into pieces of at most n runes.
func chunks(s string, n int) []string {
	r := []rune(s)
	out := make([]string, 0, len(r)/n+1)
	for i := 0; i < len(r); i += n {
		end := i + n
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[i:end]))
	}
	return out
}

// streamTokens sends content as token frames. It returns false when the
// client went away.
func (s *Server) streamTokens(ctx context.Context, es *eventStream, content string, fault Fault) bool {
	for i, part := range chunks(content, ChunkSize) {
		if ctx.Err() != nil {
			return false
		}
		if err := es.send(frame{Type: "token", Content: part}); err != nil {
			return false
		}

		switch fault {
		case FaultAbort:
			if i == 0 {
				panic(http.ErrAbortHandler)
			}
		case FaultMalformed:
			_ = es.raw(": ping\r\n\r\n")
			_ = es.raw("data: {not json\r\n\r\n")
			_ = es.raw("event: message\r\ndata: {\"type\":\"progress\",\"content\":\"42%\"}\r\n\r\n")
		}

		if s.tokenDelay > 0 {
			t := time.NewTimer(s.tokenDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return false
			case <-t.C:
			}
		}
	}
	return true
}
