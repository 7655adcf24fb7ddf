package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/arzzra/voice_bridge/pkg/session"
	"github.com/arzzra/voice_bridge/pkg/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodySize     = 64 << 10
)

type simulateRequest struct {
	CallerID string `json:"caller_id"`
	Message  string `json:"message"`
}

type hangupResponse struct {
	Status string `json:"status"`
	CallID string `json:"call_id"`
}

type messageView struct {
	store.Message
	References []store.MessageReference `json:"references,omitempty"`
}

type messagesResponse struct {
	Conversation *store.Conversation `json:"conversation"`
	Messages     []messageView       `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleHangup(w http.ResponseWriter, _ *http.Request) {
	callID, err := s.ctrl.Hangup()
	switch {
	case errors.Is(err, session.ErrNoActiveCall):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.logger.WithError(err).Warn("Ошибка завершения звонка")
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, hangupResponse{Status: "ended", CallID: callID})
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Restart(r.Context())
	switch {
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		s.logger.WithError(err).Error("Ошибка перезапуска SIP сервера")
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
	}
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}

	res, err := s.ctrl.SimulateCall(r.Context(), req.CallerID, req.Message)
	switch {
	case errors.Is(err, session.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.logger.WithError(err).Error("Ошибка симуляции")
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid offset"))
		return
	}

	convs, err := s.history.Conversations(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid conversation id"))
		return
	}

	conv, err := s.history.Conversation(r.Context(), uint(id))
	if errors.Is(err, store.ErrCallNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeConversation(w, r, conv)
}

// handleCall разговор по SIP Call-ID
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	conv, err := s.history.ConversationByCallID(r.Context(), mux.Vars(r)["call_id"])
	if errors.Is(err, store.ErrCallNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeConversation(w, r, conv)
}

func (s *Server) writeConversation(w http.ResponseWriter, r *http.Request, conv *store.Conversation) {
	msgs, err := s.history.Messages(r.Context(), conv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		view := messageView{Message: m}
		if m.Role == "assistant" {
			refs, err := s.history.References(r.Context(), m.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			view.References = refs
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, messagesResponse{Conversation: conv, Messages: views})
}

// handleLogs журнал событий, ?call_id= фильтрует по звонку
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	logs, err := s.history.Logs(r.Context(), r.URL.Query().Get("call_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []store.CallLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
