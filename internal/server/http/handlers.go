package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openchapel/events/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// userPayload is the client-visible account shape. Credentials never
// leave the server.
type userPayload struct {
	UID   string     `json:"uid"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

func toUserPayload(u model.User) userPayload {
	return userPayload{UID: u.UID, Email: u.Email, Role: u.Role}
}

// --- Auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}
	u, code, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	// The code is handed back to the delivery layer; this service does
	// not send mail itself.
	writeJSON(w, http.StatusCreated, struct {
		User             userPayload `json:"user"`
		VerificationCode string      `json:"verificationCode"`
	}{toUserPayload(u), code})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	token, u, err := s.auth.Login(r.Context(), req.Email, req.Password, req.Code, r.RemoteAddr)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Token string      `json:"token"`
		User  userPayload `json:"user"`
	}{token, toUserPayload(u)})
}

// --- Events ---

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Events())
}

// handleEventsStream pushes the current event list and every subsequent
// publish as server-sent events. A lagging client only loses
// intermediate snapshots, never the latest.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates := make(chan []model.Event, 1)
	cancel := s.feed.Subscribe(func(events []model.Event) {
		for {
			select {
			case updates <- events:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case events := <-updates:
			buf, err := json.Marshal(events)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(buf) + "\n\n")); err != nil {
				return
			}
			fl.Flush()
		}
	}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if ev.Title == "" {
		http.Error(w, "title required", http.StatusBadRequest)
		return
	}
	id, err := s.feed.Create(r.Context(), ev)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{id})
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	ev.ID = chi.URLParam(r, "id")
	if err := s.feed.Update(r.Context(), ev); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.feed.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Saved events ---

func (s *Server) handleSavedEvents(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	events, err := s.userEvents.List(r.Context(), id.UID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	if err := s.userEvents.Save(r.Context(), id.UID, chi.URLParam(r, "id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsaveEvent(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromCtx(r.Context())
	if err := s.userEvents.Remove(r.Context(), id.UID, chi.URLParam(r, "id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
