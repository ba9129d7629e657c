package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/christopherjohns/chatline/internal/auth"
	"github.com/christopherjohns/chatline/internal/message"
	"github.com/christopherjohns/chatline/internal/user"
	"github.com/christopherjohns/chatline/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/process"
)

const maxCredentialsBody = 1 << 20

var errBadBody = apperr.New(apperr.KindValidation, "INVALID_BODY", "request body is not valid JSON")

type idResponse struct {
	ID string `json:"id"`
}

type healthResponse struct {
	Status   string   `json:"status"`
	Uptime   string   `json:"uptime"`
	Conns    ws.Stats `json:"connections"`
	Online   int      `json:"online"`
	RSSBytes uint64   `json:"rssBytes,omitempty"`

	Connections []ws.ConnInfo `json:"connectionList,omitempty"`
}

// handleHealth reports hub statistics. ?conns=1 adds one entry per
// admitted connection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Conns:    s.hub.Stats(),
		Online:   len(s.hub.Online()),
		RSSBytes: processRSS(),
	}
	if r.URL.Query().Get("conns") == "1" {
		resp.Connections = s.hub.Registry().Info()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.auth.Register(r.Context(), creds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	auth.SetCookie(w, sess.Token, s.tokens.TTL(), s.cfg.HTTP.CookieSecure)
	s.log.Info("user registered", "user_id", sess.Identity.ID, "username", sess.Identity.Username)
	writeJSON(w, http.StatusCreated, idResponse{ID: sess.Identity.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.auth.Login(r.Context(), creds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	auth.SetCookie(w, sess.Token, s.tokens.TTL(), s.cfg.HTTP.CookieSecure)
	writeJSON(w, http.StatusOK, idResponse{ID: sess.Identity.ID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(auth.TokenFromRequest(r))
	auth.ClearCookie(w, s.cfg.HTTP.CookieSecure)
	writeJSON(w, http.StatusOK, "ok")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityFrom(r.Context()))
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	people, err := s.users.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if people == nil {
		people = []user.Identity{}
	}
	writeJSON(w, http.StatusOK, people)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Online())
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	me := identityFrom(r.Context())
	msgs, err := s.store.Conversation(r.Context(), me.ID, chi.URLParam(r, "userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.hub.Delete(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, error) {
	var c auth.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialsBody)).Decode(&c); err != nil {
		return c, apperr.Wrap(errBadBody, err)
	}
	return c, nil
}

func processRSS() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0
	}
	return mem.RSS
}
