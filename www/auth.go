package www

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"

	"rolltrack/engine"
)

const sessionName = "rolltrack-session"

func newSessionStore(secret string) *sessions.CookieStore {
	if secret == "" {
		secret = "rolltrack-default-secret-change-me"
	}
	s := sessions.NewCookieStore([]byte(secret))
	s.Options.HttpOnly = true
	s.Options.Secure = false // scanners talk plain HTTP on the plant LAN
	s.Options.SameSite = http.SameSiteLaxMode
	return s
}

// operator returns the name stored in the session, or "".
func (h *Handlers) operator(r *http.Request) string {
	session, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return ""
	}
	name, _ := session.Values["operator"].(string)
	return name
}

// withOperator stamps the session operator and the client's user agent on
// the request context so scan events record who did what.
func (h *Handlers) withOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := engine.WithActor(r.Context(), h.operator(r))
		ctx = engine.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handlers) apiGetOperator(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]string{"operator": h.operator(r)})
}

func (h *Handlers) apiSetOperator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operator string `json:"operator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Operator)
	if name == "" {
		h.jsonError(w, "operator is required", http.StatusBadRequest)
		return
	}
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["operator"] = name
	if err := session.Save(r, w); err != nil {
		h.log.Error("session save", "err", err)
		h.jsonError(w, "session save failed", http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"operator": name})
}

func (h *Handlers) apiClearOperator(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	delete(session.Values, "operator")
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		h.log.Error("session save", "err", err)
	}
	h.jsonOK(w, map[string]string{"operator": ""})
}
