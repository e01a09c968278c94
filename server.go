package main

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Server bundles the gateway's collaborators for route handlers. Identity
// checks go through the verifier; only the two credential endpoints touch
// the full Auth.
type Server struct {
	hub      *Hub
	registry *Registry
	auth     *Auth
	verifier TokenVerifier
	db       *DB
	cfg      Config
}

// SetupRoutes configures the WebSocket endpoint and the REST fallback.
func SetupRoutes(hub *Hub, registry *Registry, auth *Auth, db *DB, cfg Config) *mux.Router {
	s := &Server{hub: hub, registry: registry, auth: auth, verifier: auth, db: db, cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	api.HandleFunc("/matches", s.handleListMatches).Methods(http.MethodGet)
	api.HandleFunc("/matches", s.withIdentity(s.handleCreateMatch)).Methods(http.MethodPost)
	api.HandleFunc("/matches/leave", s.withIdentity(s.handleLeaveMatch)).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/join", s.withIdentity(s.handleJoinMatch)).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/state", s.handleMatchState).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/input", s.withIdentity(s.handleInput)).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/qr", s.handleMatchQR).Methods(http.MethodGet)

	api.HandleFunc("/history", s.withIdentity(s.handleHistory)).Methods(http.MethodGet)
	api.HandleFunc("/presence/{id}", s.handlePresence).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	return r
}

// handleWS authenticates the handshake, rejects the upgrade on failure and
// hands the connection to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ident, err := s.verifier.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ip := extractIP(r)
	if !s.hub.CanAccept(ip) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	binary := r.URL.Query().Get("binary") == "1"
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	s.hub.TrackConnect(ip)
	client := NewClient(s.hub, s.registry, conn, ident, ip, binary)
	s.hub.register <- client
	s.hub.BindUser(client)

	go client.WritePump()
	go client.ReadPump()
}

// ---------- REST helpers ----------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorMsg{Code: code, Message: message})
}

// writeRegistryError maps registry sentinel errors to HTTP responses.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMatchNotFound):
		writeError(w, http.StatusNotFound, ErrCodeMatchNotFound, err.Error())
	case errors.Is(err, ErrMatchNotJoinable):
		writeError(w, http.StatusConflict, ErrCodeMatchNotFound, err.Error())
	case errors.Is(err, ErrMatchFull):
		writeError(w, http.StatusConflict, ErrCodeMatchFull, err.Error())
	case errors.Is(err, ErrSelfJoin):
		writeError(w, http.StatusBadRequest, ErrCodeSelfJoin, err.Error())
	case errors.Is(err, ErrAlreadyInMatch):
		writeError(w, http.StatusConflict, ErrCodeAlreadyInMatch, err.Error())
	case errors.Is(err, ErrNotInMatch):
		writeError(w, http.StatusNotFound, ErrCodeNotInMatch, err.Error())
	default:
		writeError(w, http.StatusBadRequest, ErrCodeBadInput, err.Error())
	}
}

type identityHandler func(w http.ResponseWriter, r *http.Request, ident Identity)

// withIdentity verifies the bearer token and passes the identity along.
func (s *Server) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		ident, err := s.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing token")
			return
		}
		next(w, r, ident)
	}
}

// ---------- auth collaborator endpoints ----------

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResp struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadEnvelope, "malformed body")
		return
	}
	ident, token, err := s.auth.Register(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "register_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, authResp{Token: token, UserID: ident.UserID, DisplayName: ident.DisplayName})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadEnvelope, "malformed body")
		return
	}
	ident, token, err := s.auth.Login(req.Username, req.Password, extractIP(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authResp{Token: token, UserID: ident.UserID, DisplayName: ident.DisplayName})
}

// ---------- match endpoints (polling fallback) ----------

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	mode := MatchMode(r.URL.Query().Get("mode"))
	writeJSON(w, http.StatusOK, MatchListMsg{Matches: s.registry.GetAvailableMatches(mode)})
}

type createMatchReq struct {
	Mode string `json:"mode,omitempty"`
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request, ident Identity) {
	var req createMatchReq
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body is fine
	}
	m, err := s.registry.CreateMatch(ident.UserID, ident.DisplayName, nil, MatchMode(req.Mode))
	if errors.Is(err, ErrAlreadyInMatch) {
		// Idempotent with the ws transport: return the match the user
		// already occupies instead of minting a duplicate.
		if existing := s.registry.GetPlayerMatch(ident.UserID); existing != nil {
			writeJSON(w, http.StatusOK, s.registry.ToMatchResponse(existing))
			return
		}
	}
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.registry.ToMatchResponse(m))
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	m := s.registry.GetMatch(mux.Vars(r)["id"])
	if m == nil {
		writeError(w, http.StatusNotFound, ErrCodeMatchNotFound, "match not found")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.ToMatchResponse(m))
}

func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request, ident Identity) {
	m, err := s.registry.JoinMatch(mux.Vars(r)["id"], ident.UserID, ident.DisplayName, nil)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.ToMatchResponse(m))
}

func (s *Server) handleMatchState(w http.ResponseWriter, r *http.Request) {
	m := s.registry.GetMatch(mux.Vars(r)["id"])
	if m == nil {
		writeError(w, http.StatusNotFound, ErrCodeMatchNotFound, "match not found")
		return
	}
	if m.Engine == nil {
		writeError(w, http.StatusConflict, ErrCodeMatchNotFound, "match has not started")
		return
	}
	writeJSON(w, http.StatusOK, m.Engine.Snapshot())
}

type inputReq struct {
	Direction Direction `json:"direction"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request, ident Identity) {
	var req inputReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Direction.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeBadInput, "direction must be up, down or none")
		return
	}
	m := s.registry.GetMatch(mux.Vars(r)["id"])
	if m == nil {
		writeError(w, http.StatusNotFound, ErrCodeMatchNotFound, "match not found")
		return
	}
	if m.Engine == nil || !m.Engine.HasPlayer(ident.UserID) {
		writeError(w, http.StatusForbidden, ErrCodeNotInMatch, "not seated in this match")
		return
	}
	m.Engine.SetPlayerInput(ident.UserID, req.Direction)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveMatch(w http.ResponseWriter, r *http.Request, ident Identity) {
	if err := s.registry.LeaveMatch(ident.UserID); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMatchQR serves a QR code encoding the match invite link, for
// joining from a second device.
func (s *Server) handleMatchQR(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.registry.GetMatch(id) == nil {
		writeError(w, http.StatusNotFound, ErrCodeMatchNotFound, "match not found")
		return
	}
	invite := strings.TrimSuffix(s.cfg.PublicURL, "/") + "/join/" + id
	png, err := qrcode.Encode(invite, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr_failed", "could not render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// handlePresence reports whether a user currently has a live connection.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"online": s.hub.IsOnline(mux.Vars(r)["id"]),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"clients": s.hub.ClientCount(),
		"matches": s.registry.MatchCount(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, ident Identity) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, []MatchHistoryRow{})
		return
	}
	rows, err := s.db.RecentMatches(ident.UserID, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed", "could not load history")
		return
	}
	if rows == nil {
		rows = []MatchHistoryRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}
