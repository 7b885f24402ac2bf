package backendfake

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-storemap-client/api"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Message: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.count(CallHealth)
	writeJSON(w, http.StatusOK, map[string]string{"service": "storemap"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.count(CallHealth)
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.count(CallLogin)
	var creds credentials
	if !decodeBody(w, r, &creds) {
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(creds.Username)]
	if !ok || u.Password == "" || u.Password != creds.Password {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	access, refresh, err := s.issueLocked(u)
	dialect := s.dialect
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenBody(dialect, access, refresh, "Login successful"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.count(CallRegister)
	var creds credentials
	if !decodeBody(w, r, &creds) {
		return
	}
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[strings.ToLower(creds.Username)]; exists {
		writeError(w, http.StatusConflict, "User already exists")
		return
	}
	s.addUserLocked(User{UserName: creds.Username, Password: creds.Password, Roles: []string{"User"}})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User registered"})
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	s.count(CallGoogle)
	var body struct {
		IDToken string `json:"IdToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.IDToken == "" {
		writeError(w, http.StatusBadRequest, "IdToken is required")
		return
	}

	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(body.IDToken, claims); err != nil {
		writeError(w, http.StatusBadRequest, "invalid Google credential")
		return
	}
	email, _ := claims["email"].(string)
	if email == "" {
		writeError(w, http.StatusBadRequest, "Google credential has no email")
		return
	}
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		s.addUserLocked(User{UserName: email, Name: name, Email: email, Picture: picture, Roles: []string{"User"}})
		u = s.users[strings.ToLower(email)]
	}
	access, refresh, err := s.issueLocked(u)
	dialect := s.dialect
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenBody(dialect, access, refresh, ""))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.count(CallRefresh)
	s.mu.Lock()
	gate := s.refreshGate
	status := s.refreshStatus
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	s.mu.Lock()
	username, ok := s.refreshTokens[body.RefreshToken]
	u := s.users[username]
	if !ok || u == nil {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	access, refresh, err := s.issueLocked(u)
	dialect := s.dialect
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenBody(dialect, access, refresh, ""))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.count(CallLogout)
	if _, err := s.authorize(r.Header.Get("Authorization")); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.mu.Lock()
	delete(s.refreshTokens, body.RefreshToken)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func tokenBody(d Dialect, access, refresh, message string) map[string]any {
	field := d.TokenField
	if field == "" {
		field = "token"
	}
	body := map[string]any{field: access, "refreshToken": refresh}
	switch {
	case d.OmitSuccess:
	case d.SuccessAsString:
		body["success"] = "true"
	default:
		body["success"] = true
	}
	if message != "" {
		body["message"] = message
	}
	return body
}

func (s *Server) handleBrands(w http.ResponseWriter, r *http.Request) {
	s.count(CallBrands)
	writeJSON(w, http.StatusOK, map[string]any{"brands": s.Brands()})
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	s.count(CallStores)
	writeJSON(w, http.StatusOK, s.Stores())
}

func (s *Server) handleSearchStores(w http.ResponseWriter, r *http.Request) {
	s.count(CallStores)
	term := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("storeName")))
	matches := make([]api.Store, 0)
	for _, st := range s.Stores() {
		if term == "" || strings.Contains(strings.ToLower(st.Name), term) {
			matches = append(matches, st)
		}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	s.count(CallStores)
	var req api.StoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	s.mu.Lock()
	st := s.storeFromRequestLocked(uuid.NewString(), req)
	s.stores[st.ID] = st
	s.storeOrder = append(s.storeOrder, st.ID)
	s.mu.Unlock()

	log.Debug().Str("id", st.ID).Str("name", st.Name).Msg("fake backend created store")
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleUpdateStore(w http.ResponseWriter, r *http.Request) {
	s.count(CallStores)
	id := chi.URLParam(r, "id")
	var req api.StoreRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	if _, ok := s.stores[id]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "store not found")
		return
	}
	st := s.storeFromRequestLocked(id, req)
	s.stores[id] = st
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	s.count(CallStores)
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[id]; !ok {
		writeError(w, http.StatusNotFound, "store not found")
		return
	}
	delete(s.stores, id)
	for i, v := range s.storeOrder {
		if v == id {
			s.storeOrder = append(s.storeOrder[:i], s.storeOrder[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// storeFromRequestLocked resolves brand IDs against the catalog; unknown IDs are dropped.
func (s *Server) storeFromRequestLocked(id string, req api.StoreRequest) api.Store {
	st := api.Store{
		ID:                id,
		Name:              strings.TrimSpace(req.Name),
		Address:           req.Address,
		Email:             req.Email,
		Website:           req.Website,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		Brands:            []api.Brand{},
		PaymentConditions: req.PaymentConditions,
	}
	for _, brandID := range req.Brands {
		for _, b := range s.brands {
			if strings.EqualFold(b.ID, brandID) {
				st.Brands = append(st.Brands, b)
			}
		}
	}
	return st
}
