// Package backendfake is an in-memory store-registration backend. It serves the
// authentication and store routes the client consumes, matches routes
// case-insensitively and exposes knobs for simulating server behavior in tests
// and in the CLI's mock-backend command.
package backendfake

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-storemap-client/api"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTokenTTL = time.Hour
	defaultSecret   = "storemap-fake-backend-secret"
)

// Call counters reported by Calls.
const (
	CallLogin    = "login"
	CallRegister = "register"
	CallGoogle   = "google"
	CallRefresh  = "refresh"
	CallLogout   = "logout"
	CallHealth   = "health"
	CallBrands   = "brands"
	CallStores   = "stores"
)

// User is an account known to the fake backend.
type User struct {
	ID       string
	UserName string
	Password string
	Name     string
	Email    string
	Picture  string
	Roles    []string
}

// Dialect selects the shape of token-issuing responses.
type Dialect struct {
	// TokenField is "token" when empty. The client also accepts accessToken, jwt and access_token.
	TokenField      string
	OmitSuccess     bool
	SuccessAsString bool
}

type Server struct {
	router   chi.Router
	signer   *hmacSigner
	nowFunc  func() time.Time
	tokenTTL time.Duration

	mu            sync.Mutex
	users         map[string]*User
	refreshTokens map[string]string
	stores        map[string]api.Store
	storeOrder    []string
	brands        []api.Brand
	calls         map[string]int
	refreshStatus int
	refreshGate   chan struct{}
	rejectNext    int
	dialect       Dialect
}

type Option func(*Server)

func WithNowFunc(fn func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = fn
	}
}

// WithTokenTTL sets the lifetime of issued access tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = d
	}
}

func WithSecret(secret string) Option {
	return func(s *Server) {
		s.signer = newHMACSigner(secret)
	}
}

func WithUser(u User) Option {
	return func(s *Server) {
		s.addUserLocked(u)
	}
}

func WithBrands(names ...string) Option {
	return func(s *Server) {
		for _, n := range names {
			s.brands = append(s.brands, api.Brand{ID: uuid.NewString(), Name: n})
		}
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		signer:        newHMACSigner(defaultSecret),
		nowFunc:       time.Now,
		tokenTTL:      DefaultTokenTTL,
		users:         make(map[string]*User),
		refreshTokens: make(map[string]string),
		stores:        make(map[string]api.Store),
		calls:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(caseInsensitive)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)

		r.Route("/authentication", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/register", s.handleRegister)
			r.Post("/login/google", s.handleGoogleLogin)
			r.Post("/refresh-token", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Get("/brands", s.handleBrands)
			r.Get("/stores", s.handleListStores)
			r.Post("/stores", s.handleCreateStore)
			r.Get("/stores/search", s.handleSearchStores)
			r.Put("/stores/{id}", s.handleUpdateStore)
			r.Delete("/stores/{id}", s.handleDeleteStore)
		})
	})
	return r
}

// caseInsensitive routes on the lower-cased path. Backend revisions differ in casing.
func caseInsensitive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rctx.RoutePath = strings.ToLower(r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reject := s.rejectNext > 0
		if reject {
			s.rejectNext--
		}
		s.mu.Unlock()
		if reject {
			writeError(w, http.StatusUnauthorized, "token rejected")
			return
		}

		if _, err := s.authorize(r.Header.Get("Authorization")); err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("fake backend rejected bearer token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AddUser registers or replaces an account.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addUserLocked(u)
}

func (s *Server) addUserLocked(u User) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Name == "" {
		u.Name = u.UserName
	}
	s.users[strings.ToLower(u.UserName)] = &u
}

// Calls returns how many times the named route was hit.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *Server) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

// SetRefreshStatus makes the refresh route answer with status. Zero restores normal behavior.
func (s *Server) SetRefreshStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

// BlockRefresh holds refresh requests until release is called.
func (s *Server) BlockRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.refreshGate == gate {
				s.refreshGate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// RejectNext answers the next n bearer-protected requests with 401.
func (s *Server) RejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = n
}

// RevokeRefreshTokens forgets every issued refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

func (s *Server) SetDialect(d Dialect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialect = d
}

// Stores returns a snapshot of the registered stores in creation order.
func (s *Server) Stores() []api.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Store, 0, len(s.storeOrder))
	for _, id := range s.storeOrder {
		out = append(out, s.stores[id])
	}
	return out
}

func (s *Server) Brands() []api.Brand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Brand(nil), s.brands...)
}
