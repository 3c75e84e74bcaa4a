// Package gateway is the hosted service surface: HTTP auth endpoints
// issuing JWT session cookies and a websocket endpoint carrying
// document operations and subscription deltas.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"slices"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/config"
	"github.com/xpresschat/xpress-chat/internal/stats"
)

type Gateway struct {
	log            *log.Logger
	accounts       AccountStore
	store          backend.Store
	mux            *http.Server
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
}

func NewGateway(mux *http.ServeMux, logger *log.Logger, accounts AccountStore, store backend.Store, statsProvider stats.StatsProvider, cfg *config.Config) *Gateway {
	g := &Gateway{
		log:            logger,
		accounts:       accounts,
		store:          store,
		stats:          statsProvider,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", g.register)
	mux.HandleFunc("POST /api/auth/login", g.login)
	mux.HandleFunc("GET /api/auth/session", g.authMiddleware(g.session))
	mux.Handle("GET /api/auth/logout", g.authMiddleware(g.logout))
	mux.Handle("GET /ws", g.authMiddleware(g.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = g.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	g.mux = srv
	return g
}

func (g *Gateway) Start() error {
	g.log.Printf("starting gateway on %s\n", g.mux.Addr)
	return g.mux.ListenAndServe()
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	g.log.Println("shutting down HTTP server...")
	if err := g.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

// Handler exposes the configured handler chain for tests.
func (g *Gateway) Handler() http.Handler {
	return g.mux.Handler
}

func (g *Gateway) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Printf("json encode: %v", err)
	}
}

func (g *Gateway) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				g.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				g.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := AuthedUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(g.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Println("error upgrading connection:", err)
		return
	}

	c := newClient(user, conn, g)
	g.stats.Incr(stats.ActiveConnections)

	go c.write()
	go c.read()
}
