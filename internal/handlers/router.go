package handlers

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/auth"
	"github.com/pliu/rentchat/internal/chatlog"
	"github.com/pliu/rentchat/internal/middleware"
	"github.com/pliu/rentchat/internal/store"
	"github.com/pliu/rentchat/internal/ws"
)

type RouterConfig struct {
	Store       store.Store
	Log         *chatlog.ChatLog
	Hub         *ws.Hub
	Signer      *auth.Signer
	Logger      *zap.Logger
	CORSOrigins []string
}

// NewRouter wires every API endpoint.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := nopIfNil(cfg.Logger)

	authHandler := &AuthHandler{Store: cfg.Store, Signer: cfg.Signer, Logger: logger}
	profileHandler := &ProfileHandler{Store: cfg.Store, Logger: logger}
	chatHandler := &ChatHandler{Users: cfg.Store, Log: cfg.Log, Hub: cfg.Hub, Logger: logger}

	r := mux.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggingMiddleware(logger))

	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/logout", authHandler.Logout).Methods("POST")
	r.HandleFunc("/health", Health(cfg.Store)).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.Signer))

	api.HandleFunc("/me", authHandler.Me).Methods("GET")
	api.HandleFunc("/profiles/{id}", profileHandler.GetProfile).Methods("GET")
	api.HandleFunc("/profile/public_key", profileHandler.SetPublicKey).Methods("PUT")
	api.HandleFunc("/conversations", chatHandler.ListConversations).Methods("GET")
	api.HandleFunc("/conversations", chatHandler.CreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}", chatHandler.GetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}/entries", chatHandler.AppendEntry).Methods("POST")
	api.HandleFunc("/ws", chatHandler.Watch).Methods("GET")

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(r)
}
