package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/rentchat/internal/auth"
	"github.com/pliu/rentchat/internal/middleware"
	"github.com/pliu/rentchat/internal/models"
	"github.com/pliu/rentchat/internal/store"
)

const sessionMaxAge = 30 * 24 * time.Hour

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type AuthHandler struct {
	Store  store.UserStore
	Signer *auth.Signer
	Logger *zap.Logger
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		Username: req.Username,
		FullName: strings.TrimSpace(req.FullName),
		Password: string(hashedPassword),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}

	nopIfNil(h.Logger).Info("user signed up", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusCreated, user.Profile())
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), strings.TrimSpace(creds.Username))
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    h.Signer.Sign(user.ID),
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, user.Profile())
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetUserByID(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}
	writeJSON(w, http.StatusOK, user.Profile())
}
