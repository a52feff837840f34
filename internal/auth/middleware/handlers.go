package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
)

var validate = validator.New()

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=teacher student"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	User        classroom.User `json:"user"`
}

// POST /api/auth/signup  {"email","password","name","role"}
func SignupHandler(a *AuthService, users classroom.UserStore, secureCookie bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash password", http.StatusInternalServerError)
			return
		}
		u, err := users.CreateUser(r.Context(), classroom.User{
			Role:         req.Role,
			Email:        strings.ToLower(strings.TrimSpace(req.Email)),
			Name:         strings.TrimSpace(req.Name),
			PasswordHash: string(hash),
			CreatedAt:    time.Now().UTC(),
		})
		if errors.Is(err, classroom.ErrDuplicateEmail) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		if err != nil {
			log.Printf("auth: signup: %v", err)
			http.Error(w, "create user", http.StatusInternalServerError)
			return
		}
		a.respondWithToken(w, u, http.StatusCreated, secureCookie)
	}
}

// POST /api/auth/login  {"email","password"}
func LoginHandler(a *AuthService, users classroom.UserStore, secureCookie bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u, err := users.GetUserByEmail(r.Context(), req.Email)
		if err != nil && !errors.Is(err, classroom.ErrNotFound) {
			log.Printf("auth: login lookup: %v", err)
			http.Error(w, "lookup user", http.StatusInternalServerError)
			return
		}
		if err != nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		a.respondWithToken(w, u, http.StatusOK, secureCookie)
	}
}

// POST /api/auth/logout clears the session cookie.
func LogoutHandler(secureCookie bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name: CookieName, Value: "", Path: "/", MaxAge: -1,
			HttpOnly: true, Secure: secureCookie, SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /api/auth/me
func MeHandler(users classroom.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		u, err := users.GetUser(r.Context(), id.ID)
		if errors.Is(err, classroom.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "lookup user", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(u)
	}
}

func (a *AuthService) respondWithToken(w http.ResponseWriter, u classroom.User, status int, secure bool) {
	tok, err := a.IssueJWT(u.ID, u.Role)
	if err != nil {
		http.Error(w, "issue token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, a.sessionCookie(tok, secure))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: tok, TokenType: "bearer", User: u})
}
