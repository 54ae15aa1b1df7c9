package api

import (
	"net/http"
	"time"

	"github.com/phuslu/log"

	"trade-insight/database"
)

type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=80,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to register user", err)
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		if database.IsValidation(err) {
			respondWithError(w, http.StatusBadRequest, "Username already taken", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to register user", err)
		return
	}

	log.Info().Uint64("user_id", uint64(user.ID)).Str("username", user.Username).Msg("User registered")
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if database.IsNotFound(err) {
			respondWithError(w, http.StatusUnauthorized, "Invalid credentials", nil)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Login failed", err)
		return
	}
	if err := s.auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, expiresAt, err := s.auth.IssueToken(user.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Login failed", err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Logged in successfully",
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
