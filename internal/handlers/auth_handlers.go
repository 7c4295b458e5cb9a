package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"marshtalk/internal/middleware"
	"marshtalk/internal/models"
	"marshtalk/internal/utils"
)

// RegisterUserRequest represents a request to register a new user
type RegisterUserRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// LoginRequest represents a request to log in a user
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a response to a login request
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
	UserID  string `json:"userId"`
}

// HandleUserRegistration handles requests to register a new user
func (s *Server) HandleUserRegistration() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, utils.NewAppError(utils.ErrInvalidInput, "invalid request body", err))
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			respondError(w, utils.NewAppError(utils.ErrInvalidInput, "username and password are required", nil))
			return
		}
		if req.DisplayName == "" {
			req.DisplayName = req.Username
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, utils.NewAppError(utils.ErrDatabase, "failed to hash password", err))
			return
		}
		hashedStr := string(hashed)

		user := &models.User{
			ID:          uuid.New(),
			Username:    &req.Username,
			DisplayName: req.DisplayName,
			CreatedAt:   time.Now(),
		}
		if req.Email != "" {
			user.Email = &req.Email
		}
		user.HashedPassword = &hashedStr

		if err := s.Store.SaveUser(r.Context(), user); err != nil {
			respondError(w, err)
			return
		}

		log.Printf("HTTP Handler: Registered user %s (%s)", req.Username, user.ID)
		respondJSON(w, http.StatusCreated, user)
	}
}

// HandleUserLogin handles requests to log in a user
func (s *Server) HandleUserLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, utils.NewAppError(utils.ErrInvalidInput, "invalid request body", err))
			return
		}

		user, err := s.Store.GetUserByUsername(r.Context(), req.Username)
		if err != nil {
			respondJSON(w, http.StatusUnauthorized, &LoginResponse{
				Success: false,
				Error:   "invalid credentials",
			})
			return
		}

		if user.HashedPassword == nil ||
			bcrypt.CompareHashAndPassword([]byte(*user.HashedPassword), []byte(req.Password)) != nil {
			respondJSON(w, http.StatusUnauthorized, &LoginResponse{
				Success: false,
				Error:   "invalid credentials",
			})
			return
		}

		token, err := middleware.GenerateToken(user.ID)
		if err != nil {
			log.Printf("HTTP Handler: Failed to generate token: %v", err)
			respondError(w, utils.NewAppError(utils.ErrDatabase, "failed to generate auth token", err))
			return
		}

		respondJSON(w, http.StatusOK, &LoginResponse{
			Success: true,
			Token:   token,
			UserID:  user.ID.String(),
		})
	}
}
