// Package users covers signup, login, Google OAuth, and refresh token
// rotation. Every signup path leaves the user with exactly one ACTIVE
// free-tier subscription.
package users

import (
	"errors"
	"log/slog"
	"net/http"

	"canvaskit-backend/sections"
	"canvaskit-backend/sections/auth"
	"canvaskit-backend/sections/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

// Handler handles user-related requests
type Handler struct {
	logger     *slog.Logger
	deps       *sections.Dependencies
	jwtManager *auth.JWTManager
}

// NewHandler creates a new users handler
func NewHandler(deps *sections.Dependencies, jwtManager *auth.JWTManager) *Handler {
	return &Handler{
		logger:     slog.With("handler", "UsersHandler"),
		deps:       deps,
		jwtManager: jwtManager,
	}
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// OAuthRequest carries a Google access token
type OAuthRequest struct {
	AccessToken string `json:"accessToken" binding:"required"`
}

// RefreshRequest carries an opaque refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	User         UserResponse `json:"user"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	PlanType   string `json:"planType"`
	MaxDesigns int    `json:"maxDesigns"`
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existingUser models.User
	if err := h.deps.DB.DB.Where("email = ?", req.Email).First(&existingUser).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "user with this email already exists"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	hash := string(hashedPassword)
	user := models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: &hash,
		MaxDesigns:   h.deps.Registry.FreePlan().MaxDesigns,
	}

	err = h.deps.DB.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return EnsureFreeSubscription(tx, h.deps.Registry, user.ID)
	})
	if err != nil {
		h.logger.Error("Failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	h.respondWithTokens(c, http.StatusCreated, &user)
}

// Login handles user login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.deps.DB.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("Failed to find user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	if user.PasswordHash == nil {
		// OAuth-only account
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.respondWithTokens(c, http.StatusOK, &user)
}

// OAuthGoogle signs a user in via a Google access token, creating the
// account on first sight.
func (h *Handler) OAuthGoogle(c *gin.Context) {
	var req OAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.deps.GoogleSvc.VerifyToken(c.Request.Context(), req.AccessToken)
	if err != nil {
		h.logger.Warn("Google token verification failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid google token"})
		return
	}
	if info.Email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google token carries no email"})
		return
	}

	var user models.User
	err = h.deps.DB.DB.Where("email = ?", info.Email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Name:       info.Name,
			Email:      info.Email,
			MaxDesigns: h.deps.Registry.FreePlan().MaxDesigns,
		}
		err = h.deps.DB.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			return EnsureFreeSubscription(tx, h.deps.Registry, user.ID)
		})
		if err != nil {
			h.logger.Error("Failed to create oauth user", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}
		h.logger.Info("User created via Google OAuth", "userId", user.ID)
	} else if err != nil {
		h.logger.Error("Failed to find user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.respondWithTokens(c, http.StatusOK, &user)
}

// Refresh rotates a refresh token and issues a new access token
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, newToken, err := h.deps.Redis.VerifyRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.logger.Error("Failed to verify refresh token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	var user models.User
	if err := h.deps.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	accessToken, err := h.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		h.logger.Error("Failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:        accessToken,
		RefreshToken: newToken,
		User:         h.toUserResponse(&user),
	})
}

// Logout revokes the presented refresh token
func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.deps.Redis.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
		h.logger.Error("Failed to revoke refresh token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) respondWithTokens(c *gin.Context, status int, user *models.User) {
	token, err := h.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		h.logger.Error("Failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	refreshToken, err := h.deps.Redis.IssueRefreshToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("Failed to issue refresh token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue refresh token"})
		return
	}

	h.logger.Info("User authenticated", "userId", user.ID, "email", user.Email)

	c.JSON(status, AuthResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         h.toUserResponse(user),
	})
}

func (h *Handler) toUserResponse(user *models.User) UserResponse {
	resp := UserResponse{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		MaxDesigns: user.MaxDesigns,
	}
	if sub, err := ActivePlan(h.deps.DB.DB, user.ID); err == nil && sub != nil {
		resp.PlanType = sub.PlanType
	}
	return resp
}

// RegisterRoutes registers all user-related routes
func RegisterRoutes(r *gin.Engine, deps *sections.Dependencies, jwtManager *auth.JWTManager) {
	handler := NewHandler(deps, jwtManager)

	public := r.Group("/api/v1/auth")
	{
		public.POST("/register", handler.Register)
		public.POST("/login", handler.Login)
		public.POST("/oauth/google", handler.OAuthGoogle)
		public.POST("/refresh", handler.Refresh)
		public.POST("/logout", handler.Logout)
	}
}
