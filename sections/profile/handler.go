// Package profile exposes the current user's account and plan details.
package profile

import (
	"log/slog"
	"net/http"
	"time"

	"canvaskit-backend/common"
	"canvaskit-backend/sections"
	"canvaskit-backend/sections/auth"
	"canvaskit-backend/sections/models"
	"canvaskit-backend/sections/users"

	"github.com/gin-gonic/gin"
)

// Handler handles profile-related requests
type Handler struct {
	logger *slog.Logger
	deps   *sections.Dependencies
}

// NewHandler creates a new profile handler
func NewHandler(deps *sections.Dependencies) *Handler {
	return &Handler{
		logger: slog.With("handler", "ProfileHandler"),
		deps:   deps,
	}
}

// ProfileResponse represents the user profile in API responses
type ProfileResponse struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	MaxDesigns int    `json:"maxDesigns"`
}

// PlanResponse surfaces the billing fields clients render. ExpiresAt, not
// CurrentPeriodEnd, is the "access until" instant while a cancellation is
// pending.
type PlanResponse struct {
	PlanType           string     `json:"planType"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	MaxDesigns         int        `json:"maxDesigns"`
}

// GetProfile returns the current user's profile
func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var user models.User
	if err := h.deps.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[ProfileResponse]{
		Data:    h.toProfileResponse(&user),
		Success: true,
	})
}

// UpdateProfile updates the current user's display name
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.deps.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	user.Name = req.Name
	if err := h.deps.DB.DB.Save(&user).Error; err != nil {
		h.logger.Error("Failed to update profile", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[ProfileResponse]{
		Data:    h.toProfileResponse(&user),
		Success: true,
	})
}

// GetUserPlan returns the current ACTIVE subscription with billing fields
func (h *Handler) GetUserPlan(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var user models.User
	if err := h.deps.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	sub, err := users.ActivePlan(h.deps.DB.DB, userID)
	if err != nil {
		h.logger.Error("Failed to load plan", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active subscription"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[PlanResponse]{
		Data: PlanResponse{
			PlanType:           sub.PlanType,
			Status:             sub.Status,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			ExpiresAt:          sub.ExpiresAt,
			MaxDesigns:         user.MaxDesigns,
		},
		Success: true,
	})
}

func (h *Handler) toProfileResponse(user *models.User) ProfileResponse {
	return ProfileResponse{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		MaxDesigns: user.MaxDesigns,
	}
}

// RegisterRoutes registers profile routes
func RegisterRoutes(r *gin.Engine, deps *sections.Dependencies, jwtManager *auth.JWTManager) {
	handler := NewHandler(deps)

	protected := r.Group("/api/v1/profile")
	protected.Use(auth.JWTAuthMiddleware(jwtManager))
	{
		protected.GET("", handler.GetProfile)
		protected.PUT("", handler.UpdateProfile)
		protected.GET("/plan", handler.GetUserPlan)
	}
}
