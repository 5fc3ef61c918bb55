// Package designs exposes the canvas CRUD API. Every design-creating
// operation checks the owner's quota before touching either store.
package designs

import (
	"log/slog"
	"net/http"
	"strconv"

	"canvaskit-backend/common"
	"canvaskit-backend/graph"
	"canvaskit-backend/plans"
	"canvaskit-backend/sections"
	"canvaskit-backend/sections/auth"
	"canvaskit-backend/sections/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// designAccessMessage is the shared not-found/no-ownership message.
// Ownership failures are indistinguishable from missing designs.
const designAccessMessage = "Design not found or access denied"

// Handler handles design-related requests
type Handler struct {
	logger *slog.Logger
	deps   *sections.Dependencies
}

// NewHandler creates a new designs handler
func NewHandler(deps *sections.Dependencies) *Handler {
	return &Handler{
		logger: slog.With("handler", "DesignsHandler"),
		deps:   deps,
	}
}

// CreateDesignRequest carries a new design plus its initial canvas
type CreateDesignRequest struct {
	Title      string       `json:"title" binding:"required"`
	Visibility string       `json:"visibility,omitempty"`
	Prompt     string       `json:"prompt,omitempty"`
	Nodes      []graph.Node `json:"nodes"`
	Edges      []graph.Edge `json:"edges"`
}

// SaveDesignRequest is a full replacement node/edge set
type SaveDesignRequest struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// UpdateDesignRequest updates design metadata
type UpdateDesignRequest struct {
	Title      string `json:"title,omitempty"`
	Visibility string `json:"visibility,omitempty"`
}

// DesignResponse represents a design in API responses
type DesignResponse struct {
	ID         uint   `json:"id"`
	Title      string `json:"title"`
	Visibility string `json:"visibility"`
	Prompt     string `json:"prompt,omitempty"`
}

// GraphResponse is the canonical canvas payload with counts
type GraphResponse struct {
	Success   bool            `json:"success"`
	Design    *DesignResponse `json:"design,omitempty"`
	Nodes     []graph.Node    `json:"nodes"`
	Edges     []graph.Edge    `json:"edges"`
	NodeCount int             `json:"nodeCount"`
	EdgeCount int             `json:"edgeCount"`
}

// CreateDesign creates a design and its initial canvas. The quota check
// runs before any write; failure of the graph write rolls the relational
// row back so no half-created design survives.
func (h *Handler) CreateDesign(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.deps.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if exceeded, err := h.quotaExceeded(&user); err != nil {
		h.logger.Error("Failed to check quota", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	} else if exceeded {
		h.rejectQuota(c, &user)
		return
	}

	visibility := models.VisibilityPrivate
	if req.Visibility == models.VisibilityPublic {
		visibility = models.VisibilityPublic
	}
	design := models.Design{
		Title:      req.Title,
		Visibility: visibility,
		Prompt:     req.Prompt,
		Users:      []models.User{user},
	}
	if err := h.deps.DB.DB.Create(&design).Error; err != nil {
		h.logger.Error("Failed to create design", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	doc := &graph.Document{Nodes: req.Nodes, Edges: req.Edges}
	if err := h.deps.GraphStore.CreateGraph(c.Request.Context(), design.ID, userID, doc); err != nil {
		h.logger.Error("Failed to write design graph, rolling back design",
			"design_id", design.ID, "error", err)
		// Compensating delete keeps the two stores consistent
		if delErr := h.deps.DB.DB.Select("Users").Delete(&design).Error; delErr != nil {
			h.logger.Error("Failed to roll back design row", "design_id", design.ID, "error", delErr)
		}
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	h.logger.Info("Design created", "design_id", design.ID, "user_id", userID)

	c.JSON(http.StatusCreated, GraphResponse{
		Success:   true,
		Design:    toDesignResponse(&design),
		Nodes:     req.Nodes,
		Edges:     req.Edges,
		NodeCount: len(req.Nodes),
		EdgeCount: len(req.Edges),
	})
}

// GetDesign returns a design's canvas. PRIVATE designs require ownership.
func (h *Handler) GetDesign(c *gin.Context) {
	designID, ok := parseDesignID(c)
	if !ok {
		return
	}

	var design models.Design
	if err := h.deps.DB.DB.First(&design, designID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
		return
	}

	if design.Visibility != models.VisibilityPublic {
		userID, ok := auth.GetUserIDFromContext(c)
		if !ok || !h.ownsDesign(userID, designID) {
			c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
			return
		}
	}

	doc, err := h.deps.GraphStore.GetGraph(c.Request.Context(), designID)
	if err != nil {
		h.logger.Error("Failed to read design graph", "design_id", designID, "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	c.JSON(http.StatusOK, GraphResponse{
		Success:   true,
		Design:    toDesignResponse(&design),
		Nodes:     doc.Nodes,
		Edges:     doc.Edges,
		NodeCount: len(doc.Nodes),
		EdgeCount: len(doc.Edges),
	})
}

// SaveDesign atomically replaces the design's canvas with the submitted
// node/edge set and returns the canonical post-save document.
func (h *Handler) SaveDesign(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	designID, ok := parseDesignID(c)
	if !ok {
		return
	}

	if !h.ownsDesign(userID, designID) {
		c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
		return
	}

	var req SaveDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc := &graph.Document{Nodes: req.Nodes, Edges: req.Edges}
	saved, err := h.deps.GraphStore.ReplaceGraph(c.Request.Context(), designID, userID, doc)
	if err != nil {
		h.logger.Error("Failed to save design graph", "design_id", designID, "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	c.JSON(http.StatusOK, GraphResponse{
		Success:   true,
		Nodes:     saved.Nodes,
		Edges:     saved.Edges,
		NodeCount: len(saved.Nodes),
		EdgeCount: len(saved.Edges),
	})
}

// DuplicateDesign copies a design into the caller's account with remapped
// canvas ids. The caller's quota applies; owning the source already is a
// conflict.
func (h *Handler) DuplicateDesign(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	designID, ok := parseDesignID(c)
	if !ok {
		return
	}

	var src models.Design
	if err := h.deps.DB.DB.First(&src, designID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
		return
	}

	owns := h.ownsDesign(userID, designID)
	if src.Visibility != models.VisibilityPublic && !owns {
		c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
		return
	}
	if owns {
		c.JSON(http.StatusConflict, gin.H{"error": "design already in your account"})
		return
	}

	var user models.User
	if err := h.deps.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if exceeded, err := h.quotaExceeded(&user); err != nil {
		h.logger.Error("Failed to check quota", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	} else if exceeded {
		h.rejectQuota(c, &user)
		return
	}

	dup := models.Design{
		Title:      src.Title,
		Visibility: models.VisibilityPrivate,
		Prompt:     src.Prompt,
		Users:      []models.User{user},
	}
	if err := h.deps.DB.DB.Create(&dup).Error; err != nil {
		h.logger.Error("Failed to create design copy", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	if err := h.deps.GraphStore.CopyGraph(c.Request.Context(), designID, dup.ID, userID); err != nil {
		h.logger.Error("Failed to copy design graph, rolling back copy",
			"src_design_id", designID, "dst_design_id", dup.ID, "error", err)
		if delErr := h.deps.DB.DB.Select("Users").Delete(&dup).Error; delErr != nil {
			h.logger.Error("Failed to roll back design copy", "design_id", dup.ID, "error", delErr)
		}
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	h.logger.Info("Design duplicated",
		"src_design_id", designID, "dst_design_id", dup.ID, "user_id", userID)

	c.JSON(http.StatusCreated, common.ApiResponse[DesignResponse]{
		Data:    *toDesignResponse(&dup),
		Success: true,
	})
}

// GetAllDesigns lists public designs
func (h *Handler) GetAllDesigns(c *gin.Context) {
	var designs []models.Design
	if err := h.deps.DB.DB.
		Where("visibility = ?", models.VisibilityPublic).
		Order("created_at DESC").
		Find(&designs).Error; err != nil {
		h.logger.Error("Failed to list designs", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[[]DesignResponse]{
		Data:    toDesignResponses(designs),
		Success: true,
	})
}

// GetUserDesigns lists the caller's designs
func (h *Handler) GetUserDesigns(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var designs []models.Design
	if err := h.deps.DB.DB.
		Joins("JOIN user_designs ON user_designs.design_id = designs.id").
		Where("user_designs.user_id = ?", userID).
		Order("designs.created_at DESC").
		Find(&designs).Error; err != nil {
		h.logger.Error("Failed to list user designs", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[[]DesignResponse]{
		Data:    toDesignResponses(designs),
		Success: true,
	})
}

// UpdateDesignData updates title and visibility
func (h *Handler) UpdateDesignData(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	designID, ok := parseDesignID(c)
	if !ok {
		return
	}

	if !h.ownsDesign(userID, designID) {
		c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
		return
	}

	var req UpdateDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var design models.Design
	if err := h.deps.DB.DB.First(&design, designID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
		return
	}

	if req.Title != "" {
		design.Title = req.Title
	}
	if req.Visibility == models.VisibilityPublic || req.Visibility == models.VisibilityPrivate {
		design.Visibility = req.Visibility
	}
	if err := h.deps.DB.DB.Save(&design).Error; err != nil {
		h.logger.Error("Failed to update design", "design_id", designID, "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[DesignResponse]{
		Data:    *toDesignResponse(&design),
		Success: true,
	})
}

// DeleteDesign removes a design and its canvas
func (h *Handler) DeleteDesign(c *gin.Context) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	designID, ok := parseDesignID(c)
	if !ok {
		return
	}

	if !h.ownsDesign(userID, designID) {
		c.JSON(http.StatusNotFound, gin.H{"error": designAccessMessage})
		return
	}

	if err := h.deps.GraphStore.DeleteGraph(c.Request.Context(), designID); err != nil {
		h.logger.Error("Failed to delete design graph", "design_id", designID, "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	if err := h.deps.DB.DB.Select("Users").Delete(&models.Design{Model: gorm.Model{ID: designID}}).Error; err != nil {
		h.logger.Error("Failed to delete design row", "design_id", designID, "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	h.logger.Info("Design deleted", "design_id", designID, "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// quotaExceeded compares the user's design count against MaxDesigns. The
// unlimited sentinel always passes.
func (h *Handler) quotaExceeded(user *models.User) (bool, error) {
	if user.MaxDesigns == plans.UnlimitedDesigns {
		return false, nil
	}

	var count int64
	if err := h.deps.DB.DB.Table("user_designs").
		Where("user_id = ?", user.ID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count >= int64(user.MaxDesigns), nil
}

func (h *Handler) rejectQuota(c *gin.Context, user *models.User) {
	h.logger.Info("Design quota exceeded", "user_id", user.ID, "max_designs", user.MaxDesigns)
	c.JSON(http.StatusTooManyRequests, common.Errorf("QUOTA_EXCEEDED",
		"Design limit reached for your plan. Upgrade to create more designs."))
}

func (h *Handler) ownsDesign(userID, designID uint) bool {
	var count int64
	if err := h.deps.DB.DB.Table("user_designs").
		Where("user_id = ? AND design_id = ?", userID, designID).
		Count(&count).Error; err != nil {
		h.logger.Error("Failed to check design ownership", "error", err)
		return false
	}
	return count > 0
}

func parseDesignID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid design id"})
		return 0, false
	}
	return uint(id), true
}

func toDesignResponse(d *models.Design) *DesignResponse {
	return &DesignResponse{
		ID:         d.ID,
		Title:      d.Title,
		Visibility: d.Visibility,
		Prompt:     d.Prompt,
	}
}

func toDesignResponses(designs []models.Design) []DesignResponse {
	out := make([]DesignResponse, len(designs))
	for i := range designs {
		out[i] = *toDesignResponse(&designs[i])
	}
	return out
}

// RegisterRoutes registers design routes. Public reads stay outside the
// auth group.
func RegisterRoutes(r *gin.Engine, deps *sections.Dependencies, jwtManager *auth.JWTManager) {
	handler := NewHandler(deps)

	public := r.Group("/api/v1/designs")
	{
		public.GET("", handler.GetAllDesigns)
	}

	protected := r.Group("/api/v1/designs")
	protected.Use(auth.JWTAuthMiddleware(jwtManager))
	{
		protected.POST("", handler.CreateDesign)
		protected.GET("/mine", handler.GetUserDesigns)
		protected.GET("/:id", handler.GetDesign)
		protected.PUT("/:id/graph", handler.SaveDesign)
		protected.POST("/:id/duplicate", handler.DuplicateDesign)
		protected.PATCH("/:id", handler.UpdateDesignData)
		protected.DELETE("/:id", handler.DeleteDesign)
	}
}
