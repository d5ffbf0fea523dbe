package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quocanhngo/devicegate/internal/model"
	"github.com/quocanhngo/devicegate/internal/repository"
	"github.com/quocanhngo/devicegate/internal/service"
)

// DashboardHandler handles the JWT-protected management endpoints
type DashboardHandler struct {
	authService   *service.AuthService
	accessService *service.AccessService
	clients       *repository.ClientRepository
}

func NewDashboardHandler(authService *service.AuthService, accessService *service.AccessService, clients *repository.ClientRepository) *DashboardHandler {
	return &DashboardHandler{
		authService:   authService,
		accessService: accessService,
		clients:       clients,
	}
}

// IssueToken godoc
// @Summary Exchange client credentials for a dashboard token
// @Tags Dashboard
// @Accept json
// @Produce json
// @Param body body model.TokenRequest true "Client credentials"
// @Success 200 {object} model.TokenResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/v1/auth/token [post]
func (h *DashboardHandler) IssueToken(c *gin.Context) {
	var req model.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	resp, err := h.authService.IssueToken(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Invalid client credentials"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// dashboardApp loads the app behind the validated JWT
func (h *DashboardHandler) dashboardApp(c *gin.Context) (*model.ClientApp, bool) {
	appID := c.MustGet("app_id").(uuid.UUID)
	app, err := h.clients.FindByID(appID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Unknown client app"})
		return nil, false
	}
	return app, true
}

// ListUserDevices godoc
// @Summary List a user's attached devices
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {array} model.DeviceResponse
// @Router /api/v1/users/{userID}/devices [get]
func (h *DashboardHandler) ListUserDevices(c *gin.Context) {
	app, ok := h.dashboardApp(c)
	if !ok {
		return
	}

	devices, err := h.accessService.ListAttached(app, c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, devices)
}

// ForceDetach godoc
// @Summary Force-detach a device
// @Description Detach a device server-side; its listen stream receives a logout event
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Param deviceID path string true "Device ID"
// @Success 200 {object} model.ForceDetachResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /api/v1/users/{userID}/devices/{deviceID} [delete]
func (h *DashboardHandler) ForceDetach(c *gin.Context) {
	app, ok := h.dashboardApp(c)
	if !ok {
		return
	}

	resp, err := h.accessService.Detach(c.Request.Context(), app, c.Param("userID"), c.Param("deviceID"), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}
	if !resp.Success {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Device not found"})
		return
	}

	c.JSON(http.StatusOK, model.ForceDetachResponse{
		DeviceID:        resp.DeviceID,
		AttachedDevices: resp.AttachedDevices,
	})
}

// ExportAudit godoc
// @Summary Export the app's audit trail
// @Description Archive attach/detach events since the cutoff to object storage and return a presigned download link
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param since query string false "RFC 3339 cutoff, default 30 days ago"
// @Success 200 {object} model.AuditExportResponse
// @Router /api/v1/audit/export [get]
func (h *DashboardHandler) ExportAudit(c *gin.Context) {
	app, ok := h.dashboardApp(c)
	if !ok {
		return
	}

	since := time.Now().AddDate(0, 0, -30)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid since timestamp", Message: err.Error()})
			return
		}
		since = parsed
	}

	resp, err := h.accessService.ExportAudit(c.Request.Context(), app, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
