package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/devicegate/internal/model"
	"github.com/quocanhngo/devicegate/internal/service"
)

// AccessHandler handles the SDK-facing attach/detach/list endpoints
type AccessHandler struct {
	accessService *service.AccessService
}

func NewAccessHandler(accessService *service.AccessService) *AccessHandler {
	return &AccessHandler{accessService: accessService}
}

// clientApp reads the app the auth middleware stored on the context
func clientApp(c *gin.Context) *model.ClientApp {
	return c.MustGet("client_app").(*model.ClientApp)
}

// Attach godoc
// @Summary Attach a device to a user
// @Description Register (or re-register) a device and return the attached-device count plus the app's limit policy
// @Tags Access
// @Accept json
// @Produce json
// @Security BasicAuth
// @Param body body model.AttachRequest true "Attach request"
// @Success 200 {object} model.AccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /access [post]
func (h *AccessHandler) Attach(c *gin.Context) {
	var req model.AttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	resp, err := h.accessService.Attach(c.Request.Context(), clientApp(c), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Detach godoc
// @Summary Detach a device from a user
// @Description Remove a device from the user's active set and notify its open listen stream
// @Tags Access
// @Accept json
// @Produce json
// @Security BasicAuth
// @Param body body model.DetachRequest true "Detach request"
// @Success 200 {object} model.AccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /access/detach [post]
func (h *AccessHandler) Detach(c *gin.Context) {
	var req model.DetachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	resp, err := h.accessService.Detach(c.Request.Context(), clientApp(c), req.User, req.Device, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListAttached godoc
// @Summary List a user's attached devices
// @Tags Access
// @Produce json
// @Security BasicAuth
// @Param userID path string true "User ID"
// @Success 200 {array} model.DeviceResponse
// @Router /access/user/{userID}/attached_devices [get]
func (h *AccessHandler) ListAttached(c *gin.Context) {
	userID := c.Param("userID")
	if userID == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "User ID required"})
		return
	}

	devices, err := h.accessService.ListAttached(clientApp(c), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, devices)
}
