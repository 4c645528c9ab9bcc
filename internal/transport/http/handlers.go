package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/app"
	"github.com/dkeye/signalrelay/internal/domain"
)

// UserKey is the gin context key under which auth middleware stores the
// verified domain.User.
const UserKey = "user"

// DeviceService is what the device endpoints need from the relay.
type DeviceService interface {
	RegisterDevice(owner domain.UserID, id domain.DeviceID, caps domain.Capabilities, loc *domain.Location) (domain.Device, error)
	UnregisterDevice(owner domain.UserID, id domain.DeviceID) error
	DevicesOf(owner domain.UserID) []app.DeviceStatus
}

type RegisterDeviceRequest struct {
	Capabilities domain.Capabilities `json:"capabilities"`
	Location     *domain.Location    `json:"location"`
}

type DevicesResponse struct {
	Devices []app.DeviceStatus `json:"devices"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type DeviceHandlers struct {
	Devices DeviceService
}

func (h *DeviceHandlers) Register(r gin.IRoutes) {
	r.GET("/devices", h.handleList)
	r.PUT("/devices/:id", h.handlePut)
	r.DELETE("/devices/:id", h.handleDelete)
}

func userFrom(c *gin.Context) (domain.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return domain.User{}, false
	}
	u, ok := v.(domain.User)
	return u, ok
}

func (h *DeviceHandlers) handleList(c *gin.Context) {
	user, ok := userFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, DevicesResponse{Devices: h.Devices.DevicesOf(user.ID)})
}

func (h *DeviceHandlers) handlePut(c *gin.Context) {
	user, ok := userFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dev, err := h.Devices.RegisterDevice(user.ID, domain.DeviceID(c.Param("id")), req.Capabilities, req.Location)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "transport.http").Str("device", string(dev.ID)).Str("user", string(user.ID)).Msg("device registered via api")
	c.JSON(http.StatusOK, dev)
}

func (h *DeviceHandlers) handleDelete(c *gin.Context) {
	user, ok := userFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if err := h.Devices.UnregisterDevice(user.ID, domain.DeviceID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, app.ErrUnknownDevice):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrDeviceIDEmpty), errors.Is(err, domain.ErrDeviceIDTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "transport.http").Msg("device api")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
