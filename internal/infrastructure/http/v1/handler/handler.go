package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/routing"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/usecase"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type AgencyLister interface {
	Agencies(ctx context.Context) ([]routing.Agency, error)
}

type Handler struct {
	validate *validator.Validate
	tiles    *usecase.TileUseCase
	session  *usecase.Session
	agencies AgencyLister
}

func NewHandler(v *validator.Validate, tiles *usecase.TileUseCase, session *usecase.Session, agencies AgencyLister) *Handler {
	return &Handler{
		validate: v,
		tiles:    tiles,
		session:  session,
		agencies: agencies,
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusInternalServerError, ErrInternalServer.Error(), nil)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}

// RespondWithError maps domain errors to statuses. Cancelled work is not an
// error and answers 204 without a body.
func (h *Handler) RespondWithError(c *gin.Context, err error) {
	l := loggerFrom(c)

	switch {
	case routing.IsCancellation(err):
		l.Debug("request cancelled", "path", c.FullPath(), "reason", err)
		c.Status(http.StatusNoContent)
	case errors.Is(err, usecase.ErrNotReady):
		h.RespondWithJSON(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, colormapper.ErrEmptyWindow), errors.Is(err, usecase.ErrBadTile):
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
	case routing.IsExpected(err):
		l.Info("expected backend failure", "path", c.FullPath(), "error", err)
		h.RespondWithJSON(c, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		var se *routing.StatusError
		if errors.As(err, &se) {
			l.Error("routing backend error", "path", c.FullPath(), "status", se.Status, "body", se.Body)
			h.RespondWithJSON(c, http.StatusBadGateway, ErrBackendUnavailable.Error(), nil)
			return
		}
		l.Error("internal http_server error",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"user_agent", c.Request.UserAgent(),
			"ip", c.ClientIP(),
			"error", err,
		)
		h.RespondWithInternalServerError(c)
	}
}

// bind decodes and validates a JSON body, answering 400 on failure.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		loggerFrom(c).Warn("invalid request body", "error", err)
		h.RespondWithJSON(c, http.StatusBadRequest, ErrFailedToDecodeRequestBody.Error(), nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		loggerFrom(c).Warn("request validation failed", "error", err)
		h.RespondWithJSON(c, http.StatusBadRequest, err.Error(), nil)
		return false
	}
	return true
}

func loggerFrom(c *gin.Context) logger.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return logger.FromContext(c.Request.Context(), nil)
}
