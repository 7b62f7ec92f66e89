package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/interaction"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/usecase"
	"github.com/paulmach/orb"
)

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (h *Handler) Origin(c *gin.Context) {
	var req dto.OriginRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.session.SetOrigin(c.Request.Context(), usecase.Origin{
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		Agencies:            req.Agencies,
		Modes:               req.Modes,
		StartTime:           req.StartTime,
		TransferPenaltySecs: req.TransferPenaltySecs,
		Duration:            seconds(req.DurationSeconds),
		WindowFromStart:     req.WindowFromStart,
	})
	if err != nil {
		h.RespondWithError(c, err)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "travel times ingested", dto.OriginResponse{
		OriginResult: res,
		State:        h.session.State().String(),
	})
}

func (h *Handler) Window(c *gin.Context) {
	var req dto.WindowRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.session.SetDuration(c.Request.Context(), seconds(req.DurationSeconds))
	if err != nil {
		h.RespondWithError(c, err)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "window updated", dto.OriginResponse{
		OriginResult: res,
		State:        h.session.State().String(),
	})
}

func (h *Handler) Hover(c *gin.Context) {
	var req dto.HoverRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.session.Hover(c.Request.Context(), interaction.Hover{
		LngLat: orb.Point{req.Longitude, req.Latitude},
		Zoom:   req.Zoom,
		Click:  req.Click,
	})
	if err != nil {
		h.RespondWithError(c, err)
		return
	}

	resp := dto.HoverResponse{Hit: res.Hit}
	if res.Details != nil {
		resp.Details = res.Details.Details
		resp.Path = res.Details.Path
	}

	h.RespondWithJSON(c, http.StatusOK, "hover", resp)
}

func (h *Handler) Leave(c *gin.Context) {
	h.session.Leave()
	c.Status(http.StatusNoContent)
}

func (h *Handler) Legend(c *gin.Context) {
	l, err := h.session.Legend()
	if err != nil {
		h.RespondWithError(c, err)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "legend", l)
}

func (h *Handler) Agencies(c *gin.Context) {
	agencies, err := h.agencies.Agencies(c.Request.Context())
	if err != nil {
		h.RespondWithError(c, err)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "agencies", agencies)
}
