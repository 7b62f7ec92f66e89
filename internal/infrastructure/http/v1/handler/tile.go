package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/infrastructure/http/v1/dto"
)

const tileSourceHeader = "X-Tile-Source"

func (h *Handler) Tile(c *gin.Context) {
	l := loggerFrom(c)

	strX := c.Param("x")
	strY := c.Param("y")
	strZ := c.Param("z")

	x, err := strconv.Atoi(strX)
	if err != nil {
		l.Warn("invalid x parameter", "x", strX, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "x should be integer",
		})
		return
	}

	y, err := strconv.Atoi(strY)
	if err != nil {
		l.Warn("invalid y parameter", "y", strY, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "y should be integer",
		})
		return
	}

	z, err := strconv.Atoi(strZ)
	if err != nil {
		l.Warn("invalid z parameter", "z", strZ, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "z should be integer",
		})
		return
	}

	data, source, err := h.tiles.GetTile(c.Request.Context(), z, x, y)
	if err != nil {
		h.RespondWithError(c, err)
		return
	}

	l.Debug("tile served", "z", z, "x", x, "y", y, "source", source, "size", len(data))

	c.Header(tileSourceHeader, string(source))
	c.Data(http.StatusOK, "image/png", data)
}

func (h *Handler) CacheStats(c *gin.Context) {
	s, err := h.tiles.Stats(c.Request.Context())
	if err != nil {
		loggerFrom(c).Error("failed to get cache stats", "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "cache stats", dto.CacheStatsResponse{
		TileCount:      s.Tiles,
		TotalSizeBytes: s.Bytes,
		Generation:     h.tiles.Generation(),
	})
}
