package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxSettingsBody = 64 << 10

func (h *Handler) publicSettings(c *gin.Context) {
	p, err := h.settings.Public(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) getSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) updateSettings(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxSettingsBody))
	if err != nil {
		fail(c, badRequest("unreadable body"))
		return
	}
	s, err := h.settings.UpdateSection(c.Request.Context(), c.Param("section"), raw)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
