package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) summary(c *gin.Context) {
	s, err := h.analytics.Summary(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) sales(c *gin.Context) {
	from, to, err := queryRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	list, err := h.analytics.Sales(c.Request.Context(), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) topProducts(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		fail(c, err)
		return
	}
	list, err := h.analytics.TopProducts(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) orderStatus(c *gin.Context) {
	list, err := h.analytics.StatusBreakdown(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) lowStock(c *gin.Context) {
	threshold, err := queryInt(c, "threshold", -1)
	if err != nil {
		fail(c, err)
		return
	}
	list, err := h.analytics.LowStock(c.Request.Context(), threshold)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// exportSales renders the workbook into memory first so that a failure can
// still produce a JSON error.
func (h *Handler) exportSales(c *gin.Context) {
	from, to, err := queryRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.analytics.ExportSales(c.Request.Context(), from, to, &buf); err != nil {
		fail(c, err)
		return
	}
	name := fmt.Sprintf("sales-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
