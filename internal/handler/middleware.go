package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cake-heaven/internal/domain/auth"
)

const viewerKey = "viewer"

// RequireAuth resolves the bearer token into the request viewer.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			fail(c, auth.ErrUnauthorized)
			return
		}
		v, err := h.accounts.Authenticate(strings.TrimSpace(token))
		if err != nil {
			fail(c, auth.ErrUnauthorized)
			return
		}
		c.Set(viewerKey, v)
		ctx := zctx.With(c.Request.Context(), zap.String("user_id", v.UserID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin rejects viewers without the admin role. It must follow
// RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !viewer(c).IsAdmin() {
			fail(c, auth.ErrForbidden)
			return
		}
		c.Next()
	}
}

func viewer(c *gin.Context) auth.Viewer {
	v, _ := c.Get(viewerKey)
	out, _ := v.(auth.Viewer)
	return out
}
