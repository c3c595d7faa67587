package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/observability"
	"go.uber.org/zap"
)

// Context keys set by the portal middleware
const (
	DeviceIDKey  = "device_id"
	TabIDKey     = "tab_id"
	TabIDHeader  = "X-Tab-ID"
	tabIDQuery   = "tab"
	lifecycleKey = "lifecycle"
	profilesKey  = "profiles"
	cacheKey     = "session_cache"
	viewKey      = "session_view"
)

// DeviceMW names the device scope of every request with a signed cookie
type DeviceMW struct {
	tokens domain.DeviceTokenService
	cookie string
	maxAge int
	secure bool
}

// NewDeviceMW creates new device middleware wrapper
func NewDeviceMW(tokens domain.DeviceTokenService, cookie string, ttl time.Duration, secure bool) *DeviceMW {
	return &DeviceMW{
		tokens: tokens,
		cookie: cookie,
		maxAge: int(ttl.Seconds()),
		secure: secure,
	}
}

// WithDevice returns the device middleware function. A missing or invalid cookie
// starts a new device scope.
func (mw *DeviceMW) WithDevice() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		var deviceID string
		if token, err := c.Cookie(mw.cookie); err == nil && token != "" {
			if id, err := mw.tokens.Validate(token); err == nil {
				deviceID = id
			}
		}

		if deviceID == "" {
			deviceID = uuid.NewString()
			token, err := mw.tokens.Issue(deviceID)
			if err != nil {
				observability.GetLogger(c.Request.Context()).Error("failed to issue device token", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": domain.MsgRetry})
				c.Abort()
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(mw.cookie, token, mw.maxAge, "/", "", mw.secure, true)
		}

		tabID := c.GetHeader(TabIDHeader)
		if tabID == "" {
			tabID = c.Query(tabIDQuery)
		}

		ctx := domain.WithClientContext(c.Request.Context(), &domain.ClientContext{
			DeviceID:  deviceID,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Set(DeviceIDKey, deviceID)
		c.Set(TabIDKey, tabID)
		c.Next()
	})
}
