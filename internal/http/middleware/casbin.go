package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/observability"
	"github.com/you/accountportal/internal/services"
	"go.uber.org/zap"
)

// MsgAlreadySignedIn is returned when a signed-in device visits a signed-out route
const MsgAlreadySignedIn = "You are already signed in."

// SessionMW resolves the device's lifecycle state once per request and enforces the
// navigation policy for that state
type SessionMW struct {
	portal *services.Portal
	caches domain.SessionCacheProvider
	policy domain.NavigationPolicy
}

// NewSessionMW creates new session middleware wrapper
func NewSessionMW(portal *services.Portal, caches domain.SessionCacheProvider, policy domain.NavigationPolicy) *SessionMW {
	return &SessionMW{portal: portal, caches: caches, policy: policy}
}

// Guard returns the navigation middleware. It must run after WithDevice.
func (mw *SessionMW) Guard() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		deviceID := c.GetString(DeviceIDKey)
		if deviceID == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": domain.MsgRetry})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		cache := mw.caches.ForDevice(deviceID, c.GetString(TabIDKey))
		lifecycle := mw.portal.Lifecycle(cache, deviceID)

		view, err := lifecycle.ResumeSession(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": domain.MsgRetry, "retryable": true})
			c.Abort()
			return
		}

		// Use the route template so parameterized routes match their policy
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		allowed, err := mw.policy.Allow(view.State, route, c.Request.Method)
		if err != nil {
			observability.GetLogger(ctx).Error("navigation check failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": domain.MsgRetry})
			c.Abort()
			return
		}
		if !allowed {
			if view.State.SignedIn() {
				c.JSON(http.StatusConflict, gin.H{"error": MsgAlreadySignedIn, "state": view.State})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": domain.MsgSignInRequired, "state": view.State})
			}
			c.Abort()
			return
		}

		c.Set(cacheKey, cache)
		c.Set(lifecycleKey, lifecycle)
		c.Set(profilesKey, mw.portal.Profiles(cache))
		c.Set(viewKey, view)
		c.Next()
	})
}

// Lifecycle returns the state machine resolved by Guard
func Lifecycle(c *gin.Context) domain.AccountLifecycle {
	v, _ := c.Get(lifecycleKey)
	l, _ := v.(domain.AccountLifecycle)
	return l
}

// Profiles returns the profile manager resolved by Guard
func Profiles(c *gin.Context) domain.ProfileManager {
	v, _ := c.Get(profilesKey)
	p, _ := v.(domain.ProfileManager)
	return p
}

// Cache returns the device's session cache resolved by Guard
func Cache(c *gin.Context) domain.SessionCache {
	v, _ := c.Get(cacheKey)
	sc, _ := v.(domain.SessionCache)
	return sc
}

// View returns the session view resumed by Guard
func View(c *gin.Context) *domain.SessionView {
	v, _ := c.Get(viewKey)
	view, _ := v.(*domain.SessionView)
	return view
}
