package httpx

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/you/accountportal/internal/http/handlers"
	"github.com/you/accountportal/internal/http/middleware"
	"github.com/you/accountportal/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// BuildRouter wires the portal routes. adm may be nil, in which case the navigation
// admin endpoints are not mounted.
func BuildRouter(sh *handlers.SessionHandlers, ph *handlers.ProfileHandlers, nh *handlers.NavigationHandlers, devmw *middleware.DeviceMW, sessmw *middleware.SessionMW, adm *middleware.AdminMW, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(serviceName), observability.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v := r.Group("/").Use(devmw.WithDevice(), sessmw.Guard())
	v.GET("/session", sh.Resume)
	v.POST("/session/identify", sh.Identify)
	v.GET("/session/pending", sh.Pending)
	v.POST("/session/login", sh.Login)
	v.POST("/session/signup", sh.Signup)
	v.POST("/session/profile", sh.SelectProfile)
	v.POST("/session/logout", sh.Logout)
	v.GET("/session/events", sh.Events)

	v.GET("/profiles", ph.List)
	v.POST("/profiles", ph.Add)
	v.PUT("/profiles/:id", ph.Edit)
	v.GET("/avatars", ph.Avatars)

	if adm != nil && nh != nil {
		admin := r.Group("/admin").Use(adm.WithToken())
		admin.GET("/navigation", nh.List)
		admin.POST("/navigation", nh.Add)
		admin.DELETE("/navigation", nh.Remove)
	}

	return r
}
