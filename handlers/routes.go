package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/geminicodes/MapMyVisitors-Cursor/middleware"
	"github.com/geminicodes/MapMyVisitors-Cursor/utils"
)

// Routes groups the handlers mounted on the public router. Auth, Admin and
// Analytics are optional; the admin API is only mounted when Auth and Tokens
// are set.
type Routes struct {
	Track     *TrackHandlers
	Visitors  *VisitorHandlers
	Auth      *AuthHandlers
	Admin     *AdminHandlers
	Analytics *AnalyticsHandlers
	Tokens    *utils.TokenIssuer
	DB        Pinger
}

func (rt Routes) Register(r *gin.Engine) {
	if rt.DB != nil {
		r.GET("/healthz", Health(rt.DB))
	}

	api := r.Group("/api")

	track := api.Group("/track", middleware.CORS("POST, OPTIONS"))
	track.POST("", rt.Track.Track)
	track.OPTIONS("", func(*gin.Context) {})

	visitors := api.Group("/visitors", middleware.CORS("GET, OPTIONS"), CacheHeaders())
	visitors.GET("/:widgetId", rt.Visitors.GetVisitors)
	visitors.OPTIONS("/:widgetId", func(*gin.Context) {})

	if rt.Auth == nil || rt.Tokens == nil || rt.Admin == nil {
		return
	}

	admin := api.Group("/admin")
	admin.POST("/login", rt.Auth.Login)
	admin.POST("/logout", rt.Auth.Logout)

	protected := admin.Group("", middleware.AuthRequired(rt.Tokens))
	protected.POST("/accounts", rt.Admin.CreateAccount)
	protected.GET("/accounts/:widgetId", rt.Admin.GetAccount)
	protected.PATCH("/accounts/:widgetId", rt.Admin.UpdateAccount)

	analytics := rt.Analytics
	if analytics == nil {
		analytics = NewAnalyticsHandlers(nil)
	}
	protected.GET("/accounts/:widgetId/stats/counts", analytics.GetEventCounts)
	protected.GET("/accounts/:widgetId/stats/top-pages", analytics.GetTopPages)
	protected.GET("/accounts/:widgetId/stats/top-countries", analytics.GetTopCountries)
}
