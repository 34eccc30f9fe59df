// Package httpapi exposes the store and the scanner over HTTP.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/store"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps is everything the handlers need. Redis and Face may be nil.
type Deps struct {
	Store    *store.Store
	Detector attendance.Detector
	Matcher  *attendance.Matcher
	Scanner  *attendance.Scanner
	Redis    *store.Redis
	Face     HealthChecker

	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RateLimitPerMin int
}

// New builds the gin engine with every route registered.
func New(d Deps) *gin.Engine {
	h := NewHandler(d)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/admin/login", h.AdminLogin)
	v1.POST("/student/login", h.StudentLogin)

	me := v1.Group("/me", auth.Bearer(d.JWTSigningKey, d.JWTIssuer, auth.RoleStudent))
	{
		me.GET("", h.Me)
		me.GET("/attendance", h.MyAttendance)
		me.GET("/stats", h.MyStats)
	}

	admin := v1.Group("", auth.Bearer(d.JWTSigningKey, d.JWTIssuer, auth.RoleAdmin))
	{
		admin.GET("/dashboard", h.Dashboard)

		admin.GET("/students", h.ListStudents)
		admin.POST("/students", h.CreateStudent)
		admin.GET("/students/:roll", h.GetStudent)
		admin.PATCH("/students/:roll", h.RenameStudent)
		admin.DELETE("/students/:roll", h.DeleteStudent)
		admin.GET("/students/:roll/stats", h.StudentStats)
		admin.PUT("/students/:roll/descriptor", h.PutDescriptor)
		admin.GET("/students/:roll/descriptor", h.GetDescriptor)
		admin.DELETE("/students/:roll/descriptor", h.DeleteDescriptor)
		admin.POST("/capture", h.Capture)

		admin.GET("/subjects", h.ListSubjects)
		admin.POST("/subjects", h.CreateSubject)
		admin.DELETE("/subjects/:name", h.DeleteSubject)

		admin.GET("/attendance", h.ListAttendance)
		admin.GET("/attendance/today", h.TodayAttendance)

		admin.POST("/recognize", h.Recognize)
		admin.POST("/scan/start", h.StartScan)
		admin.POST("/scan/frames", h.PushFrame)
		admin.POST("/scan/stop", h.StopScan)
		admin.GET("/scan", h.ScanStatus)

		admin.PUT("/admin/credentials", h.UpdateCredentials)
		admin.DELETE("/data", h.ClearData)
	}

	return r
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
