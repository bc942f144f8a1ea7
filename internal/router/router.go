package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/eduspark/eduspark-backend/internal/config"
	"github.com/eduspark/eduspark-backend/internal/handler"
	"github.com/eduspark/eduspark-backend/internal/middleware"
	"github.com/eduspark/eduspark-backend/internal/model"
	"github.com/eduspark/eduspark-backend/internal/response"
	"github.com/eduspark/eduspark-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Assessment *handler.AssessmentHandler
	Attempt    *handler.AttemptHandler
	Grading    *handler.GradingHandler
	WS         *handler.WSHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Serve uploaded answer files statically with aggressive caching (1 year).
	uploadsGroup := router.Group("/uploads")
	uploadsGroup.Use(middleware.CacheControl(31536000))
	{
		uploadsGroup.Static("/", "./uploads")
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", handlers.Auth.Login)
		auth.GET("/me", middleware.RequireAuth(authService), handlers.Auth.Me)
	}

	// ─── 2. Shared Group (Any Authenticated Role) ──────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireAuth(authService))
	{
		api.GET("/courses/:course_id/assessments", handlers.Assessment.ListByCourse)
		api.GET("/attempts/:attempt_id/grade", handlers.Grading.GetGrade)
	}

	// ─── 3. Student Group ──────────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireAuth(authService),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		studentAPI.GET("/assessments/:assessment_id/paper", handlers.Assessment.GetPaper)
		studentAPI.POST("/assessments/:assessment_id/attempts", handlers.Attempt.Start)
		studentAPI.GET("/attempts", handlers.Attempt.ListMine)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.Get)
		studentAPI.PATCH("/attempts/:attempt_id/answers", handlers.Attempt.Save)
		studentAPI.POST("/attempts/:attempt_id/answers/file", handlers.Attempt.UploadAnswerFile)
		studentAPI.POST("/attempts/:attempt_id/heartbeat", handlers.Attempt.Heartbeat)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
		studentAPI.GET("/grades", handlers.Grading.ListMyGrades)
	}

	// ─── 4. WebSocket Group (WS Auth via query token) ──────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 5. Tutor/Admin Group (Graders) ────────────────────────────────
	tutorAPI := router.Group("/api/v1/tutor")
	tutorAPI.Use(
		middleware.RequireAuth(authService),
		middleware.RequireGrader(),
	)
	{
		tutorAPI.POST("/assessments", handlers.Assessment.Create)
		tutorAPI.GET("/assessments/:assessment_id", handlers.Assessment.Get)
		tutorAPI.POST("/assessments/:assessment_id/publish", handlers.Assessment.Publish)
		tutorAPI.GET("/assessments/:assessment_id/attempts", handlers.Grading.ListAttempts)
		tutorAPI.GET("/attempts/:attempt_id", handlers.Grading.GetAttemptForGrading)
		tutorAPI.POST("/attempts/:attempt_id/grade", handlers.Grading.GradeAttempt)
	}

	// ─── 6. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireAuth(authService),
		middleware.RequireRole(model.RoleAdmin),
	)
	{
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
