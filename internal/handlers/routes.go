package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/metrics"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/middleware"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
)

// @title Arrhythmia Classifier API
// @version 1.0
// @description Классификация ударов ЭКГ, карточки пациентов и переобучение модели

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @tag.name auth
// @tag.description Регистрация и токены

// @tag.name patients
// @tag.description Пациенты и их удары

// @tag.name model
// @tag.description Предсказания и обучение

// @tag.name monitoring
// @tag.description Состояние сервиса

type Router struct {
	Auth     *AuthHandlers
	Patients *PatientHandlers
	Model    *ModelHandlers
	Health   *HealthHandler
	JWT      *middleware.JWTMiddleware
}

// SetupRoutes настраивает маршруты REST API
func (rt *Router) SetupRoutes(cfg config.ServerConfig) *gin.Engine {
	gin.SetMode(cfg.Mode)
	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.NoRoute(notFound)

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	r.GET("/metrics", metrics.Handler())
	r.GET("/health", rt.Health.HealthCheck)

	auth := r.Group("/auth")
	{
		auth.POST("/register", rt.Auth.Register)
		auth.POST("/login", rt.Auth.Login)
		auth.POST("/refresh", rt.Auth.RefreshToken)
		auth.POST("/logout", rt.Auth.Logout)
		auth.GET("/me", rt.JWT.RequireAuth(), rt.Auth.GetProfile)
	}

	patients := r.Group("/patients")
	if cfg.PatientsRequireAuth {
		patients.Use(rt.JWT.RequireAuth())
	}
	{
		patients.POST("", rt.Patients.Create)
		patients.GET("", rt.Patients.List)
		patients.GET("/stats", rt.Patients.Stats)
		patients.POST("/bulk-upload", limitBody(cfg.UploadLimitBytes), rt.Patients.BulkUpload)
		patients.GET("/:id", rt.Patients.Get)
		patients.GET("/:id/status", rt.Patients.Status)
		patients.GET("/:id/heartbeats", rt.Patients.Heartbeats)
		patients.GET("/:id/heartbeats/:hid", rt.Patients.Heartbeat)
	}

	model := r.Group("/model", rt.JWT.RequireAuth())
	{
		model.POST("/predict", limitBody(cfg.UploadLimitBytes), rt.Model.Predict)
		model.GET("/models", rt.Model.ListModels)
		model.GET("/versions", rt.Model.ListVersions)
		model.GET("/model-performance", rt.Model.ListPerformance)
		model.GET("/model-performance/:id", rt.Model.GetPerformance)
		model.POST("/retrain", rt.JWT.RequireRole(models.RoleAdmin), rt.Model.Retrain)
		model.GET("/retrain/jobs", rt.Model.ListJobs)
		model.GET("/retrain/jobs/:id", rt.Model.GetJob)
		model.GET("/training-runs/:version", rt.Model.TrainingRun)
	}

	return r
}

// corsConfig пустой список или "*" разрешают любой origin, но без cookie:
// браузер не принимает credentials вместе с wildcard
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || lo.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c
}
