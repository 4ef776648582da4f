// internal/router/router.go
package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/pha-gateway/internal/clients/backend"
	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/handlers"
	"github.com/javajoker/pha-gateway/internal/middleware"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/services"
	"github.com/javajoker/pha-gateway/internal/utils"
)

// Infrastructure holds the optional connections the services run on.
type Infrastructure struct {
	// nil keeps workflow sessions in memory
	DB *gorm.DB
	// nil uses an in-process search cache
	Redis *redis.Client
	// nil uses Stripe with the configured secret key
	PaymentProvider services.PaymentProvider
}

type Server struct {
	Engine    *gin.Engine
	Workflows *services.WorkflowManager
}

// Initialize builds the services and routes. Background loops stop when ctx is done.
func Initialize(ctx context.Context, infra Infrastructure, cfg *config.Config) (*Server, error) {
	// Initialize services
	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	fdaClient := services.NewOpenFDAClient(cfg)

	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var provider services.PaymentProvider = services.NewStripeProvider(cfg)
	if infra.PaymentProvider != nil {
		provider = infra.PaymentProvider
	}

	var searchCache services.SearchCache = services.NewMemorySearchCache()
	if infra.Redis != nil {
		searchCache = services.NewRedisSearchCache(infra.Redis)
	}

	var store services.SessionStore = services.NewMemorySessionStore()
	if infra.DB != nil {
		store = services.NewGormSessionStore(infra.DB)
	}

	// Keep the interface nil when no key is configured
	var suggester services.ProductSuggester
	if s := services.NewOpenAISuggester(cfg); s != nil {
		suggester = s
	}

	analysisService := services.NewAnalysisService(backendClient, cfg)
	paymentService := services.NewPaymentService(backendClient, provider, analysisService, cfg)
	productSearchService := services.NewProductSearchService(fdaClient, suggester, searchCache, cfg)
	literatureService := services.NewLiteratureService(fdaClient, cfg)

	workflowManager := services.NewWorkflowManager(services.WorkflowDeps{
		Search:   productSearchService,
		Analysis: analysisService,
		Payments: paymentService,
		Store:    store,
	}, cfg)
	workflowManager.OnComplete(func(userID, analysisID string, _ []models.HazardGroup) {
		logrus.WithFields(logrus.Fields{
			"user_id":     userID,
			"analysis_id": analysisID,
		}).Info("PHA report ready")
	})
	go workflowManager.RunSweeper(ctx, cfg.Workflow.SweepInterval, cfg.Workflow.IdleTimeout)

	// Initialize handlers
	workflowHandler := handlers.NewWorkflowHandler(workflowManager)
	analysisHandler := handlers.NewAnalysisHandler(analysisService, paymentService, storageService, cfg)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	searchHandler := handlers.NewSearchHandler(literatureService, productSearchService)

	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)
	utils.SetLoginRoute(cfg.Frontend.LoginRoute)

	searchLimiter := middleware.PerMinute(cfg.Search.RatePerMinute)
	go searchLimiter.RunCleanup(ctx)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend.AllowedOrigins))
	r.Use(middleware.I18nMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		// Workflow routes
		workflows := v1.Group("/workflows")
		{
			workflows.POST("", workflowHandler.CreateWorkflow)
			workflows.GET("", workflowHandler.ListWorkflows)
			workflows.GET("/:id", workflowHandler.GetWorkflow)
			workflows.DELETE("/:id", workflowHandler.DeleteWorkflow)
			workflows.POST("/:id/device-name", workflowHandler.SubmitDeviceName)
			workflows.POST("/:id/product-code/answer", workflowHandler.AnswerProductCodeQuestion)
			workflows.POST("/:id/product-code", workflowHandler.SubmitProductCode)
			workflows.POST("/:id/intended-use/answer", workflowHandler.AnswerIntendedUseQuestion)
			workflows.POST("/:id/intended-use", workflowHandler.SubmitIntendedUse)
			workflows.POST("/:id/search", workflowHandler.SearchProducts)
			workflows.POST("/:id/retry-search", workflowHandler.RetrySearch)
			workflows.POST("/:id/new-search", workflowHandler.NewSearch)
			workflows.POST("/:id/products/:productId/toggle", workflowHandler.ToggleProduct)
			workflows.POST("/:id/generate", workflowHandler.GenerateReport)
		}

		// Analysis routes
		analyses := v1.Group("/analyses")
		{
			analyses.GET("/:id/status", analysisHandler.GetStatus)
			analyses.GET("/:id/results", analysisHandler.GetResults)
			analyses.GET("/:id/results/watch", analysisHandler.WatchResults)
			analyses.GET("/:id/group-records", analysisHandler.GetGroupRecords)
			analyses.GET("/:id/filters", analysisHandler.GetFilters)
			analyses.POST("/:id/restart", analysisHandler.Restart)
			analyses.GET("/:id/download", analysisHandler.Download)
			analyses.GET("/:id/download-tasks", analysisHandler.ListDownloadTasks)
			analyses.POST("/:id/download-tasks", analysisHandler.CreateDownloadTask)
		}

		// Payment routes
		payments := v1.Group("/payments")
		{
			payments.GET("/first-time", paymentHandler.GetFirstTimeStatus)
			payments.POST("/intent", paymentHandler.CreatePaymentIntent)
			payments.POST("/coupon/validate", paymentHandler.ValidateCoupon)
			payments.POST("/confirm", paymentHandler.ConfirmPayment)
			payments.POST("/intents/:id/cancel", paymentHandler.CancelPaymentIntent)
			payments.GET("/transactions", paymentHandler.GetTransactions)
		}

		// Search routes
		search := v1.Group("/search")
		search.Use(searchLimiter.Middleware())
		{
			search.GET("/datagov", searchHandler.Literature(models.LiteratureSourceDataGov))
			search.GET("/openalex", searchHandler.Literature(models.LiteratureSourceOpenAlex))
			search.GET("/scopus", searchHandler.Literature(models.LiteratureSourceScopus))
			search.GET("/fda", searchHandler.Literature(models.LiteratureSourceOpenFDA))
			search.GET("/products", searchHandler.Products)
		}
	}

	return &Server{
		Engine:    r,
		Workflows: workflowManager,
	}, nil
}
