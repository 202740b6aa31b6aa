package router

import (
	"net/http"

	"github.com/cuongbtq/ucloud-orchestrator/internal/api/handler"
	"github.com/cuongbtq/ucloud-orchestrator/internal/auth"
	"github.com/cuongbtq/ucloud-orchestrator/internal/health"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
	"github.com/gin-gonic/gin"
)

// Options holds the cross-cutting pieces of the router.
type Options struct {
	Auth    auth.Verifier
	Metrics *observability.Metrics
	Health  *health.Checker
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware(opts.Metrics))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, opts.Health.Liveness(c.Request.Context()))
	})
	r.GET("/ready", func(c *gin.Context) {
		resp := opts.Health.Readiness(c.Request.Context())
		status := http.StatusOK
		if !resp.IsHealthy() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	})

	jobHandler := handler.NewJobHandler(deps)
	callbackHandler := handler.NewCallbackHandler(deps)
	providerHandler := handler.NewProviderHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs", auth.RequireActor(opts.Auth, deps.Logger))
		{
			jobs.POST("", jobHandler.SubmitJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/task", jobHandler.GetTask)
			jobs.GET("/:job_id/follow", jobHandler.FollowJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
			jobs.POST("/:job_id/extend", jobHandler.ExtendJob)
			jobs.POST("/:job_id/resume", jobHandler.ResumeJob)
			jobs.POST("/:job_id/interactive", jobHandler.OpenInteractiveSession)
		}

		providers := v1.Group("/providers", auth.RequireActor(opts.Auth, deps.Logger))
		{
			providers.GET("/:provider_id/utilization", providerHandler.Utilization)
			providers.GET("/:provider_id/products", providerHandler.Products)
		}

		// Provider to orchestrator callbacks
		callbacks := v1.Group("/callbacks/jobs", auth.RequireProvider(opts.Auth, deps.Logger))
		{
			callbacks.POST("/status", callbackHandler.Status)
			callbacks.POST("/state-change", callbackHandler.StateChange)
			callbacks.POST("/completed", callbackHandler.Completed)
			callbacks.POST("/charge", callbackHandler.Charge)
			callbacks.POST("/submit", callbackHandler.Submit)
			callbacks.GET("/lookup/:job_id", callbackHandler.Lookup)
		}
	}

	return r
}
