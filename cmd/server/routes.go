package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/httpapi"
)

const (
	routeHealth             = "/healthz"
	apiRoutePrefix          = "/api"
	apiRouteFlow            = "/flow"
	apiRouteGamification    = "/gamification"
	apiRouteReview          = "/reviews/:id"
	apiRouteReviewRating    = "/rating"
	apiRouteReviewFeedback  = "/feedback"
	apiRouteReviewSubmit    = "/submit"
	apiRouteReviewTasks     = "/tasks"
	apiRouteCompanyFeedback = "/companies/:id/feedback-options"
	corsOriginWildcard      = "*"
	corsHeaderContentType   = "Content-Type"
	corsPreflightMaxAge     = 12 * time.Hour
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

func newPublicCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           corsPreflightMaxAge,
	})
}

// registerRoutes mounts the review flow API. Flow writes share one per-IP rate limiter.
func registerRoutes(router *gin.Engine, handlers *httpapi.ReviewHandlers, limiter *httpapi.RateLimiter) {
	router.GET(routeHealth, handlers.Health)

	apiGroup := router.Group(apiRoutePrefix)
	apiGroup.Use(newPublicCORS())
	apiGroup.GET(apiRouteFlow, handlers.LoadFlow)
	apiGroup.GET(apiRouteGamification, handlers.Gamification)
	apiGroup.GET(apiRouteReview, handlers.GetReview)
	apiGroup.GET(apiRouteCompanyFeedback, handlers.FeedbackOptions)
	apiGroup.OPTIONS("/*path", func(context *gin.Context) {
		context.Status(http.StatusNoContent)
	})

	reviewGroup := apiGroup.Group(apiRouteReview)
	reviewGroup.Use(limiter.Middleware())
	reviewGroup.POST(apiRouteReviewRating, handlers.SelectRating)
	reviewGroup.POST(apiRouteReviewFeedback, handlers.SubmitFeedback)
	reviewGroup.POST(apiRouteReviewSubmit, handlers.Submit)
	reviewGroup.POST(apiRouteReviewTasks, handlers.CompleteTask)
}
