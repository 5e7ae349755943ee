package server

import (
	"context"
	"net/http"
	"time"

	"live-auction/internal/biddingerrors"
	"live-auction/services/bidding/handler"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

// Options carries the collaborators the router needs besides the bidding service
type Options struct {
	Authenticator Authenticator
	IsAdmin       func(userID string) bool
	// WebSocket serves GET /ws when set
	WebSocket http.Handler
	// Health reports store reachability for GET /health when set
	Health func(ctx context.Context) error
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService handler.BiddingServiceInterface, opts Options) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	if opts.Authenticator == nil {
		opts.Authenticator = HeaderAuthenticator{}
	}

	router.Use(gin.Recovery())                         // recover from panics
	router.Use(IdentityMiddleware(opts.Authenticator)) // resolve the caller
	router.Use(RequestLoggerMiddleware)                // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	lots := router.Group("/lots")
	{
		lots.GET("", biddingHandler.ListLotsHandler)
		lots.GET("/:lot_id", biddingHandler.GetLotHandler)
		lots.POST("/:lot_id/bids", biddingHandler.PlaceBidHandler)
		lots.POST("/:lot_id/autobid", biddingHandler.SetAutoBidHandler)
		lots.DELETE("/:lot_id/autobid", biddingHandler.DisableAutoBidHandler)
		lots.POST("/:lot_id/comments", biddingHandler.AddCommentHandler)
		lots.GET("/:lot_id/comments", biddingHandler.ListCommentsHandler)
	}

	me := router.Group("/me")
	{
		me.GET("/bids", biddingHandler.ListMyBidsHandler)
	}

	admin := router.Group("/admin", AdminMiddleware(opts.IsAdmin))
	{
		admin.POST("/lots", biddingHandler.CreateLotHandler)
		admin.DELETE("/lots/:lot_id", biddingHandler.DeleteLotHandler)
	}

	if opts.WebSocket != nil {
		router.GET("/ws", gin.WrapH(opts.WebSocket))
	}
	router.GET("/health", healthHandler(opts.Health))

	return router
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				utils.JSONError(c, http.StatusServiceUnavailable, biddingerrors.CodeInternal, "unhealthy: "+err.Error(), nil)
				return
			}
		}
		utils.JSONResponse(c, http.StatusOK, gin.H{"status": "ok"}, "healthy")
	}
}
