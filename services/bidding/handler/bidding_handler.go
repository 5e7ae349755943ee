package handler

import (
	"context"
	"net/http"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"

	"github.com/gin-gonic/gin"
)

type BiddingServiceInterface interface {
	ListLots(ctx context.Context) ([]model.Lot, error)
	GetLot(ctx context.Context, lotID string) (*model.LotDetails, error)
	PlaceBid(ctx context.Context, lotID, userID, userName string, amount int64) (model.PlaceBidResult, error)
	SetAutoBid(ctx context.Context, lotID, userID, userName string, maxAmount int64) (model.AutoBid, error)
	DisableAutoBid(ctx context.Context, lotID, userID string) (model.AutoBid, error)
	AddComment(ctx context.Context, lotID, userID, userName, text string) (model.Comment, error)
	ListComments(ctx context.Context, lotID string) ([]model.Comment, error)
	ListUserBids(ctx context.Context, userID string) ([]model.UserBid, error)
	CreateLot(ctx context.Context, in model.NewLot) (model.Lot, error)
	DeleteLot(ctx context.Context, lotID string) error
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// requireUser writes UNAUTHORIZED when the request carries no identity
func requireUser(c *gin.Context, handlerName string) (model.User, bool) {
	user, ok := helpers.CurrentUser(c)
	if !ok {
		helpers.WriteError(c, handlerName, biddingerrors.ErrUnauthorized, map[string]any{"path": c.Request.URL.Path})
		return model.User{}, false
	}
	return user, true
}

// ListLotsHandler handles GET /lots
func (h *BiddingHandler) ListLotsHandler(c *gin.Context) {
	lots, err := h.service.ListLots(c.Request.Context())
	if err != nil {
		helpers.WriteError(c, "ListLotsHandler", err, nil)
		return
	}
	if lots == nil {
		lots = []model.Lot{}
	}

	utils.JSONResponse(c, http.StatusOK, lots, "lots retrieved successfully")
	helpers.LogSuccess("ListLotsHandler", "lots retrieved successfully", map[string]any{"count": len(lots)})
}

// GetLotHandler handles GET /lots/:lot_id
func (h *BiddingHandler) GetLotHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	details, err := h.service.GetLot(c.Request.Context(), lotID)
	if err != nil {
		helpers.WriteError(c, "GetLotHandler", err, map[string]any{"lot_id": lotID})
		return
	}
	if details == nil {
		helpers.WriteError(c, "GetLotHandler", biddingerrors.ErrLotNotFound, map[string]any{"lot_id": lotID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, details, "lot retrieved successfully")
}

// PlaceBidHandler handles POST /lots/:lot_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	user, ok := requireUser(c, "PlaceBidHandler")
	if !ok {
		return
	}
	lotID := c.Param("lot_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", biddingerrors.CodeInvalidAmount, err)
		return
	}
	amount, err := helpers.ParseAmount(req.Amount, biddingerrors.ErrInvalidAmount)
	if err != nil {
		helpers.WriteError(c, "PlaceBidHandler", err, map[string]any{"lot_id": lotID, "user_id": user.UserID})
		return
	}

	res, err := h.service.PlaceBid(c.Request.Context(), lotID, user.UserID, user.Username, amount)
	if err != nil {
		helpers.WriteError(c, "PlaceBidHandler", err, map[string]any{
			"lot_id":  lotID,
			"user_id": user.UserID,
			"amount":  amount,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewPlaceBidResponse(res), "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":       res.Bid.ID,
		"lot_id":       lotID,
		"user_id":      user.UserID,
		"amount":       amount,
		"counter_bids": len(res.CounterBids),
	})
}

// SetAutoBidHandler handles POST /lots/:lot_id/autobid
func (h *BiddingHandler) SetAutoBidHandler(c *gin.Context) {
	user, ok := requireUser(c, "SetAutoBidHandler")
	if !ok {
		return
	}
	lotID := c.Param("lot_id")

	var req helpers.SetAutoBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "SetAutoBidHandler", biddingerrors.CodeInvalidMaxAmount, err)
		return
	}
	maxAmount, err := helpers.ParseAmount(req.MaxAmount, biddingerrors.ErrInvalidMaxAmount)
	if err != nil {
		helpers.WriteError(c, "SetAutoBidHandler", err, map[string]any{"lot_id": lotID, "user_id": user.UserID})
		return
	}

	autoBid, err := h.service.SetAutoBid(c.Request.Context(), lotID, user.UserID, user.Username, maxAmount)
	if err != nil {
		helpers.WriteError(c, "SetAutoBidHandler", err, map[string]any{"lot_id": lotID, "user_id": user.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, autoBid, "auto-bid set successfully")
	helpers.LogSuccess("SetAutoBidHandler", "auto-bid set successfully", map[string]any{
		"lot_id":     lotID,
		"user_id":    user.UserID,
		"max_amount": maxAmount,
	})
}

// DisableAutoBidHandler handles DELETE /lots/:lot_id/autobid
func (h *BiddingHandler) DisableAutoBidHandler(c *gin.Context) {
	user, ok := requireUser(c, "DisableAutoBidHandler")
	if !ok {
		return
	}
	lotID := c.Param("lot_id")

	autoBid, err := h.service.DisableAutoBid(c.Request.Context(), lotID, user.UserID)
	if err != nil {
		helpers.WriteError(c, "DisableAutoBidHandler", err, map[string]any{"lot_id": lotID, "user_id": user.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, autoBid, "auto-bid disabled")
}

// AddCommentHandler handles POST /lots/:lot_id/comments
func (h *BiddingHandler) AddCommentHandler(c *gin.Context) {
	user, ok := requireUser(c, "AddCommentHandler")
	if !ok {
		return
	}
	lotID := c.Param("lot_id")

	var req helpers.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "AddCommentHandler", biddingerrors.CodeEmptyComment, err)
		return
	}

	comment, err := h.service.AddComment(c.Request.Context(), lotID, user.UserID, user.Username, req.Text)
	if err != nil {
		helpers.WriteError(c, "AddCommentHandler", err, map[string]any{"lot_id": lotID, "user_id": user.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, comment, "comment added successfully")
	helpers.LogSuccess("AddCommentHandler", "comment added successfully", map[string]any{
		"comment_id": comment.ID,
		"lot_id":     lotID,
		"user_id":    user.UserID,
	})
}

// ListCommentsHandler handles GET /lots/:lot_id/comments
func (h *BiddingHandler) ListCommentsHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	comments, err := h.service.ListComments(c.Request.Context(), lotID)
	if err != nil {
		helpers.WriteError(c, "ListCommentsHandler", err, map[string]any{"lot_id": lotID})
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}

	utils.JSONResponse(c, http.StatusOK, comments, "comments retrieved successfully")
}

// ListMyBidsHandler handles GET /me/bids
func (h *BiddingHandler) ListMyBidsHandler(c *gin.Context) {
	user, ok := requireUser(c, "ListMyBidsHandler")
	if !ok {
		return
	}

	bids, err := h.service.ListUserBids(c.Request.Context(), user.UserID)
	if err != nil {
		helpers.WriteError(c, "ListMyBidsHandler", err, map[string]any{"user_id": user.UserID})
		return
	}
	if bids == nil {
		bids = []model.UserBid{}
	}

	utils.JSONResponse(c, http.StatusOK, bids, "bids retrieved successfully")
	helpers.LogSuccess("ListMyBidsHandler", "bids retrieved successfully", map[string]any{
		"user_id":    user.UserID,
		"bids_count": len(bids),
	})
}

// CreateLotHandler handles POST /admin/lots
func (h *BiddingHandler) CreateLotHandler(c *gin.Context) {
	var req helpers.CreateLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateLotHandler", biddingerrors.CodeInvalidLot, err)
		return
	}

	in, err := newLotFromRequest(req)
	if err != nil {
		helpers.WriteError(c, "CreateLotHandler", err, nil)
		return
	}

	lot, err := h.service.CreateLot(c.Request.Context(), in)
	if err != nil {
		helpers.WriteError(c, "CreateLotHandler", err, map[string]any{"title": req.Title})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, lot, "lot created successfully")
}

func newLotFromRequest(req helpers.CreateLotRequest) (model.NewLot, error) {
	// an omitted start price means bidding opens at zero
	var startPrice int64
	if req.StartPrice.String() != "" {
		n, err := req.StartPrice.Int64()
		if err != nil {
			return model.NewLot{}, biddingerrors.ErrInvalidLot
		}
		startPrice = n
	}
	step, err := helpers.ParseAmount(req.BidStep, biddingerrors.ErrInvalidLot)
	if err != nil {
		return model.NewLot{}, err
	}
	minutes, err := helpers.ParseAmount(req.DurationMinutes, biddingerrors.ErrInvalidLot)
	if err != nil {
		return model.NewLot{}, err
	}

	in := model.NewLot{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		StartPrice:  startPrice,
		BidStep:     step,
		Duration:    time.Duration(minutes) * time.Minute,
	}
	if req.StartsAt != nil {
		in.StartsAt = *req.StartsAt
	}
	return in, nil
}

// DeleteLotHandler handles DELETE /admin/lots/:lot_id
func (h *BiddingHandler) DeleteLotHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	if err := h.service.DeleteLot(c.Request.Context(), lotID); err != nil {
		helpers.WriteError(c, "DeleteLotHandler", err, map[string]any{"lot_id": lotID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"lot_id": lotID}, "lot deleted successfully")
}
