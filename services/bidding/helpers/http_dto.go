package helpers

import (
	"encoding/json"
	"time"

	model "live-auction/internal/models"
)

// Request DTOs. Amounts are decoded as json.Number so fractional or quoted
// values can be rejected with a domain code instead of a generic bind error.
type PlaceBidRequest struct {
	Amount json.Number `json:"amount"`
}

type SetAutoBidRequest struct {
	MaxAmount json.Number `json:"max_amount"`
}

type AddCommentRequest struct {
	Text string `json:"text"`
}

type CreateLotRequest struct {
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	ImageURL        string      `json:"image_url"`
	StartPrice      json.Number `json:"start_price"`
	BidStep         json.Number `json:"bid_step"`
	DurationMinutes json.Number `json:"duration_minutes"`
	StartsAt        *time.Time  `json:"starts_at,omitempty"`
}

// Response DTOs
type BidResponse struct {
	BidID     string `json:"bid_id"`
	LotID     string `json:"lot_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Amount    int64  `json:"amount"`
	AutoBid   bool   `json:"auto_bid"`
	CreatedAt string `json:"created_at"`
}

type PlaceBidResponse struct {
	Bid         BidResponse   `json:"bid"`
	Lot         model.Lot     `json:"lot"`
	Outbid      *model.Outbid `json:"outbid"`
	CounterBids []BidResponse `json:"counter_bids"`
}

// NewBidResponse converts a ledger entry to its wire form
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.ID,
		LotID:     bid.LotID,
		UserID:    bid.UserID,
		UserName:  bid.UserName,
		Amount:    bid.Amount,
		AutoBid:   bid.AutoBid,
		CreatedAt: bid.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewPlaceBidResponse reports the caller's bid and the final lot state after
// any proxy counter-bids it triggered
func NewPlaceBidResponse(res model.PlaceBidResult) PlaceBidResponse {
	resp := PlaceBidResponse{
		Bid:         NewBidResponse(res.Bid),
		Lot:         res.Lot,
		Outbid:      res.Outbid,
		CounterBids: make([]BidResponse, 0, len(res.CounterBids)),
	}
	for _, counter := range res.CounterBids {
		resp.CounterBids = append(resp.CounterBids, NewBidResponse(counter.Bid))
		resp.Lot = counter.Lot
	}
	return resp
}
