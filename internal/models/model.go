package models

import "time"

// Status is the lifecycle state of a lot
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusLive      Status = "LIVE"
	StatusEnded     Status = "ENDED"
)

// User is the verified identity handed over by the authentication layer
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Lot represents an item being auctioned together with its price and time state
type Lot struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	ImageURL       string    `json:"image_url"`
	StartPrice     int64     `json:"start_price"`
	BidStep        int64     `json:"bid_step"`
	CurrentPrice   int64     `json:"current_price"`
	LeaderUserID   string    `json:"leader_user_id,omitempty"`
	LeaderUserName string    `json:"leader_user_name,omitempty"`
	Status         Status    `json:"status"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	OriginalEndsAt time.Time `json:"original_ends_at"`
	CreatedAt      time.Time `json:"created_at"`
	// Version is bumped by every write to the lot and acts as the compare-and-swap token.
	Version int64 `json:"version"`
}

// MinimumBid returns the lowest amount the next bid must reach
func (l Lot) MinimumBid() int64 {
	return l.CurrentPrice + l.BidStep
}

// LotSummary is the lot view embedded into a user's bid history
type LotSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ImageURL     string    `json:"image_url"`
	CurrentPrice int64     `json:"current_price"`
	LeaderUserID string    `json:"leader_user_id,omitempty"`
	Status       Status    `json:"status"`
	EndsAt       time.Time `json:"ends_at"`
}

// Summary returns the reduced view of a lot
func (l Lot) Summary() LotSummary {
	return LotSummary{
		ID:           l.ID,
		Title:        l.Title,
		ImageURL:     l.ImageURL,
		CurrentPrice: l.CurrentPrice,
		LeaderUserID: l.LeaderUserID,
		Status:       l.Status,
		EndsAt:       l.EndsAt,
	}
}

// NewLot carries the administrative input used to create a lot
type NewLot struct {
	Title       string
	Description string
	ImageURL    string
	StartPrice  int64
	BidStep     int64
	Duration    time.Duration
	// StartsAt defaults to the creation time when zero.
	StartsAt time.Time
}

// Bid represents an accepted bid on a lot
type Bid struct {
	ID        string    `json:"id"`
	LotID     string    `json:"lot_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Amount    int64     `json:"amount"`
	AutoBid   bool      `json:"auto_bid"`
	CreatedAt time.Time `json:"created_at"`
}

// UserBid is a bid in a user's history together with the lot it was placed on
type UserBid struct {
	Bid
	Lot LotSummary `json:"lot"`
}

// AutoBid is a standing proxy commitment of one user on one lot
type AutoBid struct {
	LotID     string    `json:"lot_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	MaxAmount int64     `json:"max_amount"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment is a short user message attached to a lot
type Comment struct {
	ID        string    `json:"id"`
	LotID     string    `json:"lot_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// LotDetails is the full view of one lot with its most recent activity
type LotDetails struct {
	Lot      Lot       `json:"lot"`
	Bids     []Bid     `json:"bids"`
	Comments []Comment `json:"comments"`
	AutoBids []AutoBid `json:"auto_bids"`
}

// Outbid identifies the leader displaced by an accepted bid
type Outbid struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Price    int64  `json:"price"`
}

// BidResult is the outcome of one committed bid
type BidResult struct {
	Bid    Bid     `json:"bid"`
	Lot    Lot     `json:"lot"`
	Outbid *Outbid `json:"outbid"`
}

// PlaceBidResult is the outcome of a placed bid and the proxy counter-bids it triggered
type PlaceBidResult struct {
	BidResult
	CounterBids []BidResult `json:"counter_bids,omitempty"`
}

// OutbidEvent is handed to the notification dispatcher when a leader is displaced
type OutbidEvent struct {
	LotID         string    `json:"lot_id"`
	LotTitle      string    `json:"lot_title"`
	LotURL        string    `json:"lot_url,omitempty"`
	UserID        string    `json:"user_id"`
	PreviousPrice int64     `json:"previous_price"`
	NewPrice      int64     `json:"new_price"`
	NewLeaderID   string    `json:"new_leader_id"`
	AutoBid       bool      `json:"auto_bid"`
	OccurredAt    time.Time `json:"occurred_at"`
}
