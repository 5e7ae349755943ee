package repository

import (
	"context"
	"errors"
	"time"

	model "live-auction/internal/models"
)

// ErrStaleLot is returned by CommitBid when the conditional update matched no row:
// another writer changed the lot, or it is no longer accepting bids.
var ErrStaleLot = errors.New("lot changed since it was read")

// BidCommit describes one conditional price update plus its ledger entry
type BidCommit struct {
	Bid model.Bid
	// ExpectedVersion is the lot version the caller validated against.
	ExpectedVersion int64
	// EndsAt is the deadline to store with the bid; equal to the current one
	// when no anti-snipe extension applies.
	EndsAt time.Time
	Now    time.Time
}

// LotStore holds lots and their price state
type LotStore interface {
	CreateLot(ctx context.Context, lot model.Lot) error
	GetLot(ctx context.Context, lotID string) (model.Lot, error)
	ListLots(ctx context.Context) ([]model.Lot, error)
	DeleteLot(ctx context.Context, lotID string) error
	// ReconcileStatus persists a resolved status. An ENDED lot is never rewritten.
	ReconcileStatus(ctx context.Context, lotID string, status model.Status) (model.Lot, error)
	// CommitBid atomically applies the new price, leader and deadline and appends
	// the bid, provided the stored row still has the expected version, is LIVE,
	// lies inside its time window and leaves room for the bid step.
	CommitBid(ctx context.Context, commit BidCommit) (model.Lot, error)
}

// BidLedger is the append-only record of accepted bids
type BidLedger interface {
	ListBidsByLot(ctx context.Context, lotID string, limit int) ([]model.Bid, error)
	ListBidsByUser(ctx context.Context, userID string, limit int) ([]model.UserBid, error)
}

// AutoBidStore keeps one proxy commitment per (lot, user)
type AutoBidStore interface {
	UpsertAutoBid(ctx context.Context, autoBid model.AutoBid) (model.AutoBid, error)
	DisableAutoBid(ctx context.Context, lotID, userID string, at time.Time) (model.AutoBid, error)
	ListAutoBids(ctx context.Context, lotID string, limit int) ([]model.AutoBid, error)
	ListActiveAutoBids(ctx context.Context, lotID string) ([]model.AutoBid, error)
}

// CommentStore keeps lot scoped comments
type CommentStore interface {
	AddComment(ctx context.Context, comment model.Comment) error
	ListComments(ctx context.Context, lotID string, limit int) ([]model.Comment, error)
}

// AuctionDB defines the storage interface for the auction system
type AuctionDB interface {
	LotStore
	BidLedger
	AutoBidStore
	CommentStore
	Ping(ctx context.Context) error
}
