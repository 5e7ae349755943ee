package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB.
// Its mutex plays the role of the database row lock: every conditional update
// is evaluated and applied under it.
type MemoryRepo struct {
	mu       sync.RWMutex
	lots     map[string]model.Lot                // key: lotID -> value: lot
	bids     map[string][]model.Bid              // key: lotID -> value: bids in commit order
	autoBids map[string]map[string]model.AutoBid // key: lotID -> userID -> auto-bid
	comments map[string][]model.Comment          // key: lotID -> value: comments in insert order
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		lots:     make(map[string]model.Lot),
		bids:     make(map[string][]model.Bid),
		autoBids: make(map[string]map[string]model.AutoBid),
		comments: make(map[string][]model.Comment),
	}
}

// Ping always succeeds for the in-memory store
func (r *MemoryRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateLot stores a new lot
func (r *MemoryRepo) CreateLot(ctx context.Context, lot model.Lot) error {
	if lot.ID == "" {
		return fmt.Errorf("create lot: %w", biddingerrors.ErrInvalidLot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lots[lot.ID]; exists {
		return fmt.Errorf("create lot %s: duplicate id: %w", lot.ID, biddingerrors.ErrInvalidLot)
	}
	r.lots[lot.ID] = lot
	return nil
}

// GetLot returns a lot by id
func (r *MemoryRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lot, ok := r.lots[lotID]
	if !ok {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, biddingerrors.ErrLotNotFound)
	}
	return lot, nil
}

// ListLots returns every stored lot in no particular order
func (r *MemoryRepo) ListLots(ctx context.Context) ([]model.Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lots := make([]model.Lot, 0, len(r.lots))
	for _, lot := range r.lots {
		lots = append(lots, lot)
	}
	return lots, nil
}

// DeleteLot removes a lot together with its bids, comments and auto-bids
func (r *MemoryRepo) DeleteLot(ctx context.Context, lotID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lots[lotID]; !ok {
		return fmt.Errorf("delete lot %s: %w", lotID, biddingerrors.ErrLotNotFound)
	}
	delete(r.lots, lotID)
	delete(r.bids, lotID)
	delete(r.autoBids, lotID)
	delete(r.comments, lotID)
	return nil
}

// ReconcileStatus persists a resolved status unless the lot already ended
func (r *MemoryRepo) ReconcileStatus(ctx context.Context, lotID string, status model.Status) (model.Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lot, ok := r.lots[lotID]
	if !ok {
		return model.Lot{}, fmt.Errorf("reconcile lot %s: %w", lotID, biddingerrors.ErrLotNotFound)
	}
	if lot.Status == model.StatusEnded || lot.Status == status {
		return lot, nil
	}
	lot.Status = status
	lot.Version++
	r.lots[lotID] = lot
	return lot, nil
}

// CommitBid applies the conditional price update and appends the bid in one step
func (r *MemoryRepo) CommitBid(ctx context.Context, commit BidCommit) (model.Lot, error) {
	if err := ctx.Err(); err != nil {
		return model.Lot{}, err
	}
	bid := commit.Bid

	r.mu.Lock()
	defer r.mu.Unlock()

	lot, ok := r.lots[bid.LotID]
	if !ok {
		return model.Lot{}, fmt.Errorf("commit bid on lot %s: %w", bid.LotID, biddingerrors.ErrLotNotFound)
	}

	if lot.Version != commit.ExpectedVersion ||
		lot.Status != model.StatusLive ||
		commit.Now.Before(lot.StartsAt) ||
		!commit.Now.Before(lot.EndsAt) ||
		lot.CurrentPrice > bid.Amount-lot.BidStep {
		return model.Lot{}, fmt.Errorf("commit bid on lot %s: %w", bid.LotID, ErrStaleLot)
	}

	lot.CurrentPrice = bid.Amount
	lot.LeaderUserID = bid.UserID
	lot.LeaderUserName = bid.UserName
	if commit.EndsAt.After(lot.EndsAt) {
		lot.EndsAt = commit.EndsAt
	}
	lot.Version++

	r.lots[lot.ID] = lot
	r.bids[lot.ID] = append(r.bids[lot.ID], bid)
	return lot, nil
}

// ListBidsByLot returns up to limit bids of a lot, newest first
func (r *MemoryRepo) ListBidsByLot(ctx context.Context, lotID string, limit int) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := r.bids[lotID]
	out := make([]model.Bid, 0, capped(len(bids), limit))
	for i := len(bids) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, bids[i])
	}
	return out, nil
}

// ListBidsByUser returns up to limit bids of a user across all lots, newest first
func (r *MemoryRepo) ListBidsByUser(ctx context.Context, userID string, limit int) ([]model.UserBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type seqBid struct {
		bid model.Bid
		seq int
	}
	var mine []seqBid
	for lotID, bids := range r.bids {
		if _, ok := r.lots[lotID]; !ok {
			continue
		}
		for i, b := range bids {
			if b.UserID == userID {
				mine = append(mine, seqBid{bid: b, seq: i})
			}
		}
	}

	sort.SliceStable(mine, func(i, j int) bool {
		a, b := mine[i].bid, mine[j].bid
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.LotID == b.LotID {
			return mine[i].seq > mine[j].seq
		}
		return a.ID > b.ID
	})

	out := make([]model.UserBid, 0, capped(len(mine), limit))
	for _, m := range mine {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, model.UserBid{Bid: m.bid, Lot: r.lots[m.bid.LotID].Summary()})
	}
	return out, nil
}

// UpsertAutoBid creates or replaces the auto-bid of (lot, user); the original
// creation time is kept so tie-breaks stay stable.
func (r *MemoryRepo) UpsertAutoBid(ctx context.Context, autoBid model.AutoBid) (model.AutoBid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lots[autoBid.LotID]; !ok {
		return model.AutoBid{}, fmt.Errorf("upsert auto-bid on lot %s: %w", autoBid.LotID, biddingerrors.ErrLotNotFound)
	}
	byUser, ok := r.autoBids[autoBid.LotID]
	if !ok {
		byUser = make(map[string]model.AutoBid)
		r.autoBids[autoBid.LotID] = byUser
	}
	if existing, ok := byUser[autoBid.UserID]; ok {
		autoBid.CreatedAt = existing.CreatedAt
	}
	byUser[autoBid.UserID] = autoBid
	return autoBid, nil
}

// DisableAutoBid marks the auto-bid of (lot, user) inactive
func (r *MemoryRepo) DisableAutoBid(ctx context.Context, lotID, userID string, at time.Time) (model.AutoBid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ab, ok := r.autoBids[lotID][userID]
	if !ok {
		return model.AutoBid{}, fmt.Errorf("disable auto-bid on lot %s for user %s: %w", lotID, userID, biddingerrors.ErrAutoBidNotFound)
	}
	ab.IsActive = false
	ab.UpdatedAt = at
	r.autoBids[lotID][userID] = ab
	return ab, nil
}

// ListAutoBids returns up to limit auto-bids of a lot, most recently updated first
func (r *MemoryRepo) ListAutoBids(ctx context.Context, lotID string, limit int) ([]model.AutoBid, error) {
	r.mu.RLock()
	all := make([]model.AutoBid, 0, len(r.autoBids[lotID]))
	for _, ab := range r.autoBids[lotID] {
		all = append(all, ab)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].UserID < all[j].UserID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListActiveAutoBids returns every active auto-bid of a lot
func (r *MemoryRepo) ListActiveAutoBids(ctx context.Context, lotID string) ([]model.AutoBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]model.AutoBid, 0, len(r.autoBids[lotID]))
	for _, ab := range r.autoBids[lotID] {
		if ab.IsActive {
			active = append(active, ab)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UserID < active[j].UserID })
	return active, nil
}

// AddComment appends a comment to a lot
func (r *MemoryRepo) AddComment(ctx context.Context, comment model.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lots[comment.LotID]; !ok {
		return fmt.Errorf("add comment on lot %s: %w", comment.LotID, biddingerrors.ErrLotNotFound)
	}
	r.comments[comment.LotID] = append(r.comments[comment.LotID], comment)
	return nil
}

// ListComments returns up to limit comments of a lot, newest first
func (r *MemoryRepo) ListComments(ctx context.Context, lotID string, limit int) ([]model.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comments := r.comments[lotID]
	out := make([]model.Comment, 0, capped(len(comments), limit))
	for i := len(comments) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, comments[i])
	}
	return out, nil
}

func capped(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
