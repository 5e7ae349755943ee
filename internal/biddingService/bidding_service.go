package bidding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/lotstatus"
	"live-auction/internal/metrics"
	"live-auction/internal/models"
	"live-auction/internal/repository"
	"live-auction/utils"
)

const (
	// MaxCommentLength is counted in characters, not bytes
	MaxCommentLength = 500

	defaultSnapshotLimit = 50
	defaultUserBidsLimit = 200

	// maxCommitAttempts bounds how often one bid is re-validated after losing
	// the conditional update to a writer that left it still valid.
	maxCommitAttempts = 8
)

// Publisher pushes lot scoped events to realtime subscribers
type Publisher interface {
	Publish(ctx context.Context, ev models.Event)
}

// Notifier receives outbid events; implementations must not block
type Notifier interface {
	NotifyOutbid(ev models.OutbidEvent) bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.Event) {}

type nopNotifier struct{}

func (nopNotifier) NotifyOutbid(models.OutbidEvent) bool { return false }

// BiddingService defines the business logic for live auctions
type BiddingService struct {
	repo repository.AuctionDB

	now             func() time.Time
	antiSnipeWindow time.Duration
	maxExtension    time.Duration
	snapshotLimit   int
	userBidsLimit   int
	maxAutoRounds   int
	lotURLBase      string

	publisher Publisher
	notifier  Notifier
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *BiddingService) { s.now = now }
}

// WithAntiSnipeWindow sets how close to the deadline a bid extends it; zero disables extension
func WithAntiSnipeWindow(d time.Duration) Option {
	return func(s *BiddingService) { s.antiSnipeWindow = d }
}

// WithMaxExtension caps the total extension past the original deadline; zero means no cap
func WithMaxExtension(d time.Duration) Option {
	return func(s *BiddingService) { s.maxExtension = d }
}

// WithSnapshotLimit bounds the bids, comments and auto-bids returned with a lot
func WithSnapshotLimit(n int) Option {
	return func(s *BiddingService) {
		if n > 0 {
			s.snapshotLimit = n
		}
	}
}

// WithUserBidsLimit bounds a user's bid history
func WithUserBidsLimit(n int) Option {
	return func(s *BiddingService) {
		if n > 0 {
			s.userBidsLimit = n
		}
	}
}

// WithAutoBidRounds bounds the counter-bids chained after one accepted bid.
// Zero, the default, lets the chain run until no proxy can counter. A chain cut
// short by a bound resumes on the next bid or auto-bid change on the lot.
func WithAutoBidRounds(n int) Option {
	return func(s *BiddingService) {
		if n > 0 {
			s.maxAutoRounds = n
		}
	}
}

// WithPublisher sets the realtime event sink
func WithPublisher(p Publisher) Option {
	return func(s *BiddingService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithNotifier sets the outbid notification sink
func WithNotifier(n Notifier) Option {
	return func(s *BiddingService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLotURLBase sets the web app base used for links in notifications
func WithLotURLBase(base string) Option {
	return func(s *BiddingService) { s.lotURLBase = strings.TrimRight(base, "/") }
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:            repo,
		now:             func() time.Time { return time.Now().UTC() },
		antiSnipeWindow: lotstatus.DefaultAntiSnipeWindow,
		snapshotLimit:   defaultSnapshotLimit,
		userBidsLimit:   defaultUserBidsLimit,
		publisher:       nopPublisher{},
		notifier:        nopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// loadLot reads a lot and writes back its effective status when it drifted
func (s *BiddingService) loadLot(ctx context.Context, lotID string) (models.Lot, error) {
	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return models.Lot{}, fmt.Errorf("service: failed to get lot %s: %w", lotID, err)
	}
	return s.reconcile(ctx, lot)
}

func (s *BiddingService) reconcile(ctx context.Context, lot models.Lot) (models.Lot, error) {
	status := lotstatus.Resolve(lot, s.now())
	if status == lot.Status {
		return lot, nil
	}
	updated, err := s.repo.ReconcileStatus(ctx, lot.ID, status)
	if err != nil {
		return models.Lot{}, fmt.Errorf("service: failed to reconcile lot %s: %w", lot.ID, err)
	}
	return updated, nil
}

// ListLots returns every lot with a fresh status, live lots ending soonest first
func (s *BiddingService) ListLots(ctx context.Context) ([]models.Lot, error) {
	lots, err := s.repo.ListLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list lots: %w", err)
	}

	out := make([]models.Lot, 0, len(lots))
	for _, lot := range lots {
		fresh, err := s.reconcile(ctx, lot)
		if errors.Is(err, biddingerrors.ErrLotNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fresh)
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := lotstatus.Rank(out[i].Status), lotstatus.Rank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		if !out[i].EndsAt.Equal(out[j].EndsAt) {
			return out[i].EndsAt.Before(out[j].EndsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetLot returns a lot with its most recent bids, comments and auto-bids, or nil when absent
func (s *BiddingService) GetLot(ctx context.Context, lotID string) (*models.LotDetails, error) {
	lot, err := s.loadLot(ctx, lotID)
	if errors.Is(err, biddingerrors.ErrLotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	bids, err := s.repo.ListBidsByLot(ctx, lotID, s.snapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for lot %s: %w", lotID, err)
	}
	comments, err := s.repo.ListComments(ctx, lotID, s.snapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get comments for lot %s: %w", lotID, err)
	}
	autoBids, err := s.repo.ListAutoBids(ctx, lotID, s.snapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auto-bids for lot %s: %w", lotID, err)
	}

	return &models.LotDetails{Lot: lot, Bids: bids, Comments: comments, AutoBids: autoBids}, nil
}

// PlaceBid validates and commits a manual bid, then lets standing auto-bids counter it.
// Counter-bids that follow are returned alongside; each was committed on its own.
func (s *BiddingService) PlaceBid(ctx context.Context, lotID, userID, userName string, amount int64) (models.PlaceBidResult, error) {
	if amount <= 0 {
		return s.rejectBid(fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidAmount))
	}
	if userID == "" {
		return s.rejectBid(fmt.Errorf("service: %w - missing user", biddingerrors.ErrUnauthorized))
	}

	res, err := s.commitBid(ctx, lotID, userID, userName, amount, false)
	if err != nil {
		return s.rejectBid(err)
	}
	s.announce(ctx, res)

	counters := s.resolveAutoBids(ctx, res.Lot)
	return models.PlaceBidResult{BidResult: res, CounterBids: counters}, nil
}

func (s *BiddingService) rejectBid(err error) (models.PlaceBidResult, error) {
	metrics.BidsRejected.WithLabelValues(rejectLabel(err)).Inc()
	return models.PlaceBidResult{}, err
}

// rejectLabel drops the dynamic minimum from BID_TOO_LOW to keep label cardinality fixed
func rejectLabel(err error) string {
	if errors.Is(err, biddingerrors.ErrBidTooLow) {
		return biddingerrors.CodeBidTooLow
	}
	return biddingerrors.Code(err)
}

// commitBid runs validation and the conditional update for one bid.
//
// When the update matches no row the lot is re-read: a lot that stopped being
// LIVE fails with LOT_CLOSED, an amount below the fresh minimum fails with
// BID_TOO_LOW carrying that minimum, and a bid that is still valid is retried
// against the new version.
func (s *BiddingService) commitBid(ctx context.Context, lotID, userID, userName string, amount int64, auto bool) (models.BidResult, error) {
	lot, err := s.loadLot(ctx, lotID)
	if err != nil {
		return models.BidResult{}, err
	}

	// once the update is issued it runs to a definite outcome even if the caller gives up
	commitCtx := context.WithoutCancel(ctx)
	conflict := false

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		if lot.Status != models.StatusLive {
			return models.BidResult{}, fmt.Errorf("service: %w - lot %s is %s", biddingerrors.ErrLotClosed, lotID, lot.Status)
		}
		if amount < lot.MinimumBid() {
			return models.BidResult{}, fmt.Errorf("service: %w", biddingerrors.NewBidTooLow(lot.MinimumBid(), conflict))
		}

		now := s.now()
		bid := models.Bid{
			ID:        utils.GenerateID(),
			LotID:     lotID,
			UserID:    userID,
			UserName:  userName,
			Amount:    amount,
			AutoBid:   auto,
			CreatedAt: now,
		}
		updated, err := s.repo.CommitBid(commitCtx, repository.BidCommit{
			Bid:             bid,
			ExpectedVersion: lot.Version,
			EndsAt:          lotstatus.Extend(lot, now, s.antiSnipeWindow, s.maxExtension),
			Now:             now,
		})
		if err == nil {
			s.recordAccepted(lot, updated, auto)
			return models.BidResult{Bid: bid, Lot: updated, Outbid: displacedLeader(lot, userID)}, nil
		}
		if !errors.Is(err, repository.ErrStaleLot) {
			return models.BidResult{}, fmt.Errorf("service: failed to commit bid on lot %s by user %s: %w", lotID, userID, err)
		}

		// Lost the conditional update. Re-validate against the fresh row: a bid
		// that no longer clears it fails above with BID_TOO_LOW and the fresh
		// minimum, one that still does is retried at the new version.
		metrics.CommitConflicts.Inc()
		conflict = true
		if lot, err = s.loadLot(commitCtx, lotID); err != nil {
			return models.BidResult{}, err
		}
	}

	// Still valid but outraced every time: BID_CONFLICT tells the client the same amount may be resubmitted.
	return models.BidResult{}, fmt.Errorf("service: %w - lot %s after %d attempts", biddingerrors.ErrBidConflict, lotID, maxCommitAttempts)
}

func (s *BiddingService) recordAccepted(before, after models.Lot, auto bool) {
	origin := metrics.OriginManual
	if auto {
		origin = metrics.OriginAuto
	}
	metrics.BidsAccepted.WithLabelValues(origin).Inc()

	if after.EndsAt.After(before.EndsAt) {
		metrics.AntiSnipeExtensions.Inc()
		utils.Info("Lot deadline extended", map[string]any{
			"lot_id":   after.ID,
			"ends_at":  after.EndsAt,
			"previous": before.EndsAt,
		})
	}
}

// displacedLeader returns the leader a bid by userID pushed out, if any.
// The lot passed in is the version the commit was validated against, so its
// leader is exactly the one the update replaced.
func displacedLeader(before models.Lot, userID string) *models.Outbid {
	if before.LeaderUserID == "" || before.LeaderUserID == userID {
		return nil
	}
	return &models.Outbid{
		UserID:   before.LeaderUserID,
		UserName: before.LeaderUserName,
		Price:    before.CurrentPrice,
	}
}

// announce broadcasts an accepted bid and hands the outbid event to the notifier
func (s *BiddingService) announce(ctx context.Context, res models.BidResult) {
	lot, bid := res.Lot, res.Bid
	s.publisher.Publish(ctx, models.Event{
		Type:    models.EventBidPlaced,
		LotID:   lot.ID,
		Version: lot.Version,
		Lot:     &lot,
		Bid:     &bid,
		Outbid:  res.Outbid,
	})

	if res.Outbid == nil {
		return
	}
	s.notifier.NotifyOutbid(models.OutbidEvent{
		LotID:         lot.ID,
		LotTitle:      lot.Title,
		LotURL:        s.lotURL(lot.ID),
		UserID:        res.Outbid.UserID,
		PreviousPrice: res.Outbid.Price,
		NewPrice:      lot.CurrentPrice,
		NewLeaderID:   lot.LeaderUserID,
		AutoBid:       bid.AutoBid,
		OccurredAt:    bid.CreatedAt,
	})
}

func (s *BiddingService) lotURL(lotID string) string {
	if s.lotURLBase == "" {
		return ""
	}
	return s.lotURLBase + "/lot/" + lotID
}

// SetAutoBid creates or replaces the caller's proxy commitment on a lot.
// On a live lot the new commitment may counter the current leader right away.
func (s *BiddingService) SetAutoBid(ctx context.Context, lotID, userID, userName string, maxAmount int64) (models.AutoBid, error) {
	if maxAmount <= 0 {
		return models.AutoBid{}, fmt.Errorf("service: %w - non-positive max amount", biddingerrors.ErrInvalidMaxAmount)
	}
	if userID == "" {
		return models.AutoBid{}, fmt.Errorf("service: %w - missing user", biddingerrors.ErrUnauthorized)
	}

	lot, err := s.loadLot(ctx, lotID)
	if err != nil {
		return models.AutoBid{}, err
	}
	if lot.Status == models.StatusEnded {
		return models.AutoBid{}, fmt.Errorf("service: %w - lot %s has ended", biddingerrors.ErrLotClosed, lotID)
	}

	now := s.now()
	autoBid, err := s.repo.UpsertAutoBid(ctx, models.AutoBid{
		LotID:     lotID,
		UserID:    userID,
		UserName:  userName,
		MaxAmount: maxAmount,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.AutoBid{}, fmt.Errorf("service: failed to set auto-bid on lot %s for user %s: %w", lotID, userID, err)
	}

	s.publisher.Publish(ctx, models.Event{Type: models.EventAutoBidSet, LotID: lotID, AutoBid: &autoBid})

	if lot.Status == models.StatusLive {
		s.resolveAutoBids(ctx, lot)
	}
	return autoBid, nil
}

// DisableAutoBid withdraws the caller's proxy commitment without deleting it
func (s *BiddingService) DisableAutoBid(ctx context.Context, lotID, userID string) (models.AutoBid, error) {
	if _, err := s.repo.GetLot(ctx, lotID); err != nil {
		return models.AutoBid{}, fmt.Errorf("service: failed to get lot %s: %w", lotID, err)
	}

	autoBid, err := s.repo.DisableAutoBid(ctx, lotID, userID, s.now())
	if err != nil {
		return models.AutoBid{}, fmt.Errorf("service: failed to disable auto-bid on lot %s for user %s: %w", lotID, userID, err)
	}

	s.publisher.Publish(ctx, models.Event{Type: models.EventAutoBidDisabled, LotID: lotID, AutoBid: &autoBid})
	return autoBid, nil
}

// AddComment stores a trimmed comment and broadcasts it to the lot's subscribers
func (s *BiddingService) AddComment(ctx context.Context, lotID, userID, userName, text string) (models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Comment{}, fmt.Errorf("service: %w", biddingerrors.ErrEmptyComment)
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return models.Comment{}, fmt.Errorf("service: %w - limit is %d characters", biddingerrors.ErrCommentTooLong, MaxCommentLength)
	}

	comment := models.Comment{
		ID:        utils.GenerateID(),
		LotID:     lotID,
		UserID:    userID,
		UserName:  userName,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.repo.AddComment(ctx, comment); err != nil {
		return models.Comment{}, fmt.Errorf("service: failed to add comment on lot %s: %w", lotID, err)
	}

	s.publisher.Publish(ctx, models.Event{Type: models.EventCommentAdded, LotID: lotID, Comment: &comment})
	return comment, nil
}

// ListComments returns the most recent comments of a lot
func (s *BiddingService) ListComments(ctx context.Context, lotID string) ([]models.Comment, error) {
	if _, err := s.repo.GetLot(ctx, lotID); err != nil {
		return nil, fmt.Errorf("service: failed to get lot %s: %w", lotID, err)
	}
	comments, err := s.repo.ListComments(ctx, lotID, s.snapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get comments for lot %s: %w", lotID, err)
	}
	return comments, nil
}

// ListUserBids returns a user's bids across all lots, most recent first
func (s *BiddingService) ListUserBids(ctx context.Context, userID string) ([]models.UserBid, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - missing user", biddingerrors.ErrUnauthorized)
	}

	bids, err := s.repo.ListBidsByUser(ctx, userID, s.userBidsLimit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for user %s: %w", userID, err)
	}

	// summaries are display only; show a lapsed deadline as ended without a write
	now := s.now()
	for i := range bids {
		if bids[i].Lot.Status == models.StatusLive && !now.Before(bids[i].Lot.EndsAt) {
			bids[i].Lot.Status = models.StatusEnded
		}
	}
	return bids, nil
}

// CreateLot opens a lot for the requested duration, starting now unless a start time is given
func (s *BiddingService) CreateLot(ctx context.Context, in models.NewLot) (models.Lot, error) {
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return models.Lot{}, fmt.Errorf("service: %w - empty title", biddingerrors.ErrInvalidLot)
	case in.StartPrice < 0:
		return models.Lot{}, fmt.Errorf("service: %w - negative start price", biddingerrors.ErrInvalidLot)
	case in.BidStep < 1:
		return models.Lot{}, fmt.Errorf("service: %w - bid step below 1", biddingerrors.ErrInvalidLot)
	case in.Duration <= 0:
		return models.Lot{}, fmt.Errorf("service: %w - non-positive duration", biddingerrors.ErrInvalidLot)
	}

	now := s.now()
	startsAt := in.StartsAt
	if startsAt.IsZero() {
		startsAt = now
	}
	endsAt := startsAt.Add(in.Duration)

	lot := models.Lot{
		ID:             utils.GenerateID(),
		Title:          in.Title,
		Description:    strings.TrimSpace(in.Description),
		ImageURL:       strings.TrimSpace(in.ImageURL),
		StartPrice:     in.StartPrice,
		BidStep:        in.BidStep,
		CurrentPrice:   in.StartPrice,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		OriginalEndsAt: endsAt,
		CreatedAt:      now,
	}
	lot.Status = lotstatus.Resolve(lot, now)

	if err := s.repo.CreateLot(ctx, lot); err != nil {
		return models.Lot{}, fmt.Errorf("service: failed to create lot: %w", err)
	}

	utils.Info("Lot created", map[string]any{
		"lot_id":      lot.ID,
		"title":       lot.Title,
		"start_price": lot.StartPrice,
		"bid_step":    lot.BidStep,
		"ends_at":     lot.EndsAt,
	})
	return lot, nil
}

// DeleteLot removes a lot together with its bids, comments and auto-bids
func (s *BiddingService) DeleteLot(ctx context.Context, lotID string) error {
	if err := s.repo.DeleteLot(ctx, lotID); err != nil {
		return fmt.Errorf("service: failed to delete lot %s: %w", lotID, err)
	}
	utils.Info("Lot deleted", map[string]any{"lot_id": lotID})
	return nil
}
