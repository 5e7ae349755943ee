package bidding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/repository"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) ofType(t model.EventType) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.OutbidEvent
}

func (n *recordingNotifier) NotifyOutbid(ev model.OutbidEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) users() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.UserID)
	}
	return out
}

type testEnv struct {
	svc       *BiddingService
	repo      *repository.MemoryRepo
	clock     *fakeClock
	published *recordingPublisher
	notified  *recordingNotifier
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	env := testEnv{
		repo:      repository.NewMemoryRepo(),
		clock:     newFakeClock(),
		published: &recordingPublisher{},
		notified:  &recordingNotifier{},
	}
	opts = append([]Option{
		WithClock(env.clock.Now),
		WithPublisher(env.published),
		WithNotifier(env.notified),
		WithLotURLBase("https://auction.example/"),
	}, opts...)
	env.svc = NewBiddingService(env.repo, opts...)
	return env
}

func (e testEnv) createLot(t *testing.T, startPrice, bidStep int64, duration time.Duration) model.Lot {
	t.Helper()
	lot, err := e.svc.CreateLot(context.Background(), model.NewLot{
		Title:      "BMW STH Stranger Things",
		ImageURL:   "/bmw-sth.jpg",
		StartPrice: startPrice,
		BidStep:    bidStep,
		Duration:   duration,
	})
	require.NoError(t, err)
	return lot
}

func (e testEnv) bid(t *testing.T, lotID, userID string, amount int64) model.PlaceBidResult {
	t.Helper()
	res, err := e.svc.PlaceBid(context.Background(), lotID, userID, "name-"+userID, amount)
	require.NoError(t, err)
	return res
}

// Created lot is live immediately; first bid sets the leader; a low bid reports the minimum
func TestBiddingService_CreateAndBidScenario(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, 80, 10, 60*time.Minute)

	details, err := env.svc.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.NotNil(t, details)
	require.Equal(t, model.StatusLive, details.Lot.Status)
	require.Equal(t, int64(80), details.Lot.CurrentPrice)
	require.Empty(t, details.Lot.LeaderUserID)
	require.True(t, details.Lot.EndsAt.Equal(baseTime.Add(time.Hour)))

	res := env.bid(t, lot.ID, "alice", 90)
	require.Equal(t, "alice", res.Lot.LeaderUserID)
	require.Equal(t, int64(90), res.Lot.CurrentPrice)
	require.Equal(t, int64(90), res.Bid.Amount)
	require.Nil(t, res.Outbid)

	_, err = env.svc.PlaceBid(ctx, lot.ID, "bob", "Bob", 85)
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)
	require.Equal(t, "BID_TOO_LOW:100", biddingerrors.Code(err))
}

func TestBiddingService_PlaceBid_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	live := env.createLot(t, 80, 10, time.Hour)
	scheduled, err := env.svc.CreateLot(ctx, model.NewLot{Title: "later", StartPrice: 10, BidStep: 1, Duration: time.Hour, StartsAt: baseTime.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, model.StatusScheduled, scheduled.Status)
	ended := env.createLot(t, 10, 1, time.Minute)

	// the short lot lapses without any writes; the engine reconciles it on read
	env.clock.Advance(2 * time.Minute)

	tests := []struct {
		name     string
		lotID    string
		userID   string
		amount   int64
		wantCode string
	}{
		{name: "zero_amount", lotID: live.ID, userID: "alice", amount: 0, wantCode: "INVALID_AMOUNT"},
		{name: "negative_amount", lotID: live.ID, userID: "alice", amount: -5, wantCode: "INVALID_AMOUNT"},
		{name: "amount_checked_before_lot", lotID: "missing", userID: "alice", amount: 0, wantCode: "INVALID_AMOUNT"},
		{name: "missing_user", lotID: live.ID, userID: "", amount: 100, wantCode: "UNAUTHORIZED"},
		{name: "lot_not_found", lotID: "missing", userID: "alice", amount: 100, wantCode: "LOT_NOT_FOUND"},
		{name: "not_started", lotID: scheduled.ID, userID: "alice", amount: 100, wantCode: "LOT_CLOSED"},
		{name: "ended", lotID: ended.ID, userID: "alice", amount: 100, wantCode: "LOT_CLOSED"},
		{name: "below_minimum", lotID: live.ID, userID: "alice", amount: 89, wantCode: "BID_TOO_LOW:90"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.PlaceBid(ctx, tc.lotID, tc.userID, "name", tc.amount)
			require.Error(t, err)
			require.Equal(t, tc.wantCode, biddingerrors.Code(err))
		})
	}

	stored, err := env.repo.GetLot(ctx, ended.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, stored.Status, "effective status is written back")
}

// Two concurrent bids of 100 on 80/10: exactly one wins, the other learns the fresh minimum
func TestBiddingService_ConcurrentSamePrice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	lot := env.createLot(t, 80, 10, time.Hour)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.PlaceBid(context.Background(), lot.ID, fmt.Sprintf("user%d", i), "", 100)
		}(i)
	}
	wg.Wait()

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], biddingerrors.ErrBidTooLow)
	minimum, ok := biddingerrors.MinimumBid(failures[0])
	require.True(t, ok)
	require.GreaterOrEqual(t, minimum, int64(100))
	require.True(t, biddingerrors.IsRetryable(failures[0]))

	stored, err := env.repo.GetLot(context.Background(), lot.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), stored.CurrentPrice)
	bids, err := env.repo.ListBidsByLot(context.Background(), lot.ID, 0)
	require.NoError(t, err)
	require.Len(t, bids, 1)
}

// Many bidders hammering one lot: the ledger holds exactly the accepted bids in increasing order
func TestBiddingService_ConcurrentBiddingWar(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, 0, 5, time.Hour)

	const (
		bidders  = 16
		attempts = 40
	)
	var (
		wg       sync.WaitGroup
		accepted int64
		highest  int64
		mu       sync.Mutex
	)
	for b := 0; b < bidders; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(b)))
			userID := fmt.Sprintf("bidder%d", b)
			for i := 0; i < attempts; i++ {
				current, err := env.repo.GetLot(ctx, lot.ID)
				if err != nil {
					return
				}
				amount := current.MinimumBid() + int64(rng.Intn(3))*current.BidStep
				res, err := env.svc.PlaceBid(ctx, lot.ID, userID, userID, amount)
				if err != nil {
					if !biddingerrors.IsRetryable(err) {
						t.Errorf("unexpected error: %v", err)
						return
					}
					continue
				}
				atomic.AddInt64(&accepted, 1)
				mu.Lock()
				if res.Bid.Amount > highest {
					highest = res.Bid.Amount
				}
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	stored, err := env.repo.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	bids, err := env.repo.ListBidsByLot(ctx, lot.ID, 0)
	require.NoError(t, err)

	require.Equal(t, int(accepted), len(bids))
	require.Equal(t, highest, stored.CurrentPrice)
	require.Equal(t, stored.CurrentPrice, bids[0].Amount, "latest ledger entry matches the lot price")
	require.Equal(t, bids[0].UserID, stored.LeaderUserID)
	for i := 1; i < len(bids); i++ {
		require.GreaterOrEqual(t, bids[i-1].Amount-bids[i].Amount, stored.BidStep, "each accepted bid clears the previous one by a full step")
	}
	require.Equal(t, int64(len(bids)), stored.Version, "one version per accepted bid")
}

func TestBiddingService_AntiSnipe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("early_bid_keeps_deadline", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		lot := env.createLot(t, 80, 10, time.Minute)

		env.clock.Advance(49 * time.Second)
		res := env.bid(t, lot.ID, "alice", 90)
		require.True(t, res.Lot.EndsAt.Equal(lot.EndsAt))
	})

	t.Run("late_bid_extends_deadline", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		lot := env.createLot(t, 80, 10, time.Minute)

		env.clock.Advance(55 * time.Second)
		now := env.clock.Now()
		res := env.bid(t, lot.ID, "alice", 90)
		require.False(t, res.Lot.EndsAt.Before(now.Add(10*time.Second)))
		require.True(t, res.Lot.OriginalEndsAt.Equal(lot.EndsAt))

		// past the original deadline but inside the extension the lot still accepts bids
		env.clock.Advance(8 * time.Second)
		res = env.bid(t, lot.ID, "bob", 100)
		require.True(t, res.Lot.EndsAt.Equal(env.clock.Now().Add(10*time.Second)))

		env.clock.Advance(11 * time.Second)
		_, err := env.svc.PlaceBid(ctx, lot.ID, "alice", "", 110)
		require.ErrorIs(t, err, biddingerrors.ErrLotClosed)
	})

	t.Run("cap_limits_total_extension", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, WithMaxExtension(15*time.Second))
		lot := env.createLot(t, 80, 10, time.Minute)

		env.clock.Advance(58 * time.Second)
		res := env.bid(t, lot.ID, "alice", 90)
		require.True(t, res.Lot.EndsAt.Equal(lot.EndsAt.Add(8*time.Second)))

		env.clock.Advance(9 * time.Second)
		res = env.bid(t, lot.ID, "bob", 100)
		require.True(t, res.Lot.EndsAt.Equal(lot.EndsAt.Add(15*time.Second)))
	})
}

// Outbid fires for the displaced leader only, never for a user raising their own bid
func TestBiddingService_OutbidNotification(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	lot := env.createLot(t, 80, 10, time.Hour)

	env.bid(t, lot.ID, "alice", 90)
	res := env.bid(t, lot.ID, "alice", 100)
	require.Nil(t, res.Outbid, "raising your own bid is not an outbid")
	require.Empty(t, env.notified.users())

	res = env.bid(t, lot.ID, "bob", 110)
	require.NotNil(t, res.Outbid)
	require.Equal(t, "alice", res.Outbid.UserID)
	require.Equal(t, int64(100), res.Outbid.Price)
	require.Equal(t, []string{"alice"}, env.notified.users())

	ev := env.notified.events[0]
	require.Equal(t, lot.ID, ev.LotID)
	require.Equal(t, lot.Title, ev.LotTitle)
	require.Equal(t, int64(110), ev.NewPrice)
	require.Equal(t, "bob", ev.NewLeaderID)
	require.Equal(t, "https://auction.example/lot/"+lot.ID, ev.LotURL)
}

// BID_PLACED events carry increasing lot versions in commit order
func TestBiddingService_BidPlacedEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	lot := env.createLot(t, 0, 1, time.Hour)

	for i, user := range []string{"alice", "bob", "alice", "carol"} {
		env.bid(t, lot.ID, user, int64(i+1))
	}

	events := env.published.ofType(model.EventBidPlaced)
	require.Len(t, events, 4)
	for i, ev := range events {
		require.Equal(t, lot.ID, ev.LotID)
		require.Equal(t, int64(i+1), ev.Version)
		require.Equal(t, ev.Version, ev.Lot.Version)
		require.Equal(t, int64(i+1), ev.Bid.Amount)
	}
	require.Nil(t, events[0].Outbid)
	require.Equal(t, "alice", events[1].Outbid.UserID)
}

func TestBiddingService_StatusIsSticky(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, 10, 1, time.Minute)

	env.clock.Advance(time.Minute)
	details, err := env.svc.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, details.Lot.Status)

	// going back in time must not revive the lot
	env.clock.Advance(-30 * time.Second)
	for i := 0; i < 3; i++ {
		details, err = env.svc.GetLot(ctx, lot.ID)
		require.NoError(t, err)
		require.Equal(t, model.StatusEnded, details.Lot.Status)
	}
	_, err = env.svc.PlaceBid(ctx, lot.ID, "alice", "", 11)
	require.ErrorIs(t, err, biddingerrors.ErrLotClosed)
}

func TestBiddingService_ListLots(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	endedLot := env.createLot(t, 1, 1, time.Minute)
	liveLong := env.createLot(t, 1, 1, 3*time.Hour)
	liveShort := env.createLot(t, 1, 1, 2*time.Hour)
	upcoming, err := env.svc.CreateLot(ctx, model.NewLot{Title: "soon", StartPrice: 1, BidStep: 1, Duration: time.Hour, StartsAt: baseTime.Add(90 * time.Minute)})
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)
	lots, err := env.svc.ListLots(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(lots))
	for _, l := range lots {
		ids = append(ids, l.ID)
	}
	require.Equal(t, []string{liveShort.ID, liveLong.ID, upcoming.ID, endedLot.ID}, ids)
	require.Equal(t, model.StatusEnded, lots[3].Status)
}

func TestBiddingService_GetLotSnapshot(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithSnapshotLimit(3))
	ctx := context.Background()
	lot := env.createLot(t, 0, 1, time.Hour)

	for i := int64(1); i <= 5; i++ {
		env.bid(t, lot.ID, fmt.Sprintf("user%d", i), i)
		_, err := env.svc.AddComment(ctx, lot.ID, "alice", "Alice", fmt.Sprintf("comment %d", i))
		require.NoError(t, err)
	}

	details, err := env.svc.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, details.Bids, 3)
	require.Equal(t, int64(5), details.Bids[0].Amount)
	require.Len(t, details.Comments, 3)
	require.Equal(t, "comment 5", details.Comments[0].Text)
	require.Empty(t, details.AutoBids)

	missing, err := env.svc.GetLot(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBiddingService_Comments(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, 0, 1, time.Hour)

	tests := []struct {
		name     string
		lotID    string
		text     string
		wantCode string
		wantText string
	}{
		{name: "trimmed", lotID: lot.ID, text: "  nice car \n", wantText: "nice car"},
		{name: "max_length_multibyte", lotID: lot.ID, text: strings.Repeat("ї", MaxCommentLength), wantText: strings.Repeat("ї", MaxCommentLength)},
		{name: "empty", lotID: lot.ID, text: " \t ", wantCode: "EMPTY_COMMENT"},
		{name: "too_long", lotID: lot.ID, text: strings.Repeat("ї", MaxCommentLength+1), wantCode: "COMMENT_TOO_LONG"},
		{name: "unknown_lot", lotID: "missing", text: "hello", wantCode: "LOT_NOT_FOUND"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			comment, err := env.svc.AddComment(ctx, tc.lotID, "alice", "Alice", tc.text)
			if tc.wantCode != "" {
				require.Equal(t, tc.wantCode, biddingerrors.Code(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantText, comment.Text)
		})
	}

	t.Run("listed_and_published", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		lot := env.createLot(t, 0, 1, time.Hour)
		comment, err := env.svc.AddComment(ctx, lot.ID, "bob", "Bob", "first")
		require.NoError(t, err)

		listed, err := env.svc.ListComments(ctx, lot.ID)
		require.NoError(t, err)
		require.Equal(t, []model.Comment{comment}, listed)

		events := env.published.ofType(model.EventCommentAdded)
		require.Len(t, events, 1)
		require.Equal(t, comment.ID, events[0].Comment.ID)

		_, err = env.svc.ListComments(ctx, "missing")
		require.ErrorIs(t, err, biddingerrors.ErrLotNotFound)
	})
}

func TestBiddingService_ListUserBids(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithUserBidsLimit(2))
	ctx := context.Background()
	first := env.createLot(t, 0, 1, time.Minute)
	second := env.createLot(t, 0, 1, time.Hour)

	env.bid(t, first.ID, "alice", 1)
	env.clock.Advance(time.Second)
	env.bid(t, second.ID, "alice", 1)
	env.clock.Advance(time.Second)
	env.bid(t, second.ID, "alice", 2)
	env.clock.Advance(time.Minute)

	bids, err := env.svc.ListUserBids(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, int64(2), bids[0].Amount)
	require.Equal(t, second.ID, bids[0].Lot.ID)
	require.Equal(t, int64(1), bids[1].Amount)

	all, err := NewBiddingService(env.repo, WithClock(env.clock.Now)).ListUserBids(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, first.ID, all[2].Lot.ID)
	require.Equal(t, model.StatusEnded, all[2].Lot.Status, "lapsed lots are shown as ended")

	_, err = env.svc.ListUserBids(ctx, "")
	require.ErrorIs(t, err, biddingerrors.ErrUnauthorized)
}

func TestBiddingService_CreateLot_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name string
		in   model.NewLot
	}{
		{name: "empty_title", in: model.NewLot{Title: "  ", StartPrice: 1, BidStep: 1, Duration: time.Hour}},
		{name: "negative_start", in: model.NewLot{Title: "x", StartPrice: -1, BidStep: 1, Duration: time.Hour}},
		{name: "zero_step", in: model.NewLot{Title: "x", StartPrice: 1, BidStep: 0, Duration: time.Hour}},
		{name: "zero_duration", in: model.NewLot{Title: "x", StartPrice: 1, BidStep: 1}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := env.svc.CreateLot(context.Background(), tc.in)
			require.ErrorIs(t, err, biddingerrors.ErrInvalidLot)
		})
	}
}

// Deleting a lot removes its bids, comments and auto-bids
func TestBiddingService_DeleteLotCascades(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	lot := env.createLot(t, 80, 10, time.Hour)

	env.bid(t, lot.ID, "alice", 90)
	_, err := env.svc.AddComment(ctx, lot.ID, "alice", "Alice", "mine")
	require.NoError(t, err)
	_, err = env.svc.SetAutoBid(ctx, lot.ID, "bob", "Bob", 200)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteLot(ctx, lot.ID))

	details, err := env.svc.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Nil(t, details)

	bids, _ := env.repo.ListBidsByLot(ctx, lot.ID, 0)
	require.Empty(t, bids)
	comments, _ := env.repo.ListComments(ctx, lot.ID, 0)
	require.Empty(t, comments)
	autoBids, _ := env.repo.ListAutoBids(ctx, lot.ID, 0)
	require.Empty(t, autoBids)
	userBids, err := env.svc.ListUserBids(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, userBids)

	require.ErrorIs(t, env.svc.DeleteLot(ctx, lot.ID), biddingerrors.ErrLotNotFound)
}

// Infrastructure failures surface as INTERNAL and are never retried as conflicts
func TestBiddingService_InfrastructureErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := newFakeClock()
	live := model.Lot{
		ID:             "lot1",
		StartPrice:     80,
		BidStep:        10,
		CurrentPrice:   80,
		Status:         model.StatusLive,
		StartsAt:       baseTime.Add(-time.Minute),
		EndsAt:         baseTime.Add(time.Hour),
		OriginalEndsAt: baseTime.Add(time.Hour),
	}
	boom := errors.New("connection reset")

	tests := []struct {
		name      string
		mockSetup func(m *repository.MockAuctionDB)
		wantErr   error
		wantCode  string
	}{
		{
			name: "read_failure",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetLot(gomock.Any(), "lot1").Return(model.Lot{}, boom)
			},
			wantErr:  boom,
			wantCode: "INTERNAL",
		},
		{
			name: "commit_failure_not_retried",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetLot(gomock.Any(), "lot1").Return(live, nil)
				m.EXPECT().CommitBid(gomock.Any(), gomock.Any()).Return(model.Lot{}, boom).Times(1)
			},
			wantErr:  boom,
			wantCode: "INTERNAL",
		},
		{
			name: "persistent_conflict",
			mockSetup: func(m *repository.MockAuctionDB) {
				m.EXPECT().GetLot(gomock.Any(), "lot1").Return(live, nil).Times(maxCommitAttempts + 1)
				m.EXPECT().CommitBid(gomock.Any(), gomock.Any()).Return(model.Lot{}, repository.ErrStaleLot).Times(maxCommitAttempts)
			},
			wantErr:  biddingerrors.ErrBidConflict,
			wantCode: "BID_CONFLICT",
		},
		{
			name: "lot_deleted_mid_flight",
			mockSetup: func(m *repository.MockAuctionDB) {
				gomock.InOrder(
					m.EXPECT().GetLot(gomock.Any(), "lot1").Return(live, nil),
					m.EXPECT().CommitBid(gomock.Any(), gomock.Any()).Return(model.Lot{}, repository.ErrStaleLot),
					m.EXPECT().GetLot(gomock.Any(), "lot1").Return(model.Lot{}, biddingerrors.ErrLotNotFound),
				)
			},
			wantErr:  biddingerrors.ErrLotNotFound,
			wantCode: "LOT_NOT_FOUND",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := repository.NewMockAuctionDB(ctrl)
			tc.mockSetup(mockRepo)
			service := NewBiddingService(mockRepo, WithClock(clock.Now))

			_, err := service.PlaceBid(context.Background(), "lot1", "alice", "Alice", 100)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantCode, biddingerrors.Code(err))
		})
	}
}

// A bid outpriced by the writer it lost to fails with the fresh minimum, not a conflict
func TestBiddingService_LostUpdateReportsFreshMinimum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := repository.NewMockAuctionDB(ctrl)
	clock := newFakeClock()

	v0 := model.Lot{ID: "lot1", StartPrice: 80, BidStep: 10, CurrentPrice: 80, Status: model.StatusLive,
		StartsAt: baseTime.Add(-time.Minute), EndsAt: baseTime.Add(time.Hour)}
	v1 := v0
	v1.CurrentPrice, v1.LeaderUserID, v1.Version = 120, "bob", 1

	gomock.InOrder(
		mockRepo.EXPECT().GetLot(gomock.Any(), "lot1").Return(v0, nil),
		mockRepo.EXPECT().CommitBid(gomock.Any(), gomock.Any()).Return(model.Lot{}, repository.ErrStaleLot),
		mockRepo.EXPECT().GetLot(gomock.Any(), "lot1").Return(v1, nil),
	)

	service := NewBiddingService(mockRepo, WithClock(clock.Now))
	_, err := service.PlaceBid(context.Background(), "lot1", "alice", "Alice", 100)
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)
	require.Equal(t, "BID_TOO_LOW:130", biddingerrors.Code(err))
	minimum, ok := biddingerrors.MinimumBid(err)
	require.True(t, ok)
	require.Equal(t, int64(130), minimum)
}

// A bid that loses the update but is still above the fresh minimum is retried, not rejected
func TestBiddingService_RetriesStillValidBid(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := repository.NewMockAuctionDB(ctrl)
	clock := newFakeClock()

	v0 := model.Lot{ID: "lot1", StartPrice: 80, BidStep: 10, CurrentPrice: 80, Status: model.StatusLive,
		StartsAt: baseTime.Add(-time.Minute), EndsAt: baseTime.Add(time.Hour)}
	v1 := v0
	v1.CurrentPrice, v1.LeaderUserID, v1.Version = 90, "bob", 1
	v2 := v1
	v2.CurrentPrice, v2.LeaderUserID, v2.Version = 120, "alice", 2

	gomock.InOrder(
		mockRepo.EXPECT().GetLot(gomock.Any(), "lot1").Return(v0, nil),
		mockRepo.EXPECT().CommitBid(gomock.Any(), gomock.Any()).Return(model.Lot{}, repository.ErrStaleLot),
		mockRepo.EXPECT().GetLot(gomock.Any(), "lot1").Return(v1, nil),
		mockRepo.EXPECT().CommitBid(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, c repository.BidCommit) (model.Lot, error) {
				require.Equal(t, int64(1), c.ExpectedVersion)
				require.Equal(t, int64(120), c.Bid.Amount)
				return v2, nil
			}),
		mockRepo.EXPECT().ListActiveAutoBids(gomock.Any(), "lot1").Return(nil, nil),
	)

	service := NewBiddingService(mockRepo, WithClock(clock.Now))
	res, err := service.PlaceBid(context.Background(), "lot1", "alice", "Alice", 120)
	require.NoError(t, err)
	require.Equal(t, int64(120), res.Lot.CurrentPrice)
	require.NotNil(t, res.Outbid)
	require.Equal(t, "bob", res.Outbid.UserID, "outbid is the leader of the version that was replaced")
	require.Equal(t, int64(90), res.Outbid.Price)
}
