package bidding

import (
	"context"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/models"
	"live-auction/utils"
)

// resolveAutoBids lets standing proxy commitments answer the lot's current leader
// until no active proxy can reach the minimum bid or the lot stops being LIVE.
// Every accepted counter raises the price and ceilings are finite, so the chain
// ends on its own; maxAutoRounds only applies when set with WithAutoBidRounds.
// Each counter-bid is a separate commit through the normal bid path; a failed
// counter never undoes the ones before it.
func (s *BiddingService) resolveAutoBids(ctx context.Context, lot models.Lot) []models.BidResult {
	var counters []models.BidResult

	for round := 0; s.maxAutoRounds == 0 || round < s.maxAutoRounds; round++ {
		if lot.Status != models.StatusLive {
			break
		}

		active, err := s.repo.ListActiveAutoBids(ctx, lot.ID)
		if err != nil {
			utils.Error("Failed to load auto-bids", map[string]any{"lot_id": lot.ID, "error": err.Error()})
			break
		}
		candidate, ok := pickAutoBid(active, lot)
		if !ok {
			break
		}

		res, err := s.commitBid(ctx, lot.ID, candidate.UserID, candidate.UserName, lot.MinimumBid(), true)
		if err != nil {
			if !biddingerrors.IsRetryable(err) {
				utils.Error("Auto-bid commit failed", map[string]any{
					"lot_id":  lot.ID,
					"user_id": candidate.UserID,
					"error":   err.Error(),
				})
				break
			}
			// the price or state moved under us; decide again from the fresh lot
			fresh, err := s.loadLot(ctx, lot.ID)
			if err != nil {
				break
			}
			lot = fresh
			continue
		}

		utils.Debug("Auto-bid placed", map[string]any{
			"lot_id":     lot.ID,
			"user_id":    candidate.UserID,
			"amount":     res.Bid.Amount,
			"max_amount": candidate.MaxAmount,
		})
		s.announce(ctx, res)
		counters = append(counters, res)
		lot = res.Lot
	}

	return counters
}

// pickAutoBid selects the proxy commitment that counters next: among active
// auto-bids not owned by the leader that can still reach the minimum bid, the
// highest maxAmount wins, then the earliest created, then the smallest user id.
// Proxies only answer a leader; they never open the bidding on their own.
func pickAutoBid(autoBids []models.AutoBid, lot models.Lot) (models.AutoBid, bool) {
	if lot.LeaderUserID == "" {
		return models.AutoBid{}, false
	}
	minimum := lot.MinimumBid()

	var (
		best  models.AutoBid
		found bool
	)
	for _, ab := range autoBids {
		if !ab.IsActive || ab.UserID == lot.LeaderUserID || ab.MaxAmount < minimum {
			continue
		}
		if !found || outranks(ab, best) {
			best, found = ab, true
		}
	}
	return best, found
}

func outranks(a, b models.AutoBid) bool {
	if a.MaxAmount != b.MaxAmount {
		return a.MaxAmount > b.MaxAmount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.UserID < b.UserID
}
