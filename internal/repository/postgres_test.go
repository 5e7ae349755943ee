package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

var lotColumnNames = []string{
	"id", "title", "description", "image_url", "start_price", "bid_step", "current_price",
	"leader_user_id", "leader_user_name", "status", "starts_at", "ends_at", "original_ends_at", "created_at", "version",
}

func lotRow(lot model.Lot) *sqlmock.Rows {
	var leaderID, leaderName any
	if lot.LeaderUserID != "" {
		leaderID, leaderName = lot.LeaderUserID, lot.LeaderUserName
	}
	return sqlmock.NewRows(lotColumnNames).AddRow(
		lot.ID, lot.Title, lot.Description, lot.ImageURL, lot.StartPrice, lot.BidStep, lot.CurrentPrice,
		leaderID, leaderName, string(lot.Status), lot.StartsAt, lot.EndsAt, lot.OriginalEndsAt, lot.CreatedAt, lot.Version,
	)
}

func newMockPostgres(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepo(db), mock
}

func TestPostgresRepo_GetLot(t *testing.T) {
	t.Parallel()
	repo, mock := newMockPostgres(t)
	lot := newLot("lot1", 80, 10)

	mock.ExpectQuery(`SELECT .+ FROM lots WHERE id=\$1`).WithArgs("lot1").WillReturnRows(lotRow(lot))
	mock.ExpectQuery(`SELECT .+ FROM lots WHERE id=\$1`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(lotColumnNames))

	got, err := repo.GetLot(context.Background(), "lot1")
	require.NoError(t, err)
	require.Equal(t, lot.ID, got.ID)
	require.Equal(t, model.StatusLive, got.Status)
	require.Empty(t, got.LeaderUserID)

	_, err = repo.GetLot(context.Background(), "missing")
	require.ErrorIs(t, err, biddingerrors.ErrLotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CommitBid(t *testing.T) {
	t.Parallel()

	t.Run("applied", func(t *testing.T) {
		t.Parallel()
		repo, mock := newMockPostgres(t)
		lot := newLot("lot1", 80, 10)
		commit := newCommit(lot, "bid1", "alice", 90)

		updated := lot
		updated.CurrentPrice = 90
		updated.LeaderUserID = "alice"
		updated.LeaderUserName = "name-alice"
		updated.Version = 1

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE lots`).
			WithArgs("lot1", int64(90), "alice", "name-alice", sqlmock.AnyArg(), int64(0), sqlmock.AnyArg()).
			WillReturnRows(lotRow(updated))
		mock.ExpectExec(`INSERT INTO bids`).
			WithArgs("bid1", "lot1", "alice", "name-alice", int64(90), false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		got, err := repo.CommitBid(context.Background(), commit)
		require.NoError(t, err)
		require.Equal(t, int64(90), got.CurrentPrice)
		require.Equal(t, "alice", got.LeaderUserID)
		require.Equal(t, int64(1), got.Version)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale_row", func(t *testing.T) {
		t.Parallel()
		repo, mock := newMockPostgres(t)
		lot := newLot("lot1", 80, 10)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE lots`).WillReturnRows(sqlmock.NewRows(lotColumnNames))
		mock.ExpectRollback()

		_, err := repo.CommitBid(context.Background(), newCommit(lot, "bid1", "alice", 90))
		require.ErrorIs(t, err, ErrStaleLot)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert_failure_rolls_back", func(t *testing.T) {
		t.Parallel()
		repo, mock := newMockPostgres(t)
		lot := newLot("lot1", 80, 10)
		boom := errors.New("disk full")

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE lots`).WillReturnRows(lotRow(lot))
		mock.ExpectExec(`INSERT INTO bids`).WillReturnError(boom)
		mock.ExpectRollback()

		_, err := repo.CommitBid(context.Background(), newCommit(lot, "bid1", "alice", 90))
		require.ErrorIs(t, err, boom)
		require.False(t, errors.Is(err, ErrStaleLot))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_ReconcileStatus(t *testing.T) {
	t.Parallel()
	repo, mock := newMockPostgres(t)
	lot := newLot("lot1", 80, 10)
	lot.Status = model.StatusEnded

	// The guarded update matches nothing for an ENDED row, so the stored lot is returned.
	mock.ExpectQuery(`UPDATE lots SET status=\$2`).WithArgs("lot1", "LIVE").WillReturnRows(sqlmock.NewRows(lotColumnNames))
	mock.ExpectQuery(`SELECT .+ FROM lots WHERE id=\$1`).WithArgs("lot1").WillReturnRows(lotRow(lot))

	got, err := repo.ReconcileStatus(context.Background(), "lot1", model.StatusLive)
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_DeleteLot(t *testing.T) {
	t.Parallel()
	repo, mock := newMockPostgres(t)

	mock.ExpectExec(`DELETE FROM lots WHERE id=\$1`).WithArgs("lot1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM lots WHERE id=\$1`).WithArgs("lot1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeleteLot(context.Background(), "lot1"))
	require.ErrorIs(t, repo.DeleteLot(context.Background(), "lot1"), biddingerrors.ErrLotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_UpsertAutoBid_UnknownLot(t *testing.T) {
	t.Parallel()
	repo, mock := newMockPostgres(t)

	mock.ExpectQuery(`INSERT INTO auto_bids`).WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	_, err := repo.UpsertAutoBid(context.Background(), model.AutoBid{LotID: "gone", UserID: "bob", MaxAmount: 10, IsActive: true})
	require.ErrorIs(t, err, biddingerrors.ErrLotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ListBidsByLot_NoLimit(t *testing.T) {
	t.Parallel()
	repo, mock := newMockPostgres(t)
	at := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "lot_id", "user_id", "user_name", "amount", "auto_bid", "created_at"}).
		AddRow("b2", "lot1", "bob", "Bob", int64(100), true, at.Add(time.Second)).
		AddRow("b1", "lot1", "alice", "Alice", int64(90), false, at)
	mock.ExpectQuery(`FROM bids WHERE lot_id=\$1 ORDER BY seq DESC LIMIT \$2`).WithArgs("lot1", nil).WillReturnRows(rows)

	bids, err := repo.ListBidsByLot(context.Background(), "lot1", 0)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, "b2", bids[0].ID)
	require.True(t, bids[0].AutoBid)
	require.NoError(t, mock.ExpectationsWereMet())
}
