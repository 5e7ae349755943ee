package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// foreign key violation, raised when a child row references a deleted lot
const pqForeignKeyViolation = "23503"

const lotColumns = `id, title, description, image_url, start_price, bid_step, current_price,
	leader_user_id, leader_user_name, status, starts_at, ends_at, original_ends_at, created_at, version`

// PostgresRepo implements AuctionDB on top of Postgres
type PostgresRepo struct{ db *sql.DB }

// NewPostgresRepo wraps an open database handle
func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// OpenPostgres opens and pings a Postgres connection pool
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables and indexes when missing
func (p *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks the connection
func (p *PostgresRepo) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (model.Lot, error) {
	var (
		lot        model.Lot
		leaderID   sql.NullString
		leaderName sql.NullString
		status     string
	)
	err := row.Scan(
		&lot.ID, &lot.Title, &lot.Description, &lot.ImageURL, &lot.StartPrice, &lot.BidStep, &lot.CurrentPrice,
		&leaderID, &leaderName, &status, &lot.StartsAt, &lot.EndsAt, &lot.OriginalEndsAt, &lot.CreatedAt, &lot.Version,
	)
	if err != nil {
		return model.Lot{}, err
	}
	lot.LeaderUserID = leaderID.String
	lot.LeaderUserName = leaderName.String
	lot.Status = model.Status(status)
	return lot, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateLot inserts a new lot
func (p *PostgresRepo) CreateLot(ctx context.Context, lot model.Lot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO lots (`+lotColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		lot.ID, lot.Title, lot.Description, lot.ImageURL, lot.StartPrice, lot.BidStep, lot.CurrentPrice,
		nullable(lot.LeaderUserID), nullable(lot.LeaderUserName), string(lot.Status),
		lot.StartsAt, lot.EndsAt, lot.OriginalEndsAt, lot.CreatedAt, lot.Version,
	)
	if err != nil {
		return fmt.Errorf("create lot %s: %w", lot.ID, err)
	}
	return nil
}

// GetLot returns a lot by id
func (p *PostgresRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	lot, err := scanLot(p.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id=$1`, lotID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, biddingerrors.ErrLotNotFound)
	}
	if err != nil {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, err)
	}
	return lot, nil
}

// ListLots returns every stored lot
func (p *PostgresRepo) ListLots(ctx context.Context) ([]model.Lot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+lotColumns+` FROM lots ORDER BY ends_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("list lots: scan: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// DeleteLot removes a lot; bids, comments and auto-bids go with it via ON DELETE CASCADE
func (p *PostgresRepo) DeleteLot(ctx context.Context, lotID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM lots WHERE id=$1`, lotID)
	if err != nil {
		return fmt.Errorf("delete lot %s: %w", lotID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lot %s: %w", lotID, err)
	}
	if n == 0 {
		return fmt.Errorf("delete lot %s: %w", lotID, biddingerrors.ErrLotNotFound)
	}
	return nil
}

// ReconcileStatus persists a resolved status; the WHERE clause keeps ENDED terminal
func (p *PostgresRepo) ReconcileStatus(ctx context.Context, lotID string, status model.Status) (model.Lot, error) {
	lot, err := scanLot(p.db.QueryRowContext(ctx, `
		UPDATE lots SET status=$2, version=version+1
		WHERE id=$1 AND status <> 'ENDED' AND status <> $2
		RETURNING `+lotColumns, lotID, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return p.GetLot(ctx, lotID)
	}
	if err != nil {
		return model.Lot{}, fmt.Errorf("reconcile lot %s: %w", lotID, err)
	}
	return lot, nil
}

// CommitBid runs the conditional update and the ledger insert in one transaction.
// The UPDATE is the compare-and-swap: it only matches while the row still has the
// version the caller validated and the bid clears current_price + bid_step.
func (p *PostgresRepo) CommitBid(ctx context.Context, commit BidCommit) (model.Lot, error) {
	bid := commit.Bid

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Lot{}, fmt.Errorf("commit bid: begin: %w", err)
	}
	defer tx.Rollback()

	lot, err := scanLot(tx.QueryRowContext(ctx, `
		UPDATE lots
		SET current_price=$2, leader_user_id=$3, leader_user_name=$4,
		    ends_at=GREATEST(ends_at, $5), version=version+1
		WHERE id=$1 AND version=$6 AND status='LIVE'
		  AND starts_at <= $7 AND ends_at > $7
		  AND current_price <= $2 - bid_step
		RETURNING `+lotColumns,
		bid.LotID, bid.Amount, bid.UserID, bid.UserName, commit.EndsAt, commit.ExpectedVersion, commit.Now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lot{}, fmt.Errorf("commit bid on lot %s: %w", bid.LotID, ErrStaleLot)
	}
	if err != nil {
		return model.Lot{}, fmt.Errorf("commit bid on lot %s: update: %w", bid.LotID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO bids (id, lot_id, user_id, user_name, amount, auto_bid, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		bid.ID, bid.LotID, bid.UserID, bid.UserName, bid.Amount, bid.AutoBid, bid.CreatedAt,
	); err != nil {
		return model.Lot{}, fmt.Errorf("commit bid on lot %s: insert: %w", bid.LotID, err)
	}

	if err = tx.Commit(); err != nil {
		return model.Lot{}, fmt.Errorf("commit bid on lot %s: commit: %w", bid.LotID, err)
	}
	return lot, nil
}

// ListBidsByLot returns up to limit bids of a lot, newest first
func (p *PostgresRepo) ListBidsByLot(ctx context.Context, lotID string, limit int) ([]model.Bid, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, lot_id, user_id, user_name, amount, auto_bid, created_at
		FROM bids WHERE lot_id=$1 ORDER BY seq DESC LIMIT $2`, lotID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list bids of lot %s: %w", lotID, err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.LotID, &b.UserID, &b.UserName, &b.Amount, &b.AutoBid, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("list bids of lot %s: scan: %w", lotID, err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// ListBidsByUser returns up to limit bids of a user with a summary of each lot, newest first
func (p *PostgresRepo) ListBidsByUser(ctx context.Context, userID string, limit int) ([]model.UserBid, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT b.id, b.lot_id, b.user_id, b.user_name, b.amount, b.auto_bid, b.created_at,
		       l.title, l.image_url, l.current_price, l.leader_user_id, l.status, l.ends_at
		FROM bids b JOIN lots l ON l.id = b.lot_id
		WHERE b.user_id=$1
		ORDER BY b.created_at DESC, b.seq DESC
		LIMIT $2`, userID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list bids of user %s: %w", userID, err)
	}
	defer rows.Close()

	out := []model.UserBid{}
	for rows.Next() {
		var (
			ub       model.UserBid
			leaderID sql.NullString
			status   string
		)
		if err := rows.Scan(
			&ub.ID, &ub.LotID, &ub.UserID, &ub.UserName, &ub.Amount, &ub.AutoBid, &ub.CreatedAt,
			&ub.Lot.Title, &ub.Lot.ImageURL, &ub.Lot.CurrentPrice, &leaderID, &status, &ub.Lot.EndsAt,
		); err != nil {
			return nil, fmt.Errorf("list bids of user %s: scan: %w", userID, err)
		}
		ub.Lot.ID = ub.LotID
		ub.Lot.LeaderUserID = leaderID.String
		ub.Lot.Status = model.Status(status)
		out = append(out, ub)
	}
	return out, rows.Err()
}

const autoBidColumns = `lot_id, user_id, user_name, max_amount, is_active, created_at, updated_at`

func scanAutoBid(row rowScanner) (model.AutoBid, error) {
	var ab model.AutoBid
	err := row.Scan(&ab.LotID, &ab.UserID, &ab.UserName, &ab.MaxAmount, &ab.IsActive, &ab.CreatedAt, &ab.UpdatedAt)
	return ab, err
}

// UpsertAutoBid inserts or replaces the auto-bid of (lot, user); last write wins
func (p *PostgresRepo) UpsertAutoBid(ctx context.Context, autoBid model.AutoBid) (model.AutoBid, error) {
	ab, err := scanAutoBid(p.db.QueryRowContext(ctx, `
		INSERT INTO auto_bids (`+autoBidColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (lot_id, user_id) DO UPDATE
		SET user_name=EXCLUDED.user_name, max_amount=EXCLUDED.max_amount,
		    is_active=EXCLUDED.is_active, updated_at=EXCLUDED.updated_at
		RETURNING `+autoBidColumns,
		autoBid.LotID, autoBid.UserID, autoBid.UserName, autoBid.MaxAmount, autoBid.IsActive,
		autoBid.CreatedAt, autoBid.UpdatedAt,
	))
	if isForeignKeyViolation(err) {
		return model.AutoBid{}, fmt.Errorf("upsert auto-bid on lot %s: %w", autoBid.LotID, biddingerrors.ErrLotNotFound)
	}
	if err != nil {
		return model.AutoBid{}, fmt.Errorf("upsert auto-bid on lot %s: %w", autoBid.LotID, err)
	}
	return ab, nil
}

// DisableAutoBid marks the auto-bid of (lot, user) inactive
func (p *PostgresRepo) DisableAutoBid(ctx context.Context, lotID, userID string, at time.Time) (model.AutoBid, error) {
	ab, err := scanAutoBid(p.db.QueryRowContext(ctx, `
		UPDATE auto_bids SET is_active=FALSE, updated_at=$3
		WHERE lot_id=$1 AND user_id=$2
		RETURNING `+autoBidColumns, lotID, userID, at))
	if errors.Is(err, sql.ErrNoRows) {
		return model.AutoBid{}, fmt.Errorf("disable auto-bid on lot %s for user %s: %w", lotID, userID, biddingerrors.ErrAutoBidNotFound)
	}
	if err != nil {
		return model.AutoBid{}, fmt.Errorf("disable auto-bid on lot %s: %w", lotID, err)
	}
	return ab, nil
}

// ListAutoBids returns up to limit auto-bids of a lot, most recently updated first
func (p *PostgresRepo) ListAutoBids(ctx context.Context, lotID string, limit int) ([]model.AutoBid, error) {
	return p.queryAutoBids(ctx, `
		SELECT `+autoBidColumns+` FROM auto_bids
		WHERE lot_id=$1 ORDER BY updated_at DESC, user_id ASC LIMIT $2`, lotID, limitArg(limit))
}

// ListActiveAutoBids returns every active auto-bid of a lot
func (p *PostgresRepo) ListActiveAutoBids(ctx context.Context, lotID string) ([]model.AutoBid, error) {
	return p.queryAutoBids(ctx, `
		SELECT `+autoBidColumns+` FROM auto_bids
		WHERE lot_id=$1 AND is_active ORDER BY user_id ASC`, lotID)
}

func (p *PostgresRepo) queryAutoBids(ctx context.Context, query string, args ...any) ([]model.AutoBid, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auto-bids: %w", err)
	}
	defer rows.Close()

	out := []model.AutoBid{}
	for rows.Next() {
		ab, err := scanAutoBid(rows)
		if err != nil {
			return nil, fmt.Errorf("list auto-bids: scan: %w", err)
		}
		out = append(out, ab)
	}
	return out, rows.Err()
}

// AddComment inserts a comment
func (p *PostgresRepo) AddComment(ctx context.Context, c model.Comment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO comments (id, lot_id, user_id, user_name, text, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.LotID, c.UserID, c.UserName, c.Text, c.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("add comment on lot %s: %w", c.LotID, biddingerrors.ErrLotNotFound)
	}
	if err != nil {
		return fmt.Errorf("add comment on lot %s: %w", c.LotID, err)
	}
	return nil
}

// ListComments returns up to limit comments of a lot, newest first
func (p *PostgresRepo) ListComments(ctx context.Context, lotID string, limit int) ([]model.Comment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, lot_id, user_id, user_name, text, created_at
		FROM comments WHERE lot_id=$1 ORDER BY seq DESC LIMIT $2`, lotID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list comments of lot %s: %w", lotID, err)
	}
	defer rows.Close()

	out := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.LotID, &c.UserID, &c.UserName, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("list comments of lot %s: scan: %w", lotID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// limitArg turns a non-positive limit into LIMIT NULL, which Postgres treats as no limit
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}
