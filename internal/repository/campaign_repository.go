package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

type CampaignRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	Create(ctx context.Context, c *model.Campaign) error
	UpdateRewardRates(ctx context.Context, campaignID int64, rates model.Rates) error
	TransitionStatus(ctx context.Context, campaignID int64, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	CountByStatus(ctx context.Context, status model.CampaignStatus) (int, error)
	AdmitRunning(ctx context.Context, campaignID int64, limit int) (collecting int, moved bool, err error)
	MarkClosed(ctx context.Context, campaignID int64, at time.Time) (bool, error)

	// Progress markers. Each write only succeeds when the previous marker is
	// present and its own marker is still empty.
	SetFirstPost(ctx context.Context, campaignID int64, postID string) (bool, error)
	SetContractTx(ctx context.Context, campaignID int64, txID string) (bool, error)
	SetSecondPost(ctx context.Context, campaignID int64, postID string) (bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `
    c.id, c.owner_id, COALESCE(u.handle, ''), c.name, c.description, c.status, c.approved,
    c.first_post_id, c.contract_tx_id, c.second_post_id,
    c.budget, c.comment_reward, c.retweet_reward, c.like_reward, c.quote_reward,
    c.campaign_type, c.token_id, c.token_decimals, c.closed_at, c.created_at, c.updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c        model.Campaign
		decimals sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.OwnerHandle, &c.Name, &c.Description, &c.Status, &c.Approved,
		&c.FirstPostID, &c.ContractTxID, &c.SecondPostID,
		&c.Budget, &c.Rates.Comment, &c.Rates.Retweet, &c.Rates.Like, &c.Rates.Quote,
		&c.Type, &c.TokenID, &decimals, &c.ClosedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if decimals.Valid {
		d := int(decimals.Int64)
		c.TokenDecimals = &d
	}
	return &c, nil
}

// GetByID loads a campaign joined with its owner.
func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns c
        LEFT JOIN users u ON u.id = c.owner_id
        WHERE c.id = $1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusApprovalPending
	}
	var decimals sql.NullInt64
	if c.TokenDecimals != nil {
		decimals = sql.NullInt64{Int64: int64(*c.TokenDecimals), Valid: true}
	}
	query := `
        INSERT INTO campaigns (
            owner_id, name, description, status, approved, budget,
            comment_reward, retweet_reward, like_reward, quote_reward,
            campaign_type, token_id, token_decimals, created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		c.OwnerID, c.Name, c.Description, c.Status, c.Approved, c.Budget,
		c.Rates.Comment, c.Rates.Retweet, c.Rates.Like, c.Rates.Quote,
		c.Type, c.TokenID, decimals, c.CreatedAt,
	).Scan(&c.ID)
}

// UpdateRewardRates writes all four rates in one statement.
func (r *CampaignRepository) UpdateRewardRates(ctx context.Context, campaignID int64, rates model.Rates) error {
	query := `
        UPDATE campaigns
        SET comment_reward=$1, retweet_reward=$2, like_reward=$3, quote_reward=$4, updated_at=NOW()
        WHERE id=$5
    `
	res, err := r.DB.ExecContext(ctx, query, rates.Comment, rates.Retweet, rates.Like, rates.Quote, campaignID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

// TransitionStatus moves the campaign to `to` only if its current status is
// one of `from`. It reports whether the row changed.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, campaignID int64, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
	return affected(r.DB.ExecContext(ctx, query, to, campaignID, pq.Array(allowed)))
}

func (r *CampaignRepository) CountByStatus(ctx context.Context, status model.CampaignStatus) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE status=$1`, status).Scan(&n)
	return n, err
}

// admissionLockKey serializes moves into Running across all campaigns.
const admissionLockKey = "collection-admission"

// AdmitRunning moves a Started campaign to Running when fewer than limit
// campaigns are Running. The count and the move share one transaction
// holding a transaction-scoped advisory lock, so concurrent admissions
// cannot both see the last free slot. It returns the Running count seen
// before the move and appErrors.ErrCollectionCapacity when full.
func (r *CampaignRepository) AdmitRunning(ctx context.Context, campaignID int64, limit int) (int, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, admissionLockKey); err != nil {
		return 0, false, err
	}
	var collecting int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE status=$1`, model.StatusRunning).Scan(&collecting); err != nil {
		return 0, false, err
	}
	if collecting >= limit {
		return collecting, false, appErrors.ErrCollectionCapacity
	}

	moved, err := affected(tx.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`,
		model.StatusRunning, campaignID, model.StatusStarted))
	if err != nil {
		return collecting, false, err
	}
	if err := tx.Commit(); err != nil {
		return collecting, false, err
	}
	return collecting, moved, nil
}

// MarkClosed records that every close step finished. It only applies to a
// Closing campaign not yet marked.
func (r *CampaignRepository) MarkClosed(ctx context.Context, campaignID int64, at time.Time) (bool, error) {
	query := `
        UPDATE campaigns
        SET closed_at=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3 AND closed_at IS NULL
    `
	return affected(r.DB.ExecContext(ctx, query, at, campaignID, model.StatusClosing))
}

// SetFirstPost records the first post and marks the campaign Started.
func (r *CampaignRepository) SetFirstPost(ctx context.Context, campaignID int64, postID string) (bool, error) {
	query := `
        UPDATE campaigns
        SET first_post_id=$1, status=$2, updated_at=NOW()
        WHERE id=$3 AND approved AND first_post_id IS NULL
    `
	return affected(r.DB.ExecContext(ctx, query, postID, model.StatusStarted, campaignID))
}

func (r *CampaignRepository) SetContractTx(ctx context.Context, campaignID int64, txID string) (bool, error) {
	query := `
        UPDATE campaigns
        SET contract_tx_id=$1, updated_at=NOW()
        WHERE id=$2 AND first_post_id IS NOT NULL AND contract_tx_id IS NULL
    `
	return affected(r.DB.ExecContext(ctx, query, txID, campaignID))
}

func (r *CampaignRepository) SetSecondPost(ctx context.Context, campaignID int64, postID string) (bool, error) {
	query := `
        UPDATE campaigns
        SET second_post_id=$1, updated_at=NOW()
        WHERE id=$2 AND contract_tx_id IS NOT NULL AND second_post_id IS NULL
    `
	return affected(r.DB.ExecContext(ctx, query, postID, campaignID))
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
