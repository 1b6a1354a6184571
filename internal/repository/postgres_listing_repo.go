package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bookwatch/internal/model"
)

// PostgresListingRepo はPostgreSQLを使用したリスティングリポジトリ。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

// Create はリスティングを作成する。
func (r *PostgresListingRepo) Create(ctx context.Context, listing *model.Listing) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO listings (id, book_id, site_id, site_name, title, price, url,
		                       seller, condition, match_score, found_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		listing.ID, listing.BookID, listing.SiteID, listing.SiteName,
		listing.Title, nullString(listing.Price), listing.URL,
		nullString(listing.Seller), nullString(listing.Condition),
		listing.MatchScore, listing.FoundAt,
	)
	if err != nil {
		return fmt.Errorf("リスティングの作成に失敗しました: %w", err)
	}
	return nil
}

// ListByBookID は書籍の発見済みリスティングをfound_at降順で返す。
func (r *PostgresListingRepo) ListByBookID(ctx context.Context, bookID string) ([]*model.Listing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, book_id, site_id, site_name, title, price, url,
		        seller, condition, match_score, found_at
		 FROM listings WHERE book_id = $1 ORDER BY found_at DESC`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("リスティング一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var listings []*model.Listing
	for rows.Next() {
		listing := &model.Listing{}
		var price, seller, condition sql.NullString

		if err := rows.Scan(
			&listing.ID, &listing.BookID, &listing.SiteID, &listing.SiteName,
			&listing.Title, &price, &listing.URL,
			&seller, &condition, &listing.MatchScore, &listing.FoundAt,
		); err != nil {
			return nil, fmt.Errorf("リスティングの読み取りに失敗しました: %w", err)
		}

		listing.Price = nullStringValue(price)
		listing.Seller = nullStringValue(seller)
		listing.Condition = nullStringValue(condition)
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リスティングの走査に失敗しました: %w", err)
	}
	return listings, nil
}

// compile-time interface check
var _ ListingRepository = (*PostgresListingRepo)(nil)
