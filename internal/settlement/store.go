package settlement

import (
	"context"
	"fmt"

	"railpay/internal/common/database"
	"railpay/internal/common/money"
)

// SubscriberSource supplies active subscriber counts and subscription
// revenue when the caller asks the service to derive them instead of
// providing figures from an external registry.
type SubscriberSource interface {
	CountActiveBySegment(ctx context.Context) (SegmentCounts, error)
	ActiveSubscriptionRevenue(ctx context.Context) (money.Money, error)
}

// PostgresSubscriberSource derives counts from the subscription store.
type PostgresSubscriberSource struct {
	db *database.DB
}

// NewPostgresSubscriberSource creates the production source.
func NewPostgresSubscriberSource(db *database.DB) *PostgresSubscriberSource {
	return &PostgresSubscriberSource{db: db}
}

func (s *PostgresSubscriberSource) CountActiveBySegment(ctx context.Context) (SegmentCounts, error) {
	query := `
		SELECT p.segment, COUNT(*)
		FROM subscriptions s
		JOIN subscription_plans p ON p.id = s.plan_id
		WHERE s.status = 'active'
		GROUP BY p.segment
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return SegmentCounts{}, fmt.Errorf("counting active subscribers: %w", err)
	}
	defer rows.Close()

	var counts SegmentCounts
	for rows.Next() {
		var (
			segment string
			count   int64
		)
		if err := rows.Scan(&segment, &count); err != nil {
			return SegmentCounts{}, fmt.Errorf("scanning subscriber count: %w", err)
		}
		switch Segment(segment) {
		case SegmentTraders:
			counts.Traders = count
		case SegmentTourists:
			counts.Tourists = count
		case SegmentDomestic:
			counts.Domestic = count
		case SegmentCommuters:
			counts.Commuters = count
		}
	}
	return counts, rows.Err()
}

func (s *PostgresSubscriberSource) ActiveSubscriptionRevenue(ctx context.Context) (money.Money, error) {
	query := `
		SELECT COALESCE(SUM(p.price_minor), 0)
		FROM subscriptions s
		JOIN subscription_plans p ON p.id = s.plan_id
		WHERE s.status = 'active'
	`
	var totalMinor int64
	if err := s.db.QueryRow(ctx, query).Scan(&totalMinor); err != nil {
		return money.Money{}, fmt.Errorf("summing subscription revenue: %w", err)
	}
	return money.New(totalMinor, money.ZMW), nil
}
