package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"

	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/types"
)

// Scan subscription request/response.
type ScanRequest struct {
	Filters   types.Filters `json:"filters"`
	From      int           `json:"from"`
	Size      int           `json:"size"`
	SortBy    string        `json:"sort_by"`
	SortOrder string        `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.Subscription `json:"items"`
	Total int64                  `json:"total"`
}

var ErrInvalidScan = errors.New("invalid scan request")

// scannable columns; filter and sort fields outside this set are rejected.
var scannable = []string{
	"id", "user_id", "plan_type", "status", "amount", "payment_instrument",
	"discount_code_id", "transaction_id", "started_at", "next_billing_date",
	"canceled_at", "created_at", "updated_at",
}

func (s *Service) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidScan)
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.Size > 200 {
		req.Size = 200
	}
	if req.From < 0 {
		req.From = 0
	}
	if err := req.Filters.Validate(scannable); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScan, err)
	}
	if req.SortBy != "" && !lo.Contains(scannable, req.SortBy) {
		return nil, fmt.Errorf("%w: unsupported sort field %q", ErrInvalidScan, req.SortBy)
	}

	tx := s.db.WithContext(ctx).Model(&models.Subscription{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{req.Filters}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	q := tx.Limit(req.Size).Offset(req.From)
	sortBy := lo.Ternary(req.SortBy == "", "created_at", req.SortBy)
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*models.Subscription
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}
