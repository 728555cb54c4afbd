package statistics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/types"
)

type StatisticType string

const (
	// Settlement attempts and revenue, from settlement_logs
	StatisticTypeDailySettlementCount StatisticType = "daily_settlement_count"
	StatisticTypeDailyRevenue         StatisticType = "daily_revenue"
	StatisticTypeAccumulatedRevenue   StatisticType = "accumulated_revenue"

	// Subscriptions
	StatisticTypeDailyNewSubscriptionCount StatisticType = "daily_new_subscription_count"
	StatisticTypeTotalActiveSubscriptions  StatisticType = "total_active_subscriptions"
	StatisticTypeDailyDiscountRedemptions  StatisticType = "daily_discount_redemptions"
)

// filterable fields; both tables carry plan_type.
var filterFields = []string{"plan_type"}

var ErrInvalidRequest = errors.New("invalid statistic request")

type BillingStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type BillingStatisticRequest struct {
	Filters   types.Filters               `json:"filters"`
	DataItems []*BillingStatisticDataItem `json:"data_items"`
}

func (f *BillingStatisticRequest) validate() error {
	if err := f.Filters.Validate(filterFields); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, item := range f.DataItems {
		if item == nil {
			return fmt.Errorf("%w: nil data item", ErrInvalidRequest)
		}
	}
	return nil
}

type BillingStatisticResponseDataItem struct {
	Date  string          `json:"date,omitempty"`
	Label string          `json:"label,omitempty"`
	Value decimal.Decimal `json:"value"`
}

type BillingStatisticResponse struct {
	DataItems map[StatisticType][]BillingStatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

var succeededStates = []types.SettlementState{types.SettlementStateDone, types.SettlementStateDoneWithWarning}

func (s *Service) where(request *BillingStatisticRequest) clause.Where {
	return clause.Where{Exprs: []clause.Expression{request.Filters}}
}

func (s *Service) getDailySettlementCount(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.SettlementLog{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, state as label, count(*) as value").
		Where(s.where(request)).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("state").
		Order("date DESC, label ASC")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyRevenue(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.SettlementLog{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, plan_type as label, COALESCE(sum(final_amount), 0) as value").
		Where("state IN ?", succeededStates).
		Where(s.where(request)).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("plan_type").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getAccumulatedRevenue(ctx context.Context, _ *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
WITH paid AS (
    SELECT DATE(created_at) as date, final_amount FROM settlement_logs WHERE state IN ?
),
min_max_dates AS (
    SELECT MIN(date) as min_date, MAX(date) as max_date FROM paid
),
dates AS (
    SELECT generate_series(min_date, max_date, '1 day'::interval)::date as date FROM min_max_dates
)
SELECT TO_CHAR(d.date, 'YYYY-MM-DD') as date, COALESCE(SUM(p.final_amount), 0) as value
FROM dates d
LEFT JOIN paid p ON p.date <= d.date
GROUP BY d.date
ORDER BY d.date DESC
`, succeededStates).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("TO_CHAR(started_at, 'YYYY-MM-DD') as date, plan_type as label, count(*) as value").
		Where(s.where(request)).
		Group("TO_CHAR(started_at, 'YYYY-MM-DD')").
		Group("plan_type").
		Order("date DESC, label ASC")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalActiveSubscriptions(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("count(*) as value").
		Where(s.where(request)).
		Where("status = ?", types.SubscriptionStatusActive)
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyDiscountRedemptions(ctx context.Context, request *BillingStatisticRequest) ([]BillingStatisticResponseDataItem, error) {
	var results []BillingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName() + " s").
		Select("TO_CHAR(s.started_at, 'YYYY-MM-DD') as date, d.code as label, count(*) as value").
		Joins("JOIN discount_codes d ON d.id = s.discount_code_id").
		Where(s.where(request)).
		Group("TO_CHAR(s.started_at, 'YYYY-MM-DD')").
		Group("d.code").
		Order("date DESC, label ASC")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getBillingStatistic(ctx context.Context, request *BillingStatisticRequest, dataItem *BillingStatisticDataItem) ([]BillingStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailySettlementCount:
		return s.getDailySettlementCount(ctx, request)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, request)
	case StatisticTypeAccumulatedRevenue:
		return s.getAccumulatedRevenue(ctx, request)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, request)
	case StatisticTypeTotalActiveSubscriptions:
		return s.getTotalActiveSubscriptions(ctx, request)
	case StatisticTypeDailyDiscountRedemptions:
		return s.getDailyDiscountRedemptions(ctx, request)
	default:
		return nil, fmt.Errorf("%w: unknown data item id %s", ErrInvalidRequest, dataItem.ID)
	}
}

// GetBillingStatistic computes every requested data item concurrently.
func (s *Service) GetBillingStatistic(ctx context.Context, request *BillingStatisticRequest) (*BillingStatisticResponse, error) {
	if err := request.validate(); err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []BillingStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *BillingStatisticDataItem) {
			defer wg.Done()
			res, err := s.getBillingStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []BillingStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]BillingStatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &BillingStatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
