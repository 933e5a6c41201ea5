package repositories

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"rebate/internal/models/db_models"
)

type DailyCounterRepository interface {
	// IncrementIfBelow atomically bumps the counter for day when it is below
	// max and reports whether it did.
	IncrementIfBelow(ctx context.Context, day string, max int) (bool, error)
}

type dailyCounterRepository struct {
	db *gorm.DB
}

func NewDailyCounterRepository(db *gorm.DB) DailyCounterRepository {
	return &dailyCounterRepository{db: db}
}

// INSERT ... ON CONFLICT (day) DO UPDATE SET count = count + 1 WHERE count < max.
// Postgres reports zero affected rows when the conflict branch's WHERE fails.
func (r *dailyCounterRepository) IncrementIfBelow(ctx context.Context, day string, max int) (bool, error) {
	if max <= 0 {
		return false, nil
	}

	row := db_models.DailyApprovalCounter{Day: day, Count: 1}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": gorm.Expr("daily_approval_counters.count + 1"),
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("daily_approval_counters.count < ?", max),
			}},
		}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
