package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// TradeOutcome is created once when a position closes and consumed once by the learning loop.
type TradeOutcome struct {
	ID                    string    `json:"outcome_id" validate:"required"`
	Ticker                string    `json:"ticker" validate:"required"`
	Sector                string    `json:"sector,omitempty"`
	PnLPercent            float64   `json:"pnl_percent"`
	ContributingSourceIDs []string  `json:"contributing_source_ids" validate:"dive,required"`
	PredictedConfidence   *int      `json:"predicted_confidence,omitempty" validate:"omitempty,min=1,max=99"`
	ClosedAt              time.Time `json:"closed_at" validate:"required"`
}

// Result classifies the outcome. Break-even counts as a loss.
func (o TradeOutcome) Result() OutcomeResult {
	if o.PnLPercent > 0 {
		return ResultWin
	}
	return ResultLoss
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Normalize fills the outcome id and close time when absent and de-duplicates source ids.
func (o TradeOutcome) Normalize(now time.Time) TradeOutcome {
	if strings.TrimSpace(o.ID) == "" {
		o.ID = uuid.NewString()
	}
	o.Ticker = strings.ToUpper(strings.TrimSpace(o.Ticker))
	o.Sector = strings.TrimSpace(o.Sector)
	if o.ClosedAt.IsZero() {
		o.ClosedAt = now.UTC()
	}
	seen := make(map[string]struct{}, len(o.ContributingSourceIDs))
	ids := make([]string, 0, len(o.ContributingSourceIDs))
	for _, id := range o.ContributingSourceIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	o.ContributingSourceIDs = ids
	return o
}

// Validate checks the outcome against its struct tags.
func (o TradeOutcome) Validate() error {
	validateOnce.Do(func() { validate = validator.New() })
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid trade outcome: %w", err)
	}
	return nil
}
