package trading

import (
	"fmt"
	"math"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/models"
	"signal-tracker/pkg/utils"
)

// LevelRules controls stop and take-profit placement.
type LevelRules struct {
	// StopPercent is the stop distance as a fraction of entry (0.02 = 2%).
	StopPercent float64
	// TPMultiples are the reward-to-risk multiples for TP1..TP3.
	TPMultiples [3]float64
}

// DefaultLevelRules returns a 2% stop with take-profits at 1.68, 2.68 and 3.68 R.
func DefaultLevelRules() LevelRules {
	return LevelRules{
		StopPercent: 0.02,
		TPMultiples: [3]float64{1.68, 2.68, 3.68},
	}
}

// Validate checks the rules are usable.
func (r LevelRules) Validate() error {
	if r.StopPercent <= 0 || r.StopPercent >= 1 {
		return trerrors.NewValidationError("stop_percent", r.StopPercent, "must be between 0 and 1")
	}
	prev := 0.0
	for i, m := range r.TPMultiples {
		if m <= prev {
			return trerrors.NewValidationError(fmt.Sprintf("tp_multiples[%d]", i), m, "must be positive and strictly increasing")
		}
		prev = m
	}
	return nil
}

// Levels are the prices of a new position. Entry is the raw close; the stop
// and take-profits are rounded by magnitude.
type Levels struct {
	Entry       float64
	StopLoss    float64
	TakeProfits [3]float64
}

// ComputeLevels derives stop and take-profits from the entry close. Risk is
// measured between the raw close and the rounded stop, and only the derived
// levels are rounded. Levels that collapse under rounding fail with a
// ConsistencyError.
func ComputeLevels(symbol string, dir models.Direction, close float64, rules LevelRules) (Levels, error) {
	if close <= 0 || math.IsNaN(close) || math.IsInf(close, 0) {
		return Levels{}, trerrors.NewConsistencyError(symbol, "entry_price", fmt.Sprintf("invalid close %v", close))
	}

	lv := Levels{Entry: close}

	switch dir {
	case models.Long:
		lv.StopLoss = utils.RoundPrice(close * (1 - rules.StopPercent))
		risk := close - lv.StopLoss
		for i, m := range rules.TPMultiples {
			lv.TakeProfits[i] = utils.RoundPrice(close + risk*m)
		}
	case models.Short:
		lv.StopLoss = utils.RoundPrice(close * (1 + rules.StopPercent))
		risk := lv.StopLoss - close
		for i, m := range rules.TPMultiples {
			lv.TakeProfits[i] = utils.RoundPrice(close - risk*m)
		}
	default:
		return Levels{}, trerrors.NewValidationError("direction", dir, "must be long or short")
	}

	p := models.Position{
		Direction:   dir,
		EntryPrice:  lv.Entry,
		StopLoss:    lv.StopLoss,
		TakeProfits: lv.TakeProfits,
	}
	if !p.ValidLevels() {
		return Levels{}, trerrors.NewConsistencyError(symbol, "level_geometry",
			fmt.Sprintf("%s levels out of order: stop=%v entry=%v tps=%v", dir, lv.StopLoss, lv.Entry, lv.TakeProfits))
	}
	return lv, nil
}
