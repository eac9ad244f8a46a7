package trading

import "signal-tracker/internal/models"

// Summary aggregates closed positions.
type Summary struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Unknown int     `json:"unknown"`
	WinRate float64 `json:"win_rate"` // percent of decided outcomes
}

// Summarize counts outcomes in history. Unknown outcomes are excluded from the
// win rate.
func Summarize(history []models.Position) Summary {
	var s Summary
	for _, p := range history {
		s.Total++
		switch p.Outcome {
		case models.OutcomeWin:
			s.Wins++
		case models.OutcomeLose:
			s.Losses++
		default:
			s.Unknown++
		}
	}
	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = float64(s.Wins) / float64(decided) * 100
	}
	return s
}
