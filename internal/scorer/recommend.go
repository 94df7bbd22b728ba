package scorer

import "github.com/sudhirig/mfscore/internal/model"

// Recommend maps a score to a recommendation. Rules are evaluated top-down
// and the first match wins.
func Recommend(totalScore float64, quartile int, riskGradeTotal, fundamentalsTotal float64) model.Recommendation {
	switch {
	case totalScore >= 70 || (totalScore >= 65 && quartile == 1 && riskGradeTotal >= 25):
		return model.StrongBuy
	case totalScore >= 60 || (totalScore >= 55 && quartile >= 1 && quartile <= 2 && fundamentalsTotal >= 20):
		return model.Buy
	case totalScore >= 50 || (totalScore >= 45 && quartile >= 1 && quartile <= 3 && riskGradeTotal >= 20):
		return model.Hold
	case totalScore >= 35 || (totalScore >= 30 && riskGradeTotal >= 15):
		return model.Sell
	default:
		return model.StrongSell
	}
}

// Apply sets the recommendation on a ranked score.
func Apply(fs *model.FundScore) {
	fs.Recommendation = Recommend(fs.TotalScore, fs.Quartile, fs.RiskGradeTotal, fs.FundamentalsTotal)
}
