package performance

import (
	"math"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

const LogarithmicRegression_PredictionType = "log-reg"

// AccuracyPrediction extrapolates the accuracy history of a run.
type AccuracyPrediction struct {
	regression Regression
}

func NewAccuracyPrediction(history []model.HistoryEntry, predictionType string) (*AccuracyPrediction, error) {
	xs, ys := prepareXAndY(history)

	switch predictionType {
	case "", LogarithmicRegression_PredictionType:
		regression, err := NewLogarithmicRegression(xs, ys)
		if err != nil {
			return nil, err
		}
		return &AccuracyPrediction{regression: regression}, nil
	default:
		return nil, ErrUnknownPredictionType
	}
}

func (ap *AccuracyPrediction) PredictAccuracy(round int) float64 {
	return ap.regression.PredictY(float64(round))
}

// PredictRoundForAccuracy returns the first round at which the fitted curve
// reaches accuracy. ok is false when the curve is flat or falling.
func (ap *AccuracyPrediction) PredictRoundForAccuracy(accuracy float64) (round int, ok bool) {
	if ap.regression.PredictY(2) <= ap.regression.PredictY(1) {
		return 0, false
	}
	x := ap.regression.PredictX(accuracy)
	if math.IsNaN(x) || math.IsInf(x, 0) || x > math.MaxInt32 {
		return 0, false
	}
	return max(int(math.Ceil(x)), 1), true
}

func (ap *AccuracyPrediction) PrintPrediction() string {
	return ap.regression.PrintFunction()
}

func prepareXAndY(history []model.HistoryEntry) ([]float64, []float64) {
	xs := make([]float64, len(history))
	ys := make([]float64, len(history))

	for i, entry := range history {
		xs[i] = float64(entry.Round)
		ys[i] = entry.Accuracy
	}

	return xs, ys
}
