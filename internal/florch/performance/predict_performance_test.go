package performance

import (
	"errors"
	"math"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

func logCurve(a, b float64, rounds int) []model.HistoryEntry {
	history := make([]model.HistoryEntry, rounds)
	for i := range history {
		round := i + 1
		history[i] = model.HistoryEntry{Round: round, Accuracy: a + b*math.Log(float64(round)+1)}
	}
	return history
}

func TestLogarithmicRegressionRecoversCurve(t *testing.T) {
	history := logCurve(10, 20, 5)
	xs, ys := prepareXAndY(history)

	lr, err := NewLogarithmicRegression(xs, ys)
	if err != nil {
		t.Fatalf("NewLogarithmicRegression: %v", err)
	}
	if math.Abs(lr.a-10) > 1e-9 || math.Abs(lr.b-20) > 1e-9 {
		t.Errorf("fit a=%v b=%v, want a=10 b=20", lr.a, lr.b)
	}
	if x := lr.PredictX(lr.PredictY(7)); math.Abs(x-7) > 1e-6 {
		t.Errorf("PredictX(PredictY(7)) = %v", x)
	}
	if got := lr.PrintFunction(); got != "f(x) = 10.00 + 20.00 * ln(x+1)" {
		t.Errorf("PrintFunction = %q", got)
	}
}

func TestAccuracyPrediction(t *testing.T) {
	prediction, err := NewAccuracyPrediction(logCurve(10, 20, 5), LogarithmicRegression_PredictionType)
	if err != nil {
		t.Fatalf("NewAccuracyPrediction: %v", err)
	}

	target := 10 + 20*math.Log(6.5+1)
	round, ok := prediction.PredictRoundForAccuracy(target)
	if !ok || round != 7 {
		t.Errorf("PredictRoundForAccuracy = %d, %v; want 7, true", round, ok)
	}
	if got := prediction.PredictAccuracy(3); math.Abs(got-(10+20*math.Log(4))) > 1e-9 {
		t.Errorf("PredictAccuracy(3) = %v", got)
	}
}

func TestAccuracyPredictionFallingCurve(t *testing.T) {
	prediction, err := NewAccuracyPrediction(logCurve(90, -5, 4), "")
	if err != nil {
		t.Fatalf("NewAccuracyPrediction: %v", err)
	}
	if _, ok := prediction.PredictRoundForAccuracy(95); ok {
		t.Error("a falling curve should never reach a higher target")
	}
}

func TestAccuracyPredictionErrors(t *testing.T) {
	if _, err := NewAccuracyPrediction(logCurve(10, 20, 1), ""); !errors.Is(err, ErrNotEnoughPoints) {
		t.Errorf("single point error = %v, want ErrNotEnoughPoints", err)
	}
	if _, err := NewAccuracyPrediction(logCurve(10, 20, 3), "poly"); !errors.Is(err, ErrUnknownPredictionType) {
		t.Errorf("unknown type error = %v, want ErrUnknownPredictionType", err)
	}
}
