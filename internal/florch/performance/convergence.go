package performance

import "math"

func movingAverage(values []float64, windowSize int) []float64 {
	if windowSize <= 0 || len(values) < windowSize {
		return nil
	}
	averages := make([]float64, len(values)-windowSize+1)
	for i := 0; i <= len(values)-windowSize; i++ {
		sum := 0.0
		for j := i; j < i+windowSize; j++ {
			sum += values[j]
		}
		averages[i] = sum / float64(windowSize)
	}
	return averages
}

// HasConverged reports whether the moving average of accuracies moved by at
// most threshold over each of the last patience steps.
func HasConverged(accuracies []float64, threshold float64, patience int, windowSize int) bool {
	averages := movingAverage(accuracies, windowSize)
	if patience <= 0 || len(averages) < patience+1 {
		return false
	}

	for i := len(averages) - patience; i < len(averages); i++ {
		if math.Abs(averages[i]-averages[i-1]) > threshold {
			return false
		}
	}
	return true
}
