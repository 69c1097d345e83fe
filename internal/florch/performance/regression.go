package performance

import "errors"

var ErrUnknownPredictionType = errors.New("unknown prediction type")

type Regression interface {
	PredictY(x float64) float64
	PredictX(y float64) float64
	PrintFunction() string
}
