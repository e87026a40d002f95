// Package postprocess - Turns raw model logits into ranked class predictions.
package postprocess

// Prediction is a single ranked class prediction.
type Prediction struct {
	// The class index in the model output.
	Index int `json:"index"`
	// The class label.
	Label string `json:"label"`
	// The softmax probability of the class.
	Probability float32 `json:"probability"`
}
