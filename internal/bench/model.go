// Package bench runs the timed training loop shared by both model variants
// and summarizes the collected forward and backward durations.
package bench

import "github.com/muajs/mua-benchmarking/internal/dataset"

// Model is one trainable network. Forward evaluates the network on a single
// image and builds the target for class, keeping whatever the update needs.
// Backward computes the loss and its gradients and applies one optimizer
// update, returning the loss.
type Model interface {
	Forward(input []float32, class int) error
	Backward() (float64, error)
}

// Loader turns a dataset item into the model's input values.
type Loader func(dataset.Item) ([]float32, error)
