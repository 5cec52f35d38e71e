package port

import "context"

// Generator represents a language model for text generation.
type Generator interface {
	// Generate produces text for the user message under the given system
	// instructions. Instructions are sent in order.
	Generate(ctx context.Context, system []string, user string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
