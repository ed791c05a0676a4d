// Package replay records consumed payment proofs so each one grants access once.
package replay

import "context"

// Guard atomically consumes single-use keys.
type Guard interface {
	// Consume returns true the first time key is seen and false afterwards.
	Consume(ctx context.Context, key string) (bool, error)
}
