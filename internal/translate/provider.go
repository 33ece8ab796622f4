package translate

import "context"

// Provider is one translation backend. The chain treats all tiers through
// this interface; adding a backend means implementing it and slotting it
// into the chain, not branching on a name.
type Provider interface {
	Name() string
	// Translate returns the translated text. source may be empty to let the
	// backend auto-detect. Failures are reported as *ProviderError.
	Translate(ctx context.Context, text string, source, target Lang) (string, error)
}
