package app

import "crewcall/internal/store"

type Option func(*Container)

// WithSender replaces the default dry-run sender with a real provider
// integration.
func WithSender(sender store.Sender) Option {
	return func(c *Container) { c.Sender = sender }
}
