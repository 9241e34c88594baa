package engine

import "time"

// InstallOptions configures a single plugin installation.
type InstallOptions struct {
	// Options is the free-form payload handed to the plugin's Install.
	Options map[string]any
	// Retry overrides the engine's configured install retry policy.
	Retry *RetryPolicy
}

// RetryPolicy retries transient install failures with exponential backoff.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries uint64
	// InitialInterval is the first backoff delay; zero keeps the backoff
	// library default.
	InitialInterval time.Duration
}
