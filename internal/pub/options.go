package pub

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Options configure the batching policy of a publisher.
type Options struct {
	// MaxBatchMessages is the number of messages that triggers a dispatch.
	MaxBatchMessages int `env:"PUBLISHER_MAX_BATCH_MESSAGES" envDefault:"100"`
	// MaxBatchBytes is the upper bound of the byte size of a batch.
	MaxBatchBytes int `env:"PUBLISHER_MAX_BATCH_BYTES" envDefault:"1048576"`
	// MaxHoldTime is how long a batch may stay open waiting for more messages.
	MaxHoldTime time.Duration `env:"PUBLISHER_MAX_HOLD_TIME" envDefault:"10ms"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxBatchMessages: 100,
		MaxBatchBytes:    1 << 20,
		MaxHoldTime:      10 * time.Millisecond,
	}
}

// OptionsFromEnv loads Options from the environment, falling back to the
// defaults for unset variables.
func OptionsFromEnv() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to parse publisher options: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}

	return opts, nil
}

// Validate checks that the options describe a usable batching policy.
func (o Options) Validate() error {
	switch {
	case o.MaxBatchMessages <= 0:
		return fmt.Errorf("%w: max batch messages must be positive, got %d", ErrInvalidOptions, o.MaxBatchMessages)
	case o.MaxBatchBytes <= 0:
		return fmt.Errorf("%w: max batch bytes must be positive, got %d", ErrInvalidOptions, o.MaxBatchBytes)
	case o.MaxHoldTime < 0:
		return fmt.Errorf("%w: max hold time must not be negative, got %s", ErrInvalidOptions, o.MaxHoldTime)
	}

	return nil
}
