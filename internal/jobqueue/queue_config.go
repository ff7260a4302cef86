package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds the tunable parameters of the batch queue.
type QueueConfig struct {
	// MaxWorkers bounds concurrent jobs. Runs of one tenant are serialized by
	// the processor lock regardless.
	MaxWorkers int
	// JobTimeout caps a single batch run.
	JobTimeout time.Duration
}

// DefaultQueueConfig returns the defaults used when config leaves values unset.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 2,
		JobTimeout: 30 * time.Minute,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	workers := c.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: workers,
		},
	}
}
