package queue

import (
	"context"
)

// Queue defines the interface for delivery job queue operations
type Queue interface {
	// Enqueue adds a job to the queue
	Enqueue(ctx context.Context, job *DeliveryJob) error

	// EnqueueBatch adds a campaign's job snapshot to the queue atomically
	EnqueueBatch(ctx context.Context, jobs []*DeliveryJob) error

	// Dequeue gets the next job for processing, due deferred jobs first.
	// Returns nil, nil if nothing is ready.
	Dequeue(ctx context.Context) (*DeliveryJob, error)

	// Update updates the job status
	Update(ctx context.Context, job *DeliveryJob) error

	// MoveToDLQ moves a permanently failed job to the dead letter queue
	MoveToDLQ(ctx context.Context, job *DeliveryJob) error

	// Get retrieves a job by ID
	Get(ctx context.Context, id string) (*DeliveryJob, error)

	// List returns a list of jobs with optional filtering
	List(ctx context.Context, filter ListFilter) ([]*DeliveryJob, error)

	// Delete removes a job from the queue
	Delete(ctx context.Context, id string) error

	// Stats returns queue statistics
	Stats(ctx context.Context) (*QueueStats, error)

	// Close closes the storage connection
	Close() error
}
