package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs       = []byte("jobs")
	bucketPending    = []byte("pending")
	bucketDeferred   = []byte("deferred")
	bucketDeadLetter = []byte("dead_letter")
)

// BoltStorage implements Queue interface using BoltDB
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates a new BoltDB storage
func NewBoltStorage(path string) (*BoltStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketPending, bucketDeferred, bucketDeadLetter} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Enqueue adds a job to the queue
func (s *BoltStorage) Enqueue(ctx context.Context, job *DeliveryJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return enqueueInTx(tx, job)
	})
}

// EnqueueBatch adds a campaign's job snapshot in one transaction, so a
// crash mid-start leaves either the whole snapshot or none of it.
func (s *BoltStorage) EnqueueBatch(ctx context.Context, jobs []*DeliveryJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, job := range jobs {
			if err := enqueueInTx(tx, job); err != nil {
				return err
			}
		}
		return nil
	})
}

func enqueueInTx(tx *bolt.Tx, job *DeliveryJob) error {
	jobBucket := tx.Bucket(bucketJobs)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := jobBucket.Put([]byte(job.ID), data); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	pendingBucket := tx.Bucket(bucketPending)
	indexKey := makeIndexKey(job.CreatedAt, job.ID)
	if err := pendingBucket.Put(indexKey, []byte(job.ID)); err != nil {
		return fmt.Errorf("failed to add to pending index: %w", err)
	}

	return nil
}

// Dequeue gets the next job for processing
func (s *BoltStorage) Dequeue(ctx context.Context) (*DeliveryJob, error) {
	var job *DeliveryJob

	err := s.db.Update(func(tx *bolt.Tx) error {
		// First check deferred jobs that are ready for retry
		deferredBucket := tx.Bucket(bucketDeferred)
		jobBucket := tx.Bucket(bucketJobs)

		c := deferredBucket.Cursor()
		now := time.Now()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			// Parse timestamp from key
			ts := parseTimestampFromKey(k)
			if ts.After(now) {
				break // All remaining are in the future
			}

			// Get the job
			jobData := jobBucket.Get(v)
			if jobData == nil {
				// Job was deleted, clean up index
				c.Delete()
				continue
			}

			var j DeliveryJob
			if err := json.Unmarshal(jobData, &j); err != nil {
				continue
			}

			j.Status = StatusSending
			j.UpdatedAt = now

			data, err := json.Marshal(&j)
			if err != nil {
				return err
			}

			if err := jobBucket.Put([]byte(j.ID), data); err != nil {
				return err
			}

			// Remove from deferred index
			if err := c.Delete(); err != nil {
				return err
			}

			job = &j
			return nil
		}

		// If no deferred jobs, check pending
		pendingBucket := tx.Bucket(bucketPending)
		c = pendingBucket.Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			jobData := jobBucket.Get(v)
			if jobData == nil {
				c.Delete()
				continue
			}

			var j DeliveryJob
			if err := json.Unmarshal(jobData, &j); err != nil {
				continue
			}

			j.Status = StatusSending
			j.UpdatedAt = now

			data, err := json.Marshal(&j)
			if err != nil {
				return err
			}

			if err := jobBucket.Put([]byte(j.ID), data); err != nil {
				return err
			}

			// Remove from pending index
			if err := c.Delete(); err != nil {
				return err
			}

			job = &j
			return nil
		}

		return nil
	})

	return job, err
}

// Update updates the job status
func (s *BoltStorage) Update(ctx context.Context, job *DeliveryJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)

		job.UpdatedAt = time.Now()

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		if err := jobBucket.Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		// If deferred, add to deferred index
		if job.Status == StatusDeferred {
			deferredBucket := tx.Bucket(bucketDeferred)
			indexKey := makeIndexKey(job.NextRetryAt, job.ID)
			if err := deferredBucket.Put(indexKey, []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to add to deferred index: %w", err)
			}
		}

		return nil
	})
}

// Get retrieves a job by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*DeliveryJob, error) {
	var job *DeliveryJob

	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		data := jobBucket.Get([]byte(id))
		if data == nil {
			return nil
		}

		job = &DeliveryJob{}
		return json.Unmarshal(data, job)
	})

	return job, err
}

// List returns a list of jobs with optional filtering
func (s *BoltStorage) List(ctx context.Context, filter ListFilter) ([]*DeliveryJob, error) {
	var jobs []*DeliveryJob

	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		c := jobBucket.Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job DeliveryJob
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}

			// Apply filters
			if filter.CampaignID != "" && job.CampaignID != filter.CampaignID {
				continue
			}
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}

			// Apply offset
			if skipped < filter.Offset {
				skipped++
				continue
			}

			jobs = append(jobs, &job)
			count++

			// Apply limit
			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}

		return nil
	})

	return jobs, err
}

// Delete removes a job from the queue
func (s *BoltStorage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)

		// Get job first to clean up indexes
		data := jobBucket.Get([]byte(id))
		if data != nil {
			var job DeliveryJob
			if err := json.Unmarshal(data, &job); err == nil {
				pendingBucket := tx.Bucket(bucketPending)
				pendingBucket.Delete(makeIndexKey(job.CreatedAt, job.ID))

				deferredBucket := tx.Bucket(bucketDeferred)
				deferredBucket.Delete(makeIndexKey(job.NextRetryAt, job.ID))
			}
		}

		return jobBucket.Delete([]byte(id))
	})
}

// Stats returns queue statistics
func (s *BoltStorage) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		c := jobBucket.Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job DeliveryJob
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}

			stats.Total++
			switch job.Status {
			case StatusPending:
				stats.Pending++
			case StatusSending:
				stats.Sending++
			case StatusSent:
				stats.Sent++
			case StatusFailed:
				stats.Failed++
			case StatusDeferred:
				stats.Deferred++
			case StatusSkipped:
				stats.Skipped++
			}
		}

		return nil
	})

	return stats, err
}

// Close closes the database connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	// Format: timestamp (RFC3339Nano) + ":" + id
	return []byte(t.Format(time.RFC3339Nano) + ":" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	// Find the separator
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			ts, _ := time.Parse(time.RFC3339Nano, s[:i])
			return ts
		}
	}
	return time.Time{}
}

// Dead Letter Queue methods

// MoveToDLQ moves a permanently failed job to the dead letter queue
func (s *BoltStorage) MoveToDLQ(ctx context.Context, job *DeliveryJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dlqBucket := tx.Bucket(bucketDeadLetter)
		jobBucket := tx.Bucket(bucketJobs)

		job.Status = StatusFailed
		job.UpdatedAt = time.Now()

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		// Add to DLQ index with timestamp key for ordering
		indexKey := makeIndexKey(job.UpdatedAt, job.ID)
		if err := dlqBucket.Put(indexKey, []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to DLQ index: %w", err)
		}

		// Update job in main storage
		if err := jobBucket.Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		return nil
	})
}

// ListDLQ returns jobs in the dead letter queue
func (s *BoltStorage) ListDLQ(ctx context.Context, limit, offset int) ([]*DeliveryJob, error) {
	var jobs []*DeliveryJob

	err := s.db.View(func(tx *bolt.Tx) error {
		dlqBucket := tx.Bucket(bucketDeadLetter)
		jobBucket := tx.Bucket(bucketJobs)
		c := dlqBucket.Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}

			jobData := jobBucket.Get(v)
			if jobData == nil {
				continue
			}

			var job DeliveryJob
			if err := json.Unmarshal(jobData, &job); err != nil {
				continue
			}

			jobs = append(jobs, &job)
			count++

			if limit > 0 && count >= limit {
				break
			}
		}

		return nil
	})

	return jobs, err
}

// RetryFromDLQ moves a job from DLQ back to the pending queue. The retry
// counter resets but the sequence index is preserved, so the re-sent mail
// uses the same rotation slot as the original attempt.
func (s *BoltStorage) RetryFromDLQ(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dlqBucket := tx.Bucket(bucketDeadLetter)
		jobBucket := tx.Bucket(bucketJobs)
		pendingBucket := tx.Bucket(bucketPending)

		data := jobBucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job not found: %s", id)
		}

		var job DeliveryJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}

		// Remove from DLQ index
		c := dlqBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				if err := c.Delete(); err != nil {
					return err
				}
				break
			}
		}

		job.Status = StatusPending
		job.RetryCount = 0
		job.LastError = ""
		job.UpdatedAt = time.Now()

		newData, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		if err := jobBucket.Put([]byte(id), newData); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		indexKey := makeIndexKey(job.UpdatedAt, job.ID)
		if err := pendingBucket.Put(indexKey, []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to pending: %w", err)
		}

		return nil
	})
}

// DeleteFromDLQ permanently deletes a job from the dead letter queue
func (s *BoltStorage) DeleteFromDLQ(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		dlqBucket := tx.Bucket(bucketDeadLetter)
		jobBucket := tx.Bucket(bucketJobs)

		c := dlqBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				if err := c.Delete(); err != nil {
					return err
				}
				break
			}
		}

		return jobBucket.Delete([]byte(id))
	})
}

// CleanupTerminal removes jobs in a terminal status older than maxAge.
// Terminal jobs are kept for a while for queue inspection, then reaped.
func (s *BoltStorage) CleanupTerminal(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		c := jobBucket.Cursor()

		var toDelete [][]byte

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job DeliveryJob
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}

			if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}

		for _, k := range toDelete {
			if err := jobBucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}

		return nil
	})

	return deleted, err
}
