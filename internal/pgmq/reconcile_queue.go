package pgmq

import (
	"context"
	"time"

	"billingsync/internal/model"
)

// ReconcileQueue enqueues verify-and-fix jobs for the reconcile worker.
type ReconcileQueue struct {
	client *Client
	queue  string
}

func NewReconcileQueue(client *Client, queue string) *ReconcileQueue {
	return &ReconcileQueue{client: client, queue: queue}
}

func (q *ReconcileQueue) Enqueue(ctx context.Context, job model.ReconcileJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	_, err := q.client.SendJSON(ctx, q.queue, job)
	return err
}
