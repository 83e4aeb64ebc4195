package queue

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of pending jobs.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithPartition labels the queue in metrics and logs.
func WithPartition(name string) Option {
	return func(q *InMemoryQueue) {
		if name != "" {
			q.partition = name
		}
	}
}
