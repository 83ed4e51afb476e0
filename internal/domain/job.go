package domain

// EmbeddingJob is the queue wire format pushed to and popped from the broker.
// RetryCount increments strictly on failure; the job is dropped (not
// re-enqueued) once RetryCount reaches the retry budget.
type EmbeddingJob struct {
	ID         string `json:"id,omitempty"`
	Address    string `json:"address"`
	MessageID  string `json:"message_id"`
	RetryCount int    `json:"retry_count"`
}
