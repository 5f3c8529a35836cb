package redis

import "time"

// Redis namespaces define the top-level key prefixes.
const (
	NamespaceCache = "cache"
)

// Redis contexts define the second-level key prefixes.
const (
	ContextReviewable = "reviewable"
)

// Entities cached under ContextReviewable.
const (
	EntityQueue  = "queue"
	EntityTopics = "topics"
)

// TTL constants define the time-to-live durations for cached review data.
const (
	TTLTopicStats = 30 * time.Second
)

// DLQStream is the stream that receives events the relay could not deliver.
const DLQStream = "reviewable_event_dlq"
