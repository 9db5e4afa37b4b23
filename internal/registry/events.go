package registry

import "time"

// TopicRegistryUpdated is the event published after a registry is saved.
const TopicRegistryUpdated = "registry.updated"

// RegistryEvent is the notification payload for TopicRegistryUpdated.
type RegistryEvent struct {
	Event           string    `json:"event"`
	Domain          string    `json:"domain"`
	CrawlID         string    `json:"crawl_id"`
	JobID           string    `json:"job_id,omitempty"`
	Source          string    `json:"source"`
	ConfidenceScore float64   `json:"confidence_score"`
	SnapshotURI     string    `json:"snapshot_uri,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
