// Package ingestion defines the payloads exchanged with the external dataset
// pipeline: the signed webhook notification it posts when a new document
// store is ready and the Kafka event fanned out to every replica.
package ingestion

import "time"

// SignatureHeader carries "sha256=<hex hmac>" of the raw request body.
const SignatureHeader = "X-GitHub-Secret"

// EventSnapshotAvailable is the Kafka event type for SnapshotEvent.
const EventSnapshotAvailable = "snapshot.available"

// Notification is the webhook body. Fields beyond the ones named here are
// kept verbatim in the stored metadata.
type Notification struct {
	Version      string `json:"version"`
	Timestamp    string `json:"timestamp"`
	ListsCount   *int64 `json:"lists_count,omitempty"`
	ReposCount   *int64 `json:"repos_count,omitempty"`
	ReadmesCount *int64 `json:"readmes_count,omitempty"`
	DBURL        string `json:"db_url,omitempty"`
}

// Response acknowledges an accepted notification.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SnapshotEvent tells replicas that a new document store is available.
// Origin identifies the instance that received the webhook.
type SnapshotEvent struct {
	Version    string    `json:"version"`
	Timestamp  string    `json:"timestamp"`
	ListsCount *int64    `json:"lists_count,omitempty"`
	ReposCount *int64    `json:"repos_count,omitempty"`
	Origin     string    `json:"origin"`
	ReceivedAt time.Time `json:"received_at"`
}
