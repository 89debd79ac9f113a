package model

// Job status
type JobStatus string

const (
	JobStatusIdle      JobStatus = "IDLE"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

// Speech backends
const (
	SpeechProviderGoogle = "google"
	SpeechProviderOpenAI = "openai"
	SpeechProviderMock   = "mock"
)

// Audio storage backends
const (
	StorageBackendFS = "fs"
	StorageBackendR2 = "r2"
)
