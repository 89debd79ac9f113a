package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries a progress update of a book's generation job
type WSProgressMessage struct {
	Type               string    `json:"type"`
	BookID             string    `json:"bookId"`
	Status             JobStatus `json:"status"`
	CurrentPage        int       `json:"currentPage"`
	TotalPages         int       `json:"totalPages"`
	ProgressPercentage float64   `json:"progressPercentage"`
}

// WSCompleteMessage is sent once a job reaches COMPLETED or CANCELLED
type WSCompleteMessage struct {
	Type   string              `json:"type"`
	BookID string              `json:"bookId"`
	Job    *AudioGenerationJob `json:"job"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type   string  `json:"type"`
	BookID string  `json:"bookId"`
	Error  WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
