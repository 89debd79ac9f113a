package model

// WordTiming is the estimated position of one word in a page narration.
// Times are in seconds from the start of the page audio.
type WordTiming struct {
	Word      string  `json:"word"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// PageTextWithTimings powers read-along highlighting for a page
type PageTextWithTimings struct {
	Text        string       `json:"text"`
	WordTimings []WordTiming `json:"wordTimings"`
	AudioURL    string       `json:"audioUrl"`
	Truncated   bool         `json:"truncated"`
}

// AudioStatusResponse reports whether a page is already narrated
type AudioStatusResponse struct {
	BookID     string `json:"bookId"`
	PageNumber int    `json:"pageNumber"`
	Cached     bool   `json:"cached"`
}

// PrefetchPayload is the asynq payload of a page prefetch task
type PrefetchPayload struct {
	BookID string `json:"bookId"`
	Page   int    `json:"page"`
}
