package model

import "time"

// AudioGenerationJob is the progress record of a batch narration run for one book.
type AudioGenerationJob struct {
	BookID             string     `json:"bookId"`
	Status             JobStatus  `json:"status"`
	StartPage          int        `json:"startPage"`
	CurrentPage        int        `json:"currentPage"`
	TotalPages         int        `json:"totalPages"`
	PagesProcessed     int        `json:"pagesProcessed"`
	PagesSynthesized   int        `json:"pagesSynthesized"`
	TruncatedPages     []int      `json:"truncatedPages,omitempty"`
	ProgressPercentage float64    `json:"progressPercentage"`
	ErrorMessage       *string    `json:"errorMessage,omitempty"`
	ErrorCode          *string    `json:"errorCode,omitempty"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// PagesInRange returns the number of pages the job covers.
func (j *AudioGenerationJob) PagesInRange() int {
	return j.TotalPages - j.StartPage + 1
}

// GenerateAllResponse is returned when a batch run is accepted
type GenerateAllResponse struct {
	Message string              `json:"message"`
	Job     *AudioGenerationJob `json:"job"`
}

// MessageResponse is a plain acknowledgement body
type MessageResponse struct {
	Message string `json:"message"`
}
