package model

import "time"

// Book is the subset of a library record the narration pipeline needs.
type Book struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	PageCount int       `json:"pageCount"`
	PDFPath   string    `json:"pdfPath"`
	FileSize  int64     `json:"fileSize"`
	CreatedAt time.Time `json:"createdAt"`
}

// BookCreateRequest holds the form fields of a PDF upload
type BookCreateRequest struct {
	Title string `form:"title" validate:"omitempty,max=500"`
}
