package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/service"
	"github.com/bookshelf/api/pkg/response"
)

// writeError maps service errors onto the JSON error envelope
func writeError(c *fiber.Ctx, err error) error {
	var (
		rangeErr   *apperr.InvalidRangeError
		synthErr   *apperr.SynthesisError
		procErr    *apperr.ProcessingError
		storageErr *apperr.StorageError
	)

	switch {
	case errors.As(err, &rangeErr):
		return response.ValidationError(c, rangeErr.Reason, fiber.Map{
			"startPage":  rangeErr.StartPage,
			"endPage":    rangeErr.EndPage,
			"totalPages": rangeErr.TotalPages,
		})
	case errors.Is(err, apperr.ErrAudioNotCached):
		return response.NotFound(c, "Page audio not found")
	case errors.Is(err, apperr.ErrNotFound):
		return response.NotFound(c, "Book not found")
	case errors.Is(err, apperr.ErrJobRunning):
		return response.Conflict(c, "Audio generation is already running for this book")
	case errors.Is(err, service.ErrShuttingDown):
		return response.Error(c, fiber.StatusServiceUnavailable, response.CodeServiceError, "Server is shutting down", nil)
	case errors.As(err, &synthErr):
		return response.SynthesisError(c, "Failed to generate audio: "+synthErr.Err.Error())
	case errors.As(err, &procErr):
		return response.ProcessingError(c, "Failed to read PDF: "+procErr.Err.Error())
	case errors.As(err, &storageErr):
		return response.StorageError(c, "Failed to access audio storage")
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

// optionalQueryInt returns nil when the query parameter is absent
func optionalQueryInt(c *fiber.Ctx, key string) (*int, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
