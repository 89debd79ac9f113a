package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/bookshelf/api/internal/model"
	"github.com/bookshelf/api/internal/service"
	"github.com/bookshelf/api/pkg/response"
)

type AudioHandler struct {
	books     *service.BookService
	narration *service.NarrationService
	batch     *service.BatchService
}

// NewAudioHandler wires the audio routes. Page bounds are validated by the
// batch service, which knows the book's page count.
func NewAudioHandler(books *service.BookService, narration *service.NarrationService, batch *service.BatchService) *AudioHandler {
	return &AudioHandler{
		books:     books,
		narration: narration,
		batch:     batch,
	}
}

func invalidPage(c *fiber.Ctx) error {
	return response.ValidationError(c, "Page number must be an integer", nil)
}

// GenerateAll handles POST /api/books/:bookId/audio/generate-all
// @Summary Start narrating a page range in the background
// @Param startPage query int false "First page (default 1)"
// @Param endPage query int false "Last page (default page count)"
// @Success 202 {object} model.GenerateAllResponse
// @Failure 400,404,409 {object} response.ErrorResponse
func (h *AudioHandler) GenerateAll(c *fiber.Ctx) error {
	startPage, err := optionalQueryInt(c, "startPage")
	if err != nil {
		return response.ValidationError(c, "startPage must be an integer", nil)
	}
	endPage, err := optionalQueryInt(c, "endPage")
	if err != nil {
		return response.ValidationError(c, "endPage must be an integer", nil)
	}

	job, err := h.batch.Start(c.UserContext(), c.Params("bookId"), startPage, endPage)
	if err != nil {
		return writeError(c, err)
	}

	return response.Accepted(c, model.GenerateAllResponse{
		Message: "Batch audio generation started",
		Job:     job,
	})
}

// GenerationStatus handles GET /api/books/:bookId/audio/generation-status
// @Summary Progress of the book's generation job, IDLE when none was started
// @Success 200 {object} model.AudioGenerationJob
// @Failure 404 {object} response.ErrorResponse
func (h *AudioHandler) GenerationStatus(c *fiber.Ctx) error {
	job, err := h.batch.GetProgress(c.UserContext(), c.Params("bookId"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, job)
}

// CancelGeneration handles DELETE /api/books/:bookId/audio/generation
func (h *AudioHandler) CancelGeneration(c *fiber.Ctx) error {
	bookID := c.Params("bookId")
	if _, err := h.books.GetBook(c.UserContext(), bookID); err != nil {
		return writeError(c, err)
	}

	h.batch.Cancel(bookID)
	return response.OK(c, model.MessageResponse{Message: "Batch generation cancellation requested"})
}

// ClearGenerationStatus handles DELETE /api/books/:bookId/audio/generation-status
func (h *AudioHandler) ClearGenerationStatus(c *fiber.Ctx) error {
	bookID := c.Params("bookId")
	if _, err := h.books.GetBook(c.UserContext(), bookID); err != nil {
		return writeError(c, err)
	}

	if err := h.batch.ClearProgress(bookID); err != nil {
		return writeError(c, err)
	}
	return response.OK(c, model.MessageResponse{Message: "Generation status cleared"})
}

// PageAudio handles GET /api/books/:bookId/pages/:page/audio
// @Summary MP3 narration of a page, generated on first request
// @Produce audio/mpeg
// @Success 200 {file} binary
// @Failure 400,404,422,502 {object} response.ErrorResponse
func (h *AudioHandler) PageAudio(c *fiber.Ctx) error {
	page, err := c.ParamsInt("page")
	if err != nil {
		return invalidPage(c)
	}
	bookID := c.Params("bookId")

	audio, err := h.narration.GetPageAudio(c.UserContext(), bookID, page)
	if err != nil {
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="book-%s-page-%d.mp3"`, bookID, page))
	if audio.Cached {
		c.Set("X-Audio-Cache", "HIT")
	} else {
		c.Set("X-Audio-Cache", "MISS")
	}
	if audio.Truncated {
		c.Set("X-Text-Truncated", "true")
	}
	return c.Send(audio.Audio)
}

// PageAudioStatus handles GET /api/books/:bookId/pages/:page/audio/status
func (h *AudioHandler) PageAudioStatus(c *fiber.Ctx) error {
	page, err := c.ParamsInt("page")
	if err != nil {
		return invalidPage(c)
	}
	bookID := c.Params("bookId")
	if _, err := h.books.GetBook(c.UserContext(), bookID); err != nil {
		return writeError(c, err)
	}

	return response.OK(c, model.AudioStatusResponse{
		BookID:     bookID,
		PageNumber: page,
		Cached:     h.narration.IsCached(c.UserContext(), bookID, page),
	})
}

// TextWithTimings handles GET /api/books/:bookId/pages/:page/text-with-timings
// @Summary Narrated text of a page with estimated word timings
// @Success 200 {object} model.PageTextWithTimings
func (h *AudioHandler) TextWithTimings(c *fiber.Ctx) error {
	page, err := c.ParamsInt("page")
	if err != nil {
		return invalidPage(c)
	}

	result, err := h.narration.PageTextWithTimings(c.UserContext(), c.Params("bookId"), page)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// DeleteAudio handles DELETE /api/books/:bookId/audio
func (h *AudioHandler) DeleteAudio(c *fiber.Ctx) error {
	bookID := c.Params("bookId")
	if _, err := h.books.GetBook(c.UserContext(), bookID); err != nil {
		return writeError(c, err)
	}

	if err := h.narration.DeleteBookAudio(c.UserContext(), bookID); err != nil {
		return writeError(c, err)
	}
	return response.OK(c, model.MessageResponse{Message: "Audio files deleted successfully"})
}
