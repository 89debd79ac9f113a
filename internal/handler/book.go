package handler

import (
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bookshelf/api/internal/model"
	"github.com/bookshelf/api/internal/service"
	"github.com/bookshelf/api/pkg/response"
)

type BookHandler struct {
	service   *service.BookService
	validator *validator.Validate
}

func NewBookHandler(svc *service.BookService, v *validator.Validate) *BookHandler {
	return &BookHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/books
// @Summary Upload a PDF as a new book
// @Accept multipart/form-data
// @Param file formData file true "PDF file"
// @Param title formData string false "Title (defaults to the file name)"
// @Success 201 {object} model.Book
// @Failure 400,422 {object} response.ErrorResponse
func (h *BookHandler) Create(c *fiber.Ctx) error {
	var req model.BookCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	contentType := file.Header.Get("Content-Type")
	if contentType != "application/pdf" && !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		return response.ValidationError(c, "Only PDF files are accepted", map[string]interface{}{
			"contentType": contentType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read uploaded file")
	}
	defer f.Close()

	book, err := h.service.Create(c.UserContext(), req.Title, file.Filename, f)
	if err != nil {
		return writeError(c, err)
	}
	return response.Created(c, book)
}

// Get handles GET /api/books/:bookId
func (h *BookHandler) Get(c *fiber.Ctx) error {
	book, err := h.service.GetBook(c.UserContext(), c.Params("bookId"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, book)
}

// PDF handles GET /api/books/:bookId/pdf
func (h *BookHandler) PDF(c *fiber.Ctx) error {
	book, err := h.service.GetBook(c.UserContext(), c.Params("bookId"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	return c.SendFile(book.PDFPath)
}

// Delete handles DELETE /api/books/:bookId
// @Summary Delete a book, stopping its generation job and purging its audio
// @Success 204
// @Failure 404 {object} response.ErrorResponse
func (h *BookHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("bookId")); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}
