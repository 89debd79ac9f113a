package handler

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/model"
	"github.com/bookshelf/api/internal/service"
	ws "github.com/bookshelf/api/internal/websocket"
)

// ProgressStream serves GET /ws/books/:bookId/audio. The client first gets
// the current job state, then every update of the book's generation job.
func ProgressStream(batch *service.BatchService, hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		bookID := c.Params("bookId")

		job, err := batch.GetProgress(context.Background(), bookID)
		if err != nil {
			data, _ := json.Marshal(model.WSErrorMessage{
				Type:   model.WSMessageTypeError,
				BookID: bookID,
				Error: model.WSError{
					Code:    apperr.CodeOf(err),
					Message: err.Error(),
				},
			})
			c.WriteMessage(websocket.TextMessage, data)
			return
		}

		hub.HandleConnection(c, bookID, job)
	})
}
