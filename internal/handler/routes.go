package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Routes bundles what the HTTP surface is built from
type Routes struct {
	Books         *BookHandler
	Audio         *AudioHandler
	RateLimit     fiber.Handler
	GenerateQuota fiber.Handler
	Progress      fiber.Handler
}

// Register mounts the API and websocket routes on app
func Register(app *fiber.App, r Routes) {
	if r.RateLimit != nil {
		app.Use(r.RateLimit)
	}

	api := app.Group("/api")

	books := api.Group("/books")
	books.Post("/", r.Books.Create)
	books.Get("/:bookId", r.Books.Get)
	books.Get("/:bookId/pdf", r.Books.PDF)
	books.Delete("/:bookId", r.Books.Delete)

	generate := []fiber.Handler{}
	if r.GenerateQuota != nil {
		generate = append(generate, r.GenerateQuota)
	}
	generate = append(generate, r.Audio.GenerateAll)
	books.Post("/:bookId/audio/generate-all", generate...)
	books.Get("/:bookId/audio/generation-status", r.Audio.GenerationStatus)
	books.Delete("/:bookId/audio/generation-status", r.Audio.ClearGenerationStatus)
	books.Delete("/:bookId/audio/generation", r.Audio.CancelGeneration)
	books.Delete("/:bookId/audio", r.Audio.DeleteAudio)

	books.Get("/:bookId/pages/:page/audio", r.Audio.PageAudio)
	books.Get("/:bookId/pages/:page/audio/status", r.Audio.PageAudioStatus)
	books.Get("/:bookId/pages/:page/text-with-timings", r.Audio.TextWithTimings)

	if r.Progress != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/books/:bookId/audio", r.Progress)
	}
}
