package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/bookshelf/api/internal/config"
)

// OpenAITTSClient narrates through the OpenAI speech endpoint
type OpenAITTSClient struct {
	client openai.Client
	apiKey string
	model  string
	voice  string
	speed  float64
}

func NewOpenAITTSClient(cfg *config.OpenAIConfig, speed float64) *OpenAITTSClient {
	if speed <= 0 {
		speed = 1.0
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// the synthesizer owns retries
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAITTSClient{
		client: openai.NewClient(opts...),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		voice:  cfg.Voice,
		speed:  speed,
	}
}

func (c *OpenAITTSClient) Name() string {
	return "openai"
}

func (c *OpenAITTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.model),
		Voice:          openai.AudioSpeechNewParamsVoice(c.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(c.speed),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Backend: "openai", StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		}
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading openai audio response: %w", err)
	}
	return audio, nil
}

func (c *OpenAITTSClient) IsConfigured() bool {
	return c.apiKey != ""
}
