package client

import (
	"context"
	"sync/atomic"
)

var mockMP3Header = []byte{'I', 'D', '3', 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// MockSpeechClient returns placeholder audio for development without a backend
type MockSpeechClient struct {
	calls atomic.Int64
}

func NewMockSpeechClient() *MockSpeechClient {
	return &MockSpeechClient{}
}

func (c *MockSpeechClient) Name() string {
	return "mock"
}

// Synthesize returns an ID3 header followed by the text
func (c *MockSpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.calls.Add(1)
	audio := make([]byte, 0, len(mockMP3Header)+len(text))
	audio = append(audio, mockMP3Header...)
	return append(audio, text...), nil
}

// Calls returns how many times Synthesize succeeded
func (c *MockSpeechClient) Calls() int64 {
	return c.calls.Load()
}

func (c *MockSpeechClient) IsConfigured() bool {
	return true
}
