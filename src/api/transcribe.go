package api

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/stephanwesten/ayurveda-voice/src/logger"
)

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// Transcribe uploads a WAV recording to /transcribe and returns the text.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	body, contentType, err := multipartBody("audio", "recording.wav", "audio/wav", bytes.NewReader(wav))
	if err != nil {
		return "", err
	}

	var resp transcribeResponse
	if err := c.do(ctx, "/transcribe", contentType, body, &resp); err != nil {
		return "", err
	}
	logger.FromContext(ctx, c.log).Info("transcription received", slog.Int("chars", len(resp.Transcript)))
	return resp.Transcript, nil
}
