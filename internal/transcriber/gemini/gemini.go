// Package gemini transcribes voice notes with the Gemini generateContent
// API using inline base64 audio.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sekretaria/agenda/internal/model"
)

// Transcriber sends audio inline and returns the literal transcription.
type Transcriber struct {
	client *resty.Client
	model  string
}

func New(baseURL, apiKey, modelName string) *Transcriber {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if modelName == "" {
		modelName = "gemini-3-flash-preview"
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", apiKey).
		SetTimeout(120 * time.Second)
	return &Transcriber{client: c, model: modelName}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "audio/ogg"
	}
	req := generateRequest{Contents: []content{{Parts: []part{
		{Text: "Transcribe this audio literally. Reply with the transcription only, no commentary."},
		{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(audio)}},
	}}}}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(fmt.Sprintf("/models/%s:generateContent", t.model))
	if err != nil {
		return "", fmt.Errorf("%w: transcription request: %v", model.ErrTransient, err)
	}
	if code := resp.StatusCode(); code != http.StatusOK {
		if code == http.StatusTooManyRequests || code >= 500 {
			return "", fmt.Errorf("%w: transcription status %d", model.ErrTransient, code)
		}
		return "", fmt.Errorf("%w: transcription status %d: %s", model.ErrFatal, code, resp.String())
	}
	var gr generateResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		return "", fmt.Errorf("%w: decode transcription response: %v", model.ErrFatal, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: transcription returned no candidates", model.ErrFatal)
	}
	return strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text), nil
}
