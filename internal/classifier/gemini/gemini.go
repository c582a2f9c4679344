// Package gemini adapts the Gemini generateContent API to the classifier
// boundary. The model returns a strict JSON envelope; anything the core
// relies on for safety (confirmation gating, conflict detection) stays out
// of this package.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sekretaria/agenda/internal/model"
)

const systemPrompt = `You are an assistant that analyzes messages for calendar intent.
Detect the intent, extract the entities, and answer ONLY with valid JSON:
{
  "intent": "create|edit|move|delete|query|check_availability|unrelated",
  "confidence": 0.0-1.0,
  "entities": {
    "title": "...", "date": "YYYY-MM-DD or relative phrase", "time": "HH:MM",
    "durationMinutes": 60, "timeZone": "", "location": "",
    "participants": ["email"], "targetReference": "which existing event is meant"
  }
}
Rules: do not invent a year; keep relative dates ("mañana", "el viernes") verbatim;
leave fields empty when the message does not state them.`

// Classifier calls Gemini over its REST API.
type Classifier struct {
	client *resty.Client
	model  string
}

// New builds a classifier for the given API key. Model defaults to
// gemini-3-flash-preview.
func New(baseURL, apiKey, modelName string) *Classifier {
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
		SetTimeout(60 * time.Second)
	return &Classifier{client: c, model: modelName}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// envelope is the JSON the prompt demands.
type envelope struct {
	Intent     string               `json:"intent"`
	Confidence float64              `json:"confidence"`
	Entities   model.IntentEntities `json:"entities"`
}

var codeFence = regexp.MustCompile("(?s)^```[a-z]*\n?(.*?)\n?```$")

// Classify sends the message with a temporal context block and decodes the
// JSON envelope. Network and 5xx failures are transient for the caller.
func (g *Classifier) Classify(ctx context.Context, userID, text string) (model.Intent, error) {
	prompt := fmt.Sprintf("%s\n\nCurrent date: %s\n\nUser message: %s",
		systemPrompt, time.Now().UTC().Format("2006-01-02 (Monday)"), text)

	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}).
		Post(fmt.Sprintf("/models/%s:generateContent", g.model))
	if err != nil {
		return model.Intent{}, fmt.Errorf("%w: classifier request: %v", model.ErrTransient, err)
	}
	if code := resp.StatusCode(); code != http.StatusOK {
		if code == http.StatusTooManyRequests || code >= 500 {
			return model.Intent{}, fmt.Errorf("%w: classifier status %d", model.ErrTransient, code)
		}
		return model.Intent{}, fmt.Errorf("%w: classifier status %d: %s", model.ErrFatal, code, resp.String())
	}

	var gr generateResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		return model.Intent{}, fmt.Errorf("%w: decode classifier response: %v", model.ErrFatal, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return model.Intent{}, fmt.Errorf("%w: classifier returned no candidates", model.ErrFatal)
	}

	raw := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	if m := codeFence.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Some models wrap the JSON in prose; salvage the outermost object.
		if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
			if err2 := json.Unmarshal([]byte(raw[start:end+1]), &env); err2 != nil {
				return model.Intent{}, fmt.Errorf("%w: unparseable classifier envelope: %v", model.ErrFatal, err2)
			}
		} else {
			return model.Intent{}, fmt.Errorf("%w: unparseable classifier envelope: %v", model.ErrFatal, err)
		}
	}

	kind := model.IntentKind(env.Intent)
	switch kind {
	case model.IntentCreate, model.IntentEdit, model.IntentMove, model.IntentDelete,
		model.IntentQuery, model.IntentCheckAvailability, model.IntentUnrelated:
	default:
		kind = model.IntentUnrelated
	}
	return model.Intent{
		UserID:     userID,
		Kind:       kind,
		Confidence: env.Confidence,
		RawText:    text,
		Entities:   env.Entities,
	}, nil
}
