// Package rest is the HTTP connector to the calendar backend.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sekretaria/agenda/internal/calendar"
	"github.com/sekretaria/agenda/internal/model"
)

// Connector talks to a calendar REST API. Authentication and token refresh
// happen outside the core; the connector only attaches the bearer token it
// is given and maps HTTP status classes onto the failure taxonomy.
type Connector struct {
	client *resty.Client
}

// New builds a connector for the given base URL and bearer token.
func New(baseURL, bearerToken string) *Connector {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	if bearerToken != "" {
		c.SetAuthToken(bearerToken)
	}
	return &Connector{client: c}
}

type wireEvent struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
	Status   string    `json:"status,omitempty"`
}

func (w wireEvent) toModel() model.CalendarEvent {
	return model.CalendarEvent{
		EventRef: w.ID,
		Title:    w.Summary,
		Start:    w.Start,
		End:      w.End,
		Location: w.Location,
		Status:   w.Status,
	}
}

// ListEvents returns the events overlapping [start, end), ordered by start time.
func (c *Connector) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("timeMin", start.Format(time.RFC3339)).
		SetQueryParam("timeMax", end.Format(time.RFC3339)).
		SetQueryParam("singleEvents", "true").
		SetQueryParam("orderBy", "startTime").
		Get(fmt.Sprintf("/calendars/%s/events", calendarID))
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %v", model.ErrTransient, err)
	}
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	var body struct {
		Items []wireEvent `json:"items"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: decode event list: %v", model.ErrFatal, err)
	}
	out := make([]model.CalendarEvent, 0, len(body.Items))
	for _, it := range body.Items {
		out = append(out, it.toModel())
	}
	return out, nil
}

// Create inserts a new event. The idempotency key makes a retried insert a no-op.
func (c *Connector) Create(ctx context.Context, calendarID string, in calendar.EventInput, idempotencyKey string) (model.CalendarEvent, error) {
	sendUpdates := "none"
	if len(in.Participants) > 0 {
		sendUpdates = "all"
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetQueryParam("sendUpdates", sendUpdates).
		SetBody(map[string]interface{}{
			"summary":      in.Title,
			"start":        in.Start.Format(time.RFC3339),
			"end":          in.End.Format(time.RFC3339),
			"timeZone":     in.TimeZone,
			"location":     in.Location,
			"description":  in.Description,
			"participants": in.Participants,
		}).
		Post(fmt.Sprintf("/calendars/%s/events", calendarID))
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("%w: create event: %v", model.ErrTransient, err)
	}
	if err := classifyStatus(resp); err != nil {
		return model.CalendarEvent{}, err
	}
	return decodeEvent(resp)
}

// Update patches an existing event.
func (c *Connector) Update(ctx context.Context, calendarID, eventRef string, ch calendar.EventChanges, idempotencyKey string) (model.CalendarEvent, error) {
	body := map[string]interface{}{}
	if ch.Title != nil {
		body["summary"] = *ch.Title
	}
	if ch.Start != nil {
		body["start"] = ch.Start.Format(time.RFC3339)
	}
	if ch.End != nil {
		body["end"] = ch.End.Format(time.RFC3339)
	}
	if ch.Location != nil {
		body["location"] = *ch.Location
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(body).
		Patch(fmt.Sprintf("/calendars/%s/events/%s", calendarID, eventRef))
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("%w: update event: %v", model.ErrTransient, err)
	}
	if err := classifyStatus(resp); err != nil {
		return model.CalendarEvent{}, err
	}
	return decodeEvent(resp)
}

// Delete removes an event. A repeat delete with the same key reports success.
func (c *Connector) Delete(ctx context.Context, calendarID, eventRef string, idempotencyKey string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		Delete(fmt.Sprintf("/calendars/%s/events/%s", calendarID, eventRef))
	if err != nil {
		return fmt.Errorf("%w: delete event: %v", model.ErrTransient, err)
	}
	return classifyStatus(resp)
}

func decodeEvent(resp *resty.Response) (model.CalendarEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(resp.Body(), &w); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("%w: decode event: %v", model.ErrFatal, err)
	}
	return w.toModel(), nil
}

// classifyStatus maps HTTP status classes onto the failure taxonomy consumed
// by the self-correction loop.
func classifyStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: backend status %d: %s", model.ErrAuthorization, code, resp.String())
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: backend status %d", model.ErrNotFound, code)
	case code == http.StatusPaymentRequired:
		return fmt.Errorf("%w: backend status %d: %s", model.ErrCostIncurring, code, resp.String())
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: backend status %d: %s", model.ErrTransient, code, resp.String())
	default:
		return fmt.Errorf("%w: backend status %d: %s", model.ErrFatal, code, resp.String())
	}
}
