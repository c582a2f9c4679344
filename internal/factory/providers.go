package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sekretaria/agenda/internal/calendar"
	"github.com/sekretaria/agenda/internal/calendar/rest"
	"github.com/sekretaria/agenda/internal/classifier"
	clsgemini "github.com/sekretaria/agenda/internal/classifier/gemini"
	"github.com/sekretaria/agenda/internal/config"
	"github.com/sekretaria/agenda/internal/transcriber"
	trgemini "github.com/sekretaria/agenda/internal/transcriber/gemini"
)

// NewCalendarBackend builds the REST calendar connector from config.
func NewCalendarBackend(cfg *config.Config) (calendar.Backend, error) {
	if cfg.CalendarBaseURL == "" {
		return nil, fmt.Errorf("AGENDA_CALENDAR_BASE_URL is required")
	}
	return rest.New(cfg.CalendarBaseURL, cfg.CalendarAuthToken), nil
}

// NewClassifier builds the intent classifier. A missing API key is a
// startup error since every request needs classification.
func NewClassifier(cfg *config.Config, log zerolog.Logger) (classifier.Classifier, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("AGENDA_GEMINI_API_KEY is required")
	}
	log.Debug().Str("model", cfg.GeminiModel).Msg("classifier configured")
	return clsgemini.New(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel), nil
}

// NewTranscriber builds the voice transcriber. Returns nil when no API key
// is configured; the request handler then rejects voice input.
func NewTranscriber(cfg *config.Config) transcriber.Transcriber {
	if cfg.GeminiAPIKey == "" {
		return nil
	}
	return trgemini.New(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel)
}
