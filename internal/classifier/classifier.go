// Package classifier defines the consumed intent-classification boundary.
package classifier

import (
	"context"

	"github.com/sekretaria/agenda/internal/model"
)

// Classifier maps a raw user message onto a classified Intent with
// confidence. The core treats low-confidence results as ambiguous input;
// it never re-inspects the raw text itself.
type Classifier interface {
	Classify(ctx context.Context, userID, text string) (model.Intent, error)
}
