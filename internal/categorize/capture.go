package categorize

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

// FailureMessage is shown to the user whenever categorization fails.
const FailureMessage = "Failed to process. Please check your API key or try again."

// Target receives categorized batches. statesync.Synchronizer satisfies it.
type Target interface {
	ApplyLocalMutation(p workspace.Patch) error
	IDs() workspace.IDGenerator
	Now() time.Time
}

// CaptureError carries a categorization failure behind the user-facing
// message.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return FailureMessage }

func (e *CaptureError) Unwrap() error { return e.Err }

type Capturer struct {
	Categorizer Categorizer
	Target      Target
	Logger      zerolog.Logger
}

// Capture categorizes text and prepends the whole batch to the target. On a
// categorization failure nothing is applied and a *CaptureError is returned.
func (c *Capturer) Capture(ctx context.Context, text string) (workspace.Collections, error) {
	if strings.TrimSpace(text) == "" {
		return workspace.Collections{}, ErrEmptyInput
	}
	result, err := c.Categorizer.Categorize(ctx, text)
	if err != nil {
		c.Logger.Error().Err(err).Msg("categorization failed")
		return workspace.Collections{}, &CaptureError{Err: err}
	}
	if result.Empty() {
		c.Logger.Info().Msg("categorization returned no items")
		return workspace.Collections{}, nil
	}
	patch := Fold(result, c.Target.IDs(), c.Target.Now())
	if err := c.Target.ApplyLocalMutation(patch); err != nil {
		return workspace.Collections{}, err
	}
	c.Logger.Info().
		Int("tasks", len(patch.Prepend.Tasks)).
		Int("links", len(patch.Prepend.Links)).
		Int("sheets", len(patch.Prepend.Sheets)).
		Int("notes", len(patch.Prepend.Notes)).
		Msg("captured items")
	return patch.Prepend, nil
}
