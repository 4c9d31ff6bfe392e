package handlers

import (
	"context"
	"log/slog"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/match"
	"shelfscan/internal/services"
)

// ingredientBatchSize is how many names one submission covers.
const ingredientBatchSize = 25

type ingredientMatcher interface {
	MatchIngredients(ctx context.Context, names []string) (map[string]match.Result, llm.Usage, error)
}

// IngredientsHandler resolves a list of ingredient names against the
// catalog in batches, advancing the cursor after each batch. Matching never
// creates ingredient rows; names with no match are reported as item errors.
type IngredientsHandler struct {
	matcher ingredientMatcher
	logger  *slog.Logger
}

// NewIngredientsHandler constructs the match_ingredients handler.
func NewIngredientsHandler(matcher ingredientMatcher, logger *slog.Logger) *IngredientsHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &IngredientsHandler{
		matcher: matcher,
		logger:  logging.NewComponentLogger(logger, "ingredients"),
	}
}

func (h *IngredientsHandler) Type() jobstore.Type { return jobstore.TypeMatchIngredients }

func (h *IngredientsHandler) Handle(ctx context.Context, handle JobHandle) error {
	raw, err := jobstore.DecodeCursor(handle.Job())
	if err != nil {
		return services.Wrap(services.ErrValidation, "ingredients", "cursor", "", err)
	}
	cursor := raw.(jobstore.IngredientCursor)
	if cursor.NextIndex < 0 || cursor.NextIndex > len(cursor.Names) {
		return services.Wrap(services.ErrValidation, "ingredients", "cursor", "index out of range", nil)
	}

	for cursor.NextIndex < len(cursor.Names) {
		end := cursor.NextIndex + ingredientBatchSize
		if end > len(cursor.Names) {
			end = len(cursor.Names)
		}
		batch := cursor.Names[cursor.NextIndex:end]

		results, usage, err := h.matcher.MatchIngredients(ctx, batch)
		if err != nil {
			return err
		}

		submission := jobstore.Submission{TokensUsed: usage.TotalTokens}
		for _, name := range batch {
			result, ok := results[match.NormalizeName(name)]
			if ok && result.Matched() {
				submission.Existing++
				continue
			}
			submission.ItemErrors = append(submission.ItemErrors, jobstore.ItemError{
				Item:    name,
				Kind:    "unmatched",
				Message: "no ingredient matched",
			})
		}

		cursor.NextIndex = end
		submission.Cursor = cursor
		h.logger.Info("ingredient batch matched",
			logging.Int("matched", submission.Existing),
			logging.Int("unmatched", len(submission.ItemErrors)),
			logging.Int(logging.FieldTokensUsed, usage.TotalTokens))

		if cursor.NextIndex == len(cursor.Names) {
			return handle.Complete(ctx, submission)
		}
		if err := handle.Submit(ctx, submission); err != nil {
			return err
		}
	}

	// Already past the end; nothing left but to close the job.
	return handle.Complete(ctx, jobstore.Submission{Cursor: cursor})
}
