// Package feedback implements the Context Memory Core's Feedback Applier
// (C9): updating per-item salience and usage counters from client
// feedback and appending to the feedback journal.
//
// Grounded on internal/reasoningbank/types.go's AdjustConfidence
// saturating-delta pattern (there: a fixed +0.1/-0.15 success/failure
// step), extended to spec §4.9's four-signal table, and
// internal/folding/budget.go's collect-under-lock/emit-after-release
// idiom reused via the Memory Store's own per-item locking rather than a
// second lock layer here.
package feedback

import (
	"context"
	"time"

	"github.com/memforge/cmc/internal/cmc/cmcerr"
	"github.com/memforge/cmc/internal/cmc/model"
	"github.com/memforge/cmc/internal/cmc/store"
)

// Result is the Apply contract's return value (spec §6.1 FeedbackResult).
type Result struct {
	PreviousSalience float64
	NewSalience      float64
	Delta            float64
}

// Apply implements `Apply(item_id, signal, magnitude)` (spec §4.9).
// RelatedCanonical is only consulted for the `duplicate` signal, naming
// the canonical item the duplicate_of link should point to.
func Apply(ctx context.Context, st store.Store, workspaceID, itemID string, signal model.FeedbackSignal, magnitude float64, actor, comment string, relatedCanonical string) (Result, error) {
	before, err := st.GetItems(ctx, workspaceID, []string{itemID})
	if err != nil || len(before) == 0 {
		return Result{}, cmcerr.New("Feedback.Apply", cmcerr.ClassNotFound, err, itemID)
	}
	prevSalience := before[0].Salience

	mutation, err := mutationFor(signal, magnitude, before[0])
	if err != nil {
		return Result{}, err
	}

	updated, err := st.UpdateItem(ctx, workspaceID, itemID, mutation)
	if err != nil {
		return Result{}, err
	}

	if signal == model.SignalDuplicate && relatedCanonical != "" {
		_ = st.AddLink(ctx, model.Link{WorkspaceID: workspaceID, FromID: itemID, ToID: relatedCanonical, Type: model.LinkDuplicateOf})
	}

	rec := model.FeedbackRecord{
		WorkspaceID: workspaceID,
		ItemID:      itemID,
		Signal:      signal,
		Magnitude:   magnitude,
		At:          time.Now().UTC(),
		Actor:       actor,
		Comment:     comment,
	}
	if err := st.AppendFeedback(ctx, rec); err != nil {
		return Result{}, err
	}

	return Result{
		PreviousSalience: prevSalience,
		NewSalience:      updated.Salience,
		Delta:            updated.Salience - prevSalience,
	}, nil
}

// mutationFor translates one feedback signal into the store mutation spec
// §4.9's table specifies.
func mutationFor(signal model.FeedbackSignal, magnitude float64, item model.Item) (store.Mutation, error) {
	switch signal {
	case model.SignalHelpful:
		return store.Mutation{SalienceDelta: 0.05 * magnitude, UsageIncrement: 1}, nil
	case model.SignalNotHelpful:
		return store.Mutation{SalienceDelta: -0.05 * absFloat(magnitude)}, nil
	case model.SignalOutdated:
		retire := (item.Salience - 0.20) <= 0.1
		return store.Mutation{SalienceDelta: -0.20, Retired: retire}, nil
	case model.SignalDuplicate:
		return store.Mutation{SalienceDelta: -0.10}, nil
	default:
		return store.Mutation{}, cmcerr.New("Feedback.mutationFor", cmcerr.ClassInputInvalid, errUnknownSignal(signal))
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

type errUnknownSignal model.FeedbackSignal

func (e errUnknownSignal) Error() string { return "feedback: unknown signal " + string(e) }
