package alerts

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"log-ingest/internal/domain"
)

// Evaluator records triggers raised by ingested records.
type Evaluator struct {
	coord domain.CoordinationStore
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(coord domain.CoordinationStore) *Evaluator {
	return &Evaluator{coord: coord}
}

// Evaluate writes trigger for the alert scheduler. A nil trigger is a no-op.
func (e *Evaluator) Evaluate(ctx context.Context, trigger *domain.Trigger) error {
	if trigger == nil {
		return nil
	}
	b, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	if err := e.coord.Put(ctx, domain.TriggerKey(*trigger), b, true); err != nil {
		return fmt.Errorf("save trigger: %w", err)
	}
	return nil
}
