package council

import "context"

// minResponders is the quorum Stage 1 must reach for the deliberation to
// continue.
const minResponders = 2

// runStage1 fans the query out to the full council. Results preserve
// council order; failed members are carried as error entries.
func runStage1(ctx context.Context, caller Caller, cfg Config, q Query) []StageResult[string] {
	return fanOut(ctx, cfg.Models, cfg.Timeouts.Stage1D(), func(ctx context.Context, model string) (string, error) {
		return caller.Call(ctx, model, stage1System, q.Prompt)
	})
}

// responders extracts the successful entries, preserving order.
func responders[T any](results []StageResult[T]) []StageResult[T] {
	out := make([]StageResult[T], 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// checkQuorum enforces the Stage 1 survivor minimum.
func checkQuorum(results []StageResult[string]) error {
	ok := len(responders(results))
	if ok < minResponders {
		return runErrorf(ErrKindInsufficientResponders, "only %d of %d council members responded, need %d", ok, len(results), minResponders)
	}
	return nil
}
