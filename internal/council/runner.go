package council

import (
	"context"
	"time"
)

// runnerGrace is how long the collector waits past the stage deadline for
// in-flight goroutines to report before synthesizing timeout results.
const runnerGrace = 500 * time.Millisecond

// fanOut runs call once per target concurrently under a shared stage
// deadline. Each call gets its own context with at most half the stage
// budget, so a single slow upstream cannot consume the whole stage. The
// returned slice preserves target order; every target gets exactly one
// result.
func fanOut[T any](ctx context.Context, targets []string, timeout time.Duration, call func(ctx context.Context, model string) (T, error)) []StageResult[T] {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	perCall := timeout / 2

	type indexed struct {
		i   int
		res StageResult[T]
	}
	ch := make(chan indexed, len(targets))

	for i, model := range targets {
		go func(i int, model string) {
			callCtx, cancelCall := context.WithTimeout(stageCtx, perCall)
			defer cancelCall()

			started := time.Now().UTC()
			value, err := call(callCtx, model)
			ended := time.Now().UTC()

			res := StageResult[T]{
				Model:     model,
				StartedAt: started,
				EndedAt:   ended,
				LatencyMS: ended.Sub(started).Milliseconds(),
			}
			if err != nil {
				res.Error = classifyCallErr(err)
			} else {
				res.Value = &value
			}
			ch <- indexed{i: i, res: res}
		}(i, model)
	}

	results := make([]StageResult[T], len(targets))
	reported := make([]bool, len(targets))

	hardStop := time.NewTimer(timeout + runnerGrace)
	defer hardStop.Stop()

	for remaining := len(targets); remaining > 0; {
		select {
		case r := <-ch:
			results[r.i] = r.res
			reported[r.i] = true
			remaining--
		case <-hardStop.C:
			// Stragglers past the grace window are recorded as timeouts;
			// their goroutines unwind on their own once the call returns.
			now := time.Now().UTC()
			for i, ok := range reported {
				if !ok {
					results[i] = StageResult[T]{
						Model:     targets[i],
						Error:     ErrKindTimeout,
						StartedAt: now,
						EndedAt:   now,
					}
				}
			}
			return results
		}
	}
	return results
}
