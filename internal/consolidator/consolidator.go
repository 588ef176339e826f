// Package consolidator implements the update consolidator and patch
// dispatch step (§4.9): it accumulates the session/car patches produced by
// successive pipeline passes and, after a short debounce window, merges
// them into one patch pair and hands it to a Sink for broadcast.
package consolidator

import (
	"context"
	"time"

	"github.com/joeycumines/go-microbatch"

	"github.com/paddockwire/timingcore/internal/session"
)

// flushInterval is the debounce window patches accumulate over before
// being merged and dispatched (§5 Timeouts: "consolidator debounce 20 ms").
const flushInterval = 20 * time.Millisecond

// Sink receives one merged patch pair per flush. Implemented by
// internal/broadcast.Room.
type Sink interface {
	Dispatch(sessionPatch session.SessionStatePatch, carPatches []session.CarPositionPatch)
}

// Consolidator batches patches via microbatch.Batcher and dispatches the
// merged result to a Sink.
type Consolidator struct {
	sink    Sink
	batcher *microbatch.Batcher[*patchJob]
}

type patchJob struct {
	sessionPatch session.SessionStatePatch
	carPatches   []session.CarPositionPatch
}

// New creates a Consolidator dispatching merged patches to sink.
func New(sink Sink) *Consolidator {
	c := &Consolidator{sink: sink}
	c.batcher = microbatch.NewBatcher[*patchJob](&microbatch.BatcherConfig{
		MaxSize:        -1, // unbounded: merge everything the debounce window collects
		FlushInterval:  flushInterval,
		MaxConcurrency: 1,
	}, c.process)
	return c
}

// Submit enqueues one pipeline pass's patches for the next flush. A
// semantically-empty submission (no session fields, no car patches) is
// dropped without scheduling a batch.
func (c *Consolidator) Submit(sessionPatch session.SessionStatePatch, carPatches []session.CarPositionPatch) error {
	if sessionPatch.IsEmpty() && len(carPatches) == 0 {
		return nil
	}
	_, err := c.batcher.Submit(context.Background(), &patchJob{sessionPatch: sessionPatch, carPatches: carPatches})
	return err
}

// Close flushes any pending batch and stops the batcher. Idempotent per
// microbatch.Batcher.Close's own contract.
func (c *Consolidator) Close() error {
	return c.batcher.Close()
}

// process is the microbatch.BatchProcessor: merge every job in the batch
// (session patches right-biased in arrival order, car patches merged by
// Number) and dispatch once.
func (c *Consolidator) process(_ context.Context, jobs []*patchJob) error {
	if len(jobs) == 0 {
		return nil
	}

	merged := jobs[0].sessionPatch
	var allCarPatches []session.CarPositionPatch
	for i, j := range jobs {
		if i > 0 {
			merged = merged.Merge(j.sessionPatch)
		}
		allCarPatches = append(allCarPatches, j.carPatches...)
	}

	carPatches := session.MergeCarPatches(allCarPatches)
	filtered := carPatches[:0]
	for _, p := range carPatches {
		if !p.IsSemanticallyEmpty() {
			filtered = append(filtered, p)
		}
	}

	if merged.IsEmpty() && len(filtered) == 0 {
		return nil
	}
	c.sink.Dispatch(merged, filtered)
	return nil
}
