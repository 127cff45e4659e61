package engine

import (
	"context"
	"errors"

	"github.com/roach88/chatsync/internal/outbox"
)

// FlushResult summarizes one Flush.
type FlushResult struct {
	Attempted int `json:"attempted"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Remapped  int `json:"remapped"`
}

// errSuperseded reports that the stored record changed while it was in flight.
var errSuperseded = errors.New("record changed during delivery")

// Flush delivers queued records through send, one at a time, in queue order.
//
// Each key is sent once per Flush, with the record as it currently reads in
// the store, so repeated edits of a queued record deliver the latest content.
// On OK the record is confirmed (and re-keyed if the server issued a
// different id) and its queued items leave the outbox. On OK=false or a send
// error the record is marked failed and one item stays queued for a later
// Flush.
//
// Delivery failures are reported through the records and FlushResult, not
// as errors. Flush returns an error only for store failures, context
// cancellation, or a concurrent Flush (outbox.ErrFlushInProgress).
func (e *Engine) Flush(ctx context.Context, send SendFn) (FlushResult, error) {
	var res FlushResult
	handled := make(map[string]bool)

	err := e.outbox.Flush(ctx, func(ctx context.Context, item outbox.Item[Record]) error {
		if handled[item.Key] || !e.outbox.Contains(item.Key) {
			return nil
		}
		handled[item.Key] = true

		// Items up to through were enqueued after their store write, so the
		// record read below is at least as new as any of them.
		through, _ := e.outbox.LastSeq(item.Key)
		rec, err := e.Get(ctx, item.Key)
		if errors.Is(err, ErrRecordNotFound) {
			e.logger.Warn("queued record no longer in store", "id", item.Key)
			e.outbox.RemoveThrough(item.Key, through)
			return nil
		}
		if err != nil {
			return err
		}

		res.Attempted++
		out, sendErr := send(ctx, rec)

		if sendErr != nil || !out.OK {
			reason := out.Error
			if sendErr != nil {
				reason = sendErr.Error()
			}
			if reason == "" {
				reason = DefaultSendError
			}
			e.outbox.RemoveThrough(item.Key, through-1)
			return e.handleFailure(ctx, item.Key, reason, sendErr, &res)
		}

		remapped, err := e.confirm(ctx, item.Key, out.ServerID, &rec)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			// Deleted locally while in flight; nothing left to settle.
			e.logger.Warn("confirmed record no longer in store", "id", item.Key)
			e.outbox.RemoveThrough(item.Key, through)
			return nil
		case errors.Is(err, errSuperseded):
			// The newer edit has its own queued item.
			e.logger.Debug("record edited during delivery", "id", item.Key)
			e.outbox.RemoveThrough(item.Key, through)
			return nil
		case err != nil:
			return err
		}

		e.outbox.RemoveThrough(item.Key, through)
		res.Confirmed++
		e.metrics.RecordSend("confirmed")
		if remapped {
			res.Remapped++
			e.metrics.RecordRemap()
			e.logger.Debug("record remapped", "client_id", item.Key, "server_id", out.ServerID)
		}
		return nil
	})

	e.metrics.SetOutboxSize(e.outbox.Size())
	if res.Attempted > 0 {
		e.logger.Info("flush complete",
			"attempted", res.Attempted,
			"confirmed", res.Confirmed,
			"failed", res.Failed,
			"remapped", res.Remapped,
		)
	}
	return res, err
}

func (e *Engine) handleFailure(ctx context.Context, id, reason string, sendErr error, res *FlushResult) error {
	if err := e.MarkFailed(ctx, id, reason); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			e.logger.Warn("failed record no longer in store", "id", id)
			e.outbox.Remove(id)
			return nil
		}
		return err
	}

	res.Failed++
	outcome := "failed"
	if sendErr != nil {
		outcome = "error"
	}
	e.metrics.RecordSend(outcome)
	e.logger.Warn("delivery failed", "id", id, "reason", reason)
	return nil
}
