package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/chatsync/internal/store"
)

// SyncResult summarizes one SyncFromServer.
type SyncResult struct {
	Fetched int `json:"fetched"`
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}

// SyncFromServer fetches the authoritative records of a conversation and
// upserts them as settled (Pending=false, Error=nil).
//
// This is a naive merge. Local records absent from the response are kept.
// Under PolicyServerWins a same-id local record is overwritten even if it
// is still pending; under PolicyKeepPending it is skipped. Missing
// CreatedAt defaults to now and missing ConversationID to conversationID.
// Records without an id cannot be keyed and are skipped.
//
// If fetch fails nothing is written and the error is returned. All upserts
// share one transaction.
func (e *Engine) SyncFromServer(ctx context.Context, conversationID string, fetch ListFn) (SyncResult, error) {
	var res SyncResult

	remote, err := fetch(ctx, conversationID)
	if err != nil {
		e.metrics.RecordFetchFailure()
		e.logger.Warn("server fetch failed, merge skipped", "conversation", conversationID, "error", err)
		return res, fmt.Errorf("sync %s: fetch: %w", conversationID, err)
	}
	res.Fetched = len(remote)

	now := e.clock.Now().UnixMilli()
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		for _, rec := range remote {
			if rec.ID == "" {
				res.Skipped++
				continue
			}
			if rec.ConversationID == "" {
				rec.ConversationID = conversationID
			}
			if rec.CreatedAt == 0 {
				rec.CreatedAt = now
			}
			rec.Pending = false
			rec.Error = nil

			if e.policy == PolicyKeepPending {
				keep, err := localPending(ctx, tx, rec.ID)
				if err != nil {
					return err
				}
				if keep {
					res.Skipped++
					continue
				}
			}

			if err := tx.Put(ctx, store.TableMessages, rec); err != nil {
				return fmt.Errorf("sync %s: %w", conversationID, err)
			}
			res.Merged++
		}
		return nil
	})
	if err != nil {
		return SyncResult{Fetched: res.Fetched}, err
	}

	e.metrics.RecordMerged(res.Merged)
	e.logger.Debug("server sync merged",
		"conversation", conversationID,
		"fetched", res.Fetched,
		"merged", res.Merged,
		"skipped", res.Skipped,
	)
	return res, nil
}

func localPending(ctx context.Context, tx *store.Tx, id string) (bool, error) {
	local, err := store.Get[Record](ctx, tx, store.TableMessages, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return local.Pending, nil
}
