package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatherly/gatherly-notify/internal/config"
)

const maxInFlightCeiling = 4

// Dispatch splits composed notifications into gateway-sized batches and
// sends them with bounded concurrency. Per-item failures never abort the
// rest of a batch; a whole-batch transport failure is retried with
// exponential backoff and, once retries are exhausted, every item in the
// batch is recorded as not delivered. Pairs with an existing delivery record
// are skipped before the gateway call, and every fresh attempt, success or
// failure, writes a record, so a replayed trigger cannot cause a resend.
func Dispatch(ctx context.Context, gw Gateway, history History, composed []Composed, cfg config.NotifyConfig, logger *slog.Logger) []DispatchResult {
	if len(composed) == 0 {
		return nil
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var batches [][]Composed
	for start := 0; start < len(composed); start += batchSize {
		end := min(start+batchSize, len(composed))
		batches = append(batches, composed[start:end])
	}

	workers := cfg.MaxInFlight
	if workers < 1 {
		workers = 1
	}
	if workers > maxInFlightCeiling {
		workers = maxInFlightCeiling
	}
	if workers > len(batches) {
		workers = len(batches)
	}

	ch := make(chan []Composed, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)

	var mu sync.Mutex
	var results []DispatchResult
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range ch {
				rs := sendBatch(ctx, gw, history, batch, cfg, logger)
				mu.Lock()
				results = append(results, rs...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return results
}

// sendBatch delivers one batch with retry, then records one history row per
// item. Pairs that already have a delivery record are skipped before the
// gateway call, so a replayed trigger never reaches the gateway. The gateway
// contract returns per-item statuses; items absent from the response are
// treated as failed rather than dropped.
func sendBatch(ctx context.Context, gw Gateway, history History, batch []Composed, cfg config.NotifyConfig, logger *slog.Logger) []DispatchResult {
	fresh := make([]Composed, 0, len(batch))
	results := make([]DispatchResult, 0, len(batch))
	for _, c := range batch {
		exists, err := history.Exists(ctx, c.EventID, c.UserID)
		if err != nil {
			// Lookup failure: the unique constraint on insert still caps
			// the record count, but we cannot rule out a resend, so skip.
			logger.Warn("Delivery record lookup failed",
				"event_id", c.EventID, "user_id", c.UserID, "error", err)
			results = append(results, DispatchResult{
				EventID: c.EventID, UserID: c.UserID, Error: "history lookup failed: " + err.Error(),
			})
			continue
		}
		if exists {
			results = append(results, DispatchResult{
				EventID: c.EventID, UserID: c.UserID, Duplicate: true,
			})
			continue
		}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return results
	}

	msgs := make([]PushMessage, len(fresh))
	for i, c := range fresh {
		msgs[i] = PushMessage{Address: c.Address, Title: c.Title, Body: c.Body, Data: c.Data}
	}

	statuses, sendErr := sendWithRetry(ctx, gw, msgs, cfg, logger)

	// Index per-item statuses by push address.
	byAddress := make(map[string]PushResult, len(statuses))
	for _, s := range statuses {
		byAddress[s.Address] = s
	}

	sentAt := time.Now().UTC()
	for _, c := range fresh {
		res := DispatchResult{EventID: c.EventID, UserID: c.UserID}

		switch {
		case sendErr != nil:
			res.Error = sendErr.Error()
		default:
			status, ok := byAddress[c.Address]
			switch {
			case !ok:
				res.Error = "missing from gateway response"
			case status.Status != StatusOK:
				res.Error = status.Error
				if res.Error == "" {
					res.Error = "rejected by gateway"
				}
			default:
				res.Delivered = true
			}
		}

		inserted, err := history.Insert(ctx, DeliveryRecord{
			EventID:       c.EventID,
			UserID:        c.UserID,
			SentAt:        sentAt,
			Delivered:     res.Delivered,
			FailureReason: res.Error,
		})
		if err != nil {
			logger.Error("Failed to write delivery record",
				"event_id", c.EventID, "user_id", c.UserID, "error", err)
		} else if !inserted {
			// Another run already recorded this pair. Benign.
			res.Duplicate = true
		}

		results = append(results, res)
	}
	return results
}

// sendWithRetry performs the gateway call with up to cfg.MaxRetries retries
// on whole-batch transport failure, doubling the backoff each attempt. Each
// attempt runs under its own send timeout.
func sendWithRetry(ctx context.Context, gw Gateway, msgs []PushMessage, cfg config.NotifyConfig, logger *slog.Logger) ([]PushResult, error) {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		sendCtx := ctx
		var cancel context.CancelFunc
		if cfg.BatchSendTimeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, cfg.BatchSendTimeout)
		}
		statuses, err := gw.SendBatch(sendCtx, msgs)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return statuses, nil
		}

		lastErr = err
		logger.Warn("Batch send failed",
			"attempt", attempt+1, "items", len(msgs), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
