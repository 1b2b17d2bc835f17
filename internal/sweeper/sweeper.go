// Package sweeper deletes expired messages on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/models"
	"chatrixx/pkg/store"
	"chatrixx/pkg/telemetry"
)

// Start starts the expiration scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, enabled bool, cronExpr string) (context.CancelFunc, error) {
	if !enabled {
		logger.Info("sweeper_disabled")
		return func() {}, nil
	}
	if cronExpr == "" {
		cronExpr = "0 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweeper_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweeper cron expression: %s", cronExpr)
	}

	logger.Info("sweeper_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("sweeper_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := RunOnce(ctx); err != nil {
				logger.Error("sweeper_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		}
	}
}

// RunOnce deletes every message whose deadline has passed and repairs the
// last-message snapshot of each touched conversation. Returns the number of
// messages removed.
func RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	refs, err := store.ExpiredBefore(time.Now().UTC().UnixNano())
	if err != nil {
		return 0, err
	}

	swept := 0
	touched := map[string]bool{}
	for _, ref := range refs {
		select {
		case <-ctx.Done():
			return swept, ctx.Err()
		default:
		}
		if err := store.DeleteMessage(ref.MsgID); err != nil {
			if faults.Is(err, faults.NotFound) {
				continue
			}
			logger.Error("sweep_delete_failed", "message", ref.MsgID, "error", err)
			continue
		}
		swept++
		touched[ref.Conversation] = true
	}

	for convID := range touched {
		if err := repairSnapshot(convID); err != nil {
			logger.Error("sweep_snapshot_repair_failed", "conversation", convID, "error", err)
		}
	}

	telemetry.MessagesSwept.Add(float64(swept))
	if swept > 0 {
		logger.Info("sweep_complete", "swept", swept, "conversations", len(touched), "elapsed", time.Since(start).String())
	}
	return swept, nil
}

// repairSnapshot points the conversation's last-message snapshot at the
// newest surviving message, or clears it when the conversation is empty.
func repairSnapshot(convID string) error {
	latest, ok, err := store.LatestMessage(convID)
	if err != nil {
		return err
	}
	_, err = store.UpdateConversation(convID, func(c *models.Conversation) error {
		if !ok {
			c.LastMessage = nil
			return nil
		}
		if c.LastMessage == nil || c.LastMessage.ID != latest.ID {
			preview := latest.Content
			if latest.IsEncrypted {
				preview = models.EncryptedPlaceholder
			}
			c.LastMessage = &models.LastMessage{
				ID:      latest.ID,
				Sender:  latest.Sender,
				Preview: preview,
				Kind:    latest.Kind,
				TS:      latest.CreatedTS,
			}
		}
		return nil
	})
	if faults.Is(err, faults.NotFound) {
		return nil
	}
	return err
}
