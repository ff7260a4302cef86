// Package scheduler owns batch runs: the per-tenant run lock, the processor
// that drives one watermark window through the pipeline, the administrative
// clear-processed reset and the periodic trigger.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/llmcache"
	"github.com/docpilot/internal/logging"
	"github.com/docpilot/internal/messages"
	"github.com/docpilot/internal/pipeline"
	"github.com/docpilot/internal/proposals"
	"github.com/docpilot/internal/watermark"
)

// RunSummary reports one batch run.
type RunSummary struct {
	Tenant            string                 `json:"tenant"`
	BatchID           string                 `json:"batchId"`
	MessagesConsumed  int                    `json:"messagesConsumed"`
	Threads           int                    `json:"threads"`
	ProposalsCreated  int                    `json:"proposalsCreated"`
	ProposalsRejected int                    `json:"proposalsRejected"`
	FailedMessages    int                    `json:"failedMessages"`
	Watermark         time.Time              `json:"watermark"`
	Stages            []pipeline.StageMetric `json:"stages"`
}

// ClearResult counts what clear-processed removed or reset.
type ClearResult struct {
	MessagesReset          int `json:"messagesReset"`
	ClassificationsDeleted int `json:"classificationsDeleted"`
	RagContextsDeleted     int `json:"ragContextsDeleted"`
	ProposalsDeleted       int `json:"proposalsDeleted"`
	CacheEntriesPurged     int `json:"cacheEntriesPurged"`
}

// Processor runs batches for tenants. Runs of one tenant are serialized by
// the lock registry; a second trigger while a run is active fails with a busy
// error instead of queueing.
type Processor struct {
	Messages   messages.Store
	Watermarks watermark.Store
	Proposals  proposals.Store
	Cache      *llmcache.Cache
	Rulesets   pipeline.RulesetSource
	Engine     *pipeline.Engine
	BatchSize  int
	Locks      *LockRegistry
}

func (p *Processor) acquire(tenant string) error {
	if !p.Locks.TryLock(tenant) {
		batchRuns.WithLabelValues("busy").Inc()
		log.Warn().Str("tenant", tenant).Msg("Batch run already in progress, trigger rejected")
		return apperr.New(apperr.KindBusy, "a batch run for tenant %s is already in progress", tenant)
	}
	return nil
}

// RunBatch processes the next watermark window of the tenant.
func (p *Processor) RunBatch(ctx context.Context, tenant string) (RunSummary, error) {
	if err := p.acquire(tenant); err != nil {
		return RunSummary{}, err
	}
	defer p.Locks.Unlock(tenant)

	batchID := uuid.NewString()
	logger := logging.ForRun(tenant, batchID)
	summary := RunSummary{Tenant: tenant, BatchID: batchID}

	batch, wm, err := watermark.SelectBatch(ctx, p.Watermarks, p.Messages, tenant, p.BatchSize)
	if err != nil {
		batchRuns.WithLabelValues("error").Inc()
		return summary, apperr.Wrap(apperr.KindInternal, err, "select batch")
	}
	summary.Watermark = wm.WatermarkTime
	if len(batch) == 0 {
		batchRuns.WithLabelValues("empty").Inc()
		logger.Info().Time("watermark", wm.WatermarkTime).Msg("No pending messages")
		return summary, nil
	}
	logger.Info().Int("messages", len(batch)).Time("watermark", wm.WatermarkTime).Msg("Starting batch run")

	rs, err := p.Rulesets.Get(tenant)
	if err != nil {
		batchRuns.WithLabelValues("error").Inc()
		return summary, apperr.Wrap(apperr.KindInternal, err, "load ruleset")
	}

	pc := pipeline.NewContext(tenant, batchID, batch, rs)
	runErr := p.Engine.Run(ctx, pc)
	summary.Stages = stripPrompts(pc.Metrics)
	if runErr != nil {
		batchRuns.WithLabelValues("error").Inc()
		return summary, apperr.Wrap(apperr.KindInternal, runErr, "batch %s failed", batchID)
	}
	summary.Threads = len(pc.Threads)

	if err := p.persistProposals(ctx, pc, &summary); err != nil {
		batchRuns.WithLabelValues("error").Inc()
		return summary, apperr.Wrap(apperr.KindInternal, err, "persist proposals")
	}

	failed, completed := splitByFailure(pc)
	if err := p.Messages.SetStatus(ctx, messages.StatusFailed, failed...); err != nil {
		batchRuns.WithLabelValues("error").Inc()
		return summary, apperr.Wrap(apperr.KindInternal, err, "mark failed messages")
	}
	if err := p.Messages.SetStatus(ctx, messages.StatusCompleted, completed...); err != nil {
		batchRuns.WithLabelValues("error").Inc()
		return summary, apperr.Wrap(apperr.KindInternal, err, "mark completed messages")
	}
	messagesConsumed.WithLabelValues(string(messages.StatusFailed)).Add(float64(len(failed)))
	messagesConsumed.WithLabelValues(string(messages.StatusCompleted)).Add(float64(len(completed)))

	advanced, err := p.Watermarks.Advance(ctx, tenant, watermark.MaxTimestamp(batch), batchID)
	if err != nil {
		batchRuns.WithLabelValues("error").Inc()
		return summary, apperr.Wrap(apperr.KindInternal, err, "advance watermark")
	}

	summary.MessagesConsumed = len(batch)
	summary.FailedMessages = len(failed)
	summary.Watermark = advanced.WatermarkTime
	batchRuns.WithLabelValues("ok").Inc()
	logger.Info().
		Int("messages", summary.MessagesConsumed).
		Int("threads", summary.Threads).
		Int("proposals", summary.ProposalsCreated).
		Int("rejected", summary.ProposalsRejected).
		Int("failed", summary.FailedMessages).
		Time("watermark", advanced.WatermarkTime).
		Msg("Batch run completed")
	return summary, nil
}

func (p *Processor) persistProposals(ctx context.Context, pc *pipeline.Context, summary *RunSummary) error {
	for _, id := range pc.ProposalIDs() {
		draft := pc.Proposals[id]
		if !draft.Actionable() {
			continue
		}
		thread, _ := pc.Thread(id)
		prop := &proposals.Proposal{
			TenantID:         pc.Tenant,
			ConversationID:   draft.ConversationID,
			Category:         thread.Category,
			Page:             draft.Page,
			Section:          draft.Section,
			UpdateType:       draft.UpdateType,
			RawSuggestedText: draft.RawSuggestedText,
			SuggestedText:    draft.SuggestedText,
			Reasoning:        draft.Reasoning,
			Status:           proposals.StatusPending,
			ModelUsed:        draft.ModelUsed,
			Condensed:        draft.Condensed,
			Flags:            draft.Flags,
		}
		if draft.Rejected {
			reviewer, reason := "ruleset", draft.RejectionReason
			prop.Status = proposals.StatusIgnored
			prop.ReviewedBy = &reviewer
			prop.DiscardReason = &reason
			summary.ProposalsRejected++
		}
		if err := p.Proposals.Create(ctx, prop); err != nil {
			return fmt.Errorf("create proposal for %s: %w", id, err)
		}
		proposalsCreated.WithLabelValues(string(prop.Status)).Inc()
		summary.ProposalsCreated++
	}
	return nil
}

func splitByFailure(pc *pipeline.Context) (failed, completed []string) {
	for _, m := range pc.Messages {
		if _, ok := pc.FailedMessages[m.ID]; ok {
			failed = append(failed, m.ID)
		} else {
			completed = append(completed, m.ID)
		}
	}
	return failed, completed
}

func stripPrompts(metrics []pipeline.StageMetric) []pipeline.StageMetric {
	out := make([]pipeline.StageMetric, len(metrics))
	for i, m := range metrics {
		m.Prompts = nil
		out[i] = m
	}
	return out
}

// ClearProcessed makes the tenant's processed messages (optionally of one
// stream) eligible again: the watermark moves to just before the earliest
// message in scope, COMPLETED and FAILED messages revert to PENDING, their
// classifications, rag contexts and unbatched proposals are deleted and the
// LLM cache is purged.
func (p *Processor) ClearProcessed(ctx context.Context, tenant, streamID string) (ClearResult, error) {
	if err := p.acquire(tenant); err != nil {
		return ClearResult{}, err
	}
	defer p.Locks.Unlock(tenant)

	var res ClearResult
	all, err := p.Messages.List(ctx, tenant, streamID)
	if err != nil {
		return res, apperr.Wrap(apperr.KindInternal, err, "list messages")
	}
	if len(all) == 0 {
		log.Info().Str("tenant", tenant).Str("stream", streamID).Msg("Nothing to clear")
		return res, nil
	}

	target := earliest(all).Add(-time.Millisecond)
	if streamID != "" {
		wm, err := p.Watermarks.Get(ctx, tenant)
		if err != nil {
			return res, apperr.Wrap(apperr.KindInternal, err, "read watermark")
		}
		if wm.WatermarkTime.Before(target) {
			target = wm.WatermarkTime
		}
	}
	if err := p.Watermarks.Reset(ctx, tenant, target); err != nil {
		return res, apperr.Wrap(apperr.KindInternal, err, "reset watermark")
	}

	processed, err := p.Messages.List(ctx, tenant, streamID, messages.StatusCompleted, messages.StatusFailed)
	if err != nil {
		return res, apperr.Wrap(apperr.KindInternal, err, "list processed messages")
	}
	ids := make([]string, len(processed))
	for i, m := range processed {
		ids[i] = m.ID
	}
	if err := p.Messages.SetStatus(ctx, messages.StatusPending, ids...); err != nil {
		return res, apperr.Wrap(apperr.KindInternal, err, "reset message status")
	}
	res.MessagesReset = len(ids)

	deleted, conversations, err := p.Messages.DeleteClassifications(ctx, ids...)
	if err != nil {
		return res, apperr.Wrap(apperr.KindInternal, err, "delete classifications")
	}
	res.ClassificationsDeleted = deleted
	sort.Strings(conversations)

	if res.RagContextsDeleted, err = p.Messages.DeleteRagContexts(ctx, conversations...); err != nil {
		return res, apperr.Wrap(apperr.KindInternal, err, "delete rag contexts")
	}
	if res.ProposalsDeleted, err = p.Proposals.DeleteUnbatchedByConversations(ctx, conversations); err != nil {
		return res, apperr.Wrap(apperr.KindInternal, err, "delete proposals")
	}
	if p.Cache != nil {
		if res.CacheEntriesPurged, err = p.Cache.PurgeAll(ctx); err != nil {
			return res, apperr.Wrap(apperr.KindInternal, err, "purge llm cache")
		}
	}

	log.Info().
		Str("tenant", tenant).
		Str("stream", streamID).
		Time("watermark", target).
		Int("messages_reset", res.MessagesReset).
		Int("classifications_deleted", res.ClassificationsDeleted).
		Int("proposals_deleted", res.ProposalsDeleted).
		Int("cache_purged", res.CacheEntriesPurged).
		Msg("Cleared processed messages")
	return res, nil
}

func earliest(msgs []messages.Message) time.Time {
	min := msgs[0].Timestamp
	for _, m := range msgs[1:] {
		if m.Timestamp.Before(min) {
			min = m.Timestamp
		}
	}
	return min
}
