package engine

import (
	"context"
	"log"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"

	"marshtalk/internal/database"
	"marshtalk/internal/utils"
)

// jobTimeout bounds a single maintenance job against the store. Batch jobs
// commit per record, so a timeout never leaves a half-finished record.
const jobTimeout = 5 * time.Minute

// Message types for maintenance operations
type RemoveUserMsg struct {
	UserID uuid.UUID
}

type SweepGhostsMsg struct{}

type ConsolidateGhostsMsg struct {
	CanonicalID uuid.UUID
}

type BackfillThreadsMsg struct{}

// RemoveUserResult confirms which account a completed removal detached.
type RemoveUserResult struct {
	UserID uuid.UUID `json:"userId"`
}

// SweepGhostsResult lists the inactive placeholder accounts that were
// deleted by the sweep.
type SweepGhostsResult struct {
	RemovedIDs []uuid.UUID `json:"removedIds"`
}

// MaintenanceActor serializes the data-repair jobs. Running them through a
// single actor means at most one job touches the store's thread topology at
// a time, so the jobs never race each other over the same rows.
type MaintenanceActor struct {
	store   database.Store
	metrics *utils.MetricsCollector
}

func NewMaintenanceActor(store database.Store, metrics *utils.MetricsCollector) actor.Actor {
	return &MaintenanceActor{
		store:   store,
		metrics: metrics,
	}
}

// Receive handles maintenance messages one at a time:
// - RemoveUserMsg: detaches a departing user from their conversations.
// - SweepGhostsMsg: deletes placeholder accounts with no remaining activity.
// - ConsolidateGhostsMsg: merges duplicate ghost accounts into a canonical one.
// - BackfillThreadsMsg: repairs threads with missing participants and merges duplicates.
func (a *MaintenanceActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *RemoveUserMsg:
		startTime := time.Now()
		ctx, cancel := a.jobContext()
		defer cancel()

		if err := a.store.RemoveUser(ctx, msg.UserID); err != nil {
			context.Respond(a.asAppError("remove user", err))
			return
		}

		a.metrics.AddOperationLatency("remove_user", time.Since(startTime))
		log.Printf("Maintenance: removed user %s", msg.UserID)
		context.Respond(&RemoveUserResult{UserID: msg.UserID})

	case *SweepGhostsMsg:
		startTime := time.Now()
		ctx, cancel := a.jobContext()
		defer cancel()

		removed, err := a.store.SweepGhosts(ctx)
		if err != nil {
			context.Respond(a.asAppError("sweep ghosts", err))
			return
		}

		a.metrics.AddOperationLatency("sweep_ghosts", time.Since(startTime))
		log.Printf("Maintenance: swept %d ghost accounts", len(removed))
		context.Respond(&SweepGhostsResult{RemovedIDs: removed})

	case *ConsolidateGhostsMsg:
		startTime := time.Now()
		ctx, cancel := a.jobContext()
		defer cancel()

		report, err := a.store.ConsolidateGhosts(ctx, msg.CanonicalID)
		if err != nil {
			context.Respond(a.asAppError("consolidate ghosts", err))
			return
		}

		a.metrics.AddOperationLatency("consolidate_ghosts", time.Since(startTime))
		log.Printf("Maintenance: consolidated %d ghosts into %s (%d failed)",
			len(report.MergedIDs), report.CanonicalID, report.Report.Failed)
		context.Respond(report)

	case *BackfillThreadsMsg:
		startTime := time.Now()
		ctx, cancel := a.jobContext()
		defer cancel()

		report, err := a.store.BackfillAndDedupeThreads(ctx)
		if err != nil {
			context.Respond(a.asAppError("backfill threads", err))
			return
		}

		a.metrics.AddOperationLatency("backfill_threads", time.Since(startTime))
		log.Printf("Maintenance: backfill recovered %d, deduplicated %d, deleted %d threads (%d failed)",
			report.Recovered, report.Deduplicated, report.Unrecoverable, report.Report.Failed)
		context.Respond(report)
	}
}

func (a *MaintenanceActor) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), jobTimeout)
}

func (a *MaintenanceActor) asAppError(job string, err error) *utils.AppError {
	if appErr, ok := err.(*utils.AppError); ok {
		return appErr
	}
	return utils.NewAppError(utils.ErrDatabase, "failed to "+job, err)
}
