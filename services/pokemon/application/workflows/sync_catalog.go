// Package workflows hosts the durable catalog sync run by the worker.
package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/ghuser/pokedex/services/pokemon/domain"
)

// SyncCatalogWorkflowID is fixed so overlapping triggers attach to the
// running sync instead of starting a second one.
const SyncCatalogWorkflowID = "pokedex-sync-catalog"

// DefaultMaxSteps bounds the append loop of one workflow run.
const DefaultMaxSteps = 50

// Syncer performs one mediator cycle per call. *services.PokemonService
// satisfies it.
type Syncer interface {
	SyncRefresh(ctx context.Context) (endReached bool, err error)
	SyncAppend(ctx context.Context) (endReached bool, err error)
	Count(ctx context.Context) (int, error)
}

// SyncCatalogInput parameterizes SyncCatalogWorkflow.
type SyncCatalogInput struct {
	MaxSteps int `json:"max_steps"`
}

// SyncCatalogResult is returned by SyncCatalogWorkflow.
type SyncCatalogResult struct {
	Steps      int  `json:"steps"`
	Items      int  `json:"items"`
	EndReached bool `json:"end_reached"`
}

// Activities are the sync steps. Each one is a single transactional merge,
// so a retried activity never leaves a half-written page behind.
type Activities struct {
	Syncer Syncer
}

// RefreshCatalog replaces the cache with the origin page.
func (a *Activities) RefreshCatalog(ctx context.Context) (bool, error) {
	end, err := a.Syncer.SyncRefresh(ctx)
	return end, classify("refresh catalog", err)
}

// AppendCatalogPage merges the page after the last cached item.
func (a *Activities) AppendCatalogPage(ctx context.Context) (bool, error) {
	end, err := a.Syncer.SyncAppend(ctx)
	return end, classify("append catalog page", err)
}

// CountCatalog returns the number of cached Pokemon.
func (a *Activities) CountCatalog(ctx context.Context) (int, error) {
	n, err := a.Syncer.Count(ctx)
	return n, classify("count catalog", err)
}

// classify marks everything but remote failures as non-retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsRetryable(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", op, err), "SyncFailure", err)
}

// SyncCatalogWorkflow refreshes the catalog and appends pages until the
// remote signals the end or the item ceiling stops pagination.
func SyncCatalogWorkflow(ctx workflow.Context, in SyncCatalogInput) (SyncCatalogResult, error) {
	maxSteps := in.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})
	log := workflow.GetLogger(ctx)

	var a *Activities
	var res SyncCatalogResult
	if err := workflow.ExecuteActivity(ctx, a.RefreshCatalog).Get(ctx, &res.EndReached); err != nil {
		return res, err
	}
	res.Steps = 1

	for !res.EndReached && res.Steps < maxSteps {
		if err := workflow.ExecuteActivity(ctx, a.AppendCatalogPage).Get(ctx, &res.EndReached); err != nil {
			return res, err
		}
		res.Steps++
	}

	if err := workflow.ExecuteActivity(ctx, a.CountCatalog).Get(ctx, &res.Items); err != nil {
		return res, err
	}
	log.Info("catalog sync complete", "steps", res.Steps, "items", res.Items, "end_reached", res.EndReached)
	return res, nil
}

// Register adds the workflow and its activities to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(SyncCatalogWorkflow)
	w.RegisterActivity(acts)
}

// StartSync starts SyncCatalogWorkflow on taskQueue. If a sync is already
// running, the existing run is returned.
func StartSync(ctx context.Context, c client.Client, taskQueue string, in SyncCatalogInput) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        SyncCatalogWorkflowID,
		TaskQueue: taskQueue,
	}, SyncCatalogWorkflow, in)
	if err != nil {
		return nil, fmt.Errorf("start sync workflow: %w", err)
	}
	return run, nil
}
