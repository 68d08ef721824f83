package workflows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/ghuser/pokedex/services/pokemon/domain"
)

// fakeSyncer ends pagination after pages appends.
type fakeSyncer struct {
	mu        sync.Mutex
	pages     int
	appends   int
	refreshes int
	appendErr error
}

func (f *fakeSyncer) SyncRefresh(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.appends = 0
	return f.pages == 0, nil
}

func (f *fakeSyncer) SyncAppend(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return false, f.appendErr
	}
	f.appends++
	return f.appends >= f.pages, nil
}

func (f *fakeSyncer) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return 20 * (f.appends + 1), nil
}

func runSync(t *testing.T, syncer Syncer, in SyncCatalogInput) (*testsuite.TestWorkflowEnvironment, SyncCatalogResult, error) {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(&Activities{Syncer: syncer})
	env.ExecuteWorkflow(SyncCatalogWorkflow, in)
	require.True(t, env.IsWorkflowCompleted())

	var res SyncCatalogResult
	err := env.GetWorkflowError()
	if err == nil {
		require.NoError(t, env.GetWorkflowResult(&res))
	}
	return env, res, err
}

func TestSyncCatalogWorkflow_RunsUntilEnd(t *testing.T) {
	syncer := &fakeSyncer{pages: 4}
	_, res, err := runSync(t, syncer, SyncCatalogInput{})
	require.NoError(t, err)

	assert.Equal(t, SyncCatalogResult{Steps: 5, Items: 100, EndReached: true}, res)
	assert.Equal(t, 1, syncer.refreshes)
}

func TestSyncCatalogWorkflow_EmptyCatalog(t *testing.T) {
	_, res, err := runSync(t, &fakeSyncer{}, SyncCatalogInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)
	assert.True(t, res.EndReached)
}

func TestSyncCatalogWorkflow_MaxSteps(t *testing.T) {
	_, res, err := runSync(t, &fakeSyncer{pages: 10}, SyncCatalogInput{MaxSteps: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Steps)
	assert.False(t, res.EndReached)
}

func TestSyncCatalogWorkflow_StorageFailureIsNotRetried(t *testing.T) {
	syncer := &fakeSyncer{pages: 4, appendErr: &domain.StorageError{Op: "merge", Err: errors.New("disk full")}}
	_, _, err := runSync(t, syncer, SyncCatalogInput{})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, "SyncFailure", appErr.Type())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	remote := classify("op", &domain.TransportError{Op: "list", Err: errors.New("timeout")})
	var transportErr *domain.TransportError
	assert.ErrorAs(t, remote, &transportErr)

	var appErr *temporal.ApplicationError
	local := classify("op", errors.New("bad payload"))
	require.ErrorAs(t, local, &appErr)
	assert.True(t, appErr.NonRetryable())
}
