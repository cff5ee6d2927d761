// authz/refresher/refresher_test.go
package refresher_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hdgokani/atlan-metastore-sub001/authz/refresher"
	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	autherrors "github.com/hdgokani/atlan-metastore-sub001/errors"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"github.com/hdgokani/atlan-metastore-sub001/test/mock"
)

func TestMain(m *testing.M) {
	logger.InitTestLogger()
	os.Exit(m.Run())
}

func snapshotV5() *model.PolicySnapshot {
	return &model.PolicySnapshot{
		ServiceName: "atlas",
		Policies: []*model.Policy{
			{ID: "p1", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryEntity, Actions: []string{"entity-read"}},
			{ID: "p2", PolicyType: model.PolicyTypeDeny, ResourceCategory: model.ResourceCategoryEntity, Actions: []string{"entity-read"}},
			{ID: "p3", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryTag, Actions: []string{"entity-read"}},
		},
		PolicyVersion:    5,
		PolicyUpdateTime: 1700000000000,
	}
}

func newRefresher(t *testing.T, admin refresher.AdminClient) (*refresher.Refresher, *store.SnapshotStore, *store.DiskCache) {
	t.Helper()
	snapshots := store.NewSnapshotStore()
	cache := store.NewDiskCache(t.TempDir(), "atlas", "atlas")
	r := refresher.NewRefresher("atlas", snapshots, cache, admin, time.Hour)
	return r, snapshots, cache
}

func TestRefresher_FetchPublishAndNoChange(t *testing.T) {
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, int64(-1)).Return(snapshotV5(), nil).Once()
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, int64(1700000000000)).Return(nil, nil)

	r, snapshots, cache := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	current := snapshots.Current()
	require.NotNil(t, current)
	assert.Equal(t, int64(5), current.PolicyVersion)
	assert.Len(t, current.Policies, 3)
	assert.Equal(t, int64(5), r.LastKnownVersion())

	// The successful fetch must also land on disk.
	cached, err := cache.Load()
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, int64(5), cached.PolicyVersion)

	// A soft refresh with the stored timestamp sees no change.
	require.NoError(t, r.SyncAndWait(context.Background(), model.DefaultRefreshRequest()))
	assert.Equal(t, int64(5), r.LastKnownVersion())
	assert.Same(t, current, snapshots.Current())
}

func TestRefresher_RestartAfterStop(t *testing.T) {
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, testifymock.Anything).Return(snapshotV5(), nil)

	r, snapshots, _ := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()

	// A stopped refresher can be brought back up and serves refreshes again.
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	require.NoError(t, r.SyncAndWait(context.Background(), model.DefaultRefreshRequest()))
	require.NotNil(t, snapshots.Current())
	assert.Equal(t, int64(5), r.LastKnownVersion())
}

func TestRefresher_HardPollsRefetchFromScratch(t *testing.T) {
	fetched := make(chan int64, 16)
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, testifymock.Anything).
		Run(func(args testifymock.Arguments) { fetched <- args.Get(1).(int64) }).
		Return(snapshotV5(), nil)

	snapshots := store.NewSnapshotStore()
	cache := store.NewDiskCache(t.TempDir(), "atlas", "atlas")
	r := refresher.NewRefresher("atlas", snapshots, cache, admin, 20*time.Millisecond)
	r.UseHardPolls(true)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	// Start's synchronous refresh and the first scheduled poll both ignore
	// the stored timestamp.
	for i := 0; i < 2; i++ {
		select {
		case since := <-fetched:
			assert.Equal(t, int64(-1), since)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a policy fetch")
		}
	}
}

func TestRefresher_HardRefreshIgnoresStoredTimestamp(t *testing.T) {
	v6 := snapshotV5()
	v6.PolicyVersion = 6
	v6.PolicyUpdateTime = 1700000001000

	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, int64(-1)).Return(snapshotV5(), nil).Once()
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, int64(-1)).Return(v6, nil).Once()

	r, snapshots, _ := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	require.Equal(t, int64(5), r.LastKnownVersion())

	req := model.DefaultRefreshRequest()
	req.HardRefresh = true
	require.NoError(t, r.SyncAndWait(context.Background(), req))

	assert.Equal(t, int64(6), r.LastKnownVersion())
	assert.Equal(t, int64(6), snapshots.Current().PolicyVersion)
	admin.AssertExpectations(t)
}

func TestRefresher_TransientErrorKeepsLastGoodSnapshot(t *testing.T) {
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, int64(-1)).Return(snapshotV5(), nil).Once()
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, assert.AnError)

	r, snapshots, _ := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	require.NoError(t, r.SyncAndWait(context.Background(), model.DefaultRefreshRequest()))

	current := snapshots.Current()
	require.NotNil(t, current)
	assert.Equal(t, int64(5), current.PolicyVersion)
}

func TestRefresher_MismatchedServiceNameIsOverwritten(t *testing.T) {
	foreign := snapshotV5()
	foreign.ServiceName = "somewhere-else"

	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, int64(-1)).Return(foreign, nil).Once()

	r, snapshots, _ := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	assert.Equal(t, "atlas", snapshots.Current().ServiceName)
}

func TestRefresher_DiskFallbackWhenNothingEverApplied(t *testing.T) {
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)

	snapshots := store.NewSnapshotStore()
	dir := t.TempDir()
	cache := store.NewDiskCache(dir, "atlas", "atlas")
	require.NoError(t, cache.Save(snapshotV5()))

	r := refresher.NewRefresher("atlas", snapshots, cache, admin, time.Hour)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	current := snapshots.Current()
	require.NotNil(t, current)
	assert.Equal(t, int64(5), current.PolicyVersion)
}

func TestRefresher_ServiceNotFoundPublishesEmptyExactlyOnce(t *testing.T) {
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, int64(-1)).Return(snapshotV5(), nil).Once()
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, autherrors.ErrServiceNotFound)

	snapshots := store.NewSnapshotStore()
	dir := t.TempDir()
	cache := store.NewDiskCache(dir, "atlas", "atlas")
	r := refresher.NewRefresher("atlas", snapshots, cache, admin, time.Hour)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	require.Equal(t, int64(5), r.LastKnownVersion())

	require.NoError(t, r.SyncAndWait(context.Background(), model.DefaultRefreshRequest()))

	current := snapshots.Current()
	require.NotNil(t, current)
	assert.Empty(t, current.Policies)
	assert.Equal(t, int64(-1), current.PolicyVersion)
	emptied := current

	// The cache file is archived aside, not deleted.
	assert.Equal(t, 1, countArchivedFiles(t, dir))

	// A second identical failure neither re-archives nor re-publishes.
	require.NoError(t, r.SyncAndWait(context.Background(), model.DefaultRefreshRequest()))
	assert.Equal(t, 1, countArchivedFiles(t, dir))
	assert.Same(t, emptied, snapshots.Current())
}

func countArchivedFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	archived := 0
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".json_") {
			archived++
		}
	}
	return archived
}

func TestRefresher_StartTwiceFails(t *testing.T) {
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)

	r, _, _ := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	assert.ErrorIs(t, r.Start(context.Background()), autherrors.ErrRefresherRunning)
}

func TestRefresher_SubmitAfterStopFails(t *testing.T) {
	admin := new(mock.MockAdminClient)
	admin.On("FetchRolesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchUserStoreIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)
	admin.On("FetchPoliciesIfUpdated", testifymock.Anything, testifymock.Anything).Return(nil, nil)

	r, _, _ := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()

	assert.ErrorIs(t, r.Submit(model.DefaultRefreshRequest()), autherrors.ErrRefresherStopped)
	assert.ErrorIs(t, r.SyncAndWait(context.Background(), model.DefaultRefreshRequest()), autherrors.ErrRefresherStopped)
}

// blockingAdmin lets a test hold one policy fetch in flight while observing
// the total number of fetches performed.
type blockingAdmin struct {
	mu       sync.Mutex
	release  chan struct{}
	inFlight chan struct{}
	calls    atomic.Int32
	blocking bool
}

func (a *blockingAdmin) FetchPoliciesIfUpdated(ctx context.Context, sinceMillis int64) (*model.PolicySnapshot, error) {
	a.calls.Add(1)
	a.mu.Lock()
	blocking := a.blocking
	a.mu.Unlock()
	if blocking {
		a.inFlight <- struct{}{}
		<-a.release
	}
	return nil, nil
}

func (a *blockingAdmin) FetchRolesIfUpdated(ctx context.Context, sinceMillis int64) (*model.Roles, error) {
	return nil, nil
}

func (a *blockingAdmin) FetchUserStoreIfUpdated(ctx context.Context, sinceMillis int64) (*model.UserStore, error) {
	return nil, nil
}

func (a *blockingAdmin) setBlocking(blocking bool) {
	a.mu.Lock()
	a.blocking = blocking
	a.mu.Unlock()
}

func TestRefresher_CoalescesConcurrentSubmissions(t *testing.T) {
	admin := &blockingAdmin{
		release:  make(chan struct{}),
		inFlight: make(chan struct{}, 1),
	}
	r, _, _ := newRefresher(t, admin)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	callsAfterStart := admin.calls.Load()

	// Hold one refresh in flight.
	admin.setBlocking(true)
	req := model.RefreshRequest{Policies: true}
	require.NoError(t, r.Submit(req))
	<-admin.inFlight

	// A herd of submissions while the refresh runs coalesces into at most
	// one queued catch-up job.
	for i := 0; i < 25; i++ {
		require.NoError(t, r.Submit(model.DefaultRefreshRequest()))
	}

	admin.setBlocking(false)
	close(admin.release)

	// Expect exactly two more fetches: the in-flight one and one catch-up.
	deadline := time.After(2 * time.Second)
	for admin.calls.Load() < callsAfterStart+2 {
		select {
		case <-deadline:
			t.Fatalf("refresher never drained, calls=%d", admin.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, callsAfterStart+2, admin.calls.Load())
}
