// authz/refresher/refresher.go
package refresher

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	autherrors "github.com/hdgokani/atlan-metastore-sub001/errors"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

// AdminClient is the policy-admin collaborator. Each fetch returns nil when
// nothing changed since the given timestamp; FetchPoliciesIfUpdated returns
// errors.ErrServiceNotFound when the managed service was removed upstream.
type AdminClient interface {
	FetchPoliciesIfUpdated(ctx context.Context, sinceMillis int64) (*model.PolicySnapshot, error)
	FetchRolesIfUpdated(ctx context.Context, sinceMillis int64) (*model.Roles, error)
	FetchUserStoreIfUpdated(ctx context.Context, sinceMillis int64) (*model.UserStore, error)
}

type refresherState int32

const (
	stateStopped refresherState = iota
	stateStarting
	stateRunning
	stateStopping
)

const triggerQueueDepth = 64

type trigger struct {
	req       model.RefreshRequest
	isDefault bool
	done      chan struct{}
}

func newTrigger(req model.RefreshRequest, isDefault bool) *trigger {
	return &trigger{req: req, isDefault: isDefault, done: make(chan struct{})}
}

// Refresher keeps one managed service's policy snapshot fresh: a dedicated
// worker goroutine drains a coalescing trigger queue, a scheduler enqueues a
// soft full refresh at a fixed interval, and version bookkeeping plus the
// disk cache make the snapshot crash-recoverable. One instance exists per
// managed service; none of its state is process-wide.
type Refresher struct {
	serviceName  string
	store        *store.SnapshotStore
	cache        *store.DiskCache
	admin        AdminClient
	pollInterval time.Duration
	hardPolls    bool

	mu            sync.Mutex
	state         refresherState
	inProgress    bool
	defaultQueued bool

	triggers      chan *trigger
	stopCh        chan struct{}
	workerDone    chan struct{}
	schedulerDone chan struct{}

	// Version bookkeeping, written only by Start's synchronous refresh and
	// the worker goroutine; exposed through atomics for concurrent readers.
	lastPolicyUpdateTime int64
	rolesUpdateTime      int64
	userStoreUpdateTime  int64
	lastKnownVersion     atomic.Int64
	lastActivationMillis atomic.Int64
	policiesApplied      bool
	emptyPublished       bool
}

func NewRefresher(serviceName string, snapshots *store.SnapshotStore, cache *store.DiskCache, admin AdminClient, pollInterval time.Duration) *Refresher {
	r := &Refresher{
		serviceName:          serviceName,
		store:                snapshots,
		cache:                cache,
		admin:                admin,
		pollInterval:         pollInterval,
		triggers:             make(chan *trigger, triggerQueueDepth),
		stopCh:               make(chan struct{}),
		workerDone:           make(chan struct{}),
		schedulerDone:        make(chan struct{}),
		lastPolicyUpdateTime: -1,
		rolesUpdateTime:      -1,
		userStoreUpdateTime:  -1,
	}
	r.lastKnownVersion.Store(-1)
	return r
}

// UseHardPolls makes every scheduler-driven refresh a hard refresh instead
// of an incremental one. Call before Start.
func (r *Refresher) UseHardPolls(hard bool) {
	r.hardPolls = hard
}

// Start performs one synchronous hard refresh of roles, policies and the
// user-store (in that order) before accepting traffic, then starts the worker
// and the periodic scheduler.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != stateStopped {
		r.mu.Unlock()
		return autherrors.ErrRefresherRunning
	}
	r.state = stateStarting
	// The previous run closed its stop and done channels and may have left
	// stale triggers behind, so every restart gets fresh run-scoped state.
	r.stopCh = make(chan struct{})
	r.workerDone = make(chan struct{})
	r.schedulerDone = make(chan struct{})
	r.triggers = make(chan *trigger, triggerQueueDepth)
	r.inProgress = false
	r.defaultQueued = false
	r.mu.Unlock()

	logger.Info("Starting policy refresher", zap.String("serviceName", r.serviceName))

	r.loadRoles(ctx, true)
	r.loadPolicy(ctx, true)
	r.loadUserStore(ctx, true)

	r.mu.Lock()
	r.state = stateRunning
	r.mu.Unlock()

	go r.worker(ctx)
	go r.scheduler(ctx)

	logger.Info("Scheduled policy refresher to download policies periodically",
		zap.String("serviceName", r.serviceName),
		zap.Duration("pollInterval", r.pollInterval))
	return nil
}

// Stop shuts down the scheduler and worker and blocks until both have fully
// exited. After Stop returns, no refresh is left half-applied.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if r.state != stateRunning {
		r.mu.Unlock()
		return
	}
	r.state = stateStopping
	r.mu.Unlock()

	close(r.stopCh)
	<-r.workerDone
	<-r.schedulerDone

	r.mu.Lock()
	r.state = stateStopped
	r.mu.Unlock()

	logger.Info("Stopped policy refresher", zap.String("serviceName", r.serviceName))
}

// Submit enqueues an on-demand refresh without waiting for it. If a refresh
// is already executing, a single soft refresh-everything trigger is queued to
// catch up; further submissions while that catch-up trigger is pending are
// no-ops, so a thundering herd of invalidation requests leaves at most one
// pending job.
func (r *Refresher) Submit(req model.RefreshRequest) error {
	r.mu.Lock()
	if r.state != stateRunning {
		r.mu.Unlock()
		return autherrors.ErrRefresherStopped
	}
	if r.defaultQueued {
		r.mu.Unlock()
		logger.Info("Default refresh job already queued, skipping submission",
			zap.String("serviceName", r.serviceName))
		return nil
	}

	var t *trigger
	if r.inProgress {
		logger.Info("Refresh already in progress, queueing default catch-up job",
			zap.String("serviceName", r.serviceName))
		t = newTrigger(model.DefaultRefreshRequest(), true)
		r.defaultQueued = true
	} else {
		t = newTrigger(req, false)
	}
	triggers, stopCh := r.triggers, r.stopCh
	r.mu.Unlock()

	select {
	case triggers <- t:
	case <-stopCh:
		return autherrors.ErrRefresherStopped
	}
	return nil
}

// SyncAndWait enqueues the caller's own trigger and blocks until the worker
// has processed it. The worker signals completion on success and failure
// alike, so a waiter is never stuck on a failed refresh.
func (r *Refresher) SyncAndWait(ctx context.Context, req model.RefreshRequest) error {
	r.mu.Lock()
	if r.state != stateRunning {
		r.mu.Unlock()
		return autherrors.ErrRefresherStopped
	}
	triggers, stopCh := r.triggers, r.stopCh
	r.mu.Unlock()

	t := newTrigger(req, false)

	select {
	case triggers <- t:
	case <-stopCh:
		return autherrors.ErrRefresherStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-stopCh:
		return autherrors.ErrRefresherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastKnownVersion returns the policy version of the last applied snapshot.
func (r *Refresher) LastKnownVersion() int64 {
	return r.lastKnownVersion.Load()
}

// LastActivationTime returns when a snapshot was last activated.
func (r *Refresher) LastActivationTime() time.Time {
	return time.UnixMilli(r.lastActivationMillis.Load())
}

func (r *Refresher) worker(ctx context.Context) {
	defer close(r.workerDone)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case t := <-r.triggers:
			r.runTrigger(ctx, t)
		}
	}
}

func (r *Refresher) runTrigger(ctx context.Context, t *trigger) {
	r.mu.Lock()
	r.inProgress = true
	r.mu.Unlock()

	// Completion is always signalled, success or failure, so waiters are
	// never stuck; the coalescing flags are cleared on the same path.
	defer func() {
		close(t.done)
		r.mu.Lock()
		r.inProgress = false
		r.defaultQueued = false
		r.mu.Unlock()
	}()

	logger.Debug("Begin policy refresh", zap.String("serviceName", r.serviceName))

	if t.req.Roles && ctx.Err() == nil {
		r.loadRoles(ctx, t.req.HardRefresh)
	}
	if t.req.Policies && ctx.Err() == nil {
		r.loadPolicy(ctx, t.req.HardRefresh)
	}
	if t.req.UserStore && ctx.Err() == nil {
		r.loadUserStore(ctx, t.req.HardRefresh)
	}

	logger.Debug("End policy refresh", zap.String("serviceName", r.serviceName))
}

func (r *Refresher) scheduler(ctx context.Context) {
	defer close(r.schedulerDone)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			req := model.DefaultRefreshRequest()
			req.HardRefresh = r.hardPolls
			if err := r.Submit(req); err != nil {
				return
			}
		}
	}
}

// loadPolicy runs one policy refresh iteration: fetch from the policy admin,
// fall back to the disk cache when nothing has ever been applied, and publish
// the result atomically. Transient failures keep the last good snapshot.
func (r *Refresher) loadPolicy(ctx context.Context, hardRefresh bool) {
	snapshot, err := r.fetchPoliciesFromAdmin(ctx, hardRefresh)
	if err != nil {
		if stderrors.Is(err, autherrors.ErrServiceNotFound) {
			r.handleServiceRemoved()
			return
		}
		logger.Error("Failed to refresh policies, continuing with last known version",
			zap.String("serviceName", r.serviceName),
			zap.Int64("lastKnownVersion", r.lastKnownVersion.Load()),
			zap.Error(err))
		return
	}

	if snapshot == nil {
		// No change upstream. If nothing was ever applied in this process,
		// recover the last-known-good snapshot from disk instead of serving
		// an empty policy set.
		if r.policiesApplied {
			logger.Debug("No policy update found",
				zap.String("serviceName", r.serviceName),
				zap.Int64("lastKnownVersion", r.lastKnownVersion.Load()))
			return
		}
		snapshot, _ = r.cache.Load()
		if snapshot == nil {
			return
		}
		logger.Info("Loaded policy snapshot from disk cache",
			zap.String("serviceName", r.serviceName),
			zap.Int64("version", snapshot.PolicyVersion))
	}

	if snapshot.ServiceName != r.serviceName {
		logger.Warn("Ignoring unexpected serviceName in policy snapshot",
			zap.String("expected", r.serviceName),
			zap.String("received", snapshot.ServiceName))
		snapshot.ServiceName = r.serviceName
	}

	r.store.Publish(snapshot)
	r.policiesApplied = true
	r.emptyPublished = false
	r.lastKnownVersion.Store(snapshot.PolicyVersion)
	r.lastPolicyUpdateTime = snapshot.PolicyUpdateTime
	r.lastActivationMillis.Store(time.Now().UnixMilli())

	if err := r.cache.Save(snapshot); err != nil {
		logger.Error("Failed to persist policy snapshot to disk cache",
			zap.String("serviceName", r.serviceName), zap.Error(err))
	}
}

func (r *Refresher) fetchPoliciesFromAdmin(ctx context.Context, hardRefresh bool) (*model.PolicySnapshot, error) {
	since := r.lastPolicyUpdateTime
	if hardRefresh {
		since = -1
	}

	snapshot, err := r.admin.FetchPoliciesIfUpdated(ctx, since)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		logger.Info("Found updated policy version",
			zap.String("serviceName", r.serviceName),
			zap.Int64("lastKnownVersion", r.lastKnownVersion.Load()),
			zap.Int64("newVersion", snapshot.PolicyVersion))
	}
	return snapshot, nil
}

// handleServiceRemoved reacts to permanent upstream removal: archive the disk
// cache and publish an empty snapshot exactly once, not on every poll.
func (r *Refresher) handleServiceRemoved() {
	if r.emptyPublished {
		return
	}

	logger.Warn("Managed service not found upstream, disabling policy cache",
		zap.String("serviceName", r.serviceName))

	r.cache.Disable()
	r.store.PublishEmpty(r.serviceName)
	r.emptyPublished = true
	r.policiesApplied = false
	r.lastKnownVersion.Store(-1)
	r.lastPolicyUpdateTime = -1
	r.lastActivationMillis.Store(time.Now().UnixMilli())
}

func (r *Refresher) loadRoles(ctx context.Context, hardRefresh bool) {
	since := r.rolesUpdateTime
	if hardRefresh {
		since = -1
	}

	roles, err := r.admin.FetchRolesIfUpdated(ctx, since)
	if err != nil {
		logger.Error("Failed to refresh roles, continuing with last known roles",
			zap.String("serviceName", r.serviceName), zap.Error(err))
		return
	}
	if roles == nil {
		return
	}

	r.store.SetRoles(roles)
	r.rolesUpdateTime = roles.UpdateTime
	logger.Info("Refreshed roles", zap.String("serviceName", r.serviceName),
		zap.Int("roles", len(roles.Roles)))
}

func (r *Refresher) loadUserStore(ctx context.Context, hardRefresh bool) {
	since := r.userStoreUpdateTime
	if hardRefresh {
		since = -1
	}

	userStore, err := r.admin.FetchUserStoreIfUpdated(ctx, since)
	if err != nil {
		logger.Error("Failed to refresh user store, continuing with last known mapping",
			zap.String("serviceName", r.serviceName), zap.Error(err))
		return
	}
	if userStore == nil {
		return
	}

	r.store.SetUserStore(userStore)
	r.userStoreUpdateTime = userStore.UpdateTime
	logger.Info("Refreshed user store", zap.String("serviceName", r.serviceName),
		zap.Int("users", len(userStore.UserGroups)))
}
