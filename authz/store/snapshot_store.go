// authz/store/snapshot_store.go
package store

import (
	"strings"
	"sync/atomic"

	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

// Principal is a fully resolved caller identity: the user name plus the
// expanded group and role memberships from the user-store and roles aspects.
type Principal struct {
	Name   string
	Groups []string
	Roles  []string
}

// SnapshotStore holds the current PolicySnapshot and the principal-membership
// aspects. Each is a single atomic pointer: the refresher worker is the only
// writer, arbitrarily many evaluation callers read without locking, and a
// reader always observes one snapshot in full.
type SnapshotStore struct {
	snapshot  atomic.Pointer[model.PolicySnapshot]
	roles     atomic.Pointer[model.Roles]
	userStore atomic.Pointer[model.UserStore]
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Current returns the published snapshot, or nil when none has been applied.
func (s *SnapshotStore) Current() *model.PolicySnapshot {
	return s.snapshot.Load()
}

// Publish atomically replaces the current snapshot.
func (s *SnapshotStore) Publish(snapshot *model.PolicySnapshot) {
	s.snapshot.Store(snapshot)
	logger.Info("Published policy snapshot",
		zap.String("serviceName", snapshot.ServiceName),
		zap.Int64("version", snapshot.PolicyVersion),
		zap.Int("policies", len(snapshot.Policies)))
}

// PublishEmpty installs a snapshot with no policies, used when the managed
// service was removed upstream.
func (s *SnapshotStore) PublishEmpty(serviceName string) {
	s.snapshot.Store(&model.PolicySnapshot{
		ServiceName:   serviceName,
		Policies:      []*model.Policy{},
		PolicyVersion: -1,
	})
	logger.Warn("Published empty policy snapshot", zap.String("serviceName", serviceName))
}

func (s *SnapshotStore) SetRoles(roles *model.Roles) {
	s.roles.Store(roles)
}

func (s *SnapshotStore) Roles() *model.Roles {
	return s.roles.Load()
}

func (s *SnapshotStore) SetUserStore(userStore *model.UserStore) {
	s.userStore.Store(userStore)
}

func (s *SnapshotStore) UserStore() *model.UserStore {
	return s.userStore.Load()
}

// ResolvePrincipal expands a user name into a Principal using the current
// user-store and roles aspects, including nested role memberships.
func (s *SnapshotStore) ResolvePrincipal(user string) Principal {
	principal := Principal{Name: user}

	if userStore := s.userStore.Load(); userStore != nil {
		principal.Groups = userStore.UserGroups[user]
	}

	roles := s.roles.Load()
	if roles == nil {
		return principal
	}

	direct := make(map[string]bool)
	for _, role := range roles.Roles {
		if containsString(role.Users, user) || anyInList(role.Groups, principal.Groups) {
			direct[role.Name] = true
		}
	}

	// Expand nested roles: membership in a role grants every role it lists.
	for changed := true; changed; {
		changed = false
		for _, role := range roles.Roles {
			if !direct[role.Name] {
				continue
			}
			for _, nested := range role.Roles {
				if !direct[nested] {
					direct[nested] = true
					changed = true
				}
			}
		}
	}

	for name := range direct {
		principal.Roles = append(principal.Roles, name)
	}
	return principal
}

// RelevantPolicies filters the current snapshot down to policies of the given
// resource category that apply to the principal, cover any of the actions,
// and carry the given policy type. An empty policyType matches both allow and
// deny policies.
func (s *SnapshotStore) RelevantPolicies(principal Principal, category model.ResourceCategory, actions []string, policyType model.PolicyType) []*model.Policy {
	snapshot := s.snapshot.Load()
	if snapshot == nil {
		return nil
	}

	var relevant []*model.Policy
	for _, policy := range snapshot.Policies {
		if policy.ResourceCategory != category {
			continue
		}
		if policyType != "" && policy.PolicyType != policyType {
			continue
		}
		if !policyAppliesToPrincipal(policy, principal) {
			continue
		}
		if !policy.HasAnyAction(actions) {
			continue
		}
		relevant = append(relevant, policy)
	}
	return relevant
}

// PoliciesWithLabelPrefix returns the snapshot's policies carrying at least
// one label with the given prefix, used to group policies back to their
// owning access-control object.
func (s *SnapshotStore) PoliciesWithLabelPrefix(prefix string) []*model.Policy {
	snapshot := s.snapshot.Load()
	if snapshot == nil || prefix == "" {
		return nil
	}

	var matched []*model.Policy
	for _, policy := range snapshot.Policies {
		for _, label := range policy.Labels {
			if strings.HasPrefix(label, prefix) {
				matched = append(matched, policy)
				break
			}
		}
	}
	return matched
}

func policyAppliesToPrincipal(policy *model.Policy, principal Principal) bool {
	if policy.Subjects.IsEmpty() {
		return true
	}
	if containsString(policy.Subjects.Users, principal.Name) {
		return true
	}
	if anyInList(policy.Subjects.Groups, principal.Groups) {
		return true
	}
	return anyInList(policy.Subjects.Roles, principal.Roles)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func anyInList(listA, listB []string) bool {
	for _, a := range listA {
		if containsString(listB, a) {
			return true
		}
	}
	return false
}
