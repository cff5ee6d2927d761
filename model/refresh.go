// model/refresh.go
package model

// RefreshRequest names the cache aspects a refresh should cover. The worker
// always processes aspects in the fixed order roles, policies, user-store.
type RefreshRequest struct {
	Policies    bool `json:"policies"`
	Roles       bool `json:"roles"`
	UserStore   bool `json:"userStore"`
	HardRefresh bool `json:"hardRefresh"`
}

// DefaultRefreshRequest is the soft refresh-everything request used for
// scheduled polls and coalesced catch-up work.
func DefaultRefreshRequest() RefreshRequest {
	return RefreshRequest{Policies: true, Roles: true, UserStore: true}
}

// IsDefault reports whether the request is the catch-up/default shape.
func (r RefreshRequest) IsDefault() bool {
	return r.Policies && r.Roles && r.UserStore && !r.HardRefresh
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	PolicyID string `json:"policyId,omitempty"`
}

// Role is a named principal grouping delivered with the roles aspect. Roles
// may nest: a member of role A holds every role listed in A's Roles.
type Role struct {
	Name   string   `json:"name"`
	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// Roles is the full role set for one managed service.
type Roles struct {
	ServiceName string `json:"serviceName"`
	Roles       []Role `json:"roles"`
	Version     int64  `json:"version"`
	UpdateTime  int64  `json:"updateTime"` // epoch millis
}

// UserStore carries principal-to-group membership for one managed service.
type UserStore struct {
	ServiceName string              `json:"serviceName"`
	UserGroups  map[string][]string `json:"userGroups"`
	Version     int64               `json:"version"`
	UpdateTime  int64               `json:"updateTime"` // epoch millis
}
