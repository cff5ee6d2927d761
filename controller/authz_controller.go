// controller/authz_controller.go
package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hdgokani/atlan-metastore-sub001/audit"
	"github.com/hdgokani/atlan-metastore-sub001/authz/compiler"
	"github.com/hdgokani/atlan-metastore-sub001/authz/engine"
	"github.com/hdgokani/atlan-metastore-sub001/authz/refresher"
	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	autherrors "github.com/hdgokani/atlan-metastore-sub001/errors"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"github.com/hdgokani/atlan-metastore-sub001/util"
)

// BroadcastFunc publishes a refresh request to every node in the cluster.
type BroadcastFunc func(ctx context.Context, req model.RefreshRequest) error

type AuthzController struct {
	evaluator  *engine.Evaluator
	correlator *compiler.Correlator
	refresher  *refresher.Refresher
	snapshots  *store.SnapshotStore
	auditSvc   audit.Service
	broadcast  BroadcastFunc
}

func NewAuthzController(evaluator *engine.Evaluator, correlator *compiler.Correlator, policyRefresher *refresher.Refresher, snapshots *store.SnapshotStore, auditSvc audit.Service, broadcast BroadcastFunc) *AuthzController {
	return &AuthzController{
		evaluator:  evaluator,
		correlator: correlator,
		refresher:  policyRefresher,
		snapshots:  snapshots,
		auditSvc:   auditSvc,
		broadcast:  broadcast,
	}
}

// RegisterRoutes registers the API routes
func (ac *AuthzController) RegisterRoutes(r *gin.RouterGroup) {
	access := r.Group("/access")
	{
		access.POST("/entity", ac.CheckEntityAccess)
		access.POST("/entity/search", ac.CheckEntityAccessByGuid)
		access.POST("/entity/filter", ac.EntityListFilter)
		access.POST("/relationship", ac.CheckRelationshipAccess)
		access.POST("/relationship/search", ac.CheckRelationshipAccessByGuids)
	}
	cache := r.Group("/cache")
	{
		cache.POST("/refresh", ac.Refresh)
		cache.GET("/status", ac.Status)
		cache.GET("/policies", ac.PoliciesByLabelPrefix)
	}
}

type entityAccessRequest struct {
	User   string        `json:"user" binding:"required"`
	Action string        `json:"action" binding:"required"`
	Entity *model.Entity `json:"entity" binding:"required"`
}

// CheckEntityAccess decides access for a fully materialized entity in memory.
func (ac *AuthzController) CheckEntityAccess(c *gin.Context) {
	var req entityAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid access request", autherrors.ErrInvalidRequest)
		return
	}

	decision := ac.evaluator.IsAccessAllowed(c, req.User, req.Entity, req.Action)
	ac.auditSvc.RecordDecision(c, audit.DecisionLog{
		Timestamp: time.Now(),
		User:      req.User,
		Action:    req.Action,
		EntityID:  req.Entity.ID,
		Allowed:   decision.Allowed,
		PolicyID:  decision.PolicyID,
		Path:      "memory",
	})

	c.JSON(http.StatusOK, decision)
}

type entitySearchAccessRequest struct {
	User   string `json:"user" binding:"required"`
	Action string `json:"action" binding:"required"`
	Guid   string `json:"guid" binding:"required"`
}

// CheckEntityAccessByGuid decides access without materializing the entity,
// through the compiled search query.
func (ac *AuthzController) CheckEntityAccessByGuid(c *gin.Context) {
	var req entitySearchAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid access request", autherrors.ErrInvalidRequest)
		return
	}

	decision, err := ac.correlator.CheckEntityAccess(c, req.User, req.Action, req.Guid)
	if err != nil {
		util.RespondWithError(c, http.StatusBadGateway, "Search-backed access check failed", err)
		return
	}
	ac.auditSvc.RecordDecision(c, audit.DecisionLog{
		Timestamp: time.Now(),
		User:      req.User,
		Action:    req.Action,
		EntityID:  req.Guid,
		Allowed:   decision.Allowed,
		PolicyID:  decision.PolicyID,
		Path:      "search",
	})

	c.JSON(http.StatusOK, decision)
}

type listFilterRequest struct {
	User    string   `json:"user" binding:"required"`
	Actions []string `json:"actions" binding:"required"`
}

// EntityListFilter returns the search pre-filter for bulk entity listing.
// Documents matching it are exactly those the user may act on, so callers
// embed it into their own search requests.
func (ac *AuthzController) EntityListFilter(c *gin.Context) {
	var req listFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid filter request", autherrors.ErrInvalidRequest)
		return
	}

	c.JSON(http.StatusOK, gin.H{"filter": ac.correlator.ListFilter(req.User, req.Actions)})
}

type relationshipAccessRequest struct {
	User             string        `json:"user" binding:"required"`
	Action           string        `json:"action" binding:"required"`
	RelationshipType string        `json:"relationshipType" binding:"required"`
	EndOne           *model.Entity `json:"endOne" binding:"required"`
	EndTwo           *model.Entity `json:"endTwo" binding:"required"`
}

// CheckRelationshipAccess decides access for a relationship between two
// materialized entity headers.
func (ac *AuthzController) CheckRelationshipAccess(c *gin.Context) {
	var req relationshipAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid access request", autherrors.ErrInvalidRequest)
		return
	}

	decision := ac.evaluator.IsRelationshipAccessAllowed(c, req.User, req.RelationshipType, req.EndOne, req.EndTwo, req.Action)
	ac.auditSvc.RecordDecision(c, audit.DecisionLog{
		Timestamp:        time.Now(),
		User:             req.User,
		Action:           req.Action,
		RelationshipType: req.RelationshipType,
		Allowed:          decision.Allowed,
		PolicyID:         decision.PolicyID,
		Path:             "memory",
	})

	c.JSON(http.StatusOK, decision)
}

type relationshipSearchAccessRequest struct {
	User       string `json:"user" binding:"required"`
	Action     string `json:"action" binding:"required"`
	EndOneGuid string `json:"endOneGuid" binding:"required"`
	EndTwoGuid string `json:"endTwoGuid" binding:"required"`
}

// CheckRelationshipAccessByGuids decides relationship access through the
// compiled search query and matched-clause correlation.
func (ac *AuthzController) CheckRelationshipAccessByGuids(c *gin.Context) {
	var req relationshipSearchAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid access request", autherrors.ErrInvalidRequest)
		return
	}

	decision, err := ac.correlator.CheckRelationshipAccess(c, req.User, req.Action, req.EndOneGuid, req.EndTwoGuid)
	if err != nil {
		util.RespondWithError(c, http.StatusBadGateway, "Search-backed access check failed", err)
		return
	}
	ac.auditSvc.RecordDecision(c, audit.DecisionLog{
		Timestamp: time.Now(),
		User:      req.User,
		Action:    req.Action,
		Allowed:   decision.Allowed,
		PolicyID:  decision.PolicyID,
		Path:      "search",
	})

	c.JSON(http.StatusOK, decision)
}

type refreshRequest struct {
	Policies    *bool `json:"policies"`
	Roles       *bool `json:"roles"`
	UserStore   *bool `json:"userStore"`
	HardRefresh bool  `json:"hardRefresh"`
	Wait        bool  `json:"wait"`
	Broadcast   bool  `json:"broadcast"`
}

// Refresh triggers an on-demand cache refresh. Aspects default to all when
// unspecified; wait=true blocks until the refresh completes; broadcast=true
// fans the request out to every node instead of only this one.
func (ac *AuthzController) Refresh(c *gin.Context) {
	var body refreshRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid refresh request", autherrors.ErrInvalidRequest)
		return
	}

	req := model.DefaultRefreshRequest()
	if body.Policies != nil {
		req.Policies = *body.Policies
	}
	if body.Roles != nil {
		req.Roles = *body.Roles
	}
	if body.UserStore != nil {
		req.UserStore = *body.UserStore
	}
	req.HardRefresh = body.HardRefresh

	if body.Broadcast {
		if err := ac.broadcast(c, req); err != nil {
			util.RespondWithError(c, http.StatusBadGateway, "Failed to broadcast refresh", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "broadcast"})
		return
	}

	if body.Wait {
		if err := ac.refresher.SyncAndWait(c, req); err != nil {
			util.RespondWithError(c, http.StatusServiceUnavailable, "Refresher not running", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
		return
	}

	if err := ac.refresher.Submit(req); err != nil {
		util.RespondWithError(c, http.StatusServiceUnavailable, "Refresher not running", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "submitted"})
}

// PoliciesByLabelPrefix lists the cached policies carrying at least one
// label with the given prefix, for persona and purpose style groupings.
func (ac *AuthzController) PoliciesByLabelPrefix(c *gin.Context) {
	prefix := c.Query("labelPrefix")
	if prefix == "" {
		util.RespondWithError(c, http.StatusBadRequest, "labelPrefix query parameter is required", autherrors.ErrInvalidRequest)
		return
	}

	policies := ac.snapshots.PoliciesWithLabelPrefix(prefix)
	c.JSON(http.StatusOK, gin.H{"count": len(policies), "policies": policies})
}

// Status reports the refresher's version bookkeeping.
func (ac *AuthzController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"lastKnownVersion":   ac.refresher.LastKnownVersion(),
		"lastActivationTime": ac.refresher.LastActivationTime().UTC().Format(time.RFC3339),
	})
}
