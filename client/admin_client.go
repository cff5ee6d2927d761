// client/admin_client.go
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hdgokani/atlan-metastore-sub001/config"
	autherrors "github.com/hdgokani/atlan-metastore-sub001/errors"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

// AdminClient talks to the policy-admin service over HTTP. All downloads are
// incremental: the caller passes the last seen update timestamp and receives
// nil when nothing changed since then.
type AdminClient struct {
	baseURL     string
	serviceName string
	appID       string
	httpClient  *http.Client
}

func NewAdminClient(cfg *config.Configuration) *AdminClient {
	return &AdminClient{
		baseURL:     cfg.Authz.AdminURL,
		serviceName: cfg.Authz.ServiceName,
		appID:       cfg.Authz.AppID,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchPoliciesIfUpdated downloads the service's policy snapshot when its
// version changed after sinceMillis. A nil snapshot with nil error means
// unchanged; errors.ErrServiceNotFound means the service was removed upstream.
func (c *AdminClient) FetchPoliciesIfUpdated(ctx context.Context, sinceMillis int64) (*model.PolicySnapshot, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/policies/%s", url.PathEscape(c.serviceName)), sinceMillis)
	if err != nil || body == nil {
		return nil, err
	}

	var snapshot model.PolicySnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding policy snapshot for service %s: %w", c.serviceName, err)
	}
	return &snapshot, nil
}

// FetchRolesIfUpdated downloads the role definitions when they changed after
// sinceMillis; nil means unchanged.
func (c *AdminClient) FetchRolesIfUpdated(ctx context.Context, sinceMillis int64) (*model.Roles, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/roles/%s", url.PathEscape(c.serviceName)), sinceMillis)
	if err != nil || body == nil {
		return nil, err
	}

	var roles model.Roles
	if err := json.Unmarshal(body, &roles); err != nil {
		return nil, fmt.Errorf("decoding roles for service %s: %w", c.serviceName, err)
	}
	return &roles, nil
}

// FetchUserStoreIfUpdated downloads the user-to-groups mapping when it
// changed after sinceMillis; nil means unchanged.
func (c *AdminClient) FetchUserStoreIfUpdated(ctx context.Context, sinceMillis int64) (*model.UserStore, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/userstore/%s", url.PathEscape(c.serviceName)), sinceMillis)
	if err != nil || body == nil {
		return nil, err
	}

	var userStore model.UserStore
	if err := json.Unmarshal(body, &userStore); err != nil {
		return nil, fmt.Errorf("decoding user store for service %s: %w", c.serviceName, err)
	}
	return &userStore, nil
}

// get issues the incremental download request. 304 Not Modified and an empty
// 200 body both mean unchanged and yield (nil, nil).
func (c *AdminClient) get(ctx context.Context, path string, sinceMillis int64) ([]byte, error) {
	reqURL := c.baseURL + path + "?since=" + strconv.FormatInt(sinceMillis, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building admin request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-App-Id", c.appID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling policy admin: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading policy admin response: %w", err)
		}
		if len(body) == 0 {
			return nil, nil
		}
		return body, nil
	case http.StatusNotModified:
		return nil, nil
	case http.StatusNotFound:
		return nil, autherrors.ErrServiceNotFound
	default:
		logger.Error("Unexpected response from policy admin",
			zap.String("url", reqURL),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("policy admin returned status %d", resp.StatusCode)
	}
}
