// Package ropa reads ROPA entities and tenant profiles from the entity
// service and composes them into prompt context.
package ropa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// Sentinel errors for entity service failures.
var (
	ErrNotFound    = errors.New("entity not found")
	ErrUnreachable = errors.New("entity service unreachable")
	ErrTimeout     = errors.New("entity service timeout")
	ErrUpstream    = errors.New("entity service error")
)

// Client is the interface for reading from the entity service.
type Client interface {
	EntitySource
	ProfileSource
	Ready(ctx context.Context) error
}

// EntitySource looks up a single entity by id within a tenant.
type EntitySource interface {
	GetEntity(ctx context.Context, entityType models.EntityType, id, tenantID uuid.UUID) (*models.EntityRecord, error)
}

// ProfileSource returns the organization profile of a tenant, or nil when the
// tenant has none.
type ProfileSource interface {
	GetOrganizationProfile(ctx context.Context, tenantID uuid.UUID) (*models.OrganizationProfile, error)
}

// HTTPClient implements Client against the entity service's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new entity service client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) GetEntity(ctx context.Context, entityType models.EntityType, id, tenantID uuid.UUID) (*models.EntityRecord, error) {
	u := fmt.Sprintf("%s/api/v1/tenants/%s/entities/%s/%s",
		c.baseURL, tenantID, url.PathEscape(string(entityType)), id)

	var rec models.EntityRecord
	if err := c.getJSON(ctx, u, tenantID, &rec); err != nil {
		return nil, fmt.Errorf("get %s %s: %w", entityType, id, err)
	}

	// Never trust a record from another tenant or of another kind.
	if rec.ID != id || rec.TenantID != tenantID {
		return nil, fmt.Errorf("get %s %s: %w", entityType, id, ErrNotFound)
	}
	if rec.Type == "" {
		rec.Type = entityType
	}
	if t, ok := models.ParseEntityType(string(rec.Type)); !ok || t != entityType {
		return nil, fmt.Errorf("get %s %s: %w: service returned a %s", entityType, id, ErrNotFound, rec.Type)
	}
	rec.Type = entityType
	return &rec, nil
}

func (c *HTTPClient) GetOrganizationProfile(ctx context.Context, tenantID uuid.UUID) (*models.OrganizationProfile, error) {
	u := fmt.Sprintf("%s/api/v1/tenants/%s/organization-profile", c.baseURL, tenantID)

	var profile models.OrganizationProfile
	err := c.getJSON(ctx, u, tenantID, &profile)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization profile: %w", err)
	}
	if profile.IsEmpty() {
		return nil, nil
	}
	return &profile, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, uuid.Nil)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: entity service not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, tenantID uuid.UUID, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, tenantID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request, tenantID uuid.UUID) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if tenantID != uuid.Nil {
		req.Header.Set("X-Tenant-ID", tenantID.String())
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// IsUnavailable reports whether err means the entity service could not
// answer, as opposed to answering "not found".
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUpstream)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
