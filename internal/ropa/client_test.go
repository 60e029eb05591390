package ropa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, "secret-token", 5*time.Second)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// --- GetEntity ---

func TestGetEntity_ValidResponse(t *testing.T) {
	tenantID, id, parentID := uuid.New(), uuid.New(), uuid.New()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tenants/"+tenantID.String()+"/entities/activity/"+id.String(), r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, tenantID.String(), r.Header.Get("X-Tenant-ID"))

		writeJSON(w, models.EntityRecord{
			ID:         id,
			Type:       models.EntityActivity,
			TenantID:   tenantID,
			ParentID:   &parentID,
			Attributes: map[string]any{"processing_activity_name": "Payroll"},
		})
	}))
	defer ts.Close()

	rec, err := newTestClient(t, ts.URL).GetEntity(context.Background(), models.EntityActivity, id, tenantID)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, models.EntityActivity, rec.Type)
	require.NotNil(t, rec.ParentID)
	assert.Equal(t, parentID, *rec.ParentID)
	assert.Equal(t, "Payroll", rec.Attributes["processing_activity_name"])
}

func TestGetEntity_AliasTypeAccepted(t *testing.T) {
	tenantID, id := uuid.New(), uuid.New()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": id, "type": "impact-assessment", "tenant_id": tenantID, "attributes": map[string]any{},
		})
	}))
	defer ts.Close()

	rec, err := newTestClient(t, ts.URL).GetEntity(context.Background(), models.EntityDPIA, id, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.EntityDPIA, rec.Type)
}

func TestGetEntity_NotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := newTestClient(t, ts.URL).GetEntity(context.Background(), models.EntityRisk, uuid.New(), uuid.New())
		assert.ErrorIs(t, err, ErrNotFound, "status %d", status)
		ts.Close()
	}
}

func TestGetEntity_OtherTenantRejected(t *testing.T) {
	id := uuid.New()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.EntityRecord{ID: id, Type: models.EntityRisk, TenantID: uuid.New()})
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetEntity(context.Background(), models.EntityRisk, id, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEntity_WrongKindRejected(t *testing.T) {
	tenantID, id := uuid.New(), uuid.New()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.EntityRecord{ID: id, Type: models.EntityActivity, TenantID: tenantID})
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetEntity(context.Background(), models.EntityRepository, id, tenantID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEntity_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetEntity(context.Background(), models.EntityRisk, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.True(t, IsUnavailable(err))
}

func TestGetEntity_MalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetEntity(context.Background(), models.EntityRisk, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGetEntity_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, url).GetEntity(context.Background(), models.EntityRisk, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, IsUnavailable(ErrNotFound))
}

func TestGetEntity_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", 50*time.Millisecond)
	_, err := c.GetEntity(context.Background(), models.EntityRisk, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrTimeout)
}

// --- GetOrganizationProfile ---

func TestGetOrganizationProfile_Present(t *testing.T) {
	tenantID := uuid.New()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tenants/"+tenantID.String()+"/organization-profile", r.URL.Path)
		writeJSON(w, map[string]any{
			"industry":              "Healthcare",
			"legal_jurisdiction":    []string{"EU", "UK"},
			"compliance_frameworks": []string{"GDPR"},
		})
	}))
	defer ts.Close()

	profile, err := newTestClient(t, ts.URL).GetOrganizationProfile(context.Background(), tenantID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Healthcare", profile.Industry)
	assert.Equal(t, []string{"EU", "UK"}, profile.LegalJurisdictions)
}

func TestGetOrganizationProfile_AbsentIsNil(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"404": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
		"empty": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{})
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(h)
			defer ts.Close()

			profile, err := newTestClient(t, ts.URL).GetOrganizationProfile(context.Background(), uuid.New())
			require.NoError(t, err)
			assert.Nil(t, profile)
		})
	}
}

// --- Ready ---

func TestReady(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
	}))
	defer ok.Close()
	assert.NoError(t, newTestClient(t, ok.URL).Ready(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.ErrorIs(t, newTestClient(t, down.URL).Ready(context.Background()), ErrUnreachable)
}
