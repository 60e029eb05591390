package ropa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// Builder composes the ancestor context of an entity. Context is built fresh
// for every call.
type Builder struct {
	entities EntitySource
	profiles ProfileSource
}

// NewBuilder creates a Builder. profiles may be nil, in which case no
// organization context is attached.
func NewBuilder(entities EntitySource, profiles ProfileSource) *Builder {
	return &Builder{entities: entities, profiles: profiles}
}

// Build walks the fixed parent chain of entityType starting at entityID and
// returns ancestors nearest first. Any missing link fails with ErrNotFound.
func (b *Builder) Build(ctx context.Context, entityType models.EntityType, entityID, tenantID uuid.UUID) (models.EntityContext, error) {
	chain, err := ancestorChain(entityType)
	if err != nil {
		return models.EntityContext{}, err
	}

	current, err := b.entities.GetEntity(ctx, entityType, entityID, tenantID)
	if err != nil {
		return models.EntityContext{}, err
	}

	out := models.EntityContext{Ancestors: make([]models.AncestorContext, 0, len(chain))}
	for _, kind := range chain {
		if current.ParentID == nil || *current.ParentID == uuid.Nil {
			return models.EntityContext{}, fmt.Errorf("%s %s has no parent %s: %w",
				current.Type, current.ID, kind, ErrNotFound)
		}
		parent, err := b.entities.GetEntity(ctx, kind, *current.ParentID, tenantID)
		if err != nil {
			return models.EntityContext{}, fmt.Errorf("resolve parent %s of %s %s: %w",
				kind, current.Type, current.ID, err)
		}
		out.Ancestors = append(out.Ancestors, project(parent))
		current = parent
	}

	out.Organization = b.organization(ctx, tenantID)
	return out, nil
}

func (b *Builder) organization(ctx context.Context, tenantID uuid.UUID) *models.OrganizationProfile {
	if b.profiles == nil {
		return nil
	}
	profile, err := b.profiles.GetOrganizationProfile(ctx, tenantID)
	if err != nil {
		slog.Warn("organization profile unavailable, continuing without it",
			"tenant_id", tenantID, "error", err)
		return nil
	}
	if profile.IsEmpty() {
		return nil
	}
	return profile
}

// ancestorChain returns the parent kinds of t, nearest first.
func ancestorChain(t models.EntityType) ([]models.EntityType, error) {
	switch t {
	case models.EntityRepository:
		return nil, nil
	case models.EntityActivity:
		return []models.EntityType{models.EntityRepository}, nil
	case models.EntityDataElement, models.EntityDPIA:
		return []models.EntityType{models.EntityActivity, models.EntityRepository}, nil
	case models.EntityRisk:
		return []models.EntityType{models.EntityDPIA, models.EntityActivity, models.EntityRepository}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}

type projectedField struct {
	key   string
	label string
}

// nameKeys lists, per kind, the attribute holding the display name.
var nameKeys = map[models.EntityType]string{
	models.EntityRepository: "data_repository_name",
	models.EntityActivity:   "processing_activity_name",
	models.EntityDPIA:       "title",
}

var projections = map[models.EntityType][]projectedField{
	models.EntityRepository: {
		{"data_repository_name", "Name"},
		{"data_repository_description", "Description"},
		{"external_vendor", "External Vendor"},
		{"gdpr_compliant", "GDPR Compliant"},
		{"status", "Status"},
		{"data_format", "Data Format"},
		{"transfer_mechanism", "Transfer Mechanism"},
		{"certification", "Certification"},
		{"comments", "Comments"},
	},
	models.EntityActivity: {
		{"processing_activity_name", "Name"},
		{"purpose", "Purpose"},
		{"lawful_basis", "Lawful Basis"},
		{"legitimate_interest_assessment", "Legitimate Interest Assessment"},
		{"data_subject_type", "Data Subject Type"},
		{"collection_sources", "Collection Sources"},
		{"data_disclosed_to", "Data Disclosed To"},
		{"automated_decision", "Automated Decision"},
		{"data_subject_rights", "Data Subject Rights"},
		{"dpia_required", "DPIA Required"},
		{"children_data", "Children Data"},
		{"parental_consent", "Parental Consent"},
	},
	models.EntityDPIA: {
		{"title", "Title"},
		{"description", "Description"},
		{"status", "Status"},
		{"assessor", "Assessor"},
	},
}

// project reduces rec to its fixed, human-readable projection. Empty values
// are omitted.
func project(rec *models.EntityRecord) models.AncestorContext {
	ac := models.AncestorContext{
		Kind:   rec.Type,
		ID:     rec.ID,
		Label:  models.FormatValue(rec.Attributes[nameKeys[rec.Type]]),
		Fields: []models.ContextField{},
	}
	for _, f := range projections[rec.Type] {
		v := models.FormatValue(rec.Attributes[f.key])
		if v == "" {
			continue
		}
		ac.Fields = append(ac.Fields, models.ContextField{Key: f.key, Label: f.label, Value: v})
	}
	return ac
}
