package models

import (
	"strings"

	"github.com/google/uuid"
)

// EntityType is the closed set of ROPA record kinds a suggestion can target.
type EntityType string

const (
	EntityRepository  EntityType = "repository"
	EntityActivity    EntityType = "activity"
	EntityDataElement EntityType = "data_element"
	EntityDPIA        EntityType = "dpia"
	EntityRisk        EntityType = "risk"
)

var entityTypeAliases = map[string]EntityType{
	"repository":        EntityRepository,
	"activity":          EntityActivity,
	"data_element":      EntityDataElement,
	"data-element":      EntityDataElement,
	"dpia":              EntityDPIA,
	"impact-assessment": EntityDPIA,
	"impact_assessment": EntityDPIA,
	"risk":              EntityRisk,
}

// ParseEntityType resolves s (case-insensitive, accepting the hyphenated
// aliases) to an EntityType.
func ParseEntityType(s string) (EntityType, bool) {
	t, ok := entityTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// Label returns the human-readable name used in prompts.
func (t EntityType) Label() string {
	switch t {
	case EntityRepository:
		return "Repository"
	case EntityActivity:
		return "Activity"
	case EntityDataElement:
		return "Data Element"
	case EntityDPIA:
		return "DPIA"
	case EntityRisk:
		return "Risk"
	default:
		return string(t)
	}
}

// FieldType drives the cardinality rules applied to provider output.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeMultiline   FieldType = "multiline"
	FieldTypeSelect      FieldType = "select"
	FieldTypeEnum        FieldType = "enum"
	FieldTypeMultiSelect FieldType = "multiselect"
)

var fieldTypeAliases = map[string]FieldType{
	"text":              FieldTypeText,
	"single-value-text": FieldTypeText,
	"textarea":          FieldTypeTextarea,
	"multiline":         FieldTypeMultiline,
	"select":            FieldTypeSelect,
	"enum":              FieldTypeEnum,
	"single-value-enum": FieldTypeEnum,
	"multiselect":       FieldTypeMultiSelect,
	"multi-select":      FieldTypeMultiSelect,
	"multi-value-list":  FieldTypeMultiSelect,
}

// ParseFieldType resolves s to a FieldType.
func ParseFieldType(s string) (FieldType, bool) {
	t, ok := fieldTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// IsMultiValue reports whether the field accepts a list of values.
func (t FieldType) IsMultiValue() bool {
	return t == FieldTypeMultiSelect
}

// EntityRecord is a read-only snapshot of a ROPA entity served by the
// entity collaborator.
type EntityRecord struct {
	ID         uuid.UUID      `json:"id"`
	Type       EntityType     `json:"type"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	ParentID   *uuid.UUID     `json:"parent_id,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// OrganizationProfile is tenant-level company context. Every field is optional.
type OrganizationProfile struct {
	Industry             string   `json:"industry,omitempty"`
	Sector               string   `json:"sector,omitempty"`
	LegalJurisdictions   []string `json:"legal_jurisdiction,omitempty"`
	CompanySize          string   `json:"company_size,omitempty"`
	PrimaryCountry       string   `json:"primary_country,omitempty"`
	ComplianceFrameworks []string `json:"compliance_frameworks,omitempty"`
	DPO                  *Contact `json:"dpo,omitempty"`
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// IsEmpty reports whether the profile carries nothing worth prompting with.
func (p *OrganizationProfile) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Industry == "" && p.Sector == "" && len(p.LegalJurisdictions) == 0 &&
		p.CompanySize == "" && p.PrimaryCountry == "" && len(p.ComplianceFrameworks) == 0 &&
		(p.DPO == nil || (p.DPO.Name == "" && p.DPO.Email == ""))
}

// EntityContext is the ancestor snapshot composed for one job.
// Ancestors are ordered nearest parent first.
type EntityContext struct {
	Ancestors    []AncestorContext    `json:"ancestors"`
	Organization *OrganizationProfile `json:"organization,omitempty"`
}

// AncestorContext is a bounded, human-readable projection of one ancestor.
type AncestorContext struct {
	Kind   EntityType     `json:"kind"`
	ID     uuid.UUID      `json:"id"`
	Label  string         `json:"label"`
	Fields []ContextField `json:"fields"`
}

type ContextField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}
