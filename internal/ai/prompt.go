package ai

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// MaxPromptExamples caps the registry examples rendered into a prompt.
const MaxPromptExamples = 5

//go:embed system_prompt.txt
var systemPrompt string

// SystemPrompt returns the fixed instructions sent ahead of every request.
func SystemPrompt() string {
	return strings.TrimSpace(systemPrompt)
}

// BuildPrompt renders the user message for req.
func BuildPrompt(req models.SuggestionRequest) string {
	var b strings.Builder

	label := req.FieldLabel
	if label == "" {
		label = req.FieldName
	}
	fmt.Fprintf(&b, "I need a suggestion for the field: '%s' (field name: %s)\n", label, req.FieldName)
	fmt.Fprintf(&b, "Entity: %s\n", req.EntityType.Label())
	fmt.Fprintf(&b, "Field type: %s\n", req.FieldType)

	meta := req.Metadata
	if meta != nil && meta.Description != "" {
		fmt.Fprintf(&b, "\nField description: %s\n", meta.Description)
	}

	if req.CurrentValue != "" {
		fmt.Fprintf(&b, "Current value: %s\n", req.CurrentValue)
	} else {
		b.WriteString("Current value: (empty)\n")
	}

	switch {
	case len(req.Options) > 0:
		fmt.Fprintf(&b, "Available options: %s\n", strings.Join(req.Options, ", "))
	case meta != nil && len(meta.AllowedValues) > 0:
		b.WriteString("Allowed values:\n")
		for _, v := range meta.AllowedValues {
			line := v.Value
			if v.Label != "" && v.Label != v.Value {
				line += " (" + v.Label + ")"
			}
			if v.Description != "" {
				line += ": " + v.Description
			}
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}

	if meta != nil && len(meta.Examples) > 0 {
		b.WriteString("\nExample values for this field:\n")
		examples := meta.Examples
		if len(examples) > MaxPromptExamples {
			examples = examples[:MaxPromptExamples]
		}
		for _, ex := range examples {
			fmt.Fprintf(&b, "  - %s\n", ex)
		}
	}

	if meta != nil && meta.Hints != "" {
		fmt.Fprintf(&b, "\nGuidance for this field: %s\n", strings.TrimSpace(meta.Hints))
	}

	writeAncestors(&b, req.Context.Ancestors)
	writeOrganization(&b, req.Context.Organization)
	writeFormContext(&b, req.FormData, req.FieldName)

	if req.FieldType.IsMultiValue() {
		b.WriteString("\nThis field accepts multiple values. You may provide multiple suggestions (typically 2-5 items).\n")
		b.WriteString("\nCRITICAL FORMAT REQUIREMENT: You MUST return each suggestion as a SEPARATE array element. " +
			"DO NOT put multiple values in a single string with commas.\n" +
			"CORRECT format: [\"US\", \"GB\", \"DE\"]\n" +
			"WRONG formats:\n" +
			"  - [\"US, GB, DE\"] (single string with commas)\n" +
			"  - \"US, GB, DE\" (not an array)\n")
	} else {
		b.WriteString("\nIMPORTANT: This field accepts only a SINGLE value. Provide exactly ONE suggestion.\n")
	}

	b.WriteString("\nPlease provide a suggestion for this field based on the context above.")
	return b.String()
}

// writeAncestors emphasizes the nearest parent; the rest follow in chain order.
func writeAncestors(b *strings.Builder, ancestors []models.AncestorContext) {
	for i, a := range ancestors {
		kind := a.Kind.Label()
		if i == 0 {
			fmt.Fprintf(b, "\n=== IMPORTANT: Parent %s Context ===\n", kind)
			fmt.Fprintf(b, "Use this %s information to inform your suggestions:\n", strings.ToLower(kind))
		} else {
			fmt.Fprintf(b, "\nParent %s Context:\n", kind)
		}
		for _, f := range a.Fields {
			fmt.Fprintf(b, "  - %s %s: %s\n", kind, f.Label, f.Value)
		}
	}
}

func writeOrganization(b *strings.Builder, org *models.OrganizationProfile) {
	if org.IsEmpty() {
		return
	}
	b.WriteString("\nCompany Context:\n")
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(b, "  - %s: %s\n", label, value)
		}
	}
	line("Industry", org.Industry)
	line("Sector", org.Sector)
	line("Legal Jurisdictions", strings.Join(org.LegalJurisdictions, ", "))
	line("Company Size", org.CompanySize)
	line("Primary Country", org.PrimaryCountry)
	line("Compliance Frameworks", strings.Join(org.ComplianceFrameworks, ", "))
	if org.DPO != nil {
		var parts []string
		if org.DPO.Name != "" {
			parts = append(parts, "Name: "+org.DPO.Name)
		}
		if org.DPO.Email != "" {
			parts = append(parts, "Email: "+org.DPO.Email)
		}
		line("DPO", strings.Join(parts, ", "))
	}
}

// writeFormContext lists the sibling fields that already hold a value.
// The target field is excluded.
func writeFormContext(b *strings.Builder, form map[string]any, target string) {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k != target {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	header := false
	for _, k := range keys {
		v := models.FormatValue(form[k])
		if v == "" {
			continue
		}
		if !header {
			b.WriteString("\nForm context (other fields already filled):\n")
			header = true
		}
		fmt.Fprintf(b, "  - %s: %s\n", k, v)
	}
}
