package decision

import "strings"

// DefaultRequiredFields are the sections a well-formed agent response
// carries.
var DefaultRequiredFields = []string{"summary", "changes", "verification"}

// Validator performs the format-completeness check, the first and
// cheapest stage of the pipeline. It never invokes a model.
type Validator struct {
	requiredFields []string
}

// NewValidator creates a validator. A nil field list selects the
// defaults.
func NewValidator(requiredFields []string) *Validator {
	if requiredFields == nil {
		requiredFields = DefaultRequiredFields
	}
	return &Validator{requiredFields: requiredFields}
}

// Validate checks that the response is non-empty and declares every
// required section, either as a "field:" line or a markdown heading.
func (v *Validator) Validate(response string) ValidationResult {
	if strings.TrimSpace(response) == "" {
		return ValidationResult{Complete: false, MissingFields: append([]string(nil), v.requiredFields...)}
	}

	lower := strings.ToLower(response)
	var missing []string
	for _, field := range v.requiredFields {
		if !containsSection(lower, strings.ToLower(field)) {
			missing = append(missing, field)
		}
	}
	return ValidationResult{Complete: len(missing) == 0, MissingFields: missing}
}

func containsSection(lower, field string) bool {
	if strings.Contains(lower, field+":") {
		return true
	}
	// Markdown heading form: "# field", "## field", ...
	for _, line := range strings.Split(lower, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "# ")
		if strings.HasPrefix(trimmed, field) && strings.HasPrefix(strings.TrimSpace(line), "#") {
			return true
		}
	}
	return false
}
