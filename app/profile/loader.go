package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var defaultParameters = []string{
	"make",
	"model",
	"version",
	"fuel_type",
	"gearbox",
	"mileage",
	"engine_capacity",
	"engine_power",
	"first_registration_year",
}

// Load reads and validates a search profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
	}

	setDefaults(&p)

	if err := validate(&p); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	return &p, nil
}

func setDefaults(p *Profile) {
	if p.OperationName == "" {
		p.OperationName = "listingScreen"
	}
	if p.PageSize == 0 {
		p.PageSize = 32
	}
	if len(p.Parameters) == 0 {
		p.Parameters = defaultParameters
	}
	if p.Headers == nil {
		p.Headers = map[string]string{}
	}
	if _, ok := p.Headers["Accept"]; !ok {
		p.Headers["Accept"] = "application/json"
	}
	if _, ok := p.Headers["Content-Type"]; !ok {
		p.Headers["Content-Type"] = "application/json"
	}
}

func validate(p *Profile) error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if p.QueryHash == "" {
		return fmt.Errorf("query_hash is required")
	}
	if p.PageSize < 1 {
		return fmt.Errorf("page_size must be positive, got %d", p.PageSize)
	}
	for i, f := range p.Filters {
		if f.Name == "" {
			return fmt.Errorf("filter %d has no name", i)
		}
	}
	return nil
}

// RequestBody builds the GraphQL request payload for a page.
func (p *Profile) RequestBody(page int) map[string]any {
	filters := make([]map[string]string, 0, len(p.Filters))
	for _, f := range p.Filters {
		filters = append(filters, map[string]string{"name": f.Name, "value": f.Value})
	}

	return map[string]any{
		"operationName": p.OperationName,
		"variables": map[string]any{
			"page":                   page,
			"filters":                filters,
			"parameters":             p.Parameters,
			"includePriceEvaluation": true,
			"includeFilters":         false,
			"includePromotedAds":     false,
		},
		"extensions": map[string]any{
			"persistedQuery": map[string]any{
				"sha256Hash": p.QueryHash,
				"version":    1,
			},
		},
	}
}
