package profile

// Profile describes how to query the upstream listing API. It is the only
// place that knows about the wire-level query template; the rest of the
// pipeline treats "fetch page N" as an opaque capability.
type Profile struct {
	Endpoint      string `yaml:"endpoint"`
	OperationName string `yaml:"operation_name"`
	QueryHash     string `yaml:"query_hash"`
	PageSize      int    `yaml:"page_size"`

	Filters []Filter `yaml:"filters"`

	// Parameters requested per listing node (make, model, mileage, ...).
	Parameters []string `yaml:"parameters"`

	Headers map[string]string `yaml:"headers"`
}

type Filter struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}
