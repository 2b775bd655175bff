package models

// SourceDescriptor is the read model of a registered quote source.
// Lower Priority is more trusted; the lowest one is the improvement baseline.
type SourceDescriptor struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}
