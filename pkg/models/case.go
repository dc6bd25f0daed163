package models

// Case is a support record in either store. CrossReference is only set on
// source cases and points at the destination counterpart.
type Case struct {
	ID             string
	CaseNumber     string
	CrossReference string
	// Links is nil when the store returned no link collection at all.
	Links []FileLink
}

// HasLinks reports whether the case carries any file links.
func (c *Case) HasLinks() bool {
	return c != nil && len(c.Links) > 0
}

// FileLink references a FileDocument from a case.
type FileLink struct {
	ID       string
	Document FileDocument
}

// FileDocument is a logical file identity. Title and Extension mirror the
// document's latest version.
type FileDocument struct {
	ID              string
	Title           string
	Extension       string
	ContentSize     int64
	LatestVersionID string
}

// FileVersion is one immutable snapshot of a FileDocument.
type FileVersion struct {
	ID         string
	DocumentID string
	Title      string
	Extension  string
	Size       int64
}

// VersionMetadata is the metadata part of a version write.
type VersionMetadata struct {
	PathOnClient           string `json:"PathOnClient"`
	FirstPublishLocationID string `json:"FirstPublishLocationId"`
	Title                  string `json:"Title"`
	Description            string `json:"Description"`
}

// CaseFilter selects the source cases to migrate.
type CaseFilter struct {
	// CrossReferenceField names the source field holding the destination case id.
	CrossReferenceField string   `yaml:"cross_reference_field" json:"cross_reference_field"`
	CaseIDs             []string `yaml:"case_ids" json:"case_ids"`
	MinContentSize      int64    `yaml:"min_content_size" json:"min_content_size"`
}
