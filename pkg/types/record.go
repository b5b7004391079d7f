package types

import "time"

// Kind classifies the artifact a vector record was derived from.
type Kind string

const (
	// KindCode is a code artifact: a class, method or snippet summary.
	KindCode Kind = "CODE"
	// KindKnowledge is a domain-knowledge document.
	KindKnowledge Kind = "KNOWLEDGE"
	// KindEntity is a database entity definition.
	KindEntity Kind = "ENTITY"
	// KindEnum is an enum definition.
	KindEnum Kind = "ENUM"
	// KindXML is an XML configuration artifact.
	KindXML Kind = "XML"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCode, KindKnowledge, KindEntity, KindEnum, KindXML:
		return true
	}
	return false
}

// CodeDerived reports whether k is produced by the code scanner, as opposed
// to the domain-knowledge store. Entities, enums and XML configs are scanned
// out of the codebase, so they count as code for search-type filtering.
func (k Kind) CodeDerived() bool {
	return k != KindKnowledge
}

// VectorRecord is the canonical copy of one embedded artifact. Immutable once
// written; a re-embed of the same SourceRef supersedes the old record rather
// than mutating it.
type VectorRecord struct {
	ID         string    `json:"id"`
	ProjectKey string    `json:"projectKey"`
	Kind       Kind      `json:"kind"`
	SourceRef  string    `json:"sourceRef"`
	Embedding  []float32 `json:"-"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SearchType selects which artifact kinds a query considers.
type SearchType string

const (
	// SearchCode restricts results to code-derived artifacts.
	SearchCode SearchType = "CODE"
	// SearchKnowledge restricts results to domain knowledge.
	SearchKnowledge SearchType = "KNOWLEDGE"
	// SearchBoth searches code and knowledge together.
	SearchBoth SearchType = "BOTH"
)

// Valid reports whether s is a known search type.
func (s SearchType) Valid() bool {
	switch s {
	case SearchCode, SearchKnowledge, SearchBoth:
		return true
	}
	return false
}

// Matches reports whether a record of the given kind is visible to this
// search type.
func (s SearchType) Matches(k Kind) bool {
	switch s {
	case SearchCode:
		return k.CodeDerived()
	case SearchKnowledge:
		return k == KindKnowledge
	default:
		return true
	}
}

// SearchResult is one ranked hit returned by a search.
type SearchResult struct {
	RecordID    string   `json:"recordId"`
	SourceRef   string   `json:"sourceRef"`
	Kind        Kind     `json:"kind"`
	Payload     string   `json:"payload,omitempty"`
	Score       float64  `json:"score"`
	RerankScore *float64 `json:"rerankScore,omitempty"`
}
