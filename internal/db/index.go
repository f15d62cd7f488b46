package db

import "errors"

// IndexFieldType is the FT schema type of a field.
type IndexFieldType string

const (
	IndexFieldTag     IndexFieldType = "tag"
	IndexFieldNumeric IndexFieldType = "numeric"
	IndexFieldText    IndexFieldType = "text"
	IndexFieldVector  IndexFieldType = "vector"
)

// DistanceMetric selects the vector distance function.
type DistanceMetric string

const (
	DistanceCosine DistanceMetric = "COSINE"
	DistanceL2     DistanceMetric = "L2"
)

// IndexField describes one field of an FT index schema.
type IndexField struct {
	Name string
	Type IndexFieldType

	// Vector field attributes (HNSW)
	VectorDim         int
	VectorDistance    DistanceMetric
	VectorM           int
	VectorEFConstruct int
}

// IndexDefinition describes an FT index over HASH keys.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []IndexField
}

// Validate checks the definition for obvious construction mistakes.
func (d *IndexDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("index name is required")
	}
	if len(d.Fields) == 0 {
		return errors.New("at least one field is required")
	}
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Name == "" {
			return errors.New("field name is required")
		}
		if f.Type == IndexFieldVector && f.VectorDim <= 0 {
			return errors.New("vector DIM must be positive")
		}
	}
	return nil
}
