package storage

import "path/filepath"

type VectorElement struct {
	ID      int64
	ImageID int64
	Value   float64
}

type SemanticVector []VectorElement

func NewSemanticVector(values []float32) SemanticVector {
	v := make(SemanticVector, len(values))
	for i, x := range values {
		v[i] = VectorElement{Value: float64(x)}
	}
	return v
}

func (v SemanticVector) Floats() []float32 {
	out := make([]float32, len(v))
	for i, e := range v {
		out[i] = float32(e.Value)
	}
	return out
}

// Image is an annotated image record. ID is zero until the image has been
// saved.
type Image struct {
	ID     int64
	Path   string
	Title  string
	Vector SemanticVector
}

// NewImage titles the image after the file's basename.
func NewImage(path string, values []float32) *Image {
	return &Image{
		Path:   path,
		Title:  filepath.Base(path),
		Vector: NewSemanticVector(values),
	}
}

// StoredVector is an image id and path with its vector components in order.
type StoredVector struct {
	ID     int64
	Path   string
	Values []float32
}
