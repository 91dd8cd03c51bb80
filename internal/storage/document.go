package storage

import (
	"encoding/json"
	"fmt"
	"slices"

	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
	"github.com/charlesng35/ledgercat/pkg/validator"
)

// Kind tags the shape of a stored document.
type Kind string

const (
	KindProduct Kind = "product"
	KindStore   Kind = "store"
)

// ProductMetadata is the rich product description kept off-ledger.
type ProductMetadata struct {
	ID          string            `json:"id" validate:"required,max=128"`
	Name        string            `json:"name" validate:"required,max=256"`
	Description string            `json:"description,omitempty" validate:"max=8192"`
	Images      []string          `json:"images,omitempty" validate:"max=32,dive,required"`
	Category    string            `json:"category,omitempty" validate:"max=128"`
	Attributes  map[string]string `json:"attributes,omitempty" validate:"max=64"`
}

// StoreProfile describes a seller storefront.
type StoreProfile struct {
	ID          string `json:"id" validate:"required,max=128"`
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description,omitempty" validate:"max=8192"`
	Logo        string `json:"logo,omitempty"`
	Banner      string `json:"banner,omitempty"`
}

// Document is the unit uploaded to and fetched from a ContentStore. Exactly one
// of Product or Store is set, matching Kind.
type Document struct {
	Kind    Kind             `json:"kind"`
	Product *ProductMetadata `json:"product,omitempty"`
	Store   *StoreProfile    `json:"store,omitempty"`
}

// NewProductDocument wraps product metadata in a Document.
func NewProductDocument(meta ProductMetadata) *Document {
	return &Document{Kind: KindProduct, Product: &meta}
}

// NewStoreDocument wraps a store profile in a Document.
func NewStoreDocument(profile StoreProfile) *Document {
	return &Document{Kind: KindStore, Store: &profile}
}

// Validate rejects documents whose shape does not match their Kind.
func (d *Document) Validate() error {
	if d == nil {
		return apperrors.ErrInvalidDocument.WithMessage("document is nil")
	}

	var target any
	switch d.Kind {
	case KindProduct:
		if d.Product == nil || d.Store != nil {
			return apperrors.ErrInvalidDocument.WithMessage("product document must carry only product metadata")
		}
		target = d.Product
	case KindStore:
		if d.Store == nil || d.Product != nil {
			return apperrors.ErrInvalidDocument.WithMessage("store document must carry only a store profile")
		}
		target = d.Store
	default:
		return apperrors.ErrInvalidDocument.WithMessage("unknown document kind %q", d.Kind)
	}

	if err := validator.ValidateStruct(target); err != nil {
		return apperrors.ErrInvalidDocument.WithInternal(err)
	}
	return nil
}

// Identifier returns the id of whichever record the document carries.
func (d *Document) Identifier() string {
	switch {
	case d == nil:
		return ""
	case d.Product != nil:
		return d.Product.ID
	case d.Store != nil:
		return d.Store.ID
	}
	return ""
}

// SemanticFields are the fields compared when verifying a copy across
// backends; raw bytes are not compared because backends may re-serialise.
type SemanticFields struct {
	ID          string
	Name        string
	Description string
	Images      []string
}

// Semantic extracts the comparable fields.
func (d *Document) Semantic() SemanticFields {
	switch {
	case d == nil:
		return SemanticFields{}
	case d.Product != nil:
		return SemanticFields{
			ID:          d.Product.ID,
			Name:        d.Product.Name,
			Description: d.Product.Description,
			Images:      d.Product.Images,
		}
	case d.Store != nil:
		var images []string
		for _, img := range []string{d.Store.Logo, d.Store.Banner} {
			if img != "" {
				images = append(images, img)
			}
		}
		return SemanticFields{
			ID:          d.Store.ID,
			Name:        d.Store.Name,
			Description: d.Store.Description,
			Images:      images,
		}
	}
	return SemanticFields{}
}

// Equal compares two field sets; nil and empty image lists are equal.
func (f SemanticFields) Equal(other SemanticFields) bool {
	return f.ID == other.ID &&
		f.Name == other.Name &&
		f.Description == other.Description &&
		slices.Equal(f.Images, other.Images)
}

// Clone returns a deep copy so cached documents cannot be mutated by callers.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{Kind: d.Kind}
	if d.Product != nil {
		p := *d.Product
		p.Images = slices.Clone(d.Product.Images)
		if d.Product.Attributes != nil {
			p.Attributes = make(map[string]string, len(d.Product.Attributes))
			for k, v := range d.Product.Attributes {
				p.Attributes[k] = v
			}
		}
		out.Product = &p
	}
	if d.Store != nil {
		s := *d.Store
		out.Store = &s
	}
	return out
}

// Encode validates and serialises the document.
func Encode(d *Document) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("storage: encode document: %w", err)
	}
	return payload, nil
}

// Decode parses and validates a document fetched from a backend.
func Decode(payload []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, apperrors.ErrInvalidDocument.WithInternal(err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
