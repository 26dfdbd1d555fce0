// Package product defines the catalog item, its validation rules and the
// typed field deltas accepted by updates.
package product

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"golang.org/x/text/cases"

	"github.com/jacentio/catalog/store"
)

// Attribute names as persisted in the store.
const (
	AttrID           = store.AttrID
	AttrCategory     = "category"
	AttrSKU          = "sku"
	AttrName         = "name"
	AttrDescription  = "description"
	AttrPrice        = "price"
	AttrStatus       = "status"
	AttrETag         = store.AttrETag
	AttrLastModified = "last_modified"
)

const (
	maxNameLen        = 200
	maxDescriptionLen = 2000
	maxSKULen         = 64
	maxCategoryLen    = 100
)

// Status is the lifecycle state of a product.
type Status string

const (
	StatusActive       Status = "active"
	StatusDiscontinued Status = "discontinued"
	StatusOutOfStock   Status = "out_of_stock"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDiscontinued, StatusOutOfStock:
		return true
	}
	return false
}

// Product is a catalog item. Category is its partition key and is always
// stored in normalized form.
type Product struct {
	ID           string          `json:"id"`
	Category     string          `json:"category"`
	SKU          string          `json:"sku,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Price        float64         `json:"price"`
	Status       Status          `json:"status"`
	ETag         string          `json:"_etag"`
	LastModified strfmt.DateTime `json:"last_modified"`
}

// NormalizeKey returns the canonical form of a partition key: surrounding
// whitespace trimmed and Unicode case folded, so keys that differ only in
// case address the same partition.
func NormalizeKey(key string) string {
	// Casers keep state and are not safe to share.
	return cases.Fold().String(strings.TrimSpace(key))
}

// ParseKey normalizes a caller-supplied partition key and rejects keys that
// are blank or too long once normalized. op names the failing operation.
func ParseKey(op, key string) (string, error) {
	k := NormalizeKey(key)
	if k == "" {
		return "", store.Invalid(op, "partition key is required")
	}
	if len(k) > maxCategoryLen {
		return "", store.Invalid(op, "partition key exceeds %d characters", maxCategoryLen)
	}
	return k, nil
}

// ValidID reports whether id is a well-formed item id.
func ValidID(id string) bool {
	return strfmt.IsUUID(id)
}

// Document converts p into its stored representation.
func (p Product) Document() store.Document {
	doc := store.Document{
		AttrID:           p.ID,
		AttrCategory:     p.Category,
		AttrName:         p.Name,
		AttrPrice:        p.Price,
		AttrStatus:       string(p.Status),
		AttrLastModified: p.LastModified.String(),
	}
	if p.SKU != "" {
		doc[AttrSKU] = p.SKU
	}
	if p.Description != "" {
		doc[AttrDescription] = p.Description
	}
	if p.ETag != "" {
		doc[AttrETag] = p.ETag
	}
	return doc
}

// FromDocument decodes and validates a stored record.
func FromDocument(doc store.Document) (Product, error) {
	var p Product
	var err error

	if p.ID, err = stringAttr(doc, AttrID, true); err != nil {
		return Product{}, err
	}
	if !ValidID(p.ID) {
		return Product{}, fmt.Errorf("id %q is not a uuid", p.ID)
	}
	if p.Category, err = stringAttr(doc, AttrCategory, true); err != nil {
		return Product{}, err
	}
	if p.Name, err = stringAttr(doc, AttrName, true); err != nil {
		return Product{}, err
	}
	if p.SKU, err = stringAttr(doc, AttrSKU, false); err != nil {
		return Product{}, err
	}
	if p.Description, err = stringAttr(doc, AttrDescription, false); err != nil {
		return Product{}, err
	}
	if p.ETag, err = stringAttr(doc, AttrETag, true); err != nil {
		return Product{}, err
	}

	price, ok := doc[AttrPrice]
	if !ok {
		return Product{}, fmt.Errorf("missing %s", AttrPrice)
	}
	if p.Price, err = toFloat(price); err != nil {
		return Product{}, fmt.Errorf("%s: %w", AttrPrice, err)
	}

	status, err := stringAttr(doc, AttrStatus, false)
	if err != nil {
		return Product{}, err
	}
	p.Status = Status(status)
	if p.Status == "" {
		p.Status = StatusActive
	}
	if !p.Status.Valid() {
		return Product{}, fmt.Errorf("unknown status %q", status)
	}

	lm, err := stringAttr(doc, AttrLastModified, false)
	if err != nil {
		return Product{}, err
	}
	if lm != "" {
		if p.LastModified, err = strfmt.ParseDateTime(lm); err != nil {
			return Product{}, fmt.Errorf("%s: %w", AttrLastModified, err)
		}
	}
	return p, nil
}

// Partial is the best-effort view of a written item whose full record is
// unavailable or invalid. It always carries the id, partition and new ETag.
func Partial(doc store.Document, id, partitionKey string) Product {
	p := Product{ID: id, Category: partitionKey, ETag: doc.ETag()}
	if name, ok := doc[AttrName].(string); ok {
		p.Name = name
	}
	if status, ok := doc[AttrStatus].(string); ok {
		p.Status = Status(status)
	}
	return p
}

func stringAttr(doc store.Document, name string, required bool) (string, error) {
	v, ok := doc[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing %s", name)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is %T, want string", name, v)
	}
	if required && s == "" {
		return "", fmt.Errorf("empty %s", name)
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case interface{ Float64() (float64, error) }:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

// Draft is the caller-supplied part of a new product.
type Draft struct {
	Category    string  `json:"category"`
	SKU         string  `json:"sku,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Status      Status  `json:"status,omitempty"`
}

// Validate checks a draft before it is sent to the store.
func (d Draft) Validate() error {
	if _, err := ParseKey("create", d.Category); err != nil {
		return err
	}
	if strings.TrimSpace(d.Name) == "" {
		return store.Invalid("create", "name is required")
	}
	if len(d.Name) > maxNameLen {
		return store.Invalid("create", "name exceeds %d characters", maxNameLen)
	}
	if len(d.Description) > maxDescriptionLen {
		return store.Invalid("create", "description exceeds %d characters", maxDescriptionLen)
	}
	if len(d.SKU) > maxSKULen {
		return store.Invalid("create", "sku exceeds %d characters", maxSKULen)
	}
	if d.Price < 0 || math.IsNaN(d.Price) || math.IsInf(d.Price, 0) {
		return store.Invalid("create", "price must be a non-negative number")
	}
	if d.Status != "" && !d.Status.Valid() {
		return store.Invalid("create", "unknown status %q", d.Status)
	}
	return nil
}

// Product builds the item to persist from a validated draft.
func (d Draft) Product(id string, now time.Time) Product {
	status := d.Status
	if status == "" {
		status = StatusActive
	}
	return Product{
		ID:           id,
		Category:     NormalizeKey(d.Category),
		SKU:          d.SKU,
		Name:         strings.TrimSpace(d.Name),
		Description:  d.Description,
		Price:        d.Price,
		Status:       status,
		LastModified: strfmt.DateTime(now.UTC()),
	}
}
