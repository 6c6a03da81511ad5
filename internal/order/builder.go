package order

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/storefront-bff/internal/common"
	"github.com/noah-isme/storefront-bff/internal/session"
)

// variantSentinel marks a line item that never resolved a concrete variant.
const variantSentinel = "default"

// titleDelimiter separates the ordered tokens of a variant title.
const titleDelimiter = "/"

// MissingVariantError is fatal for a line item: a backend order needs a
// concrete variant, so submission must be blocked rather than the item
// silently omitted.
type MissingVariantError struct {
	ProductID string
	Name      string
}

func (e *MissingVariantError) Error() string {
	return fmt.Sprintf("line item %q (product %s) has no resolvable variant", e.Name, e.ProductID)
}

// InvalidIdentifierError indicates a product or variant id that is not an
// integer the backend can accept.
type InvalidIdentifierError struct {
	Field string
	Value string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("line item %s %q is not a valid identifier", e.Field, e.Value)
}

// Item is the canonical order line the backend accepts. Attributes contains
// only keys the classifier actually derived.
type Item struct {
	ProductID  int64             `json:"productId"`
	VariantID  int64             `json:"variantId"`
	Quantity   int               `json:"quantity"`
	UnitPrice  int64             `json:"unitPrice"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Normalize converts one raw cart line into the canonical order shape.
func Normalize(line session.LineItem) (Item, error) {
	variantRaw := strings.TrimSpace(line.VariantID)
	if variantRaw == "" || strings.EqualFold(variantRaw, variantSentinel) {
		return Item{}, &MissingVariantError{ProductID: line.ProductID, Name: line.Name}
	}
	productID, err := strconv.ParseInt(strings.TrimSpace(line.ProductID), 10, 64)
	if err != nil {
		return Item{}, &InvalidIdentifierError{Field: "productId", Value: line.ProductID}
	}
	variantID, err := strconv.ParseInt(variantRaw, 10, 64)
	if err != nil {
		return Item{}, &InvalidIdentifierError{Field: "variantId", Value: line.VariantID}
	}
	price, err := common.ParseMinorUnits(line.UnitPrice)
	if err != nil {
		return Item{}, &InvalidIdentifierError{Field: "unitPrice", Value: line.UnitPrice}
	}

	kind := Classify(line.Category, line.Name, line.VariantTitle)
	return Item{
		ProductID:  productID,
		VariantID:  variantID,
		Quantity:   line.Quantity,
		UnitPrice:  price,
		Attributes: extractAttributes(kind, line.VariantTitle),
	}, nil
}

// Build normalizes every cart line. The first failure aborts the build, so an
// unresolvable item blocks submission instead of being dropped.
func Build(lines []session.LineItem) ([]Item, error) {
	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		item, err := Normalize(line)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// extractAttributes interprets the ordered variant-title tokens per product
// kind. Empty tokens are stripped so the wire payload never carries blank
// attribute fields.
func extractAttributes(kind ProductKind, variantTitle string) map[string]string {
	tokens := splitTokens(variantTitle)
	if len(tokens) == 0 {
		return nil
	}

	var keys []string
	switch kind {
	case KindPhoneCase:
		keys = []string{"phoneModel", "color", "material"}
	case KindClothing:
		keys = []string{"size", "color", "material"}
	case KindMug:
		keys = []string{"capacity", "color"}
	case KindHomeLiving:
		keys = []string{"material", "color", "dimensions"}
	default:
		keys = []string{"variant"}
	}

	attrs := make(map[string]string, len(keys))
	for i, key := range keys {
		if i >= len(tokens) {
			break
		}
		attrs[key] = tokens[i]
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func splitTokens(variantTitle string) []string {
	trimmed := strings.TrimSpace(variantTitle)
	if trimmed == "" || strings.EqualFold(trimmed, "default title") {
		return nil
	}
	parts := strings.Split(trimmed, titleDelimiter)
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if token := strings.TrimSpace(part); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
