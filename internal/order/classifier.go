package order

import "strings"

// ProductKind drives how a variant title is interpreted.
type ProductKind string

const (
	KindPhoneCase  ProductKind = "PHONE_CASE"
	KindClothing   ProductKind = "CLOTHING"
	KindMug        ProductKind = "MUG"
	KindHomeLiving ProductKind = "HOME_LIVING"
	KindGeneral    ProductKind = "GENERAL"
)

var kindKeywords = []struct {
	kind     ProductKind
	keywords []string
}{
	{KindPhoneCase, []string{"phone case", "phone cover", "iphone", "galaxy", "pixel"}},
	{KindClothing, []string{"t-shirt", "tshirt", "shirt", "hoodie", "apparel", "sweatshirt", "clothing"}},
	{KindMug, []string{"mug", "tumbler", "cup", "drinkware"}},
	{KindHomeLiving, []string{"cushion", "pillow", "poster", "frame", "blanket", "home & living", "home and living"}},
}

// Classify determines the product kind from category, name and variant text.
// Pure function; anything unrecognized falls through to GENERAL so no line
// item is ever dropped for lack of a classification.
func Classify(category, name, variantTitle string) ProductKind {
	haystack := strings.ToLower(category + " " + name + " " + variantTitle)
	for _, entry := range kindKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(haystack, keyword) {
				return entry.kind
			}
		}
	}
	return KindGeneral
}
