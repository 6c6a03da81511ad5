package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-bff/internal/session"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		category string
		product  string
		variant  string
		want     ProductKind
	}{
		{"phone case by category", "Phone Case", "Clear Armor", "iPhone 15 / Black", KindPhoneCase},
		{"phone case by variant text", "Accessories", "Armor", "Galaxy S24 / Clear", KindPhoneCase},
		{"clothing", "Apparel", "Logo T-Shirt", "L / Navy", KindClothing},
		{"mug", "Drinkware", "Morning Mug", "350ml / White", KindMug},
		{"home and living", "Home & Living", "Throw Cushion", "Cotton / Grey", KindHomeLiving},
		{"unknown falls back to general", "Misc", "Gift Card", "100", KindGeneral},
		{"empty everything is general", "", "", "", KindGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.category, tt.product, tt.variant))
		})
	}
}

func TestNormalizePhoneCaseAttributes(t *testing.T) {
	item, err := Normalize(session.LineItem{
		ProductID:    "101",
		VariantID:    "7",
		Name:         "Clear Armor Phone Case",
		Category:     "Phone Case",
		VariantTitle: "iPhone 15 Pro / Black / Silicone",
		Quantity:     2,
		UnitPrice:    "200.00",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(101), item.ProductID)
	assert.Equal(t, int64(7), item.VariantID)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, int64(20_000), item.UnitPrice)
	assert.Equal(t, map[string]string{
		"phoneModel": "iPhone 15 Pro",
		"color":      "Black",
		"material":   "Silicone",
	}, item.Attributes)
}

func TestNormalizeClothingPartialTokens(t *testing.T) {
	item, err := Normalize(session.LineItem{
		ProductID:    "55",
		VariantID:    "9",
		Name:         "Logo T-Shirt",
		Category:     "Apparel",
		VariantTitle: "L / Navy",
		Quantity:     1,
		UnitPrice:    "59.00",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"size": "L", "color": "Navy"}, item.Attributes)
	_, hasMaterial := item.Attributes["material"]
	assert.False(t, hasMaterial, "attributes not derivable from the title are stripped")
}

func TestNormalizeDefaultTitleHasNoAttributes(t *testing.T) {
	item, err := Normalize(session.LineItem{
		ProductID:    "55",
		VariantID:    "9",
		Name:         "Gift Card",
		VariantTitle: "Default Title",
		Quantity:     1,
		UnitPrice:    "100.00",
	})
	require.NoError(t, err)
	assert.Nil(t, item.Attributes)
}

func TestNormalizeMissingVariant(t *testing.T) {
	tests := []string{"", "default", "Default"}
	for _, variantID := range tests {
		_, err := Normalize(session.LineItem{
			ProductID: "101", VariantID: variantID, Name: "Armor", Quantity: 1, UnitPrice: "10.00",
		})
		var missing *MissingVariantError
		require.ErrorAs(t, err, &missing, "variantId %q", variantID)
		assert.Equal(t, "101", missing.ProductID)
	}
}

func TestNormalizeInvalidIdentifiers(t *testing.T) {
	_, err := Normalize(session.LineItem{
		ProductID: "abc", VariantID: "7", Quantity: 1, UnitPrice: "10.00",
	})
	var invalid *InvalidIdentifierError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "productId", invalid.Field)

	_, err = Normalize(session.LineItem{
		ProductID: "101", VariantID: "7x", Quantity: 1, UnitPrice: "10.00",
	})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "variantId", invalid.Field)

	_, err = Normalize(session.LineItem{
		ProductID: "101", VariantID: "7", Quantity: 1, UnitPrice: "ten",
	})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "unitPrice", invalid.Field)
}

func TestBuildBlocksOnFirstBadLine(t *testing.T) {
	lines := []session.LineItem{
		{ProductID: "101", VariantID: "7", Name: "Armor", Quantity: 1, UnitPrice: "10.00"},
		{ProductID: "102", VariantID: "default", Name: "Sticker", Quantity: 1, UnitPrice: "5.00"},
	}
	items, err := Build(lines)
	assert.Nil(t, items)
	var missing *MissingVariantError
	assert.ErrorAs(t, err, &missing)
}

func TestBuildAllLines(t *testing.T) {
	lines := []session.LineItem{
		{ProductID: "101", VariantID: "7", Name: "Armor", Category: "Phone Case", VariantTitle: "Pixel 9 / Blue", Quantity: 1, UnitPrice: "10.00"},
		{ProductID: "102", VariantID: "8", Name: "Morning Mug", Category: "Drinkware", VariantTitle: "350ml / White", Quantity: 2, UnitPrice: "5.50"},
	}
	items, err := Build(lines)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, map[string]string{"capacity": "350ml", "color": "White"}, items[1].Attributes)
}
