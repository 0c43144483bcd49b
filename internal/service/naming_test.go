package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "alfajores-classic", Slugify("Alfajores - Classic"))
	assert.Equal(t, "empanadas", Slugify("  Empanadas  "))
	assert.Equal(t, "dulce-de-leche-12-pack", Slugify("Dulce de Leche (12 pack)"))
	assert.Equal(t, "cafe-con-leche", Slugify("Cafe, con Leche!"))
	assert.Equal(t, "gluten-free-brownies", Slugify("Gluten-Free Brownies"))
	assert.Equal(t, "catering-desserts", Slugify("CATERING- DESSERTS"))
	assert.Equal(t, "alfajores", Slugify("- Alfajores -"))
}

func TestNormalizeNameWordOrderInsensitive(t *testing.T) {
	assert.Equal(t, NormalizeName("Alfajores - Classic"), NormalizeName("Classic Alfajores"))
	assert.Equal(t, NormalizeName("EMPANADAS beef"), NormalizeName("Beef Empanadas"))
	assert.NotEqual(t, NormalizeName("Beef Empanadas"), NormalizeName("Chicken Empanadas"))
}

func TestIsCateringCategory(t *testing.T) {
	assert.True(t, IsCateringCategory("CATERING"))
	assert.True(t, IsCateringCategory("catering"))
	assert.True(t, IsCateringCategory(" Catering-Sides "))
	assert.True(t, IsCateringCategory("CATERING-MAIN"))
	assert.True(t, IsCateringCategory("CATERING- DESSERTS"))

	assert.False(t, IsCateringCategory("CATERINGX"))
	assert.False(t, IsCateringCategory("Desserts"))
	assert.False(t, IsCateringCategory(""))
}

func TestShortSquareID(t *testing.T) {
	assert.Equal(t, "abcdefgh", shortSquareID("ABCDEFGHIJKLMNOP"))
	assert.Equal(t, "abc", shortSquareID("ABC"))
}
