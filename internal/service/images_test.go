package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveImagesNewProduct(t *testing.T) {
	squareImages := []string{"https://items-images-production.s3.us-west-2.amazonaws.com/files/abc/original.jpeg"}

	assert.Equal(t, squareImages, ResolveImages(nil, squareImages, "Alfajores"))
	assert.Empty(t, ResolveImages(nil, nil, "Alfajores"))
}

func TestResolveImagesKeepsCuratedWhenSquareEmpty(t *testing.T) {
	existing := []string{"/static/products/alfajores-hero.jpg"}

	resolved := ResolveImages(existing, nil, "Alfajores")

	assert.Equal(t, existing, resolved)
}

func TestResolveImagesVariantSpecificWins(t *testing.T) {
	existing := []string{"/static/products/alfajores-chocolate.jpg"}
	squareImages := []string{"https://items-images-production.s3.us-west-2.amazonaws.com/files/abc/generic.jpeg"}

	resolved := ResolveImages(existing, squareImages, "Alfajores - Chocolate")

	assert.Equal(t, existing, resolved)
}

func TestResolveImagesSquareWinsWithMoreImages(t *testing.T) {
	existing := []string{"/static/products/alfajores-chocolate.jpg"}
	squareImages := []string{
		"https://items-images-production.s3.us-west-2.amazonaws.com/files/abc/one.jpeg",
		"https://items-images-production.s3.us-west-2.amazonaws.com/files/abc/two.jpeg",
	}

	resolved := ResolveImages(existing, squareImages, "Alfajores - Chocolate")

	assert.Equal(t, squareImages, resolved)
}

func TestResolveImagesNoKeywordMatch(t *testing.T) {
	existing := []string{"/static/products/old.jpg"}
	squareImages := []string{"https://items-images-production.s3.us-west-2.amazonaws.com/files/abc/new.jpeg"}

	resolved := ResolveImages(existing, squareImages, "Empanadas")

	assert.Equal(t, squareImages, resolved)
}

func TestIsSquareHostedImage(t *testing.T) {
	assert.True(t, IsSquareHostedImage("https://items-images-sandbox.s3.us-west-2.amazonaws.com/files/a/original.jpeg"))
	assert.True(t, IsSquareHostedImage("https://items-images-production.s3.us-west-2.amazonaws.com/files/a/original.jpeg"))
	assert.False(t, IsSquareHostedImage("/static/products/curated.jpg"))
	assert.False(t, IsSquareHostedImage("https://cdn.example.com/photo.jpg"))
}

func TestImageURLCandidatesSandboxFirst(t *testing.T) {
	production := "https://items-images-production.s3.us-west-2.amazonaws.com/files/a/original.jpeg"
	sandbox := "https://items-images-sandbox.s3.us-west-2.amazonaws.com/files/a/original.jpeg"

	assert.Equal(t, []string{sandbox, production}, imageURLCandidates(production))
	assert.Equal(t, []string{sandbox, production}, imageURLCandidates(sandbox))
	assert.Equal(t, []string{"https://cdn.example.com/x.jpg"}, imageURLCandidates("https://cdn.example.com/x.jpg"))
}
