package service

import (
	"path"
	"strings"
)

// Square-hosted item image buckets. The same file path can live under either
// host depending on which environment uploaded it.
const (
	sandboxImageHost    = "items-images-sandbox.s3.us-west-2.amazonaws.com"
	productionImageHost = "items-images-production.s3.us-west-2.amazonaws.com"
)

// variantKeywords are flavor words that mark an image as deliberately
// variant-specific when shared between a product name and an image filename.
// Best-effort and business-specific; the point is not to clobber curated
// images, not to be a correct merge.
var variantKeywords = []string{"chocolate", "classic", "lemon", "gluten"}

// ResolveImages decides which images a product keeps after a sync, balancing
// Square as the source of truth against manually curated images. Catalog
// sync is destructive by default; this keeps it from erasing admin work.
func ResolveImages(existing, squareImages []string, productName string) []string {
	// Brand-new product: take Square's images exactly, empty set included.
	if len(existing) == 0 {
		return squareImages
	}

	// Square offers nothing; never erase what an admin put there.
	if len(squareImages) == 0 {
		return existing
	}

	// Existing images that look deliberately variant-specific win, unless
	// Square now offers strictly more images than we have stored.
	if hasVariantSpecificImages(productName, existing) && len(squareImages) <= len(existing) {
		return existing
	}

	return squareImages
}

// hasVariantSpecificImages reports whether the product name and an existing
// image filename share a distinguishing flavor keyword.
func hasVariantSpecificImages(productName string, images []string) bool {
	name := strings.ToLower(productName)
	for _, keyword := range variantKeywords {
		if !strings.Contains(name, keyword) {
			continue
		}
		for _, img := range images {
			if strings.Contains(strings.ToLower(path.Base(img)), keyword) {
				return true
			}
		}
	}
	return false
}

// IsSquareHostedImage reports whether a URL points at a Square item-image
// bucket. Anything else (local static paths, curated buckets) counts as
// manually managed.
func IsSquareHostedImage(url string) bool {
	return strings.Contains(url, sandboxImageHost) ||
		strings.Contains(url, productionImageHost) ||
		strings.Contains(url, "items-images-")
}

// imageURLCandidates orders the URLs to probe for one Square image: the
// sandbox-style URL first, then the production-style one, under the same
// file path.
func imageURLCandidates(url string) []string {
	switch {
	case strings.Contains(url, productionImageHost):
		return []string{
			strings.Replace(url, productionImageHost, sandboxImageHost, 1),
			url,
		}
	case strings.Contains(url, sandboxImageHost):
		return []string{
			url,
			strings.Replace(url, sandboxImageHost, productionImageHost, 1),
		}
	default:
		return []string{url}
	}
}
