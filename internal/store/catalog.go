package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"square-sync-service/internal/models"
)

// GetCategoryBySlug retrieves a category by slug, or nil if absent
func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var category models.Category
	err := s.db.GetContext(ctx, &category, "SELECT * FROM categories WHERE slug = $1", slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// GetOrCreateCategory returns the category with the given slug, creating it
// if absent. Concurrent creation is recovered by re-fetching on a unique
// violation; if even that race is lost, the slug is disambiguated with a
// timestamp rather than failing the caller.
func (s *Store) GetOrCreateCategory(ctx context.Context, name, slug string) (*models.Category, error) {
	existing, err := s.GetCategoryBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	category, err := s.insertCategory(ctx, name, slug)
	if err == nil {
		return category, nil
	}
	if !IsUniqueViolation(err, "") {
		return nil, fmt.Errorf("failed to create category %q: %w", name, err)
	}

	// Another process created it between our fetch and insert.
	existing, err = s.GetCategoryBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	disambiguated := fmt.Sprintf("%s-%d", slug, time.Now().Unix())
	return s.insertCategory(ctx, name, disambiguated)
}

func (s *Store) insertCategory(ctx context.Context, name, slug string) (*models.Category, error) {
	var category models.Category
	err := s.db.GetContext(ctx, &category, `
		INSERT INTO categories (slug, name, is_active, sort_order)
		VALUES ($1, $2, true, 0)
		RETURNING *`, slug, name)
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// GetProductBySquareID retrieves a product by its Square catalog ID, or nil
func (s *Store) GetProductBySquareID(ctx context.Context, squareID string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE square_id = $1", squareID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductByVariantSquareID locates the product owning a given Square
// variation ID, or nil. Used when a "new" item turns out to be an existing
// product reachable only through one of its variants.
func (s *Store) GetProductByVariantSquareID(ctx context.Context, squareVariantID string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, `
		SELECT p.* FROM products p
		JOIN product_variants v ON v.product_id = p.id
		WHERE v.square_variant_id = $1`, squareVariantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// SlugExists reports whether a product slug is already taken
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM products WHERE slug = $1)", slug)
	return exists, err
}

// CreateProductWithVariants inserts a product and its variants in one
// transaction. Unique violations propagate to the caller, which owns the
// conflict-recovery strategy.
func (s *Store) CreateProductWithVariants(ctx context.Context, product *models.Product, variants []models.ProductVariant) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO products (square_id, slug, name, description, price, images, ordinal, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, product, query,
		product.SquareID, product.Slug, product.Name, product.Description,
		product.Price, product.Images, product.Ordinal, product.CategoryID); err != nil {
		return err
	}

	if err := insertVariants(ctx, tx, product.ID, variants); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateProductWithVariants updates a product in place and wholesale-replaces
// its variant set. Square variation IDs are the source of truth, so partial
// variant diffs buy nothing.
func (s *Store) UpdateProductWithVariants(ctx context.Context, product *models.Product, variants []models.ProductVariant) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET name = $1, description = $2, price = $3, images = $4,
		    ordinal = $5, category_id = $6, square_id = $7, updated_at = NOW()
		WHERE id = $8`,
		product.Name, product.Description, product.Price, product.Images,
		product.Ordinal, product.CategoryID, product.SquareID, product.ID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM product_variants WHERE product_id = $1", product.ID); err != nil {
		return err
	}

	if err := insertVariants(ctx, tx, product.ID, variants); err != nil {
		return err
	}
	return tx.Commit()
}

type execGetter interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertVariants(ctx context.Context, tx execGetter, productID int64, variants []models.ProductVariant) error {
	for i := range variants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_variants (product_id, name, price, square_variant_id)
			VALUES ($1, $2, $3, $4)`,
			productID, variants[i].Name, variants[i].Price, variants[i].SquareVariantID)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListSquareLinkedProducts returns all products that mirror a Square item
func (s *Store) ListSquareLinkedProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE square_id IS NOT NULL ORDER BY id")
	return products, err
}

// UpdateProductOrdinal updates only the display ordinal of a product
func (s *Store) UpdateProductOrdinal(ctx context.Context, productID int64, ordinal int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET ordinal = $1, updated_at = NOW() WHERE id = $2",
		ordinal, productID)
	return err
}

// ListCateringItems retrieves all catering items
func (s *Store) ListCateringItems(ctx context.Context) ([]models.CateringItem, error) {
	var items []models.CateringItem
	err := s.db.SelectContext(ctx, &items, "SELECT * FROM catering_items ORDER BY id")
	return items, err
}

// LinkCateringItem attaches the Square category name and product ID to a
// catering item, backfilling the image only when one is provided.
func (s *Store) LinkCateringItem(ctx context.Context, itemID int64, categoryName, squareProductID string, image *string) error {
	if image != nil {
		_, err := s.db.ExecContext(ctx, `
			UPDATE catering_items
			SET square_category = $1, square_product_id = $2, image = $3
			WHERE id = $4`,
			categoryName, squareProductID, *image, itemID)
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE catering_items
		SET square_category = $1, square_product_id = $2
		WHERE id = $3`,
		categoryName, squareProductID, itemID)
	return err
}
