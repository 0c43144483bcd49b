package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"square-sync-service/internal/alert"
	"square-sync-service/internal/models"
	"square-sync-service/internal/store"
	"square-sync-service/internal/util"

	"go.uber.org/zap"
)

const (
	catalogLockKey      = "catalog-sync"
	catalogLockTTL      = 10 * time.Minute
	defaultCategoryName = "Default"
)

// CatalogStore is the persistence contract catalog sync needs.
type CatalogStore interface {
	GetOrCreateCategory(ctx context.Context, name, slug string) (*models.Category, error)
	GetProductBySquareID(ctx context.Context, squareID string) (*models.Product, error)
	GetProductByVariantSquareID(ctx context.Context, squareVariantID string) (*models.Product, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	CreateProductWithVariants(ctx context.Context, product *models.Product, variants []models.ProductVariant) error
	UpdateProductWithVariants(ctx context.Context, product *models.Product, variants []models.ProductVariant) error
	ListSquareLinkedProducts(ctx context.Context) ([]models.Product, error)
	UpdateProductOrdinal(ctx context.Context, productID int64, ordinal int64) error
	ListCateringItems(ctx context.Context) ([]models.CateringItem, error)
	LinkCateringItem(ctx context.Context, itemID int64, categoryName, squareProductID string, image *string) error
	CreateSyncStatus(ctx context.Context, record *models.SyncStatusRecord) error
	UpdateSyncStatus(ctx context.Context, record *models.SyncStatusRecord) error
}

// CatalogAPI is the Square surface catalog sync needs.
type CatalogAPI interface {
	SearchCatalogObjects(ctx context.Context) (*models.CatalogSearchResult, error)
	RetrieveCatalogObject(ctx context.Context, objectID string) (*models.CatalogObject, []models.CatalogObject, error)
	ImageURLExists(ctx context.Context, url string) bool
}

// Locker guards a full catalog sync against concurrent runs.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// CatalogSyncResult is the structured outcome of a catalog sync. Item-level
// failures land in Errors; Success is false only on total pipeline failure.
type CatalogSyncResult struct {
	Success        bool                   `json:"success"`
	SyncID         string                 `json:"sync_id"`
	SyncedProducts int                    `json:"synced_products"`
	Errors         []string               `json:"errors,omitempty"`
	DebugInfo      map[string]interface{} `json:"debug_info,omitempty"`
	StartTime      time.Time              `json:"start_time"`
	EndTime        time.Time              `json:"end_time"`
	DurationMs     int64                  `json:"duration_ms"`
}

// OrdinalResyncResult reports an ordinal-only resync pass.
type OrdinalResyncResult struct {
	Success bool     `json:"success"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// CatalogSyncService merges Square's catalog into the local product model,
// preserving manually curated images and admin-created categories.
type CatalogSyncService struct {
	store  CatalogStore
	square CatalogAPI
	locker Locker
	alerts Alerter
	tuning Tuning
	logger *zap.Logger
}

// NewCatalogSyncService creates a catalog sync service
func NewCatalogSyncService(catalogStore CatalogStore, square CatalogAPI, locker Locker, alerts Alerter, tuning Tuning) *CatalogSyncService {
	return &CatalogSyncService{
		store:  catalogStore,
		square: square,
		locker: locker,
		alerts: alerts,
		tuning: tuning.withDefaults(),
		logger: util.GetLogger(),
	}
}

// SyncCatalog pulls the full Square catalog and upserts it into the local
// product model. Safe to re-run; item failures are isolated.
func (s *CatalogSyncService) SyncCatalog(ctx context.Context) (result *CatalogSyncResult) {
	ctx, span := util.StartSpan(ctx, "CatalogSyncService.SyncCatalog")
	defer span.End()

	start := time.Now()
	result = &CatalogSyncResult{
		SyncID:    newSyncID(models.SyncTypeCatalog, start),
		StartTime: start,
		DebugInfo: map[string]interface{}{},
	}

	locked, err := s.locker.AcquireLock(ctx, catalogLockKey, catalogLockTTL)
	if err != nil {
		// Advisory only; a Redis hiccup should not block the sync.
		s.logger.Warn("Failed to acquire catalog sync lock, proceeding", zap.Error(err))
	} else if !locked {
		result.Errors = append(result.Errors, "catalog sync already running")
		result.EndTime = time.Now()
		result.DurationMs = result.EndTime.Sub(start).Milliseconds()
		return result
	} else {
		defer func() {
			if err := s.locker.ReleaseLock(ctx, catalogLockKey); err != nil {
				s.logger.Warn("Failed to release catalog sync lock", zap.Error(err))
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Catalog sync panicked", zap.Any("panic", r))
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("sync panicked: %v", r))
			s.alerts.Send(ctx, alert.Alert{
				Severity: alert.SeverityHigh,
				Title:    "Catalog sync crashed",
				Message:  fmt.Sprintf("sync aborted by panic: %v", r),
				Details:  map[string]interface{}{"sync_id": result.SyncID},
			})
		}
		s.finalizeCatalogSync(ctx, result)
	}()

	if err := s.store.CreateSyncStatus(ctx, &models.SyncStatusRecord{
		SyncID:    result.SyncID,
		SyncType:  models.SyncTypeCatalog,
		StartTime: start,
	}); err != nil {
		s.logger.Warn("Failed to create sync status record", zap.Error(err))
	}

	catalog, err := s.square.SearchCatalogObjects(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch catalog: %v", err))
		s.alerts.Send(ctx, alert.Alert{
			Severity: alert.SeverityHigh,
			Title:    "Catalog sync failed",
			Message:  "could not fetch catalog from Square",
			Details:  map[string]interface{}{"sync_id": result.SyncID, "error": err.Error()},
		})
		return result
	}

	categoryByID := make(map[string]string)
	imageURLByID := make(map[string]string)
	var items []models.CatalogObject

	index := func(objects []models.CatalogObject) {
		for _, obj := range objects {
			switch {
			case obj.Type == models.CatalogTypeCategory && obj.CategoryData != nil:
				categoryByID[obj.ID] = obj.CategoryData.Name
			case obj.Type == models.CatalogTypeImage && obj.ImageData != nil && obj.ImageData.URL != "":
				imageURLByID[obj.ID] = obj.ImageData.URL
			case obj.Type == models.CatalogTypeItem && obj.ItemData != nil:
				items = append(items, obj)
			}
		}
	}
	index(catalog.Objects)
	index(catalog.RelatedObjects)

	result.DebugInfo["items"] = len(items)
	result.DebugInfo["categories"] = len(categoryByID)
	result.DebugInfo["images"] = len(imageURLByID)

	cateringCategories := make(map[string]string)
	for id, name := range categoryByID {
		if IsCateringCategory(name) {
			cateringCategories[id] = name
		}
	}
	if len(cateringCategories) > 0 {
		s.linkCateringItems(ctx, cateringCategories, items, imageURLByID, result)
	}

	var mu sync.Mutex
	for start := 0; start < len(items); start += s.tuning.BatchSize {
		end := start + s.tuning.BatchSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(item models.CatalogObject) {
				defer wg.Done()
				err := s.syncItem(ctx, item, categoryByID, imageURLByID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.ID, err))
					util.CatalogItemsFailedTotal.Inc()
					return
				}
				result.SyncedProducts++
				util.CatalogItemsSyncedTotal.Inc()
			}(item)
		}
		wg.Wait()

		if end < len(items) {
			time.Sleep(s.tuning.BatchDelay)
		}
	}

	// Item-level errors do not fail the pipeline.
	result.Success = true
	return result
}

// syncItem upserts one catalog item as a local product.
func (s *CatalogSyncService) syncItem(ctx context.Context, obj models.CatalogObject, categoryByID, imageURLByID map[string]string) error {
	item := obj.ItemData

	categoryName, ordinal := resolveCategoryRef(item, categoryByID)
	category, err := s.store.GetOrCreateCategory(ctx, categoryName, Slugify(categoryName))
	if err != nil {
		return fmt.Errorf("failed to resolve category %q: %w", categoryName, err)
	}

	variants, basePrice := s.buildVariants(obj.ID, item.Variations)

	existing, err := s.store.GetProductBySquareID(ctx, obj.ID)
	if err != nil {
		return fmt.Errorf("failed to look up product: %w", err)
	}

	squareImages := s.resolveSquareImages(ctx, item.ImageIDs, imageURLByID)

	if existing != nil {
		existing.Name = item.Name
		existing.Description = item.Description
		existing.Price = basePrice
		existing.Images = ResolveImages(existing.Images, squareImages, item.Name)
		existing.Ordinal = ordinal
		existing.CategoryID = category.ID
		if err := s.store.UpdateProductWithVariants(ctx, existing, variants); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		return nil
	}

	slug := Slugify(item.Name)
	taken, err := s.store.SlugExists(ctx, slug)
	if err != nil {
		return fmt.Errorf("failed to check slug: %w", err)
	}
	if taken {
		slug = slug + "-" + shortSquareID(obj.ID)
	}

	squareID := obj.ID
	product := &models.Product{
		SquareID:    &squareID,
		Slug:        slug,
		Name:        item.Name,
		Description: item.Description,
		Price:       basePrice,
		Images:      ResolveImages(nil, squareImages, item.Name),
		Ordinal:     ordinal,
		CategoryID:  category.ID,
	}

	err = s.store.CreateProductWithVariants(ctx, product, variants)
	if err == nil {
		return nil
	}

	// A variant-id collision means the "new" item is an existing product
	// reachable only through one of its variants: merge, don't duplicate.
	if store.IsUniqueViolation(err, store.ConstraintVariantSquareID) && len(variants) > 0 {
		owner, lookupErr := s.store.GetProductByVariantSquareID(ctx, variants[0].SquareVariantID)
		if lookupErr != nil {
			return fmt.Errorf("failed to locate product via variant: %w", lookupErr)
		}
		if owner != nil {
			s.logger.Info("Merging item into product found via variant",
				zap.String("square_id", obj.ID),
				zap.Int64("product_id", owner.ID))
			owner.Name = item.Name
			owner.Description = item.Description
			owner.Price = basePrice
			owner.Images = ResolveImages(owner.Images, squareImages, item.Name)
			owner.Ordinal = ordinal
			owner.CategoryID = category.ID
			owner.SquareID = &squareID
			return s.store.UpdateProductWithVariants(ctx, owner, variants)
		}
	}

	// Any other collision gets one retry with a timestamped slug.
	if store.IsUniqueViolation(err, "") {
		product.Slug = fmt.Sprintf("%s-%d", slug, time.Now().Unix())
		if retryErr := s.store.CreateProductWithVariants(ctx, product, variants); retryErr != nil {
			return fmt.Errorf("failed to create product after retry: %w", retryErr)
		}
		return nil
	}

	return fmt.Errorf("failed to create product: %w", err)
}

// resolveCategoryRef prefers the item's categories array (with its ordinal),
// falls back to the legacy single category_id field, then to the Default
// category.
func resolveCategoryRef(item *models.CatalogItemData, categoryByID map[string]string) (string, *int64) {
	if len(item.Categories) > 0 {
		ref := item.Categories[0]
		if name, ok := categoryByID[ref.ID]; ok {
			return name, ref.Ordinal
		}
		if item.CategoryID != "" {
			if name, ok := categoryByID[item.CategoryID]; ok {
				return name, ref.Ordinal
			}
		}
		return defaultCategoryName, ref.Ordinal
	}

	if item.CategoryID != "" {
		if name, ok := categoryByID[item.CategoryID]; ok {
			return name, nil
		}
	}
	return defaultCategoryName, nil
}

// buildVariants converts Square variations into local variants. The base
// price comes from the first variation with usable price data; variations
// missing required fields are dropped with a warning, never a crash.
func (s *CatalogSyncService) buildVariants(itemID string, variations []models.CatalogObject) ([]models.ProductVariant, float64) {
	variants := make([]models.ProductVariant, 0, len(variations))
	var basePrice float64
	havePrice := false

	for _, v := range variations {
		if v.Type != models.CatalogTypeVariation || v.ItemVariationData == nil || v.ID == "" {
			s.logger.Warn("Dropping malformed variation",
				zap.String("item_id", itemID),
				zap.String("variation_id", v.ID))
			continue
		}

		var price *float64
		if v.ItemVariationData.PriceMoney != nil {
			p := v.ItemVariationData.PriceMoney.ToMajorUnits()
			price = &p
			if !havePrice {
				basePrice = p
				havePrice = true
			}
		}

		variants = append(variants, models.ProductVariant{
			Name:            v.ItemVariationData.Name,
			Price:           price,
			SquareVariantID: v.ID,
		})
	}
	return variants, basePrice
}

// resolveSquareImages maps image IDs to verified URLs. IDs the batch payload
// did not inline are retrieved individually; URLs that do not resolve are
// dropped, never persisted.
func (s *CatalogSyncService) resolveSquareImages(ctx context.Context, imageIDs []string, imageURLByID map[string]string) []string {
	var urls []string
	for _, id := range imageIDs {
		url := imageURLByID[id]
		if url == "" {
			obj, _, err := s.square.RetrieveCatalogObject(ctx, id)
			if err != nil || obj.ImageData == nil || obj.ImageData.URL == "" {
				s.logger.Warn("Could not resolve catalog image", zap.String("image_id", id), zap.Error(err))
				continue
			}
			url = obj.ImageData.URL
		}

		if verified := s.verifyImageURL(ctx, url); verified != "" {
			urls = append(urls, verified)
		}
	}
	return urls
}

// verifyImageURL probes the sandbox-style URL first, then the
// production-style one, keeping only a URL that actually resolves. URLs
// outside Square's item-image buckets are taken as-is: the
// sandbox/production split does not apply to other hosts.
func (s *CatalogSyncService) verifyImageURL(ctx context.Context, url string) string {
	if !IsSquareHostedImage(url) {
		return url
	}
	for _, candidate := range imageURLCandidates(url) {
		if s.square.ImageURLExists(ctx, candidate) {
			return candidate
		}
	}
	s.logger.Warn("Image URL did not resolve in any bucket", zap.String("url", url))
	return ""
}

// linkCateringItems is the secondary catering pass: it matches local
// catering items to Square items in catering categories by normalized name.
// Best-effort; failures are counted, not thrown.
func (s *CatalogSyncService) linkCateringItems(
	ctx context.Context,
	cateringCategories map[string]string,
	items []models.CatalogObject,
	imageURLByID map[string]string,
	result *CatalogSyncResult,
) {
	cateringItems, err := s.store.ListCateringItems(ctx)
	if err != nil {
		s.logger.Error("Catering linking pass failed to list items", zap.Error(err))
		result.DebugInfo["catering_error"] = err.Error()
		return
	}

	type squareMatch struct {
		itemID       string
		categoryName string
		imageIDs     []string
	}
	byNormalizedName := make(map[string]squareMatch)
	for _, obj := range items {
		item := obj.ItemData
		categoryName := ""
		for _, ref := range item.Categories {
			if name, ok := cateringCategories[ref.ID]; ok {
				categoryName = name
				break
			}
		}
		if categoryName == "" && item.CategoryID != "" {
			categoryName = cateringCategories[item.CategoryID]
		}
		if categoryName == "" {
			continue
		}
		byNormalizedName[NormalizeName(item.Name)] = squareMatch{
			itemID:       obj.ID,
			categoryName: categoryName,
			imageIDs:     item.ImageIDs,
		}
	}

	linked, failed := 0, 0
	for _, ci := range cateringItems {
		match, ok := byNormalizedName[NormalizeName(ci.Name)]
		if !ok {
			continue
		}

		var image *string
		if ci.Image == nil || *ci.Image == "" {
			if urls := s.resolveSquareImages(ctx, match.imageIDs, imageURLByID); len(urls) > 0 {
				image = &urls[0]
			}
		}

		if err := s.store.LinkCateringItem(ctx, ci.ID, match.categoryName, match.itemID, image); err != nil {
			s.logger.Warn("Failed to link catering item",
				zap.Int64("catering_item_id", ci.ID),
				zap.Error(err))
			failed++
			continue
		}
		linked++
	}

	result.DebugInfo["catering_categories"] = len(cateringCategories)
	result.DebugInfo["catering_linked"] = linked
	result.DebugInfo["catering_failed"] = failed
}

func (s *CatalogSyncService) finalizeCatalogSync(ctx context.Context, result *CatalogSyncResult) {
	result.EndTime = time.Now()
	result.DurationMs = result.EndTime.Sub(result.StartTime).Milliseconds()
	util.CatalogSyncDuration.Observe(float64(result.DurationMs) / 1000)

	status := &models.SyncStatusRecord{
		SyncID:            result.SyncID,
		SyncType:          models.SyncTypeCatalog,
		StartTime:         result.StartTime,
		EndTime:           &result.EndTime,
		PaymentsProcessed: result.SyncedProducts,
		PaymentsFailed:    len(result.Errors),
	}
	if items, ok := result.DebugInfo["items"].(int); ok {
		status.PaymentsFound = items
	}
	if len(result.Errors) > 0 {
		details := fmt.Sprintf("%d item errors; first: %s", len(result.Errors), result.Errors[0])
		status.ErrorDetails = &details
	}
	if err := s.store.UpdateSyncStatus(ctx, status); err != nil {
		s.logger.Error("Failed to finalize sync status record", zap.Error(err))
	}

	s.logger.Info("Catalog sync finished",
		zap.String("sync_id", result.SyncID),
		zap.Bool("success", result.Success),
		zap.Int("synced", result.SyncedProducts),
		zap.Int("errors", len(result.Errors)),
		zap.Int64("duration_ms", result.DurationMs))
}

// ResyncOrdinals refreshes only the display ordinals of Square-linked
// products from a fresh catalog fetch. Items Square no longer reports an
// ordinal for are skipped, not errored.
func (s *CatalogSyncService) ResyncOrdinals(ctx context.Context) *OrdinalResyncResult {
	ctx, span := util.StartSpan(ctx, "CatalogSyncService.ResyncOrdinals")
	defer span.End()

	result := &OrdinalResyncResult{}

	catalog, err := s.square.SearchCatalogObjects(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch catalog: %v", err))
		return result
	}

	ordinals := make(map[string]int64)
	for _, obj := range catalog.Objects {
		if obj.Type != models.CatalogTypeItem || obj.ItemData == nil {
			continue
		}
		if len(obj.ItemData.Categories) > 0 && obj.ItemData.Categories[0].Ordinal != nil {
			ordinals[obj.ID] = *obj.ItemData.Categories[0].Ordinal
		}
	}

	products, err := s.store.ListSquareLinkedProducts(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list products: %v", err))
		return result
	}

	for _, p := range products {
		ordinal, ok := ordinals[*p.SquareID]
		if !ok {
			result.Skipped++
			continue
		}
		if p.Ordinal != nil && *p.Ordinal == ordinal {
			continue
		}
		if err := s.store.UpdateProductOrdinal(ctx, p.ID, ordinal); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", *p.SquareID, err))
			continue
		}
		result.Updated++
	}

	result.Success = len(result.Errors) == 0
	s.logger.Info("Ordinal resync finished",
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))
	return result
}
