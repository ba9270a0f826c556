// Package seed loads a small demo catalog of products, variants and courses
// for local runs of the cart service.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/syntex82/nodepress/pkg/database"
	catalogmemory "github.com/syntex82/nodepress/services/cart/internal/catalog/memory"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

type variantDef struct {
	suffix  string
	name    string
	price   string // empty inherits the product price
	stock   int
	options map[string]string
}

type productDef struct {
	slug     string
	name     string
	status   domain.ProductStatus
	price    string
	sale     string
	variants []variantDef
}

type courseDef struct {
	slug      string
	title     string
	status    domain.CourseStatus
	priceType domain.PriceType
	price     string
}

var products = []productDef{
	{slug: "wireless-headphones", name: "Wireless Bluetooth Headphones", status: domain.ProductStatusActive, price: "79.99"},
	{slug: "usb-c-hub", name: "USB-C Hub Adapter", status: domain.ProductStatusActive, price: "34.99", sale: "29.99"},
	{slug: "mechanical-keyboard", name: "Mechanical Keyboard", status: domain.ProductStatusPublished, price: "89.99", variants: []variantDef{
		{suffix: "blue", name: "Blue switches", stock: 40, options: map[string]string{"switch": "blue"}},
		{suffix: "brown", name: "Brown switches", price: "94.99", stock: 25, options: map[string]string{"switch": "brown"}},
	}},
	{slug: "cotton-t-shirt", name: "Classic Cotton T-Shirt", status: domain.ProductStatusActive, price: "24.99", variants: []variantDef{
		{suffix: "s", name: "Small", stock: 100, options: map[string]string{"size": "S"}},
		{suffix: "m", name: "Medium", stock: 100, options: map[string]string{"size": "M"}},
		{suffix: "xl", name: "Extra Large", price: "27.99", stock: 50, options: map[string]string{"size": "XL"}},
	}},
	{slug: "coffee-maker", name: "Coffee Maker", status: domain.ProductStatusActive, price: "49.99"},
	{slug: "smart-watch", name: "Smart Watch Pro", status: domain.ProductStatusDraft, price: "199.99"},
	{slug: "ceramic-plates", name: "Ceramic Plate Set", status: domain.ProductStatusArchived, price: "39.99"},
}

var courses = []courseDef{
	{slug: "go-fundamentals", title: "Go Fundamentals", status: domain.CourseStatusPublished, priceType: domain.PriceTypePaid, price: "49.00"},
	{slug: "postgres-in-depth", title: "PostgreSQL in Depth", status: domain.CourseStatusPublished, priceType: domain.PriceTypePaid, price: "79.00"},
	{slug: "intro-to-wordpress", title: "Intro to Publishing", status: domain.CourseStatusPublished, priceType: domain.PriceTypeFree},
	{slug: "kafka-upcoming", title: "Event Streaming with Kafka", status: domain.CourseStatusDraft, priceType: domain.PriceTypePaid, price: "99.00"},
}

// ProductID is the id under which the demo product with slug is stored.
func ProductID(slug string) string { return "prd-" + slug }

// VariantID is the id of a demo variant.
func VariantID(productSlug, suffix string) string { return "var-" + productSlug + "-" + suffix }

// CourseID is the id under which the demo course with slug is stored.
func CourseID(slug string) string { return "crs-" + slug }

// Products returns the demo products with their variants.
func Products() []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, def := range products {
		p := domain.Product{
			ID:     ProductID(def.slug),
			Name:   def.name,
			Slug:   def.slug,
			Status: def.status,
			Price:  decimal.RequireFromString(def.price),
		}
		if def.sale != "" {
			sale := decimal.RequireFromString(def.sale)
			p.SalePrice = &sale
		}
		for _, v := range def.variants {
			pv := domain.ProductVariant{
				ID:        VariantID(def.slug, v.suffix),
				ProductID: p.ID,
				Name:      v.name,
				SKU:       def.slug + "-" + v.suffix,
				Stock:     v.stock,
				Options:   v.options,
			}
			if v.price != "" {
				price := decimal.RequireFromString(v.price)
				pv.Price = &price
			}
			p.Variants = append(p.Variants, pv)
		}
		out = append(out, p)
	}
	return out
}

// Courses returns the demo courses.
func Courses() []domain.Course {
	out := make([]domain.Course, 0, len(courses))
	for _, def := range courses {
		c := domain.Course{
			ID:        CourseID(def.slug),
			Title:     def.title,
			Slug:      def.slug,
			Status:    def.status,
			PriceType: def.priceType,
		}
		if def.price != "" {
			c.PriceAmount = decimal.RequireFromString(def.price)
		}
		out = append(out, c)
	}
	return out
}

// Memory loads the demo catalog into cat.
func Memory(cat *catalogmemory.Catalog) {
	for _, p := range Products() {
		cat.PutProduct(p)
	}
	for _, c := range Courses() {
		cat.PutCourse(c)
	}
}

const (
	upsertProduct = `
		INSERT INTO products (id, name, slug, status, price, sale_price)
		VALUES ($1, $2, $3, $4, $5::numeric, NULLIF($6, '')::numeric)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, status = EXCLUDED.status, price = EXCLUDED.price,
			sale_price = EXCLUDED.sale_price, updated_at = NOW()`
	upsertVariant = `
		INSERT INTO product_variants (id, product_id, name, sku, price, stock, options)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::numeric, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock, options = EXCLUDED.options`
	upsertCourse = `
		INSERT INTO courses (id, title, slug, status, price_type, price_amount)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::numeric)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, status = EXCLUDED.status, price_type = EXCLUDED.price_type,
			price_amount = EXCLUDED.price_amount, updated_at = NOW()`
)

// Postgres upserts the demo catalog into the catalog tables in one
// transaction. Running it again refreshes the same rows.
func Postgres(ctx context.Context, db database.DBTX, logger *slog.Logger) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var nVariants int
	for _, p := range Products() {
		sale := ""
		if p.SalePrice != nil {
			sale = p.SalePrice.String()
		}
		if _, err = tx.Exec(ctx, upsertProduct, p.ID, p.Name, p.Slug, string(p.Status), p.Price.String(), sale); err != nil {
			return fmt.Errorf("seed product %s: %w", p.Slug, err)
		}
		for _, v := range p.Variants {
			price := ""
			if v.Price != nil {
				price = v.Price.String()
			}
			options, merr := json.Marshal(v.Options)
			if merr != nil {
				return fmt.Errorf("encode options of variant %s: %w", v.ID, merr)
			}
			if _, err = tx.Exec(ctx, upsertVariant, v.ID, p.ID, v.Name, v.SKU, price, v.Stock, options); err != nil {
				return fmt.Errorf("seed variant %s: %w", v.ID, err)
			}
			nVariants++
		}
	}

	for _, c := range Courses() {
		amount := ""
		if !c.IsFree() {
			amount = c.PriceAmount.String()
		}
		if _, err = tx.Exec(ctx, upsertCourse, c.ID, c.Title, c.Slug, string(c.Status), string(c.PriceType), amount); err != nil {
			return fmt.Errorf("seed course %s: %w", c.Slug, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	logger.InfoContext(ctx, "demo catalog seeded",
		slog.Int("products", len(products)),
		slog.Int("variants", nVariants),
		slog.Int("courses", len(courses)),
	)
	return nil
}
