package app

import (
	"log/slog"

	"github.com/syntex82/nodepress/pkg/httpclient"
	"github.com/syntex82/nodepress/services/cart/internal/catalog"
	"github.com/syntex82/nodepress/services/cart/internal/catalog/cache"
	catalogmemory "github.com/syntex82/nodepress/services/cart/internal/catalog/memory"
	catalogpg "github.com/syntex82/nodepress/services/cart/internal/catalog/postgres"
	"github.com/syntex82/nodepress/services/cart/internal/catalog/remote"
	"github.com/syntex82/nodepress/services/cart/internal/seed"
	"github.com/syntex82/nodepress/services/cart/internal/service"
)

type catalogWiring struct {
	service.Catalog
	// invalidator is set only when lookups go through the Redis cache.
	invalidator catalog.Invalidator
}

// buildCatalog picks the product and course source: the catalog service when
// CATALOG_SERVICE_URL is set, the shared tables when a pool is open, and an
// empty in-memory catalog otherwise. Enrollments always come from the
// database when there is one.
func (a *App) buildCatalog() catalogWiring {
	var (
		w        catalogWiring
		products catalog.ProductProvider
		courses  catalog.CourseProvider
	)

	var mem *catalogmemory.Catalog
	if a.pool == nil {
		mem = catalogmemory.New()
		w.Enrollments = mem
	} else {
		w.Enrollments = catalogpg.NewReader(a.pool)
	}

	switch {
	case a.cfg.CatalogServiceURL != "":
		cb := httpclient.NewCircuitBreakerClient(httpclient.New(httpclient.DefaultConfig()), a.cfg.CircuitBreakerConfig(), a.logger).
			WithFallback(remote.CircuitOpenFallback)
		client := remote.NewClient(cb, a.cfg.CatalogServiceURL)
		products, courses = client, client
		a.logger.Info("catalog lookups use the catalog service",
			slog.String("url", a.cfg.CatalogServiceURL),
			slog.String("breaker", a.cfg.CircuitBreakerConfig().Name),
		)
	case a.pool != nil:
		reader := catalogpg.NewReader(a.pool)
		products, courses = reader, reader
	default:
		products, courses = mem, mem
		if a.cfg.SeedDemoCatalog {
			seed.Memory(mem)
			a.logger.Info("in-memory catalog seeded with demo data")
		} else {
			a.logger.Warn("no catalog source configured, using an empty in-memory catalog")
		}
	}

	if a.rdb != nil && a.cfg.CatalogCacheTTL() > 0 {
		cached := cache.New(a.rdb, products, courses, a.cfg.CatalogCacheTTL(), a.logger)
		products, courses = cached, cached
		w.invalidator = cached
		a.logger.Info("catalog cache enabled", slog.Duration("ttl", a.cfg.CatalogCacheTTL()))
	}

	w.Products = products
	w.Courses = courses
	return w
}
