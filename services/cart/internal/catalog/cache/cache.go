// Package cache puts a Redis cache-aside layer in front of the product and
// course providers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/syntex82/nodepress/services/cart/internal/catalog"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

const keyPrefix = "cart:catalog:"

// maxJitterFraction bounds the random extension added to every TTL so entries
// written together do not expire together.
const maxJitterFraction = 0.2

// Catalog caches product and course lookups. Redis failures are logged and
// the call falls through to the source; they never fail a lookup.
type Catalog struct {
	client   redis.Cmdable
	products catalog.ProductProvider
	courses  catalog.CourseProvider
	ttl      time.Duration
	group    singleflight.Group
	logger   *slog.Logger
}

var (
	_ catalog.ProductProvider = (*Catalog)(nil)
	_ catalog.CourseProvider  = (*Catalog)(nil)
	_ catalog.Invalidator     = (*Catalog)(nil)
)

// New wraps products and courses. A ttl of zero disables caching but keeps
// request coalescing.
func New(client redis.Cmdable, products catalog.ProductProvider, courses catalog.CourseProvider, ttl time.Duration, logger *slog.Logger) *Catalog {
	return &Catalog{
		client:   client,
		products: products,
		courses:  courses,
		ttl:      ttl,
		logger:   logger,
	}
}

func productKey(id string) string { return keyPrefix + "product:" + id }

func courseKey(id string) string { return keyPrefix + "course:" + id }

// FindProductByID serves the product from Redis or loads and stores it.
func (c *Catalog) FindProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return lookup(ctx, c, productKey(id), func(ctx context.Context) (*domain.Product, error) {
		return c.products.FindProductByID(ctx, id)
	})
}

// FindCourseByID serves the course from Redis or loads and stores it.
func (c *Catalog) FindCourseByID(ctx context.Context, id string) (*domain.Course, error) {
	return lookup(ctx, c, courseKey(id), func(ctx context.Context) (*domain.Course, error) {
		return c.courses.FindCourseByID(ctx, id)
	})
}

// InvalidateProduct drops a cached product.
func (c *Catalog) InvalidateProduct(ctx context.Context, id string) error {
	return c.del(ctx, productKey(id))
}

// InvalidateCourse drops a cached course.
func (c *Catalog) InvalidateCourse(ctx context.Context, id string) error {
	return c.del(ctx, courseKey(id))
}

func (c *Catalog) del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (c *Catalog) jitteredTTL() time.Duration {
	return c.ttl + time.Duration(rand.Float64()*maxJitterFraction*float64(c.ttl))
}

func lookup[T any](ctx context.Context, c *Catalog, key string, load func(context.Context) (*T, error)) (*T, error) {
	if c.ttl > 0 {
		if v, ok := get[T](ctx, c, key); ok {
			return v, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// The flight is shared, so one caller's cancellation must not fail
		// the others.
		flightCtx := context.WithoutCancel(ctx)
		loaded, err := load(flightCtx)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.set(flightCtx, key, loaded)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight get their own copy.
	shared := *v.(*T)
	return &shared, nil
}

func get[T any](ctx context.Context, c *Catalog, key string) (*T, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "catalog cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.WarnContext(ctx, "discarding undecodable catalog cache entry",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return &v, true
}

func (c *Catalog) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WarnContext(ctx, "catalog cache encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := c.client.Set(ctx, key, data, c.jitteredTTL()).Err(); err != nil {
		c.logger.WarnContext(ctx, "catalog cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
