package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

type countingSource struct {
	products map[string]domain.Product
	courses  map[string]domain.Course
	calls    atomic.Int32
	gate     chan struct{}
}

func (s *countingSource) FindProductByID(ctx context.Context, id string) (*domain.Product, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &p, nil
}

func (s *countingSource) FindCourseByID(_ context.Context, id string) (*domain.Course, error) {
	s.calls.Add(1)
	c, ok := s.courses[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &c, nil
}

func setup(t *testing.T, ttl time.Duration) (*Catalog, *countingSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sale := decimal.RequireFromString("15.00")
	src := &countingSource{
		products: map[string]domain.Product{
			"p-1": {
				ID: "p-1", Name: "Mug", Status: domain.ProductStatusActive,
				Price: decimal.RequireFromString("19.99"), SalePrice: &sale,
				Variants: []domain.ProductVariant{{ID: "v-1", ProductID: "p-1", Name: "Blue", Stock: 3}},
			},
		},
		courses: map[string]domain.Course{
			"c-1": {ID: "c-1", Title: "Go", Status: domain.CourseStatusPublished, PriceType: domain.PriceTypePaid, PriceAmount: decimal.RequireFromString("49.00")},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, src, src, ttl, logger), src, mr
}

func TestFindProductByID_CachesAfterFirstLoad(t *testing.T) {
	c, src, mr := setup(t, time.Minute)
	ctx := context.Background()

	first, err := c.FindProductByID(ctx, "p-1")
	require.NoError(t, err)
	second, err := c.FindProductByID(ctx, "p-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.calls.Load())
	assert.True(t, mr.Exists("cart:catalog:product:p-1"))
	assert.True(t, first.Price.Equal(second.Price))
	require.NotNil(t, second.SalePrice)
	assert.Equal(t, "15", second.SalePrice.String())
	require.Len(t, second.Variants, 1)
	assert.Equal(t, "v-1", second.Variants[0].ID)
}

func TestFindProductByID_TTLWithinJitter(t *testing.T) {
	c, _, mr := setup(t, time.Minute)

	_, err := c.FindProductByID(context.Background(), "p-1")
	require.NoError(t, err)

	ttl := mr.TTL("cart:catalog:product:p-1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+12*time.Second)
}

func TestFindProductByID_NotFoundIsNotCached(t *testing.T) {
	c, src, mr := setup(t, time.Minute)
	ctx := context.Background()

	for range 2 {
		_, err := c.FindProductByID(ctx, "missing")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	assert.Equal(t, int32(2), src.calls.Load())
	assert.False(t, mr.Exists("cart:catalog:product:missing"))
}

func TestFindCourseByID_ExpiresWithTTL(t *testing.T) {
	c, src, mr := setup(t, time.Minute)
	ctx := context.Background()

	_, err := c.FindCourseByID(ctx, "c-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	course, err := c.FindCourseByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "49", course.PriceAmount.String())
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestInvalidate(t *testing.T) {
	c, src, mr := setup(t, time.Minute)
	ctx := context.Background()

	_, err := c.FindProductByID(ctx, "p-1")
	require.NoError(t, err)
	_, err = c.FindCourseByID(ctx, "c-1")
	require.NoError(t, err)

	require.NoError(t, c.InvalidateProduct(ctx, "p-1"))
	require.NoError(t, c.InvalidateCourse(ctx, "c-1"))
	assert.False(t, mr.Exists("cart:catalog:product:p-1"))
	assert.False(t, mr.Exists("cart:catalog:course:c-1"))

	_, err = c.FindProductByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestInvalidate_RedisDown(t *testing.T) {
	c, _, mr := setup(t, time.Minute)
	mr.Close()

	err := c.InvalidateProduct(context.Background(), "p-1")
	assert.Error(t, err)
}

func TestFindProductByID_RedisDownFallsThrough(t *testing.T) {
	c, src, mr := setup(t, time.Minute)
	mr.Close()

	p, err := c.FindProductByID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Mug", p.Name)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFindProductByID_CorruptEntryReloads(t *testing.T) {
	c, src, mr := setup(t, time.Minute)
	require.NoError(t, mr.Set("cart:catalog:product:p-1", "{not json"))

	p, err := c.FindProductByID(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)
	assert.Equal(t, int32(1), src.calls.Load())

	got, err := mr.Get("cart:catalog:product:p-1")
	require.NoError(t, err)
	assert.Contains(t, got, `"id":"p-1"`)
}

func TestFindProductByID_ZeroTTLSkipsRedis(t *testing.T) {
	c, src, mr := setup(t, 0)
	ctx := context.Background()

	for range 2 {
		_, err := c.FindProductByID(ctx, "p-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Empty(t, mr.Keys())
}

func TestFindProductByID_CoalescesConcurrentMisses(t *testing.T) {
	c, src, _ := setup(t, time.Minute)
	src.gate = make(chan struct{})

	const callers = 8
	var (
		wg      sync.WaitGroup
		errs    = make(chan error, callers)
		results = make(chan *domain.Product, callers)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.FindProductByID(context.Background(), "p-1")
			if err != nil {
				errs <- err
				return
			}
			results <- p
		}()
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)
	close(results)

	for err := range errs {
		assert.NoError(t, err)
	}
	seen := map[*domain.Product]bool{}
	for p := range results {
		assert.False(t, seen[p], "callers must not share a pointer")
		seen[p] = true
	}
	assert.LessOrEqual(t, src.calls.Load(), int32(callers))
}

func TestFindProductByID_CancelledLeaderDoesNotFailFollowers(t *testing.T) {
	c, src, _ := setup(t, time.Minute)
	src.gate = make(chan struct{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.FindProductByID(leaderCtx, "p-1")
		leaderDone <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	followerDone := make(chan error, 1)
	go func() {
		p, err := c.FindProductByID(context.Background(), "p-1")
		if err == nil && p.ID != "p-1" {
			err = apperrors.ErrNotFound
		}
		followerDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(src.gate)

	assert.NoError(t, <-followerDone)
	assert.NoError(t, <-leaderDone)
	assert.Equal(t, int32(1), src.calls.Load())
}
