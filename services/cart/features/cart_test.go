package features

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/pkg/health"
	"github.com/syntex82/nodepress/pkg/httputil"
	"github.com/syntex82/nodepress/pkg/middleware"
	catalogmemory "github.com/syntex82/nodepress/services/cart/internal/catalog/memory"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
	handler "github.com/syntex82/nodepress/services/cart/internal/handler/http"
	"github.com/syntex82/nodepress/services/cart/internal/repository/memory"
	"github.com/syntex82/nodepress/services/cart/internal/service"
)

type response struct {
	Data  *domain.CartView        `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

// cartFeature drives the HTTP API over an in-memory store and catalog.
type cartFeature struct {
	store   *memory.Store
	catalog *catalogmemory.Catalog
	router  http.Handler

	headers    map[string]string
	status     int
	last       response
	cart       *domain.CartView
	remembered string
}

func (f *cartFeature) reset() {
	f.store = memory.NewStore()
	f.catalog = catalogmemory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewCartService(f.store, service.Catalog{
		Products:    f.catalog,
		Courses:     f.catalog,
		Enrollments: f.catalog,
	}, nil, logger, "USD")
	f.router = handler.NewRouter(svc, health.NewHandler(), logger, handler.RouterConfig{
		SessionCookieName: "np_session",
		CORS:              middleware.DefaultCORSConfig(),
	})
	f.headers = nil
	f.status = 0
	f.last = response{}
	f.cart = nil
	f.remembered = ""
}

func (f *cartFeature) call(method, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	f.status = rec.Code
	f.last = response{}
	if err := json.Unmarshal(rec.Body.Bytes(), &f.last); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	if f.last.Data != nil {
		f.cart = f.last.Data
	}
	return nil
}

// refresh reloads the cart of the current caller without touching the last
// response.
func (f *cartFeature) refresh() error {
	status, last := f.status, f.last
	defer func() { f.status, f.last = status, last }()
	if err := f.call(http.MethodGet, "/api/v1/cart", nil); err != nil {
		return err
	}
	if f.status != http.StatusOK {
		return fmt.Errorf("reload cart: status %d", f.status)
	}
	return nil
}

func (f *cartFeature) lineFor(productID string) *domain.LineView {
	if f.cart == nil {
		return nil
	}
	for i := range f.cart.Items {
		if f.cart.Items[i].ProductID == productID {
			return &f.cart.Items[i]
		}
	}
	return nil
}

func (f *cartFeature) anActiveProduct(id, price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	f.catalog.PutProduct(domain.Product{ID: id, Name: id, Slug: id, Status: domain.ProductStatusActive, Price: p})
	return nil
}

func (f *cartFeature) aDraftProduct(id, price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	f.catalog.PutProduct(domain.Product{ID: id, Name: id, Slug: id, Status: domain.ProductStatusDraft, Price: p})
	return nil
}

func (f *cartFeature) aPaidCourse(id, price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	f.catalog.PutCourse(domain.Course{ID: id, Title: id, Slug: id, Status: domain.CourseStatusPublished, PriceType: domain.PriceTypePaid, PriceAmount: p})
	return nil
}

func (f *cartFeature) aFreeCourse(id string) error {
	f.catalog.PutCourse(domain.Course{ID: id, Title: id, Slug: id, Status: domain.CourseStatusPublished, PriceType: domain.PriceTypeFree})
	return nil
}

func (f *cartFeature) userIsEnrolled(userID, courseID string) error {
	f.catalog.Enroll(domain.Enrollment{
		ID:        "enr-" + userID + "-" + courseID,
		CourseID:  courseID,
		UserID:    userID,
		Status:    "ACTIVE",
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (f *cartFeature) iAmGuest(sessionID string) error {
	f.headers = map[string]string{middleware.SessionIDHeader: sessionID}
	f.cart = nil
	return nil
}

func (f *cartFeature) iAmSignedInAs(userID string) error {
	f.headers = map[string]string{middleware.UserIDHeader: userID}
	f.cart = nil
	return nil
}

func (f *cartFeature) iAmAnonymous() error {
	f.headers = nil
	f.cart = nil
	return nil
}

func (f *cartFeature) iSignInFromGuest(userID, sessionID string) error {
	f.headers = map[string]string{
		middleware.UserIDHeader:    userID,
		middleware.SessionIDHeader: sessionID,
	}
	return f.call(http.MethodPost, "/api/v1/cart/merge", nil)
}

func (f *cartFeature) iAddProduct(quantity int, productID string) error {
	return f.call(http.MethodPost, "/api/v1/cart/items", handler.AddProductRequest{ProductID: productID, Quantity: quantity})
}

func (f *cartFeature) iAddCourse(courseID string) error {
	return f.call(http.MethodPost, "/api/v1/cart/courses", handler.AddCourseRequest{CourseID: courseID})
}

func (f *cartFeature) iSetQuantity(productID string, quantity int) error {
	if err := f.refresh(); err != nil {
		return err
	}
	line := f.lineFor(productID)
	if line == nil {
		return fmt.Errorf("product %q is not in the cart", productID)
	}
	return f.call(http.MethodPut, "/api/v1/cart/items/"+line.ID, handler.UpdateQuantityRequest{Quantity: &quantity})
}

func (f *cartFeature) iRemoveProduct(productID string) error {
	if err := f.refresh(); err != nil {
		return err
	}
	line := f.lineFor(productID)
	if line == nil {
		return fmt.Errorf("product %q is not in the cart", productID)
	}
	return f.call(http.MethodDelete, "/api/v1/cart/items/"+line.ID, nil)
}

func (f *cartFeature) iClearMyCart() error {
	return f.call(http.MethodDelete, "/api/v1/cart", nil)
}

func (f *cartFeature) iViewMyCart() error {
	return f.call(http.MethodGet, "/api/v1/cart", nil)
}

func (f *cartFeature) iRememberMyCart() error {
	if err := f.refresh(); err != nil {
		return err
	}
	f.remembered = f.cart.ID
	return nil
}

func (f *cartFeature) theRequestSucceeds() error {
	if f.status != http.StatusOK {
		msg := ""
		if f.last.Error != nil {
			msg = f.last.Error.Message
		}
		return fmt.Errorf("expected status 200, got %d: %s", f.status, msg)
	}
	return nil
}

func (f *cartFeature) theRequestFailsWithStatus(status int) error {
	if f.status != status {
		return fmt.Errorf("expected status %d, got %d", status, f.status)
	}
	if f.last.Error == nil {
		return errors.New("expected an error body")
	}
	return nil
}

func (f *cartFeature) theErrorMessageContains(substring string) error {
	if f.last.Error == nil {
		return errors.New("expected an error but the request succeeded")
	}
	if !strings.Contains(strings.ToLower(f.last.Error.Message), strings.ToLower(substring)) {
		return fmt.Errorf("expected error message to contain %q, got %q", substring, f.last.Error.Message)
	}
	return nil
}

func (f *cartFeature) myCartHasLineItems(n int) error {
	if err := f.refresh(); err != nil {
		return err
	}
	if got := len(f.cart.Items); got != n {
		return fmt.Errorf("expected %d line items, got %d", n, got)
	}
	return nil
}

func (f *cartFeature) myCartHolds(quantity int, productID string) error {
	if err := f.refresh(); err != nil {
		return err
	}
	line := f.lineFor(productID)
	if line == nil {
		return fmt.Errorf("product %q is not in the cart", productID)
	}
	if line.Quantity != quantity {
		return fmt.Errorf("expected %d of %q, got %d", quantity, productID, line.Quantity)
	}
	return nil
}

func (f *cartFeature) myCartDoesNotHold(productID string) error {
	if err := f.refresh(); err != nil {
		return err
	}
	if f.lineFor(productID) != nil {
		return fmt.Errorf("product %q is still in the cart", productID)
	}
	return nil
}

func (f *cartFeature) theCartSubtotalIs(amount string) error {
	want, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	if f.cart == nil {
		return errors.New("no cart returned")
	}
	if !f.cart.Subtotal.Equal(want) {
		return fmt.Errorf("expected subtotal %s, got %s", want.StringFixed(2), f.cart.Subtotal.StringFixed(2))
	}
	return nil
}

func (f *cartFeature) theCartItemCountIs(n int) error {
	if f.cart == nil {
		return errors.New("no cart returned")
	}
	if f.cart.ItemCount != n {
		return fmt.Errorf("expected item count %d, got %d", n, f.cart.ItemCount)
	}
	return nil
}

func (f *cartFeature) guestHasNoCart(sessionID string) error {
	_, err := f.store.FindCartBySession(context.Background(), sessionID)
	if err == nil {
		return fmt.Errorf("guest %q still has a cart", sessionID)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return nil
}

func (f *cartFeature) myCartIsTheOneIRemembered() error {
	if f.cart == nil || f.cart.ID != f.remembered {
		got := ""
		if f.cart != nil {
			got = f.cart.ID
		}
		return fmt.Errorf("expected cart %q, got %q", f.remembered, got)
	}
	return nil
}

func (f *cartFeature) theRememberedCartStillExists() error {
	if _, err := f.store.FindCartByID(context.Background(), f.remembered); err != nil {
		return fmt.Errorf("cart %q: %w", f.remembered, err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	f := &cartFeature{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		f.reset()
		return ctx, nil
	})

	// Catalog
	ctx.Step(`^an active product "([^"]*)" priced at "([^"]*)"$`, f.anActiveProduct)
	ctx.Step(`^a draft product "([^"]*)" priced at "([^"]*)"$`, f.aDraftProduct)
	ctx.Step(`^a paid course "([^"]*)" priced at "([^"]*)"$`, f.aPaidCourse)
	ctx.Step(`^a free course "([^"]*)"$`, f.aFreeCourse)
	ctx.Step(`^user "([^"]*)" is enrolled in "([^"]*)"$`, f.userIsEnrolled)

	// Identity
	ctx.Step(`^I am guest "([^"]*)"$`, f.iAmGuest)
	ctx.Step(`^I am signed in as "([^"]*)"$`, f.iAmSignedInAs)
	ctx.Step(`^I am anonymous$`, f.iAmAnonymous)
	ctx.Step(`^I sign in as "([^"]*)" from guest "([^"]*)"$`, f.iSignInFromGuest)

	// Actions
	ctx.Step(`^I add (\d+) of product "([^"]*)"$`, f.iAddProduct)
	ctx.Step(`^I add course "([^"]*)"$`, f.iAddCourse)
	ctx.Step(`^I set the quantity of product "([^"]*)" to (\d+)$`, f.iSetQuantity)
	ctx.Step(`^I remove product "([^"]*)"$`, f.iRemoveProduct)
	ctx.Step(`^I clear my cart$`, f.iClearMyCart)
	ctx.Step(`^I view my cart$`, f.iViewMyCart)
	ctx.Step(`^I remember my cart$`, f.iRememberMyCart)

	// Outcomes
	ctx.Step(`^the request succeeds$`, f.theRequestSucceeds)
	ctx.Step(`^the request fails with status (\d+)$`, f.theRequestFailsWithStatus)
	ctx.Step(`^the error message contains "([^"]*)"$`, f.theErrorMessageContains)
	ctx.Step(`^my cart has (\d+) line items?$`, f.myCartHasLineItems)
	ctx.Step(`^my cart holds (\d+) of product "([^"]*)"$`, f.myCartHolds)
	ctx.Step(`^my cart does not hold product "([^"]*)"$`, f.myCartDoesNotHold)
	ctx.Step(`^the cart subtotal is "([^"]*)"$`, f.theCartSubtotalIs)
	ctx.Step(`^the cart item count is (\d+)$`, f.theCartItemCountIs)
	ctx.Step(`^guest "([^"]*)" has no cart$`, f.guestHasNoCart)
	ctx.Step(`^my cart is the one I remembered$`, f.myCartIsTheOneIRemembered)
	ctx.Step(`^the remembered cart still exists$`, f.theRememberedCartStillExists)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"cart.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
