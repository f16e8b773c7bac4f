package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-donation-backend/internal/config"
	"github.com/tbourn/go-donation-backend/internal/domain"
	"github.com/tbourn/go-donation-backend/internal/repo"
)

// routerGateway is a canned gateway so the full stack can be exercised
// without network access.
type routerGateway struct {
	verifyErr error
}

func (g *routerGateway) CreatePaymentIntent(context.Context, int64, string, map[string]string) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: "pi_router", ClientSecret: "pi_router_secret"}, nil
}

func (g *routerGateway) GetPaymentIntent(context.Context, string) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: "pi_router", Status: stripe.PaymentIntentStatusProcessing}, nil
}

func (g *routerGateway) FindCustomerByEmail(context.Context, string) (*stripe.Customer, error) {
	return nil, nil
}

func (g *routerGateway) CreateCustomer(context.Context, domain.DonorProfile, map[string]string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_router"}, nil
}

func (g *routerGateway) GetCustomer(context.Context, string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_router"}, nil
}

func (g *routerGateway) CreateRecurringPrice(context.Context, int64, string, domain.Frequency) (*stripe.Price, error) {
	return &stripe.Price{ID: "price_router"}, nil
}

func (g *routerGateway) CreateSubscription(context.Context, string, string, map[string]string) (*stripe.Subscription, error) {
	return &stripe.Subscription{
		ID: "sub_router",
		LatestInvoice: &stripe.Invoice{
			PaymentIntent: &stripe.PaymentIntent{ClientSecret: "sub_router_secret"},
		},
	}, nil
}

func (g *routerGateway) GetSubscription(context.Context, string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: "sub_router"}, nil
}

func (g *routerGateway) GetInvoice(context.Context, string) (*stripe.Invoice, error) {
	return &stripe.Invoice{ID: "in_router"}, nil
}

func (g *routerGateway) VerifyEvent(payload []byte, _ string) (stripe.Event, error) {
	if g.verifyErr != nil {
		return stripe.Event{}, g.verifyErr
	}
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return stripe.Event{}, err
	}
	if ev.Data == nil {
		ev.Data = &stripe.EventData{Raw: json.RawMessage(`{}`)}
	}
	return ev, nil
}

func testConfig() config.Config {
	return config.Config{
		Port:              "8080",
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		GinMode:           "test",
		LogLevel:          "info",
		APIBasePath:       "/api",
		DBPath:            "donations.db",
		Currency:          "usd",
		Stripe: config.StripeConfig{
			SecretKey:      "sk_test_x",
			WebhookSecret:  "whsec_x",
			PublishableKey: "pk_test_router",
		},
		RateRPS:   1000,
		RateBurst: 1000,
		Security: config.SecurityConfig{
			EnableHSTS: false,
		},
	}
}

func newRouter(t *testing.T, gw *routerGateway) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, db, gw, nil, testConfig())
	return r
}

func TestRouter_HealthAndProbes(t *testing.T) {
	r := newRouter(t, &routerGateway{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test-db", nil)
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/test-db status=%d body=%s", w.Code, w.Body.String())
	}
	var probe map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &probe); err != nil {
		t.Fatalf("json: %v", err)
	}
	if probe["status"] != "ok" || probe["readyState"] != float64(1) {
		t.Fatalf("unexpected probe: %v", probe)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", w.Code)
	}
}

func TestRouter_ConfigEndpoint(t *testing.T) {
	r := newRouter(t, &routerGateway{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp["publishableKey"] != "pk_test_router" || resp["currency"] != "usd" {
		t.Fatalf("unexpected config: %v", resp)
	}
}

func TestRouter_CreateDonationEndToEnd(t *testing.T) {
	r := newRouter(t, &routerGateway{})

	body := `{"amount": 25, "frequency": "one-time", "donor": {"email": "router@x.com", "name": "Ada"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/create-payment-intent", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp["clientSecret"] != "pi_router_secret" || resp["paymentIntentId"] != "pi_router" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

func TestRouter_WebhookBadSignature(t *testing.T) {
	r := newRouter(t, &routerGateway{verifyErr: errors.New("bad signature")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRouter_FallbackEnvelopes(t *testing.T) {
	r := newRouter(t, &routerGateway{})

	// Unknown route → JSON 404 envelope.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er["code"] != "not_found" {
		t.Fatalf("unexpected envelope: %v", er)
	}

	// Wrong method → 405.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/config", nil)
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRouter_CORSDefaultAllowsAll(t *testing.T) {
	r := newRouter(t, &routerGateway{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://donate.example.org")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO=%q, want *", got)
	}
}
