package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-donation-backend/internal/domain"
	"github.com/tbourn/go-donation-backend/internal/notify"
	"github.com/tbourn/go-donation-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeGateway returns canned gateway responses and records what was asked.
type fakeGateway struct {
	paymentIntent *stripe.PaymentIntent
	customer      *stripe.Customer
	foundCustomer *stripe.Customer
	price         *stripe.Price
	subscription  *stripe.Subscription
	invoice       *stripe.Invoice
	err           error

	createdIntents   int
	createdCustomers int
	lastIntentAmount int64
	lastIntentMeta   map[string]string
	lastSubMeta      map[string]string
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, amountMinor int64, _ string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	f.createdIntents++
	f.lastIntentAmount = amountMinor
	f.lastIntentMeta = metadata
	return f.paymentIntent, f.err
}

func (f *fakeGateway) GetPaymentIntent(context.Context, string) (*stripe.PaymentIntent, error) {
	return f.paymentIntent, f.err
}

func (f *fakeGateway) FindCustomerByEmail(context.Context, string) (*stripe.Customer, error) {
	return f.foundCustomer, f.err
}

func (f *fakeGateway) CreateCustomer(_ context.Context, _ domain.DonorProfile, _ map[string]string) (*stripe.Customer, error) {
	f.createdCustomers++
	return f.customer, f.err
}

func (f *fakeGateway) GetCustomer(context.Context, string) (*stripe.Customer, error) {
	return f.customer, f.err
}

func (f *fakeGateway) CreateRecurringPrice(context.Context, int64, string, domain.Frequency) (*stripe.Price, error) {
	return f.price, f.err
}

func (f *fakeGateway) CreateSubscription(_ context.Context, _, _ string, metadata map[string]string) (*stripe.Subscription, error) {
	f.lastSubMeta = metadata
	return f.subscription, f.err
}

func (f *fakeGateway) GetSubscription(context.Context, string) (*stripe.Subscription, error) {
	return f.subscription, f.err
}

func (f *fakeGateway) GetInvoice(context.Context, string) (*stripe.Invoice, error) {
	return f.invoice, f.err
}

func (f *fakeGateway) VerifyEvent([]byte, string) (stripe.Event, error) {
	return stripe.Event{}, f.err
}

type fakeNotifier struct {
	receipts []notify.Receipt
	failures []notify.Failure
	err      error
}

func (f *fakeNotifier) SendReceipt(_ context.Context, r notify.Receipt) error {
	f.receipts = append(f.receipts, r)
	return f.err
}

func (f *fakeNotifier) SendFailure(_ context.Context, fl notify.Failure) error {
	f.failures = append(f.failures, fl)
	return f.err
}

func testProfile(email string) domain.DonorProfile {
	return domain.DonorProfile{Email: email, Name: "Ada Lovelace"}
}

func TestCreate_RejectsInvalidInputWithoutSideEffects(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := NewDonationService(db, gw, "usd")
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateDonationInput
		want error
	}{
		{"amount below minimum", CreateDonationInput{Amount: 0.5, Frequency: domain.FrequencyOneTime, Profile: testProfile("a@x.com")}, ErrInvalidAmount},
		{"negative amount", CreateDonationInput{Amount: -5, Frequency: domain.FrequencyOneTime, Profile: testProfile("a@x.com")}, ErrInvalidAmount},
		{"unknown frequency", CreateDonationInput{Amount: 10, Frequency: "fortnightly", Profile: testProfile("a@x.com")}, ErrInvalidFrequency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if gw.createdIntents != 0 || gw.createdCustomers != 0 {
		t.Fatalf("gateway touched on invalid input: %+v", gw)
	}
	var donors int64
	db.Model(&domain.Donor{}).Count(&donors)
	if donors != 0 {
		t.Fatalf("donor written on invalid input")
	}
}

func TestCreate_OneTime(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{
		paymentIntent: &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"},
	}
	svc := NewDonationService(db, gw, "usd")

	res, err := svc.Create(context.Background(), CreateDonationInput{
		Amount:    25.505,
		Frequency: domain.FrequencyOneTime,
		Profile:   testProfile("one@x.com"),
		Metadata:  map[string]string{"campaign": "spring"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ClientSecret != "pi_1_secret" || res.PaymentIntentID != "pi_1" || res.SubscriptionID != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	// 25.505 dollars rounds to 2551 cents.
	if gw.lastIntentAmount != 2551 {
		t.Fatalf("minor units = %d, want 2551", gw.lastIntentAmount)
	}
	if gw.lastIntentMeta["frequency"] != "one-time" || gw.lastIntentMeta["email"] != "one@x.com" || gw.lastIntentMeta["campaign"] != "spring" {
		t.Fatalf("metadata not enriched: %+v", gw.lastIntentMeta)
	}

	if _, err := repo.GetDonorByEmail(context.Background(), db, "one@x.com"); err != nil {
		t.Fatalf("donor not persisted: %v", err)
	}
}

func TestCreate_RecurringExistingCustomer(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{
		foundCustomer: &stripe.Customer{ID: "cus_exist"},
		price:         &stripe.Price{ID: "price_1"},
		subscription: &stripe.Subscription{
			ID: "sub_1",
			LatestInvoice: &stripe.Invoice{
				PaymentIntent: &stripe.PaymentIntent{ClientSecret: "sub_secret"},
			},
		},
	}
	svc := NewDonationService(db, gw, "usd")

	res, err := svc.Create(context.Background(), CreateDonationInput{
		Amount:    10,
		Frequency: domain.FrequencyMonthly,
		Profile:   testProfile("rec@x.com"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ClientSecret != "sub_secret" || res.SubscriptionID != "sub_1" || res.PaymentIntentID != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gw.createdCustomers != 0 {
		t.Fatal("created a customer although one existed")
	}
	if gw.lastSubMeta["frequency"] != "monthly" {
		t.Fatalf("subscription metadata: %+v", gw.lastSubMeta)
	}

	donor, err := repo.GetDonorByEmail(context.Background(), db, "rec@x.com")
	if err != nil {
		t.Fatalf("donor not persisted: %v", err)
	}
	if donor.StripeCustomerID != "cus_exist" {
		t.Fatalf("customer reference not stored: %+v", donor)
	}
}

func TestCreate_RecurringNewCustomer(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{
		customer: &stripe.Customer{ID: "cus_new"},
		price:    &stripe.Price{ID: "price_1"},
		subscription: &stripe.Subscription{
			ID: "sub_2",
			LatestInvoice: &stripe.Invoice{
				PaymentIntent: &stripe.PaymentIntent{ClientSecret: "sub_secret_2"},
			},
		},
	}
	svc := NewDonationService(db, gw, "usd")

	if _, err := svc.Create(context.Background(), CreateDonationInput{
		Amount:    50,
		Frequency: domain.FrequencyYearly,
		Profile:   testProfile("new@x.com"),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if gw.createdCustomers != 1 {
		t.Fatalf("expected customer creation, got %d", gw.createdCustomers)
	}

	donor, err := repo.GetDonorByEmail(context.Background(), db, "new@x.com")
	if err != nil || donor.StripeCustomerID != "cus_new" {
		t.Fatalf("donor: %+v err: %v", donor, err)
	}
}

func TestCreate_RecurringMissingClientSecret(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{
		foundCustomer: &stripe.Customer{ID: "cus_1"},
		price:         &stripe.Price{ID: "price_1"},
		subscription:  &stripe.Subscription{ID: "sub_bare"},
	}
	svc := NewDonationService(db, gw, "usd")

	_, err := svc.Create(context.Background(), CreateDonationInput{
		Amount:    10,
		Frequency: domain.FrequencyWeekly,
		Profile:   testProfile("bare@x.com"),
	})
	if !errors.Is(err, ErrMissingClientSecret) {
		t.Fatalf("got %v, want ErrMissingClientSecret", err)
	}
}

func TestVerifyPayment_NonSucceededPassesStatusThrough(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{
		paymentIntent: &stripe.PaymentIntent{ID: "pi_p", Status: stripe.PaymentIntentStatusProcessing},
	}
	svc := NewDonationService(db, gw, "usd")

	status, err := svc.VerifyPayment(context.Background(), "pi_p")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if status != string(stripe.PaymentIntentStatusProcessing) {
		t.Fatalf("status = %q", status)
	}
	var n int64
	db.Model(&domain.Donation{}).Count(&n)
	if n != 0 {
		t.Fatal("donation written for non-succeeded intent")
	}
}

func TestVerifyPayment_RecordsDonation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	donor, err := repo.EnsureDonor(ctx, db, testProfile("v@x.com"))
	if err != nil {
		t.Fatalf("seed donor: %v", err)
	}

	gw := &fakeGateway{
		paymentIntent: &stripe.PaymentIntent{
			ID:       "pi_v",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Amount:   2500,
			Currency: "usd",
			Metadata: map[string]string{"email": "v@x.com", "frequency": "one-time"},
			LatestCharge: &stripe.Charge{
				ReceiptURL: "https://pay.stripe.com/receipts/v",
			},
		},
	}
	svc := NewDonationService(db, gw, "usd")

	status, err := svc.VerifyPayment(ctx, "pi_v")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if status != string(domain.StatusSucceeded) {
		t.Fatalf("status = %q", status)
	}

	var d domain.Donation
	if err := db.First(&d, "stripe_payment_intent_id = ?", "pi_v").Error; err != nil {
		t.Fatalf("load donation: %v", err)
	}
	if d.DonorID != donor.ID || d.Amount != 25 || d.ReceiptURL != "https://pay.stripe.com/receipts/v" {
		t.Fatalf("unexpected donation: %+v", d)
	}

	// Second verification is a no-op.
	status, err = svc.VerifyPayment(ctx, "pi_v")
	if err != nil || status != VerifyStatusAlreadyProcessed {
		t.Fatalf("repeat verify: %q %v", status, err)
	}
	var n int64
	db.Model(&domain.Donation{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 donation, got %d", n)
	}
}

func TestVerifyPayment_EmailFromCustomerRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if _, err := repo.EnsureDonor(ctx, db, testProfile("cust@x.com")); err != nil {
		t.Fatalf("seed donor: %v", err)
	}

	gw := &fakeGateway{
		paymentIntent: &stripe.PaymentIntent{
			ID:       "pi_c",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Amount:   1000,
			Currency: "usd",
			Customer: &stripe.Customer{ID: "cus_c"},
		},
		customer: &stripe.Customer{ID: "cus_c", Email: "cust@x.com"},
	}
	svc := NewDonationService(db, gw, "usd")

	if status, err := svc.VerifyPayment(ctx, "pi_c"); err != nil || status != string(domain.StatusSucceeded) {
		t.Fatalf("VerifyPayment: %q %v", status, err)
	}
}

func TestVerifyPayment_UnknownDonor(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{
		paymentIntent: &stripe.PaymentIntent{
			ID:       "pi_u",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Metadata: map[string]string{"email": "ghost@x.com"},
		},
	}
	svc := NewDonationService(db, gw, "usd")

	if _, err := svc.VerifyPayment(context.Background(), "pi_u"); !errors.Is(err, ErrDonorNotFound) {
		t.Fatalf("got %v, want ErrDonorNotFound", err)
	}
}

func TestVerifyPayment_NoEmailAnywhere(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{
		paymentIntent: &stripe.PaymentIntent{
			ID:     "pi_n",
			Status: stripe.PaymentIntentStatusSucceeded,
		},
	}
	svc := NewDonationService(db, gw, "usd")

	if _, err := svc.VerifyPayment(context.Background(), "pi_n"); !errors.Is(err, ErrCustomerEmailMissing) {
		t.Fatalf("got %v, want ErrCustomerEmailMissing", err)
	}
}

func TestListDonations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	donor, err := repo.EnsureDonor(ctx, db, testProfile("list@x.com"))
	if err != nil {
		t.Fatalf("seed donor: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := repo.CreateDonation(ctx, db, &domain.Donation{
			DonorID:   donor.ID,
			Amount:    10,
			Currency:  "usd",
			Frequency: domain.FrequencyOneTime,
			Status:    domain.StatusSucceeded,
		}); err != nil {
			t.Fatalf("seed donation: %v", err)
		}
	}

	svc := NewDonationService(db, &fakeGateway{}, "usd")
	page, err := svc.ListDonations(ctx, "list@x.com", 1, 2)
	if err != nil {
		t.Fatalf("ListDonations: %v", err)
	}
	if page.Total != 3 || len(page.Donations) != 2 || page.LastChange == nil {
		t.Fatalf("unexpected page: total=%d rows=%d last=%v", page.Total, len(page.Donations), page.LastChange)
	}

	if _, err := svc.ListDonations(ctx, "ghost@x.com", 1, 10); !errors.Is(err, ErrDonorNotFound) {
		t.Fatalf("got %v, want ErrDonorNotFound", err)
	}
}

func TestDonationsETag(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	donor, err := repo.EnsureDonor(ctx, db, testProfile("etag@x.com"))
	if err != nil {
		t.Fatalf("seed donor: %v", err)
	}

	svc := NewDonationService(db, &fakeGateway{}, "usd")

	if _, err := svc.DonationsETag(ctx, "ghost@x.com"); !errors.Is(err, ErrDonorNotFound) {
		t.Fatalf("got %v, want ErrDonorNotFound", err)
	}

	first, err := svc.DonationsETag(ctx, "etag@x.com")
	if err != nil {
		t.Fatalf("DonationsETag: %v", err)
	}
	if !strings.HasPrefix(first, `W/"donations:`+donor.ID) {
		t.Fatalf("etag %q missing weak prefix with donor id", first)
	}

	// No writes between calls, so the validator must not move.
	again, err := svc.DonationsETag(ctx, "etag@x.com")
	if err != nil {
		t.Fatalf("DonationsETag: %v", err)
	}
	if again != first {
		t.Fatalf("etag changed without writes: %q -> %q", first, again)
	}

	if _, err := repo.CreateDonation(ctx, db, &domain.Donation{
		DonorID:   donor.ID,
		Amount:    20,
		Currency:  "usd",
		Frequency: domain.FrequencyMonthly,
		Status:    domain.StatusSucceeded,
	}); err != nil {
		t.Fatalf("seed donation: %v", err)
	}

	after, err := svc.DonationsETag(ctx, "etag@x.com")
	if err != nil {
		t.Fatalf("DonationsETag: %v", err)
	}
	if after == first {
		t.Fatalf("etag %q unchanged after new donation", after)
	}
}
