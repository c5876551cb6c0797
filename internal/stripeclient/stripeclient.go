package stripeclient

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/lib/sl"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const metaTransactionID = "transaction_id"

type StripeClient struct {
	sc            *client.API
	webhookSecret string
	successUrl    string
	currency      string
	log           *slog.Logger
}

func New(conf *config.Config, logger *slog.Logger) *StripeClient {
	sc := &client.API{}
	sc.Init(conf.Stripe.APIKey, nil)
	return newClient(sc, conf, logger)
}

// NewWithBackend points the client at a custom API backend, e.g. a local
// stub server.
func NewWithBackend(conf *config.Config, backend stripe.Backend, logger *slog.Logger) *StripeClient {
	sc := &client.API{}
	sc.Init(conf.Stripe.APIKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return newClient(sc, conf, logger)
}

func newClient(sc *client.API, conf *config.Config, logger *slog.Logger) *StripeClient {
	currency := strings.ToLower(conf.Stripe.Currency)
	if currency == "" {
		currency = "eur"
	}
	return &StripeClient{
		sc:            sc,
		webhookSecret: conf.Stripe.WebhookSecret,
		successUrl:    conf.Stripe.SuccessURL,
		currency:      currency,
		log:           logger.With(sl.Module("stripe")),
	}
}

func (s *StripeClient) VerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	parts := strings.Split(header, ",")
	var ts string
	var sigs []string
	for _, p := range parts {
		if strings.HasPrefix(p, "t=") {
			ts = strings.TrimPrefix(p, "t=")
		}
		if strings.HasPrefix(p, "v1=") {
			sigs = append(sigs, strings.TrimPrefix(p, "v1="))
		}
	}
	if ts == "" || len(sigs) == 0 {
		s.log.Warn("missing timestamp or signature in header")
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		s.log.With(
			sl.Err(err),
		).Warn("failed to parse timestamp")
		return false
	}

	eventTime := time.Unix(tsInt, 0)
	timeSince := time.Since(eventTime)
	if timeSince > tolerance {
		s.log.With(
			slog.Time("timestamp", eventTime),
			slog.Duration("age", timeSince),
			slog.Duration("tolerance", tolerance),
		).Warn("webhook timestamp too old")
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	s.log.With(
		sl.Secret("secret", s.webhookSecret),
	).Warn("signature mismatch")
	return false
}

// CompletedTransaction returns the ledger transaction paid by a
// checkout.session.completed event, or an empty string for any other event.
func (s *StripeClient) CompletedTransaction(evt *stripe.Event) string {
	if evt.Type != stripe.EventTypeCheckoutSessionCompleted {
		return ""
	}
	log := s.log.With(
		slog.Any("event_type", evt.Type),
		slog.String("event_id", evt.ID),
		slog.String("session_id", evt.GetObjectValue("id")),
	)
	txID := evt.GetObjectValue("metadata", metaTransactionID)
	if txID == "" {
		log.Warn("checkout session without transaction id")
		return ""
	}
	if status := evt.GetObjectValue("payment_status"); status != string(stripe.CheckoutSessionPaymentStatusPaid) {
		log.With(slog.String("payment_status", status)).Info("checkout session not paid yet")
		return ""
	}
	return txID
}

// CreateCheckout opens a payment session for a pending ledger transaction.
func (s *StripeClient) CreateCheckout(_ context.Context, tx *entity.Transaction, description string) (*entity.Payment, error) {
	log := s.log.With(
		slog.String("transaction_id", tx.ID),
		sl.Amount("amount", tx.Amount),
		slog.String("currency", tx.Currency),
	)
	if s.successUrl == "" {
		return nil, fmt.Errorf("missing success url")
	}
	currency := strings.ToLower(tx.Currency)
	if currency == "" {
		currency = s.currency
	}
	if description == "" {
		description = string(tx.Type)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
					UnitAmount: stripe.Int64(minorUnits(tx.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata:          map[string]string{metaTransactionID: tx.ID},
		SuccessURL:        stripe.String(s.successUrl),
		ClientReferenceID: stripe.String(tx.ID),
	}

	cs, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		err = s.parseErr(err)
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}

	payment := &entity.Payment{
		Id:            cs.ID,
		TransactionId: tx.ID,
		Amount:        tx.Amount,
		Currency:      strings.ToUpper(currency),
		Link:          cs.URL,
	}
	log.With(slog.String("session_id", cs.ID)).Info("payment link created")
	return payment, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
