package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/checkout"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIdempotencyKey = "0123456789abcdef-key"

type fakeCheckout struct {
	calls int
	in    checkout.PurchaseInput
	res   checkout.PurchaseResult
	err   error
}

func (f *fakeCheckout) Purchase(_ context.Context, in checkout.PurchaseInput) (checkout.PurchaseResult, error) {
	f.calls++
	f.in = in
	return f.res, f.err
}

type fakeSettlement struct {
	payload   []byte
	signature string
	err       error
}

func (f *fakeSettlement) HandleCallback(_ context.Context, payload []byte, signature string) error {
	f.payload = payload
	f.signature = signature
	return f.err
}

type fakeCatalog struct {
	event     domain.Event
	promo     domain.Promocode
	err       error
	companyID uuid.UUID
	create    catalog.CreateEventInput
	update    catalog.UpdateEventInput
	removed   uuid.UUID
	active    *bool
}

func (f *fakeCatalog) CreateEvent(_ context.Context, companyID uuid.UUID, in catalog.CreateEventInput) (domain.Event, error) {
	f.companyID = companyID
	f.create = in
	return f.event, f.err
}

func (f *fakeCatalog) UpdateEvent(_ context.Context, _ uuid.UUID, in catalog.UpdateEventInput) (domain.Event, error) {
	f.update = in
	return f.event, f.err
}

func (f *fakeCatalog) RemoveEvent(_ context.Context, eventID uuid.UUID) error {
	f.removed = eventID
	return f.err
}

func (f *fakeCatalog) CreatePromocode(_ context.Context, _ uuid.UUID, _ catalog.PromocodeInput) (domain.Promocode, error) {
	return f.promo, f.err
}

func (f *fakeCatalog) SetPromocodeActive(_ context.Context, _, _ uuid.UUID, active bool) (domain.Promocode, error) {
	f.active = &active
	p := f.promo
	p.IsActive = active
	return p, f.err
}

type fakeTickets struct {
	doc ticketdoc.Document
	err error
}

func (f *fakeTickets) Download(context.Context, uuid.UUID, uuid.UUID) (ticketdoc.Document, error) {
	return f.doc, f.err
}

type memReplayer struct {
	mu      sync.Mutex
	claimed map[string]bool
	stored  map[string]idempotency.Response
}

func newMemReplayer() *memReplayer {
	return &memReplayer{claimed: map[string]bool{}, stored: map[string]idempotency.Response{}}
}

func (m *memReplayer) Begin(_ context.Context, key string) (*idempotency.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.stored[key]; ok {
		return &r, nil
	}
	if m.claimed[key] {
		return nil, idempotency.ErrInProgress
	}
	m.claimed[key] = true
	return nil, nil
}

func (m *memReplayer) Set(_ context.Context, key string, resp idempotency.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, key)
	m.stored[key] = resp
	return nil
}

func (m *memReplayer) Abort(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, key)
	return nil
}

type allowAll struct{ deny bool }

func (a allowAll) Allow(context.Context, string, int, time.Duration) bool { return !a.deny }

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	checkout   *fakeCheckout
	settlement *fakeSettlement
	catalog    *fakeCatalog
	tickets    *fakeTickets
	idemp      *memReplayer
	ready      map[string]Pinger
	limiter    allowAll
}

func newTestServer() *testServer {
	return &testServer{
		checkout:   &fakeCheckout{},
		settlement: &fakeSettlement{},
		catalog:    &fakeCatalog{},
		tickets:    &fakeTickets{},
		idemp:      newMemReplayer(),
		ready:      map[string]Pinger{},
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	h := NewHandlers(Deps{
		Checkout:   s.checkout,
		Settlement: s.settlement,
		Catalog:    s.catalog,
		Tickets:    s.tickets,
		Idemp:      s.idemp,
		Ready:      s.ready,
		Logger:     observability.NewLogger(),
	})
	rec := httptest.NewRecorder()
	SetupRouter(h, observability.NewLogger(), s.limiter).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func purchaseBody() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    uuid.New().String(),
		"user_email": "buyer@example.com",
		"quantity":   2,
		"promocode":  "SUMMER",
	}
}

func TestPurchaseTickets_Created(t *testing.T) {
	s := newTestServer()
	ticketIDs := []uuid.UUID{uuid.New(), uuid.New()}
	s.checkout.res = checkout.PurchaseResult{
		ClientSecret:  "pi_123_secret",
		TransactionID: "pi_123",
		TicketIDs:     ticketIDs,
		UnitPrice:     decimal.RequireFromString("24"),
		Total:         decimal.RequireFromString("48"),
	}
	eventID := uuid.New()
	body := purchaseBody()

	rec := s.do(t, http.MethodPost, "/v1/events/"+eventID.String()+"/tickets", body,
		map[string]string{"Idempotency-Key": testIdempotencyKey})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp purchaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pi_123_secret", resp.ClientSecret)
	assert.Equal(t, "pi_123", resp.TransactionID)
	assert.Equal(t, ticketIDs, resp.TicketIDs)
	assert.True(t, resp.Total.Equal(decimal.NewFromInt(48)))

	assert.Equal(t, eventID, s.checkout.in.EventID)
	assert.Equal(t, 2, s.checkout.in.Quantity)
	assert.Equal(t, "SUMMER", s.checkout.in.Promocode)
	assert.Equal(t, "buyer@example.com", s.checkout.in.User.Email)
}

func TestPurchaseTickets_ReplaysStoredResponse(t *testing.T) {
	s := newTestServer()
	s.checkout.res = checkout.PurchaseResult{TransactionID: "pi_1", Total: decimal.NewFromInt(10)}
	path := "/v1/events/" + uuid.New().String() + "/tickets"
	body := purchaseBody()
	headers := map[string]string{"Idempotency-Key": testIdempotencyKey}

	first := s.do(t, http.MethodPost, path, body, headers)
	second := s.do(t, http.MethodPost, path, body, headers)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, s.checkout.calls)
}

func TestPurchaseTickets_FailureReleasesIdempotencyKey(t *testing.T) {
	s := newTestServer()
	s.checkout.err = &domain.InsufficientInventoryError{Remaining: 1}
	path := "/v1/events/" + uuid.New().String() + "/tickets"
	body := purchaseBody()
	headers := map[string]string{"Idempotency-Key": testIdempotencyKey}

	rec := s.do(t, http.MethodPost, path, body, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "Only 1 tickets remaining", resp.Error)
	assert.Equal(t, codeInsufficientInventory, resp.Code)

	s.checkout.err = nil
	s.checkout.res = checkout.PurchaseResult{TransactionID: "pi_2"}
	rec = s.do(t, http.MethodPost, path, body, headers)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, s.checkout.calls)
}

func TestPurchaseTickets_InProgressKey(t *testing.T) {
	s := newTestServer()
	body := purchaseBody()
	s.idemp.claimed[body["user_id"].(string)+":"+testIdempotencyKey] = true

	rec := s.do(t, http.MethodPost, "/v1/events/"+uuid.New().String()+"/tickets", body,
		map[string]string{"Idempotency-Key": testIdempotencyKey})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeIdempotencyInProgress, decodeError(t, rec).Code)
	assert.Zero(t, s.checkout.calls)
}

func TestPurchaseTickets_RequestValidation(t *testing.T) {
	path := "/v1/events/" + uuid.New().String() + "/tickets"
	headers := map[string]string{"Idempotency-Key": testIdempotencyKey}

	tests := []struct {
		name    string
		path    string
		body    interface{}
		headers map[string]string
		code    string
	}{
		{name: "missing key", path: path, body: purchaseBody(), code: codeIdempotencyRequired},
		{name: "short key", path: path, body: purchaseBody(), headers: map[string]string{"Idempotency-Key": "short"}, code: codeIdempotencyRequired},
		{name: "bad event id", path: "/v1/events/nope/tickets", body: purchaseBody(), headers: headers, code: codeInvalidID},
		{name: "bad json", path: path, body: []byte("{"), headers: headers, code: codeInvalidRequestBody},
		{name: "zero quantity", path: path, body: map[string]interface{}{
			"user_id": uuid.New().String(), "user_email": "a@b.c", "quantity": 0,
		}, headers: headers, code: codeInvalidInput},
		{name: "missing email", path: path, body: map[string]interface{}{
			"user_id": uuid.New().String(), "quantity": 1,
		}, headers: headers, code: codeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			rec := s.do(t, http.MethodPost, tt.path, tt.body, tt.headers)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Zero(t, s.checkout.calls)
		})
	}
}

func TestPurchaseTickets_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"promocode not found", domain.ErrPromocodeNotFound, http.StatusBadRequest, codePromocodeNotFound},
		{"promocode inactive", domain.ErrPromocodeInactive, http.StatusBadRequest, codePromocodeInactive},
		{"no payout account", domain.ErrPayoutAccountMissing, http.StatusBadRequest, codePayoutAccountMissing},
		{"event missing", errors.Wrap(domain.ErrNotFound, "get event"), http.StatusNotFound, codeNotFound},
		{"contention", domain.ErrSerializationFailure, http.StatusConflict, codeConflict},
		{"processor down", errors.Mark(errors.New("stripe: 500"), domain.ErrPaymentProcessor), http.StatusBadGateway, codePaymentProcessor},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, codeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			s.checkout.err = tt.err
			rec := s.do(t, http.MethodPost, "/v1/events/"+uuid.New().String()+"/tickets", purchaseBody(),
				map[string]string{"Idempotency-Key": testIdempotencyKey})
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestPaymentWebhook(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		s := newTestServer()
		payload := []byte(`{"type":"payment_intent.succeeded"}`)
		rec := s.do(t, http.MethodPost, "/v1/payments/webhook", payload,
			map[string]string{"Stripe-Signature": "t=1,v1=abc"})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
		assert.Equal(t, payload, s.settlement.payload)
		assert.Equal(t, "t=1,v1=abc", s.settlement.signature)
	})

	t.Run("invalid signature", func(t *testing.T) {
		s := newTestServer()
		s.settlement.err = errors.Mark(errors.New("no valid signature"), domain.ErrInvalidWebhookSignature)
		rec := s.do(t, http.MethodPost, "/v1/payments/webhook", []byte(`{}`), nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, codeInvalidSignature, resp.Code)
		assert.Contains(t, resp.Error, "Webhook Error")
	})

	t.Run("processing failure asks for redelivery", func(t *testing.T) {
		s := newTestServer()
		s.settlement.err = errors.New("db down")
		rec := s.do(t, http.MethodPost, "/v1/payments/webhook", []byte(`{}`), nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("not rate limited", func(t *testing.T) {
		s := newTestServer()
		s.limiter = allowAll{deny: true}
		rec := s.do(t, http.MethodPost, "/v1/payments/webhook", []byte(`{}`), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCreateEvent(t *testing.T) {
	s := newTestServer()
	companyID := uuid.New()
	publishAt := time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC)
	s.catalog.event = domain.Event{
		ID:              uuid.New(),
		CompanyID:       companyID,
		Title:           "Concert",
		TicketsQuantity: 100,
		TicketPrice:     decimal.RequireFromString("25.50"),
		Status:          domain.EventStatusDraft,
		PublishDate:     &publishAt,
	}

	rec := s.do(t, http.MethodPost, "/v1/companies/"+companyID.String()+"/events", map[string]interface{}{
		"title":            "Concert",
		"location":         "Main hall",
		"start_date":       "2026-12-01T19:00:00Z",
		"tickets_quantity": 100,
		"ticket_price":     "25.50",
		"publish_date":     "2026-11-01T10:00:00Z",
		"promocodes": []map[string]interface{}{
			{"code": "EARLY", "discount_percent": 10, "expiration_date": "2026-11-15T00:00:00Z"},
		},
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DRAFT", resp.Status)
	assert.Equal(t, companyID, resp.CompanyID)

	assert.Equal(t, companyID, s.catalog.companyID)
	assert.True(t, s.catalog.create.TicketPrice.Equal(decimal.RequireFromString("25.5")))
	require.NotNil(t, s.catalog.create.PublishDate)
	assert.True(t, s.catalog.create.PublishDate.Equal(publishAt))
	require.Len(t, s.catalog.create.Promocodes, 1)
	assert.Equal(t, "EARLY", s.catalog.create.Promocodes[0].Code)
	assert.Equal(t, 10, s.catalog.create.Promocodes[0].DiscountPercent)
}

func TestCreateEvent_PayoutAccountMissing(t *testing.T) {
	s := newTestServer()
	s.catalog.err = domain.ErrPayoutAccountMissing
	rec := s.do(t, http.MethodPost, "/v1/companies/"+uuid.New().String()+"/events", map[string]interface{}{
		"title": "Concert",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrPayoutAccountMissing.Error(), decodeError(t, rec).Error)
}

func TestUpdateEvent(t *testing.T) {
	t.Run("partial update", func(t *testing.T) {
		s := newTestServer()
		s.catalog.event = domain.Event{ID: uuid.New(), Status: domain.EventStatusPublished}
		rec := s.do(t, http.MethodPatch, "/v1/events/"+uuid.New().String(), map[string]interface{}{
			"tickets_quantity": 50,
			"status":           "published",
		}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, s.catalog.update.TicketsQuantity)
		assert.Equal(t, 50, *s.catalog.update.TicketsQuantity)
		require.NotNil(t, s.catalog.update.Status)
		assert.Equal(t, domain.EventStatusPublished, *s.catalog.update.Status)
		assert.Nil(t, s.catalog.update.Title)
	})

	t.Run("unknown status", func(t *testing.T) {
		s := newTestServer()
		rec := s.do(t, http.MethodPatch, "/v1/events/"+uuid.New().String(), map[string]interface{}{
			"status": "ARCHIVED",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, codeInvalidInput, decodeError(t, rec).Code)
	})

	t.Run("already published", func(t *testing.T) {
		s := newTestServer()
		s.catalog.err = domain.ErrEventPublished
		rec := s.do(t, http.MethodPatch, "/v1/events/"+uuid.New().String(), map[string]interface{}{
			"title": "New title",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, codeEventPublished, decodeError(t, rec).Code)
	})
}

func TestRemoveEvent(t *testing.T) {
	s := newTestServer()
	eventID := uuid.New()
	rec := s.do(t, http.MethodDelete, "/v1/events/"+eventID.String(), nil, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, eventID, s.catalog.removed)

	s.catalog.err = domain.ErrNotFound
	rec = s.do(t, http.MethodDelete, "/v1/events/"+eventID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPromocodeEndpoints(t *testing.T) {
	s := newTestServer()
	eventID := uuid.New()
	s.catalog.promo = domain.Promocode{ID: uuid.New(), EventID: eventID, Code: "VIP", DiscountPercent: 20, IsActive: true}

	rec := s.do(t, http.MethodPost, "/v1/events/"+eventID.String()+"/promocodes", map[string]interface{}{
		"code":             "VIP",
		"discount_percent": 20,
		"expiration_date":  "2026-12-31T00:00:00Z",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	path := "/v1/events/" + eventID.String() + "/promocodes/" + s.catalog.promo.ID.String()
	rec = s.do(t, http.MethodPatch, path, map[string]interface{}{"is_active": false}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.catalog.active)
	assert.False(t, *s.catalog.active)
	var resp promocodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsActive)

	rec = s.do(t, http.MethodPatch, path, map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadTicket(t *testing.T) {
	s := newTestServer()
	s.tickets.doc = ticketdoc.Document{Filename: "ticket-ABC.pdf", Content: []byte("%PDF-1.3 test")}
	path := "/v1/tickets/" + uuid.New().String() + "/pdf"

	rec := s.do(t, http.MethodGet, path+"?user_id="+uuid.New().String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ticket-ABC.pdf")
	assert.Equal(t, "%PDF-1.3 test", rec.Body.String())

	rec = s.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.tickets.err = domain.ErrNotFound
	rec = s.do(t, http.MethodGet, path+"?user_id="+uuid.New().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer()
	s.limiter = allowAll{deny: true}
	rec := s.do(t, http.MethodDelete, "/v1/events/"+uuid.New().String(), nil, nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, codeRateLimited, decodeError(t, rec).Code)
	assert.Equal(t, uuid.Nil, s.catalog.removed)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/v1/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.ready["crdb"] = pingerFunc(func(context.Context) error { return nil })
	rec = s.do(t, http.MethodGet, "/v1/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.ready["redis"] = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	rec = s.do(t, http.MethodGet, "/v1/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "redis not ready", decodeError(t, rec).Error)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer()
	s.do(t, http.MethodGet, "/v1/healthz", nil, nil)
	rec := s.do(t, http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ticketing_requests_total")
}
