package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/checkout"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"github.com/shopspring/decimal"
)

type Checkout interface {
	Purchase(ctx context.Context, in checkout.PurchaseInput) (checkout.PurchaseResult, error)
}

type Settlement interface {
	HandleCallback(ctx context.Context, payload []byte, signature string) error
}

type Catalog interface {
	CreateEvent(ctx context.Context, companyID uuid.UUID, in catalog.CreateEventInput) (domain.Event, error)
	UpdateEvent(ctx context.Context, eventID uuid.UUID, in catalog.UpdateEventInput) (domain.Event, error)
	RemoveEvent(ctx context.Context, eventID uuid.UUID) error
	CreatePromocode(ctx context.Context, eventID uuid.UUID, in catalog.PromocodeInput) (domain.Promocode, error)
	SetPromocodeActive(ctx context.Context, eventID, promocodeID uuid.UUID, active bool) (domain.Promocode, error)
}

type TicketDocuments interface {
	Download(ctx context.Context, ticketID, userID uuid.UUID) (ticketdoc.Document, error)
}

type Replayer interface {
	Begin(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
	Abort(ctx context.Context, key string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Checkout   Checkout
	Settlement Settlement
	Catalog    Catalog
	Tickets    TicketDocuments
	Idemp      Replayer
	// Readiness checks keyed by dependency name.
	Ready  map[string]Pinger
	Logger observability.Logger
}

type Handlers struct {
	checkout   Checkout
	settlement Settlement
	catalog    Catalog
	tickets    TicketDocuments
	idemp      Replayer
	ready      map[string]Pinger
	logger     observability.Logger
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		checkout:   d.Checkout,
		settlement: d.Settlement,
		catalog:    d.Catalog,
		tickets:    d.Tickets,
		idemp:      d.Idemp,
		ready:      d.Ready,
		logger:     d.Logger,
	}
}

type purchaseRequest struct {
	UserID    uuid.UUID `json:"user_id"`
	UserEmail string    `json:"user_email"`
	Quantity  int       `json:"quantity"`
	Promocode string    `json:"promocode"`
}

type purchaseResponse struct {
	ClientSecret  string          `json:"client_secret"`
	TransactionID string          `json:"transaction_id"`
	TicketIDs     []uuid.UUID     `json:"ticket_ids"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Total         decimal.Decimal `json:"total"`
}

func (h *Handlers) PurchaseTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := loggerFrom(ctx, h.logger)

	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	if req.UserID == uuid.Nil || req.Quantity <= 0 || !strings.Contains(req.UserEmail, "@") {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "user_id, user_email and a positive quantity are required")
		return
	}

	// Scope the key to the buyer so two users cannot replay each other.
	key := req.UserID.String() + ":" + r.Header.Get("Idempotency-Key")
	stored, err := h.idemp.Begin(ctx, key)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	if stored != nil {
		w.Header().Set("Content-Type", stored.ContentType)
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Result)
		return
	}

	res, err := h.checkout.Purchase(ctx, checkout.PurchaseInput{
		EventID:   eventID,
		User:      domain.User{ID: req.UserID, Email: req.UserEmail},
		Quantity:  req.Quantity,
		Promocode: req.Promocode,
	})
	if err != nil {
		if abortErr := h.idemp.Abort(context.WithoutCancel(ctx), key); abortErr != nil {
			logger.WithError(abortErr).Warn("failed to release idempotency key")
		}
		writeServiceError(w, logger, err)
		return
	}

	body := writeJSON(w, http.StatusCreated, purchaseResponse{
		ClientSecret:  res.ClientSecret,
		TransactionID: res.TransactionID,
		TicketIDs:     res.TicketIDs,
		UnitPrice:     res.UnitPrice,
		Total:         res.Total,
	})
	if body == nil {
		return
	}
	err = h.idemp.Set(context.WithoutCancel(ctx), key, idempotency.Response{
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Result:      body,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}
}

func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	if err := h.settlement.HandleCallback(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeServiceError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type promocodeRequest struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	ExpirationDate  time.Time `json:"expiration_date"`
}

type createEventRequest struct {
	Title           string             `json:"title"`
	Location        string             `json:"location"`
	StartDate       time.Time          `json:"start_date"`
	TicketsQuantity int                `json:"tickets_quantity"`
	TicketPrice     decimal.Decimal    `json:"ticket_price"`
	PublishDate     *time.Time         `json:"publish_date"`
	Promocodes      []promocodeRequest `json:"promocodes"`
}

type updateEventRequest struct {
	Title           *string          `json:"title"`
	Location        *string          `json:"location"`
	StartDate       *time.Time       `json:"start_date"`
	TicketsQuantity *int             `json:"tickets_quantity"`
	TicketPrice     *decimal.Decimal `json:"ticket_price"`
	PublishDate     *time.Time       `json:"publish_date"`
	Status          *string          `json:"status"`
}

type eventResponse struct {
	ID              uuid.UUID       `json:"id"`
	CompanyID       uuid.UUID       `json:"company_id"`
	Title           string          `json:"title"`
	Location        string          `json:"location"`
	StartDate       time.Time       `json:"start_date"`
	TicketsQuantity int             `json:"tickets_quantity"`
	TicketsSold     int             `json:"tickets_sold"`
	TicketPrice     decimal.Decimal `json:"ticket_price"`
	Status          string          `json:"status"`
	PublishDate     *time.Time      `json:"publish_date,omitempty"`
}

func newEventResponse(e domain.Event) eventResponse {
	return eventResponse{
		ID:              e.ID,
		CompanyID:       e.CompanyID,
		Title:           e.Title,
		Location:        e.Location,
		StartDate:       e.StartDate,
		TicketsQuantity: e.TicketsQuantity,
		TicketsSold:     e.TicketsSold,
		TicketPrice:     e.TicketPrice,
		Status:          string(e.Status),
		PublishDate:     e.PublishDate,
	}
}

type promocodeResponse struct {
	ID              uuid.UUID `json:"id"`
	EventID         uuid.UUID `json:"event_id"`
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	ExpirationDate  time.Time `json:"expiration_date"`
	IsActive        bool      `json:"is_active"`
}

func newPromocodeResponse(p domain.Promocode) promocodeResponse {
	return promocodeResponse{
		ID:              p.ID,
		EventID:         p.EventID,
		Code:            p.Code,
		DiscountPercent: p.DiscountPercent,
		ExpirationDate:  p.ExpirationDate,
		IsActive:        p.IsActive,
	}
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	companyID, ok := pathUUID(w, r, "companyID")
	if !ok {
		return
	}
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	in := catalog.CreateEventInput{
		Title:           req.Title,
		Location:        req.Location,
		StartDate:       req.StartDate,
		TicketsQuantity: req.TicketsQuantity,
		TicketPrice:     req.TicketPrice,
		PublishDate:     req.PublishDate,
	}
	for _, p := range req.Promocodes {
		in.Promocodes = append(in.Promocodes, catalog.PromocodeInput(p))
	}

	event, err := h.catalog.CreateEvent(r.Context(), companyID, in)
	if err != nil {
		writeServiceError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventResponse(event))
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	in := catalog.UpdateEventInput{
		Title:           req.Title,
		Location:        req.Location,
		StartDate:       req.StartDate,
		TicketsQuantity: req.TicketsQuantity,
		TicketPrice:     req.TicketPrice,
		PublishDate:     req.PublishDate,
	}
	if req.Status != nil {
		status := domain.EventStatus(strings.ToUpper(*req.Status))
		if status != domain.EventStatusDraft && status != domain.EventStatusPublished {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "status must be DRAFT or PUBLISHED")
			return
		}
		in.Status = &status
	}

	event, err := h.catalog.UpdateEvent(r.Context(), eventID, in)
	if err != nil {
		writeServiceError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, newEventResponse(event))
}

func (h *Handlers) RemoveEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	if err := h.catalog.RemoveEvent(r.Context(), eventID); err != nil {
		writeServiceError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CreatePromocode(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	var req promocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	promo, err := h.catalog.CreatePromocode(r.Context(), eventID, catalog.PromocodeInput(req))
	if err != nil {
		writeServiceError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	writeJSON(w, http.StatusCreated, newPromocodeResponse(promo))
}

func (h *Handlers) SetPromocodeActive(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	promocodeID, ok := pathUUID(w, r, "promocodeID")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "is_active is required")
		return
	}
	promo, err := h.catalog.SetPromocodeActive(r.Context(), eventID, promocodeID, *req.IsActive)
	if err != nil {
		writeServiceError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, newPromocodeResponse(promo))
}

func (h *Handlers) DownloadTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := pathUUID(w, r, "ticketID")
	if !ok {
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidID, "user_id must be a UUID")
		return
	}

	doc, err := h.tickets.Download(r.Context(), ticketID, userID)
	if err != nil {
		writeServiceError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, p := range h.ready {
		if err := p.Ping(ctx); err != nil {
			loggerFrom(r.Context(), h.logger).WithError(err).WithField("dependency", name).Warn("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, codeNotReady, name+" not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidID, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
