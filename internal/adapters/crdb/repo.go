package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) CreateCompany(ctx context.Context, id uuid.UUID, name, payoutAccount string) error {
	var account *string
	if payoutAccount != "" {
		account = &payoutAccount
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO companies (id, name, payout_account) VALUES ($1, $2, $3)
	`, id, name, account)
	return err
}

// GetPayoutAccount returns "" when the company exists but has not connected
// an account.
func (r *Repository) GetPayoutAccount(ctx context.Context, companyID uuid.UUID) (string, error) {
	var account *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT payout_account FROM companies WHERE id = $1
	`, companyID).Scan(&account)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", nil
	}
	return *account, nil
}

const eventColumns = `id, company_id, title, location, start_date, tickets_quantity, tickets_sold, ticket_price, status, publish_date`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	var status string
	err := row.Scan(&e.ID, &e.CompanyID, &e.Title, &e.Location, &e.StartDate, &e.TicketsQuantity, &e.TicketsSold, &e.TicketPrice, &status, &e.PublishDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	e.Status = domain.EventStatus(status)
	return e, nil
}

func (r *Repository) CreateEvent(ctx context.Context, e domain.Event) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.CompanyID, e.Title, e.Location, e.StartDate, e.TicketsQuantity, e.TicketsSold, e.TicketPrice, string(e.Status), e.PublishDate)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// UpdateEvent writes the editable fields. tickets_sold is never written
// here; it only moves through IncrementSold and DecrementSold.
func (r *Repository) UpdateEvent(ctx context.Context, e domain.Event) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE events
		SET title = $2, location = $3, start_date = $4, tickets_quantity = $5,
		    ticket_price = $6, status = $7, publish_date = $8
		WHERE id = $1
	`, e.ID, e.Title, e.Location, e.StartDate, e.TicketsQuantity, e.TicketPrice, string(e.Status), e.PublishDate)
	if isCheckViolation(err) {
		return errors.Wrap(domain.ErrInvalidInput, "tickets quantity below tickets sold")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) SetEventStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE events SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "event %s still has tickets", id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) IncrementSold(ctx context.Context, eventID uuid.UUID, n int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE events SET tickets_sold = tickets_sold + $2
		WHERE id = $1 AND tickets_sold + $2 <= tickets_quantity
	`, eventID, n)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) DecrementSold(ctx context.Context, eventID uuid.UUID, n int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE events SET tickets_sold = tickets_sold - $2 WHERE id = $1
	`, eventID, n)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) CreatePromocode(ctx context.Context, p domain.Promocode) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO promocodes (id, event_id, code, discount_percent, expiration_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.EventID, p.Code, p.DiscountPercent, p.ExpirationDate, p.IsActive)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "promocode %q already exists for event", p.Code)
	}
	return err
}

const promocodeColumns = `id, event_id, code, discount_percent, expiration_date, is_active`

func scanPromocode(row pgx.Row) (domain.Promocode, error) {
	var p domain.Promocode
	err := row.Scan(&p.ID, &p.EventID, &p.Code, &p.DiscountPercent, &p.ExpirationDate, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Promocode{}, domain.ErrNotFound
	}
	return p, err
}

func (r *Repository) FindPromocode(ctx context.Context, eventID uuid.UUID, code string) (domain.Promocode, error) {
	return scanPromocode(r.conn(ctx).QueryRow(ctx, `
		SELECT `+promocodeColumns+` FROM promocodes
		WHERE event_id = $1 AND lower(code) = lower($2)
	`, eventID, code))
}

func (r *Repository) SetPromocodeActive(ctx context.Context, eventID, promocodeID uuid.UUID, active bool) (domain.Promocode, error) {
	return scanPromocode(r.conn(ctx).QueryRow(ctx, `
		UPDATE promocodes SET is_active = $3
		WHERE id = $1 AND event_id = $2
		RETURNING `+promocodeColumns,
		promocodeID, eventID, active))
}

func (r *Repository) CreateTickets(ctx context.Context, tickets []domain.Ticket) error {
	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(`
			INSERT INTO tickets (id, user_id, event_id, ticket_code, final_price, purchase_date, promocode_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, t.ID, t.UserID, t.EventID, t.TicketCode, t.FinalPrice, t.PurchaseDate, t.PromocodeID)
	}

	results := r.conn(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for range tickets {
		if _, err := results.Exec(); err != nil {
			if isUniqueViolation(err) {
				return errors.Wrap(domain.ErrConflict, "ticket code collision")
			}
			return err
		}
	}
	return nil
}

func (r *Repository) GetTickets(ctx context.Context, ids []uuid.UUID) ([]domain.Ticket, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, event_id, ticket_code, final_price, purchase_date, promocode_id
		FROM tickets WHERE id = ANY($1)
		ORDER BY purchase_date, ticket_code
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.EventID, &t.TicketCode, &t.FinalPrice, &t.PurchaseDate, &t.PromocodeID); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *Repository) DeleteTickets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		DELETE FROM tickets WHERE id = ANY($1) RETURNING event_id
	`, ids)
	if err != nil {
		return nil, err
	}
	return countPerEvent(rows)
}

// DeleteAbandonedTickets deletes those of ids that are still older than the
// cutoff and still unlinked. A ticket attached to a payment after it was
// listed by FindAbandonedTickets is left alone.
func (r *Repository) DeleteAbandonedTickets(ctx context.Context, ids []uuid.UUID, reservedBefore time.Time) (map[uuid.UUID]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		DELETE FROM tickets
		WHERE id = ANY($1)
		  AND purchase_date < $2
		  AND NOT EXISTS (SELECT 1 FROM payment_tickets pt WHERE pt.ticket_id = tickets.id)
		RETURNING event_id
	`, ids, reservedBefore)
	if err != nil {
		return nil, err
	}
	return countPerEvent(rows)
}

func countPerEvent(rows pgx.Rows) (map[uuid.UUID]int, error) {
	defer rows.Close()

	perEvent := map[uuid.UUID]int{}
	for rows.Next() {
		var eventID uuid.UUID
		if err := rows.Scan(&eventID); err != nil {
			return nil, err
		}
		perEvent[eventID]++
	}
	return perEvent, rows.Err()
}

// FindAbandonedTickets lists tickets reserved before the cutoff that never
// got linked to a payment.
func (r *Repository) FindAbandonedTickets(ctx context.Context, reservedBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT t.id FROM tickets t
		WHERE t.purchase_date < $1
		  AND NOT EXISTS (SELECT 1 FROM payment_tickets pt WHERE pt.ticket_id = t.id)
		ORDER BY t.purchase_date
		LIMIT $2
	`, reservedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
