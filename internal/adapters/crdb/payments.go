package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

// CreatePayment stores the payment and links its tickets atomically.
func (r *Repository) CreatePayment(ctx context.Context, p domain.Payment) error {
	return r.WithTx(ctx, func(txCtx context.Context) error {
		q := r.conn(txCtx)
		_, err := q.Exec(txCtx, `
			INSERT INTO payments (id, user_id, user_email, transaction_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, p.UserID, p.UserEmail, p.TransactionID, string(p.Status), p.CreatedAt)
		if isUniqueViolation(err) {
			return errors.Wrapf(domain.ErrConflict, "payment for transaction %s already recorded", p.TransactionID)
		}
		if err != nil {
			return err
		}
		for _, ticketID := range p.TicketIDs {
			if _, err := q.Exec(txCtx, `
				INSERT INTO payment_tickets (payment_id, ticket_id) VALUES ($1, $2)
			`, p.ID, ticketID); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPaymentByTransaction loads the payment with the ids of its tickets that
// still exist.
func (r *Repository) GetPaymentByTransaction(ctx context.Context, transactionID string) (domain.Payment, error) {
	q := r.conn(ctx)

	var p domain.Payment
	var status string
	err := q.QueryRow(ctx, `
		SELECT id, user_id, user_email, transaction_id, status, created_at
		FROM payments WHERE transaction_id = $1
	`, transactionID).Scan(&p.ID, &p.UserID, &p.UserEmail, &p.TransactionID, &status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)

	rows, err := q.Query(ctx, `
		SELECT ticket_id FROM payment_tickets WHERE payment_id = $1 ORDER BY ticket_id
	`, p.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return domain.Payment{}, err
		}
		p.TicketIDs = append(p.TicketIDs, id)
	}
	return p, rows.Err()
}

func (r *Repository) TransitionPayment(ctx context.Context, transactionID string, from, to domain.PaymentStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = $3 WHERE transaction_id = $1 AND status = $2
	`, transactionID, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TicketPaymentStatus reports the status of the payment the ticket is linked
// to, or domain.ErrNotFound when it has none.
func (r *Repository) TicketPaymentStatus(ctx context.Context, ticketID uuid.UUID) (domain.PaymentStatus, error) {
	var status string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.status FROM payment_tickets pt
		JOIN payments p ON p.id = pt.payment_id
		WHERE pt.ticket_id = $1
		ORDER BY p.created_at DESC
		LIMIT 1
	`, ticketID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.PaymentStatus(status), nil
}
