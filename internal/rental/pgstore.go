package rental

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on Postgres. Serialization of check-then-act is
// done with row locks: CommitOrder takes SELECT ... FOR UPDATE on every
// product it touches (in sorted id order to avoid lock cycles) and runs the
// overlap sum while holding the lock.
type PGStore struct{ DB *pgxpool.Pool }

var _ Store = (*PGStore)(nil)

// translateErr maps Postgres serialization failures and deadlocks to
// ErrConcurrencyConflict so callers know a blind retry is safe.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
	}
	return err
}

func (s *PGStore) CreateProduct(ctx context.Context, p *Product, operatorID string) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO products(id, sku, name, total_stock, day_cents, week_cents, month_cents)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.SKU, p.Name, p.TotalStock, p.DayCents, p.WeekCents, p.MonthCents,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}

	if p.TotalStock > 0 {
		if err := insertLedger(ctx, tx, &LedgerEntry{
			ProductID:     p.ID,
			Delta:         p.TotalStock,
			Reason:        ReasonInitialStock,
			ReferenceType: RefAdmin,
			ReferenceID:   operatorID,
		}); err != nil {
			return translateErr(err)
		}
	}
	return translateErr(tx.Commit(ctx))
}

func (s *PGStore) ProductByID(ctx context.Context, id string) (Product, error) {
	var p Product
	err := s.DB.QueryRow(ctx, `
		SELECT id, sku, name, total_stock, day_cents, week_cents, month_cents, created_at, updated_at
		FROM products WHERE id=$1`, id,
	).Scan(&p.ID, &p.SKU, &p.Name, &p.TotalStock, &p.DayCents, &p.WeekCents, &p.MonthCents, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, err
}

func (s *PGStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, sku, name, total_stock, day_cents, week_cents, month_cents, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.TotalStock, &p.DayCents, &p.WeekCents, &p.MonthCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) SetTotalStock(ctx context.Context, productID string, newTotal int, operatorID string) (LedgerEntry, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return LedgerEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var oldTotal int
	err = tx.QueryRow(ctx, `SELECT total_stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&oldTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerEntry{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return LedgerEntry{}, translateErr(err)
	}

	if _, err := tx.Exec(ctx, `UPDATE products SET total_stock=$2, updated_at=now() WHERE id=$1`, productID, newTotal); err != nil {
		return LedgerEntry{}, translateErr(err)
	}

	entry := LedgerEntry{
		ProductID:     productID,
		Delta:         newTotal - oldTotal,
		Reason:        ReasonCorrection,
		ReferenceType: RefAdmin,
		ReferenceID:   operatorID,
	}
	if entry.Delta != 0 {
		if err := insertLedger(ctx, tx, &entry); err != nil {
			return LedgerEntry{}, translateErr(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return LedgerEntry{}, translateErr(err)
	}
	return entry, nil
}

// Half-open overlap: existing.start < queryEnd AND existing.end > queryStart.
const overlapCond = `product_id=$1 AND status='ACTIVE' AND start_date < $3 AND end_date > $2`

func (s *PGStore) ActiveReservations(ctx context.Context, productID string, start, end time.Time) ([]Reservation, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, product_id, user_id, start_date, end_date, quantity, status, created_at
		FROM reservations WHERE `+overlapCond, productID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReservations(rows)
}

func scanReservations(rows pgx.Rows) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.UserID, &r.StartDate, &r.EndDate, &r.Quantity, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) CommitOrder(ctx context.Context, o *Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock each product row once, in sorted id order so two multi-line
	// commits cannot deadlock on each other.
	ids := make([]string, 0, len(o.Lines))
	seen := map[string]bool{}
	for _, ln := range o.Lines {
		if !seen[ln.ProductID] {
			seen[ln.ProductID] = true
			ids = append(ids, ln.ProductID)
		}
	}
	sort.Strings(ids)

	products := make(map[string]Product, len(ids))
	for _, id := range ids {
		var p Product
		err := tx.QueryRow(ctx, `
			SELECT id, name, total_stock, day_cents, week_cents, month_cents
			FROM products WHERE id=$1 FOR UPDATE`, id,
		).Scan(&p.ID, &p.Name, &p.TotalStock, &p.DayCents, &p.WeekCents, &p.MonthCents)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		if err != nil {
			return translateErr(err)
		}
		products[id] = p
	}

	// Re-check every line under the lock. The pre-commit availability read
	// is a snapshot and may be stale; this one is authoritative. Earlier
	// lines of this same order count against later ones too.
	total := 0
	pending := map[string][]OrderLine{}
	for i := range o.Lines {
		ln := &o.Lines[i]
		p := products[ln.ProductID]

		var reserved int
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE `+overlapCond,
			ln.ProductID, ln.StartDate, ln.EndDate,
		).Scan(&reserved)
		if err != nil {
			return translateErr(err)
		}
		for _, prev := range pending[ln.ProductID] {
			if Overlaps(prev.StartDate, prev.EndDate, ln.StartDate, ln.EndDate) {
				reserved += prev.Quantity
			}
		}
		available := p.TotalStock - reserved
		if available < ln.Quantity {
			return &InsufficientStockError{
				ProductID: ln.ProductID,
				Name:      p.Name,
				Requested: ln.Quantity,
				Available: available,
			}
		}

		ln.Name = p.Name
		ln.PriceCents = LinePriceCents(p, ln.Quantity, ln.StartDate, ln.EndDate)
		total += ln.PriceCents
		pending[ln.ProductID] = append(pending[ln.ProductID], *ln)
	}
	o.TotalCents = total

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, external_id, user_id, status, payment_status, payment_method, total_cents,
			ship_full_name, ship_address_line1, ship_city, ship_state, ship_zip, ship_phone)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		o.ID, o.ExternalID, o.UserID, o.Status, o.PaymentStatus, o.PaymentMethod, o.TotalCents,
		o.Shipping.FullName, o.Shipping.AddressLine1, o.Shipping.City, o.Shipping.State, o.Shipping.ZipCode, o.Shipping.Phone,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		// A concurrent commit with the same idempotency key can win the
		// insert after both callers missed the pre-check read. Surface it as
		// a conflict so the caller re-reads the winner instead of erroring.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_external_id_key" {
			return fmt.Errorf("%w: order with external id %s already committed", ErrConcurrencyConflict, o.ExternalID)
		}
		return translateErr(err)
	}

	for _, ln := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, name, quantity, start_date, end_date, price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, ln.ProductID, ln.Name, ln.Quantity, ln.StartDate, ln.EndDate, ln.PriceCents,
		); err != nil {
			return translateErr(err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(id, order_id, product_id, user_id, start_date, end_date, quantity, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,'ACTIVE')`,
			uuid.NewString(), o.ID, ln.ProductID, o.UserID, ln.StartDate, ln.EndDate, ln.Quantity,
		); err != nil {
			return translateErr(err)
		}
		if err := insertLedger(ctx, tx, &LedgerEntry{
			ProductID:     ln.ProductID,
			Delta:         -ln.Quantity,
			Reason:        ReasonRentalOut,
			ReferenceType: RefOrder,
			ReferenceID:   o.ID,
		}); err != nil {
			return translateErr(err)
		}
	}
	return translateErr(tx.Commit(ctx))
}

func (s *PGStore) OrderByID(ctx context.Context, id string) (Order, error) {
	return s.orderWhere(ctx, `id=$1`, id)
}

func (s *PGStore) OrderByExternalID(ctx context.Context, externalID string) (Order, error) {
	return s.orderWhere(ctx, `external_id=$1`, externalID)
}

func (s *PGStore) orderWhere(ctx context.Context, cond string, arg any) (Order, error) {
	var o Order
	var ext *string
	err := s.DB.QueryRow(ctx, `
		SELECT id, external_id, user_id, status, payment_status, payment_method, total_cents,
			ship_full_name, ship_address_line1, ship_city, ship_state, ship_zip, ship_phone,
			created_at, updated_at
		FROM orders WHERE `+cond, arg,
	).Scan(&o.ID, &ext, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.TotalCents,
		&o.Shipping.FullName, &o.Shipping.AddressLine1, &o.Shipping.City, &o.Shipping.State, &o.Shipping.ZipCode, &o.Shipping.Phone,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if ext != nil {
		o.ExternalID = *ext
	}

	rows, err := s.DB.Query(ctx, `
		SELECT product_id, name, quantity, start_date, end_date, price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ln OrderLine
		if err := rows.Scan(&ln.ProductID, &ln.Name, &ln.Quantity, &ln.StartDate, &ln.EndDate, &ln.PriceCents); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, ln)
	}
	return o, rows.Err()
}

func (s *PGStore) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.OrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *PGStore) SetOrderStatus(ctx context.Context, orderID string, from, to Status) error {
	ct, err := s.DB.Exec(ctx, `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		orderID, from, to)
	if err != nil {
		return translateErr(err)
	}
	if ct.RowsAffected() == 0 {
		// Either the order is gone or another caller moved it first.
		if _, err := s.OrderByID(ctx, orderID); err != nil {
			return err
		}
		return fmt.Errorf("%w: order %s no longer in state %s", ErrConcurrencyConflict, orderID, from)
	}
	return nil
}

// ConfirmPayment records the payment on any live order. Pending orders also
// advance to Confirmed; orders already picked up or returned keep their
// status and just get payment_status=PAID (the gateway signal can arrive
// after a pickup scan). Cancelled orders reject the event.
func (s *PGStore) ConfirmPayment(ctx context.Context, orderID string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET payment_status=$2,
			status=CASE WHEN status=$3 THEN $4 ELSE status END,
			updated_at=now()
		WHERE id=$1 AND status <> $5`,
		orderID, PaymentPaid, StatusPending, StatusConfirmed, StatusCancelled)
	if err != nil {
		return translateErr(err)
	}
	if ct.RowsAffected() == 0 {
		o, err := s.OrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		return &StateTransitionError{OrderID: orderID, From: o.Status, Action: "confirm payment for"}
	}
	return nil
}

func (s *PGStore) CompleteOrder(ctx context.Context, orderID string) error {
	return s.closeOrder(ctx, orderID, StatusActive, StatusCompleted, ReservationCompleted, ReasonRentalReturn)
}

func (s *PGStore) CancelOrder(ctx context.Context, orderID string, from Status) error {
	return s.closeOrder(ctx, orderID, from, StatusCancelled, ReservationCancelled, ReasonCorrection)
}

// closeOrder moves the order and its Active reservations to a terminal pair
// and appends one compensating ledger entry per reservation, all in one tx.
func (s *PGStore) closeOrder(ctx context.Context, orderID string, from, to Status, resStatus ReservationStatus, reason LedgerReason) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		orderID, from, to)
	if err != nil {
		return translateErr(err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.OrderByID(ctx, orderID); err != nil {
			return err
		}
		return fmt.Errorf("%w: order %s no longer in state %s", ErrConcurrencyConflict, orderID, from)
	}

	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM reservations
		WHERE order_id=$1 AND status='ACTIVE' FOR UPDATE`, orderID)
	if err != nil {
		return translateErr(err)
	}
	type held struct {
		productID string
		qty       int
	}
	var holds []held
	for rows.Next() {
		var h held
		if err := rows.Scan(&h.productID, &h.qty); err != nil {
			rows.Close()
			return err
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE reservations SET status=$2 WHERE order_id=$1 AND status='ACTIVE'`,
		orderID, resStatus); err != nil {
		return translateErr(err)
	}
	for _, h := range holds {
		if err := insertLedger(ctx, tx, &LedgerEntry{
			ProductID:     h.productID,
			Delta:         h.qty,
			Reason:        reason,
			ReferenceType: RefOrder,
			ReferenceID:   orderID,
		}); err != nil {
			return translateErr(err)
		}
	}
	return translateErr(tx.Commit(ctx))
}

func (s *PGStore) AppendLedger(ctx context.Context, e *LedgerEntry) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := insertLedger(ctx, tx, e); err != nil {
		return translateErr(err)
	}
	return translateErr(tx.Commit(ctx))
}

func (s *PGStore) LedgerByProduct(ctx context.Context, productID string) ([]LedgerEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, product_id, delta, reason, reference_type, reference_id, at
		FROM inventory_ledger WHERE product_id=$1 ORDER BY at, id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Delta, &e.Reason, &e.ReferenceType, &e.ReferenceID, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertLedger(ctx context.Context, tx pgx.Tx, e *LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_ledger(id, product_id, delta, reason, reference_type, reference_id, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.ProductID, e.Delta, e.Reason, e.ReferenceType, e.ReferenceID, e.At)
	return err
}
