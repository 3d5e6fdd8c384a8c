package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"

	sq "github.com/Masterminds/squirrel"
)

// PostgresStore is the durable Store implementation. It is the source of
// truth whenever a database is configured; the orchestrator's in-process
// cache is purely an optimization on top of it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// --- tasks ---

func (p *PostgresStore) CreateTask(ctx context.Context, task models.AnalysisTask) error {
	resultJSON, err := marshalResult(task.Result)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO analysis_tasks (
			task_id, user_id, status, stock_code, report_type,
			total_count, completed_count, failed_count, progress,
			result, error_message, created_at, started_at, completed_at,
			source_ip, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
	`,
		task.TaskID, task.UserID, task.Status, task.StockCode, task.ReportType,
		task.TotalCount, task.CompletedCount, task.FailedCount, task.Progress,
		resultJSON, nullIfEmpty(task.ErrorMessage), task.CreatedAt,
		task.StartedAt, task.CompletedAt,
		nullIfEmpty(task.SourceIP), nullIfEmpty(task.UserAgent),
	)
	return err
}

const taskColumns = `task_id, user_id, status, stock_code, report_type,
	total_count, completed_count, failed_count, progress,
	result, error_message, created_at, started_at, completed_at,
	source_ip, user_agent`

func (p *PostgresStore) GetTask(ctx context.Context, taskID string) (models.AnalysisTask, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM analysis_tasks
		WHERE task_id = $1;
	`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AnalysisTask{}, ErrTaskNotFound
	}
	return task, err
}

func (p *PostgresStore) UpdateTask(ctx context.Context, task models.AnalysisTask) error {
	resultJSON, err := marshalResult(task.Result)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE analysis_tasks
		SET status = $1,
			completed_count = $2,
			failed_count = $3,
			progress = $4,
			result = $5,
			error_message = $6,
			started_at = $7,
			completed_at = $8
		WHERE task_id = $9;
	`,
		task.Status, task.CompletedCount, task.FailedCount, task.Progress,
		resultJSON, nullIfEmpty(task.ErrorMessage),
		task.StartedAt, task.CompletedAt, task.TaskID,
	)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (p *PostgresStore) ListTasks(ctx context.Context, userID int64, limit int) ([]models.AnalysisTask, error) {
	q := psql.Select(taskColumns).
		From("analysis_tasks").
		OrderBy("created_at DESC", "task_id DESC")
	if userID != 0 {
		q = q.Where(sq.Eq{"user_id": userID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveAnalysisHistory(ctx context.Context, rec models.AnalysisHistory) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO analysis_history (
			user_id, task_id, stock_code, stock_name, analysis_date,
			ai_summary, score, sentiment
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`,
		rec.UserID, rec.TaskID, rec.StockCode, nullIfEmpty(rec.StockName),
		rec.AnalysisDate, nullIfEmpty(rec.AISummary), rec.Score, rec.Sentiment,
	)
	return err
}

const historyColumns = `id, user_id, task_id, stock_code, stock_name,
	analysis_date, ai_summary, score, sentiment, created_at`

func (p *PostgresStore) ListAnalysisHistory(ctx context.Context, userID int64, sentiment models.Sentiment, limit int) ([]models.AnalysisHistory, error) {
	q := psql.Select(historyColumns).
		From("analysis_history").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("id DESC")
	if sentiment != "" {
		q = q.Where(sq.Eq{"sentiment": sentiment})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnalysisHistory
	for rows.Next() {
		var (
			rec     models.AnalysisHistory
			taskID  sql.NullString
			name    sql.NullString
			day     time.Time
			summary sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &taskID, &rec.StockCode, &name,
			&day, &summary, &rec.Score, &rec.Sentiment, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.TaskID = taskID.String
		rec.StockName = name.String
		rec.AnalysisDate = day.Format("2006-01-02")
		rec.AISummary = summary.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.AnalysisTask, error) {
	var (
		task       models.AnalysisTask
		resultJSON sql.NullString
		errMsg     sql.NullString
		startedAt  sql.NullTime
		completed  sql.NullTime
		sourceIP   sql.NullString
		userAgent  sql.NullString
	)
	if err := row.Scan(
		&task.TaskID, &task.UserID, &task.Status, &task.StockCode, &task.ReportType,
		&task.TotalCount, &task.CompletedCount, &task.FailedCount, &task.Progress,
		&resultJSON, &errMsg, &task.CreatedAt, &startedAt, &completed,
		&sourceIP, &userAgent,
	); err != nil {
		return models.AnalysisTask{}, err
	}
	task.ErrorMessage = errMsg.String
	task.SourceIP = sourceIP.String
	task.UserAgent = userAgent.String
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		task.CompletedAt = &t
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var res models.AnalysisResult
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err == nil {
			task.Result = &res
		}
	}
	return task, nil
}

func marshalResult(res *models.AnalysisResult) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// --- usage ---

// IncrementDailyAnalysis relies on a single upsert-increment so two
// concurrent charges for the same user/day can never lose an increment.
func (p *PostgresStore) IncrementDailyAnalysis(ctx context.Context, userID int64, day string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO daily_usage (user_id, usage_date, analysis_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, usage_date)
		DO UPDATE SET analysis_count = daily_usage.analysis_count + 1,
		              updated_at = now()
		RETURNING analysis_count;
	`, userID, day).Scan(&count)
	return count, err
}

func (p *PostgresStore) DailyAnalysisCount(ctx context.Context, userID int64, day string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT analysis_count
		FROM daily_usage
		WHERE user_id = $1 AND usage_date = $2;
	`, userID, day).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (p *PostgresStore) IncrementTotalAnalysis(ctx context.Context, userID int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET total_analysis_count = total_analysis_count + 1
		WHERE id = $1;
	`, userID)
	return err
}

// --- users ---

func (p *PostgresStore) UpsertUser(ctx context.Context, subject, email, name string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (subject, email, name, membership_level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE SET last_login = now();
	`, subject, nullIfEmpty(email), nullIfEmpty(name), models.LevelFree)
	return err
}

const userColumns = `id, subject, email, name, membership_level, membership_expire,
	stripe_customer_id, referrer_id, total_analysis_count, created_at, last_login`

func (p *PostgresStore) UserBySubject(ctx context.Context, subject string) (models.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE subject = $1;
	`, subject))
}

func (p *PostgresStore) UserByID(ctx context.Context, id int64) (models.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1;
	`, id))
}

func (p *PostgresStore) scanUser(row *sql.Row) (models.User, error) {
	var (
		u        models.User
		email    sql.NullString
		name     sql.NullString
		expire   sql.NullTime
		stripeID sql.NullString
	)
	err := row.Scan(
		&u.ID, &u.Subject, &email, &name, &u.MembershipLevel, &expire,
		&stripeID, &u.ReferrerID, &u.TotalAnalysisCount, &u.CreatedAt, &u.LastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u.Email = email.String
	u.Name = name.String
	u.StripeCustomerID = stripeID.String
	if expire.Valid {
		t := expire.Time
		u.MembershipExpire = &t
	}
	return u, nil
}

func (p *PostgresStore) SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET stripe_customer_id = $1
		WHERE id = $2;
	`, customerID, userID)
	return err
}

// --- entitlements ---

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_no, user_id, plan_id, plan_name,
			amount, discount_amount, pay_amount,
			channel, payment_status, expire_at, remark
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at;
	`,
		o.OrderNo, o.UserID, o.PlanID, o.PlanName,
		o.Amount, o.DiscountAmount, o.PayAmount,
		nullIfEmpty(o.Channel), o.PaymentStatus, o.ExpireAt, nullIfEmpty(o.Remark),
	).Scan(&o.ID, &o.CreatedAt)
}

const orderColumns = `id, order_no, user_id, plan_id, plan_name,
	amount, discount_amount, pay_amount,
	channel, payment_status, transaction_id,
	created_at, paid_at, expire_at, remark`

func (p *PostgresStore) OrderByNo(ctx context.Context, orderNo string) (models.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE order_no = $1;
	`, orderNo))
}

func (p *PostgresStore) ListOrders(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	q := psql.Select(orderColumns).
		From("orders").
		OrderBy("created_at DESC", "id DESC")
	if userID != 0 {
		q = q.Where(sq.Eq{"user_id": userID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		o       models.Order
		channel sql.NullString
		txID    sql.NullString
		paidAt  sql.NullTime
		remark  sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.OrderNo, &o.UserID, &o.PlanID, &o.PlanName,
		&o.Amount, &o.DiscountAmount, &o.PayAmount,
		&channel, &o.PaymentStatus, &txID,
		&o.CreatedAt, &paidAt, &o.ExpireAt, &remark,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	o.Channel = channel.String
	o.TransactionID = txID.String
	o.Remark = remark.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}

const membershipColumns = `id, user_id, plan_id, order_id, start_at, expire_at, status, created_at`

func (p *PostgresStore) ActiveMembership(ctx context.Context, userID int64, now time.Time) (models.UserMembership, bool, error) {
	return scanActiveMembership(p.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM user_memberships
		WHERE user_id = $1 AND status = $2 AND expire_at > $3
		ORDER BY expire_at DESC
		LIMIT 1;
	`, userID, models.MembershipActive, now))
}

func scanActiveMembership(row *sql.Row) (models.UserMembership, bool, error) {
	var ms models.UserMembership
	err := row.Scan(
		&ms.ID, &ms.UserID, &ms.PlanID, &ms.OrderID,
		&ms.StartAt, &ms.ExpireAt, &ms.Status, &ms.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserMembership{}, false, nil
	}
	if err != nil {
		return models.UserMembership{}, false, err
	}
	return ms, true, nil
}

func (p *PostgresStore) ListExpiredActiveMemberships(ctx context.Context, now time.Time) ([]models.UserMembership, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM user_memberships
		WHERE status = $1 AND expire_at < $2
		ORDER BY id;
	`, models.MembershipActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserMembership
	for rows.Next() {
		var ms models.UserMembership
		if err := rows.Scan(
			&ms.ID, &ms.UserID, &ms.PlanID, &ms.OrderID,
			&ms.StartAt, &ms.ExpireAt, &ms.Status, &ms.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// Transact serializes concurrent units for the same user by locking the
// user row FOR UPDATE before fn runs. Two simultaneous settlements for one
// user therefore cannot both observe "no active membership".
func (p *PostgresStore) Transact(ctx context.Context, userID int64, fn func(EntitlementTx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var locked int64
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM users WHERE id = $1 FOR UPDATE;
	`, userID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) OrderByNo(orderNo string) (models.Order, error) {
	return scanOrder(t.tx.QueryRowContext(t.ctx, `
		SELECT `+orderColumns+` FROM orders WHERE order_no = $1 FOR UPDATE;
	`, orderNo))
}

func (t *pgTx) InsertOrder(o *models.Order) error {
	return t.tx.QueryRowContext(t.ctx, `
		INSERT INTO orders (
			order_no, user_id, plan_id, plan_name,
			amount, discount_amount, pay_amount,
			channel, payment_status, transaction_id, paid_at, expire_at, remark
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at;
	`,
		o.OrderNo, o.UserID, o.PlanID, o.PlanName,
		o.Amount, o.DiscountAmount, o.PayAmount,
		nullIfEmpty(o.Channel), o.PaymentStatus, nullIfEmpty(o.TransactionID),
		o.PaidAt, o.ExpireAt, nullIfEmpty(o.Remark),
	).Scan(&o.ID, &o.CreatedAt)
}

func (t *pgTx) MarkOrderPaid(orderID int64, channel, transactionID string, paidAt time.Time) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE orders
		SET payment_status = $1, channel = $2, transaction_id = $3, paid_at = $4
		WHERE id = $5;
	`, models.PaymentPaid, channel, nullIfEmpty(transactionID), paidAt, orderID)
	return err
}

func (t *pgTx) ActiveMembership(userID int64, now time.Time) (models.UserMembership, bool, error) {
	return scanActiveMembership(t.tx.QueryRowContext(t.ctx, `
		SELECT `+membershipColumns+`
		FROM user_memberships
		WHERE user_id = $1 AND status = $2 AND expire_at > $3
		ORDER BY expire_at DESC
		LIMIT 1;
	`, userID, models.MembershipActive, now))
}

func (t *pgTx) InsertMembership(ms *models.UserMembership) error {
	return t.tx.QueryRowContext(t.ctx, `
		INSERT INTO user_memberships (user_id, plan_id, order_id, start_at, expire_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at;
	`, ms.UserID, ms.PlanID, ms.OrderID, ms.StartAt, ms.ExpireAt, ms.Status).
		Scan(&ms.ID, &ms.CreatedAt)
}

func (t *pgTx) SetMembershipExpire(id int64, expireAt time.Time) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE user_memberships SET expire_at = $1 WHERE id = $2;
	`, expireAt, id)
	return err
}

func (t *pgTx) SetMembershipStatus(id int64, status models.MembershipStatus) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE user_memberships SET status = $1 WHERE id = $2;
	`, status, id)
	return err
}

func (t *pgTx) HasOtherActiveMembership(userID, excludeID int64, now time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_memberships
			WHERE user_id = $1 AND id <> $2 AND status = $3 AND expire_at > $4
		);
	`, userID, excludeID, models.MembershipActive, now).Scan(&exists)
	return exists, err
}

func (t *pgTx) SetUserEntitlement(userID int64, level string, expireAt *time.Time) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE users
		SET membership_level = $1, membership_expire = $2
		WHERE id = $3;
	`, level, expireAt, userID)
	return err
}

// --- runtime config ---

func (p *PostgresStore) ConfigInt(ctx context.Context, key string, def int) int {
	var raw string
	err := p.db.QueryRowContext(ctx, `
		SELECT config_value FROM system_configs WHERE config_key = $1;
	`, key).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("system config lookup failed key=%s: %v", key, err)
		}
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
