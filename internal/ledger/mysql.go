// Package ledger keeps purchase transactions in MySQL. Budget checks sum the
// completed rows of a student inside a time window.
package ledger

import (
	"aprendecomigo/entity"
	"aprendecomigo/internal/config"
	"aprendecomigo/lib/errs"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const tableTransactions = "purchase_transaction"

type MySql struct {
	db         *sql.DB
	prefix     string
	statements map[string]*sql.Stmt
	mu         sync.Mutex
}

func NewSQLClient(conf *config.Config) (*MySql, error) {
	if !conf.Ledger.Enabled {
		return nil, fmt.Errorf("ledger is disabled in configuration")
	}
	db, err := sql.Open("mysql", dsn(conf.Ledger))
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// try to ping three times with a 30-second interval; wait for a database to start
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(30 * time.Second)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &MySql{
		db:         db,
		prefix:     conf.Ledger.Prefix,
		statements: make(map[string]*sql.Stmt),
	}
	if err = s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(conf config.LedgerConfig) string {
	c := mysql.NewConfig()
	c.User = conf.UserName
	c.Passwd = conf.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%s", conf.HostName, conf.Port)
	c.DBName = conf.Database
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

func (s *MySql) table() string {
	return s.prefix + tableTransactions
}

func (s *MySql) createTables() error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		student_id VARCHAR(64) NOT NULL,
		school_id VARCHAR(64) NOT NULL DEFAULT '',
		approval_request_id VARCHAR(64) NOT NULL DEFAULT '',
		amount DECIMAL(10,2) NOT NULL,
		currency CHAR(3) NOT NULL,
		type VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		stripe_session_id VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		KEY idx_student_status_completed (student_id, status, completed_at)
	)`, s.table())
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table(), err)
	}
	return nil
}

func (s *MySql) Close() {
	s.closeStmt()
	_ = s.db.Close()
}

func (s *MySql) CreateTransaction(ctx context.Context, tx *entity.Transaction) error {
	stmt, err := s.stmtInsertTransaction()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		tx.ID,
		tx.StudentID,
		tx.SchoolID,
		tx.ApprovalRequestID,
		tx.Amount.StringFixed(2),
		tx.Currency,
		string(tx.Type),
		string(tx.Status),
		tx.StripeSessionID,
		tx.CreatedAt.UTC(),
		nullTime(tx.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *MySql) GetTransaction(ctx context.Context, id string) (*entity.Transaction, error) {
	stmt, err := s.stmtSelectTransaction()
	if err != nil {
		return nil, err
	}
	var tx entity.Transaction
	var amount string
	var txType, status string
	var completed sql.NullTime
	err = stmt.QueryRowContext(ctx, id).Scan(
		&tx.ID,
		&tx.StudentID,
		&tx.SchoolID,
		&tx.ApprovalRequestID,
		&amount,
		&tx.Currency,
		&txType,
		&status,
		&tx.StripeSessionID,
		&tx.CreatedAt,
		&completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, "transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("select transaction: %w", err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Type = entity.PurchaseType(txType)
	tx.Status = entity.TransactionStatus(status)
	if completed.Valid {
		tx.CompletedAt = &completed.Time
	}
	return &tx, nil
}

func (s *MySql) SetTransactionSession(ctx context.Context, id, sessionID string) error {
	stmt, err := s.stmtUpdateSession()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, sessionID, id)
	return err
}

// CompleteTransaction marks a transaction completed once; repeated webhook
// deliveries report false.
func (s *MySql) CompleteTransaction(ctx context.Context, id string, at time.Time) (bool, error) {
	stmt, err := s.stmtCompleteTransaction()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, string(entity.TransactionCompleted), at.UTC(), id, string(entity.TransactionCompleted))
	if err != nil {
		return false, fmt.Errorf("complete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelTransaction voids a pending transaction; other states are kept.
func (s *MySql) CancelTransaction(ctx context.Context, id string) error {
	stmt, err := s.stmtCancelTransaction()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, string(entity.TransactionCancelled), id, string(entity.TransactionPending))
	if err != nil {
		return fmt.Errorf("cancel transaction: %w", err)
	}
	return nil
}

// SumCompleted returns the total of completed transactions with
// from <= completed_at < to.
func (s *MySql) SumCompleted(ctx context.Context, studentID string, from, to time.Time) (decimal.Decimal, error) {
	stmt, err := s.stmtSumCompleted()
	if err != nil {
		return decimal.Zero, err
	}
	var total sql.NullString
	err = stmt.QueryRowContext(ctx, studentID, string(entity.TransactionCompleted), from.UTC(), to.UTC()).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum transactions: %w", err)
	}
	return parseAmount(total)
}

func parseAmount(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", v.String, err)
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
