package ledger

import (
	"database/sql"
	"fmt"
)

func (s *MySql) prepareStmt(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *MySql) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}

func (s *MySql) stmtInsertTransaction() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s (id, student_id, school_id, approval_request_id, amount, currency,
                   type, status, stripe_session_id, created_at, completed_at)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.table(),
	)
	return s.prepareStmt("insertTransaction", query)
}

func (s *MySql) stmtSelectTransaction() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT id, student_id, school_id, approval_request_id, CAST(amount AS CHAR), currency,
                   type, status, stripe_session_id, created_at, completed_at
                   FROM %s WHERE id = ?`,
		s.table(),
	)
	return s.prepareStmt("selectTransaction", query)
}

func (s *MySql) stmtUpdateSession() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`UPDATE %s SET stripe_session_id = ? WHERE id = ?`,
		s.table(),
	)
	return s.prepareStmt("updateSession", query)
}

func (s *MySql) stmtCompleteTransaction() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`UPDATE %s SET 
                   status = ?,
                   completed_at = ?
                   WHERE id = ? AND status <> ?`,
		s.table(),
	)
	return s.prepareStmt("completeTransaction", query)
}

func (s *MySql) stmtCancelTransaction() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`UPDATE %s SET status = ? WHERE id = ? AND status = ?`,
		s.table(),
	)
	return s.prepareStmt("cancelTransaction", query)
}

func (s *MySql) stmtSumCompleted() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT CAST(SUM(amount) AS CHAR) FROM %s
                   WHERE student_id = ? AND status = ? AND completed_at >= ? AND completed_at < ?`,
		s.table(),
	)
	return s.prepareStmt("sumCompleted", query)
}
