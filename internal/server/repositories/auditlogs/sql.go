package auditlogs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, e *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, username, action_type, message, detail, level, ts, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.UserName, e.ActionType, e.Message, e.Detail, e.Level, e.Timestamp, e.IPAddress, e.UserAgent)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// where builds the WHERE clause shared by the page and the total count.
func (q Query) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("username", q.UserName)
	add("level", q.Level)
	add("action_type", q.ActionType)

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *SQLRepository) List(ctx context.Context, q Query) ([]models.AuditLog, int64, error) {
	where, args := q.where()

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	query := `SELECT id, username, action_type, message, detail, level, ts, ip_address, user_agent
		FROM audit_logs` + where + fmt.Sprintf(` ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]models.AuditLog, 0)
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(&e.ID, &e.UserName, &e.ActionType, &e.Message, &e.Detail, &e.Level,
			&e.Timestamp, &e.IPAddress, &e.UserAgent); err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return result, total, nil
}

func (r *SQLRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs`)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) CountSince(ctx context.Context, userName, level string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_logs
		WHERE ($1 = '' OR username = $1) AND level = $2 AND ts >= $3`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, userName, level, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
