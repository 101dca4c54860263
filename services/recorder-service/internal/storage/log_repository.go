package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nexaledger/platform/libs/db"
	"github.com/nexaledger/platform/libs/events"
)

var (
	ErrInvalidQuery = errors.New("invalid log query")
	ErrInvalidSort  = fmt.Errorf("%w: invalid sortBy field", ErrInvalidQuery)
	ErrPageRange    = fmt.Errorf("%w: page out of range", ErrInvalidQuery)
)

// MaxPage bounds the offset a listing may request.
const MaxPage = 1_000_000

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Log is a persisted audit record.
type Log struct {
	ID                int64     `json:"id"`
	Action            string    `json:"action"`
	UserID            string    `json:"userId"`
	EmpresaID         int64     `json:"empresaId"`
	AccessedEmpresaID *int64    `json:"accessedEmpresaId,omitempty"`
	AccessedUsuarioID *int64    `json:"accessedUsuarioId,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores l exactly as received and returns the new row id.
func (r *Repository) Insert(ctx context.Context, l events.AuditLog) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO audit_logs (action, user_id, empresa_id, accessed_empresa_id, accessed_usuario_id, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, l.Action, l.UserID, l.Tenant(), l.AccessedEmpresaID, l.AccessedUsuarioID, l.Timestamp.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert audit log: %v", events.ErrPersistence, err)
	}
	return id, nil
}

// Query filters and pages the audit log listing.
type Query struct {
	Page          int
	PageSize      int
	SortBy        string
	SortDirection string
	UserID        string
	EmpresaID     *int64
	Action        string
}

type Page struct {
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int64 `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	Logs        []Log `json:"logs"`
}

func (r *Repository) List(ctx context.Context, q Query) (Page, error) {
	q, err := normalize(q)
	if err != nil {
		return Page{}, err
	}
	where, args := q.where()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return Page{}, err
	}

	sql, args := q.selectSQL(where, args)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return Page{}, err
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Log, error) {
		var l Log
		err := row.Scan(&l.ID, &l.Action, &l.UserID, &l.EmpresaID, &l.AccessedEmpresaID, &l.AccessedUsuarioID, &l.Timestamp)
		l.Timestamp = l.Timestamp.UTC()
		return l, err
	})
	if err != nil {
		return Page{}, err
	}

	return Page{
		TotalItems:  total,
		TotalPages:  (total + int64(q.PageSize) - 1) / int64(q.PageSize),
		CurrentPage: q.Page,
		PageSize:    q.PageSize,
		Logs:        logs,
	}, nil
}

func normalize(q Query) (Query, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		return Query{}, fmt.Errorf("%w: page must be at most %d", ErrPageRange, MaxPage)
	}
	if q.PageSize <= 0 {
		q.PageSize = 10
	}
	if q.PageSize > 200 {
		q.PageSize = 200
	}
	switch strings.ToLower(q.SortBy) {
	case "", "id":
		q.SortBy = "id"
	case "timestamp":
		q.SortBy = `"timestamp"`
	default:
		return Query{}, fmt.Errorf("%w %q", ErrInvalidSort, q.SortBy)
	}
	if strings.EqualFold(q.SortDirection, "desc") {
		q.SortDirection = "DESC"
	} else {
		q.SortDirection = "ASC"
	}
	return q, nil
}

func (q Query) where() (string, []any) {
	var clauses []string
	var args []any
	if q.UserID != "" {
		// Substring match; wildcards typed by the caller are literal.
		args = append(args, "%"+likeEscaper.Replace(q.UserID)+"%")
		clauses = append(clauses, fmt.Sprintf(`user_id LIKE $%d ESCAPE '\'`, len(args)))
	}
	if q.EmpresaID != nil {
		args = append(args, *q.EmpresaID)
		clauses = append(clauses, fmt.Sprintf("empresa_id = $%d", len(args)))
	}
	if q.Action != "" {
		args = append(args, q.Action)
		clauses = append(clauses, fmt.Sprintf("action = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (q Query) selectSQL(where string, args []any) (string, []any) {
	args = append(args, q.PageSize, int64(q.Page-1)*int64(q.PageSize))
	sql := fmt.Sprintf(`SELECT id, action, user_id, empresa_id, accessed_empresa_id, accessed_usuario_id, "timestamp" FROM audit_logs%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		where, q.SortBy, q.SortDirection, len(args)-1, len(args))
	return sql, args
}
