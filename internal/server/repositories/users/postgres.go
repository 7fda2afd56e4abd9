// Package users provides the PostgreSQL-backed identity lookups: users and
// their capability sets.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/dbx"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the user and its capabilities. Run it inside a transaction.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO users (id, username, email)
         VALUES ($1, $2, $3)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query, user.ID, user.UserName, user.Email).Scan(&user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	for c, ok := range user.Capabilities {
		if !ok {
			continue
		}
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO user_capabilities (user_id, capability) VALUES ($1, $2)`, user.ID, string(c))
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
	}

	return user, nil
}

const selectUser = `SELECT u.id, u.username, u.email, u.created_at,
		COALESCE(string_agg(c.capability, ',' ORDER BY c.capability), '')
	FROM users u
	LEFT JOIN user_capabilities c ON c.user_id = u.id
	`

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := selectUser + `WHERE u.id::text = $1
	GROUP BY u.id`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) FindByRef(ctx context.Context, ref string) (*models.User, error) {
	query := selectUser + `WHERE u.id::text = $1 OR u.username = $1 OR lower(u.email) = lower($1)
	GROUP BY u.id
	LIMIT 1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, strings.TrimSpace(ref)))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var caps string
	err := row.Scan(&user.ID, &user.UserName, &user.Email, &user.CreatedAt, &caps)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.Capabilities = parseCapabilities(caps)
	return user, nil
}

func parseCapabilities(s string) map[models.Capability]bool {
	out := make(map[models.Capability]bool)
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out[models.Capability(c)] = true
		}
	}
	return out
}
