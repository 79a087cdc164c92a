package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("email or username already exists")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = "id, username, email, password, color, avatar"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	var avatar sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.Color, &avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Avatar = avatar.String
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var id int
	query := "INSERT INTO users (username, email, password, color) VALUES ($1, $2, $3, $4) RETURNING id"

	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.Password, user.Color).Scan(&id)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	user.ID = id
	return user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE email = $1"
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *Repository) GetUserByID(ctx context.Context, id int) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, color, avatar FROM users WHERE username ILIKE $1 ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var avatar sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &u.Color, &avatar); err != nil {
			return nil, err
		}
		u.Avatar = avatar.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *Repository) UpdateColor(ctx context.Context, id int, color string) (*User, error) {
	query := "UPDATE users SET color = $2 WHERE id = $1 RETURNING " + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id, color))
}

func (r *Repository) UpdateAvatar(ctx context.Context, id int, avatar string) (*User, error) {
	query := "UPDATE users SET avatar = $2 WHERE id = $1 RETURNING " + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id, avatar))
}

// isDuplicateKey checks for a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
