package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"marshtalk/internal/models"
	"marshtalk/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore implements Store on top of PostgreSQL.
type PostgresStore struct {
	DB *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Ping the database to verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL!")

	return &PostgresStore{
		DB: db,
	}, nil
}

// Close closes the database connection
func (p *PostgresStore) Close(ctx context.Context) error {
	log.Println("Closing PostgreSQL connection...")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist
func (p *PostgresStore) InitializeTables(ctx context.Context) error {
	// Users table. Username/email are nullable: placeholder accounts from
	// historical imports have neither.
	_, err := p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(50) UNIQUE,
			email VARCHAR(100) UNIQUE,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			password_hash VARCHAR(100),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			last_active TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %v", err)
	}

	// Threads table. The unique constraint over the canonical pair is what
	// makes concurrent EnsureThread calls race-safe. Participant columns are
	// nullable so malformed imports survive until backfill repairs them.
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS threads (
			id UUID PRIMARY KEY,
			participant_a UUID REFERENCES users(id) ON DELETE SET NULL,
			participant_b UUID REFERENCES users(id) ON DELETE SET NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			last_message_at TIMESTAMP WITH TIME ZONE,
			last_message_text TEXT,
			UNIQUE (participant_a, participant_b)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create threads table: %v", err)
	}

	// Messages table. Removing a user detaches their messages, never
	// deletes them.
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			thread_id UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			author_id UUID REFERENCES users(id) ON DELETE SET NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %v", err)
	}

	_, err = p.DB.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_messages_thread_created
		ON messages (thread_id, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages index: %v", err)
	}

	// Read marks table
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_read_marks (
			thread_id UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			last_read_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (thread_id, user_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create chat_read_marks table: %v", err)
	}

	// Visibility table
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_visibility (
			thread_id UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			hidden_at TIMESTAMP WITH TIME ZONE,
			cleared_at TIMESTAMP WITH TIME ZONE,
			PRIMARY KEY (thread_id, user_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create chat_visibility table: %v", err)
	}

	return nil
}

// --- User Methods ---

// SaveUser inserts a new user into the database.
func (p *PostgresStore) SaveUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO users (id, username, email, display_name, password_hash, created_at, last_active)
		VALUES (:id, :username, :email, :display_name, :password_hash, :created_at, :last_active)
	`
	_, err := p.DB.NamedExecContext(ctx, query, user)
	if err != nil {
		// Check for duplicate key violation (username or email)
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return utils.NewAppError(utils.ErrUserAlreadyExists, fmt.Sprintf("user already exists: %v", pqErr.Constraint), err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save user", err)
	}
	return nil
}

// GetUser fetches a user by their ID.
func (p *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT id, username, email, display_name, password_hash, created_at, last_active FROM users WHERE id = $1`
	var user models.User
	err := p.DB.GetContext(ctx, &user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewUserNotFoundError(id.String())
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query user by id", err)
	}
	return &user, nil
}

// GetUserByUsername fetches a user by their login handle.
func (p *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, email, display_name, password_hash, created_at, last_active FROM users WHERE username = $1`
	var user models.User
	err := p.DB.GetContext(ctx, &user, query, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewUserNotFoundError(username)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query user by username", err)
	}
	return &user, nil
}
