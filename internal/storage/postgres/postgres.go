package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID       int64                  `json:"event_id"`
	Timestamp     time.Time              `json:"ts"`
	Level         string                 `json:"level"`
	Event         string                 `json:"event"`
	Message       *string                `json:"msg,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
	IntegrationID string                 `json:"integration_id"`
	ChainID       *string                `json:"chain_id,omitempty"`
}

// Config holds connection settings. Empty fields fall back to the PG*
// environment variables and then to local defaults.
type Config struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	Password string `yaml:"-"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnString returns the lib/pq keyword/value connection string.
func (c Config) ConnString() string {
	host := pick(c.Host, "PGHOST", "127.0.0.1")
	port := pick(c.Port, "PGPORT", "5432")
	user := pick(c.User, "PGUSER", "rulechain")
	dbname := pick(c.Database, "PGDATABASE", "rulechain")
	sslmode := pick(c.SSLMode, "PGSSLMODE", "disable")
	password := c.Password
	if password == "" {
		password = os.Getenv("PGPASSWORD")
	}

	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		host, port, user, dbname, sslmode)
}

// URL returns the same settings as a postgres:// URL, the form the
// migrate tool expects.
func (c Config) URL() string {
	password := c.Password
	if password == "" {
		password = os.Getenv("PGPASSWORD")
	}
	user := url.User(pick(c.User, "PGUSER", "rulechain"))
	if password != "" {
		user = url.UserPassword(user.Username(), password)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     net.JoinHostPort(pick(c.Host, "PGHOST", "127.0.0.1"), pick(c.Port, "PGPORT", "5432")),
		Path:     "/" + pick(c.Database, "PGDATABASE", "rulechain"),
		RawQuery: "sslmode=" + url.QueryEscape(pick(c.SSLMode, "PGSSLMODE", "disable")),
	}
	return u.String()
}

// Client manages the Postgres connection for chain and event storage.
type Client struct {
	db            *sql.DB
	integrationID string
}

// New connects, applies pending migrations and returns a client scoped to
// integrationID.
func New(ctx context.Context, cfg Config, integrationID string) (*Client, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return NewWithDB(db, integrationID), nil
}

// NewWithDB wraps an open database whose schema is already current.
func NewWithDB(db *sql.DB, integrationID string) *Client {
	return &Client{
		db:            db,
		integrationID: integrationID,
	}
}

func pick(val, env, defaultVal string) string {
	if val != "" {
		return val
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return defaultVal
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Append inserts an event into the database.
// Returns error if insert fails.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, chainID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	var chainPtr *string
	if chainID != "" {
		chainPtr = &chainID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO events (ts, level, event, msg, fields, integration_id, chain_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.ExecContext(ctx, query, ts, level, event, msgPtr, fieldsJSON, c.integrationID, chainPtr)
	return err
}

// Query returns the last N events from the database in descending order by timestamp.
func (c *Client) Query(ctx context.Context, limit int) ([]EventRow, error) {
	return c.queryEvents(ctx, nil, limit)
}

// queryEvents returns the newest events, only those named in names when it
// is not empty.
func (c *Client) queryEvents(ctx context.Context, names []string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, integration_id, chain_id
		FROM events
		WHERE integration_id = $1
		ORDER BY ts DESC, event_id DESC
		LIMIT $2
	`
	args := []interface{}{c.integrationID, limit}
	if len(names) > 0 {
		query = `
		SELECT event_id, ts, level, event, msg, fields, integration_id, chain_id
		FROM events
		WHERE integration_id = $1 AND event = ANY($3)
		ORDER BY ts DESC, event_id DESC
		LIMIT $2
	`
		args = append(args, pq.Array(names))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, chainID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.IntegrationID, &chainID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if chainID.Valid {
			e.ChainID = &chainID.String
		}
		if len(fieldsJSON) > 0 {
			// Numbers stay json.Number so restored device values keep
			// their integer or float form.
			dec := json.NewDecoder(bytes.NewReader(fieldsJSON))
			dec.UseNumber()
			if err := dec.Decode(&e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// RecordedEvents returns the newest events named in names, for device state
// restore.
func (c *Client) RecordedEvents(ctx context.Context, names []string, limit int) ([]orchestrator.RecordedEvent, error) {
	rows, err := c.queryEvents(ctx, names, limit)
	if err != nil {
		return nil, err
	}
	out := make([]orchestrator.RecordedEvent, len(rows))
	for i, r := range rows {
		out[i] = orchestrator.RecordedEvent{Name: r.Event, Fields: r.Fields}
	}
	return out, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
