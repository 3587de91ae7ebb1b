package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	driver string
	sql    sq.StatementBuilderType
}

func Open(ctx context.Context, driver, dsn string, autoMigrate bool, migrationsDir string) (*Store, error) {
	driver = normalizeDriver(driver)
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if autoMigrate {
		switch driver {
		case "postgres":
			if migrationsDir == "" {
				migrationsDir = "migrations"
			}
			if err := goose.SetDialect("postgres"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set goose dialect: %w", err)
			}
			if err := goose.Up(db, migrationsDir); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		case "sqlite":
			if err := initSQLiteSchema(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("init sqlite schema: %w", err)
			}
		default:
			_ = db.Close()
			return nil, fmt.Errorf("unsupported driver %q", driver)
		}
	}

	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		placeholder = sq.Dollar
	}

	s := &Store{
		db:     db,
		driver: driver,
		sql:    sq.StatementBuilder.PlaceholderFormat(placeholder),
	}

	if autoMigrate {
		if err := s.seedProviders(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed providers: %w", err)
		}
	}

	return s, nil
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	switch d {
	case "postgres", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    video_url TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    thumbnail BLOB,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL REFERENCES chats(id),
    role TEXT NOT NULL,
    body TEXT NOT NULL,
    provider_id TEXT,
    model TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS providers (
    id TEXT PRIMARY KEY,
    vendor TEXT NOT NULL,
    name TEXT NOT NULL,
    endpoint_required INTEGER NOT NULL DEFAULT 0,
    endpoint TEXT,
    endpoint_hint TEXT NOT NULL DEFAULT '',
    api_key_required INTEGER NOT NULL DEFAULT 0,
    api_key_hint TEXT NOT NULL DEFAULT '',
    model_required INTEGER NOT NULL DEFAULT 0,
    model TEXT,
    model_hint TEXT NOT NULL DEFAULT '',
    help_text TEXT NOT NULL DEFAULT '',
    get_started_text TEXT NOT NULL DEFAULT '',
    get_started_url TEXT NOT NULL DEFAULT '',
    modified_at DATETIME
);
CREATE TABLE IF NOT EXISTS settings (
    name TEXT PRIMARY KEY,
    value TEXT,
    sensitive INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id_created_at ON chat_messages(chat_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_chats_created_at ON chats(created_at DESC);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Fixed ids so re-seeding is idempotent and message rows keep stable
// provider references across installs.
const (
	seedOpenAICompatID = "316ca9b2-37f5-403b-8cf1-2026ae51cd36"
	seedOllamaID       = "d59aad1d-a365-4f85-81fb-9052dfeb6395"
	seedOpenAIID       = "2d12f7d2-6fe7-47c2-a57b-f13ef63b4dda"
	seedAnthropicID    = "a2deb243-d5e8-419a-bdac-2b48e53d588d"
)

func (s *Store) seedProviders(ctx context.Context) error {
	seeds := []Provider{
		{
			ID:               uuid.MustParse(seedOpenAICompatID),
			Vendor:           VendorOpenAICompat,
			Name:             "OpenAI-compatible endpoint",
			EndpointRequired: true,
			EndpointHint:     "https://models.inference.ai.azure.com",
			APIKeyRequired:   true,
			APIKeyHint:       "API token",
			ModelRequired:    true,
			ModelHint:        "Phi-3.5-MoE-instruct",
			HelpText:         "Works with any service exposing the OpenAI chat completions API.",
			GetStartedText:   "Read about OpenAI-compatible endpoints.",
			GetStartedURL:    "https://platform.openai.com/docs/api-reference/chat",
		},
		{
			ID:               uuid.MustParse(seedOllamaID),
			Vendor:           VendorOllama,
			Name:             "Ollama",
			EndpointRequired: true,
			EndpointHint:     "http://localhost:11434/",
			ModelRequired:    true,
			ModelHint:        "phi3.5",
			HelpText:         "Ollama runs models locally on your computer.",
			GetStartedText:   "Quickstart guide",
			GetStartedURL:    "https://github.com/ollama/ollama/blob/main/README.md",
		},
		{
			ID:             uuid.MustParse(seedOpenAIID),
			Vendor:         VendorOpenAI,
			Name:           "OpenAI",
			APIKeyRequired: true,
			APIKeyHint:     "OpenAI API Key",
			ModelRequired:  true,
			ModelHint:      "gpt-4o-mini",
			HelpText:       "The key is stored locally and only used for API requests from this tool.",
			GetStartedText: "Sign up for an OpenAI API key here.",
			GetStartedURL:  "https://platform.openai.com/api-keys",
		},
		{
			ID:             uuid.MustParse(seedAnthropicID),
			Vendor:         VendorAnthropic,
			Name:           "Anthropic",
			APIKeyRequired: true,
			APIKeyHint:     "Anthropic API Key",
			ModelRequired:  true,
			ModelHint:      "claude-sonnet-4-5",
			HelpText:       "The key is stored locally and only used for API requests from this tool.",
			GetStartedText: "Create an Anthropic API key here.",
			GetStartedURL:  "https://console.anthropic.com/settings/keys",
		},
	}

	for _, p := range seeds {
		q := s.sql.Insert("providers").
			Columns("id", "vendor", "name",
				"endpoint_required", "endpoint_hint",
				"api_key_required", "api_key_hint",
				"model_required", "model_hint",
				"help_text", "get_started_text", "get_started_url").
			Values(p.ID.String(), string(p.Vendor), p.Name,
				p.EndpointRequired, p.EndpointHint,
				p.APIKeyRequired, p.APIKeyHint,
				p.ModelRequired, p.ModelHint,
				p.HelpText, p.GetStartedText, p.GetStartedURL).
			Suffix("ON CONFLICT(id) DO NOTHING")

		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build provider seed query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert provider seed %q: %w", p.Name, err)
		}
	}
	return nil
}
