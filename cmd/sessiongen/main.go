package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatbattles/chatbattles/internal/auth"
)

func main() {
	user := flag.String("user", "", "user ID (required)")
	name := flag.String("name", "", "display name (required)")
	admin := flag.Bool("admin", false, "grant admin access")
	expires := flag.String("expires", "30d", "expiry duration (e.g., 30d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *user == "" || *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -user and -name are required")
		os.Exit(1)
	}

	rawToken, err := auth.GenerateToken()
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	tokenHash := auth.HashToken(rawToken)
	tokenPrefix := auth.TokenPrefix(rawToken)

	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		u := envOrDefault("DB_USER", "chatbattles")
		pass := envOrDefault("DB_PASSWORD", "chatbattles-dev")
		dbname := envOrDefault("DB_NAME", "chatbattles")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", u, pass, host, port, dbname)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	sessionID := uuid.NewString()
	_, err = conn.Exec(ctx, `
		INSERT INTO sessions (id, token_hash, token_prefix, user_id, display_name, is_admin, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sessionID, tokenHash, tokenPrefix, *user, *name, *admin, expiresAt)
	if err != nil {
		log.Fatalf("failed to insert session: %v", err)
	}

	fmt.Println("=== ChatBattles Session Created ===")
	fmt.Println()
	fmt.Printf("  Session ID:   %s\n", sessionID)
	fmt.Printf("  Token Prefix: %s\n", tokenPrefix)
	fmt.Printf("  User:         %s\n", *user)
	fmt.Printf("  Admin:        %v\n", *admin)
	fmt.Printf("  Expires:      %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Session token (save this — it will NOT be shown again):")
	fmt.Printf("  %s\n", rawToken)
	fmt.Println()
	fmt.Println("===================================")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
