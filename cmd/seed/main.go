// Package main implements a one-shot seed command that creates an admin
// user directly in the authd database, bypassing the normal
// register/start + register/verify flow. It lives inside this module so
// it can reach internal/* packages directly.
//
// Usage:
//
//	go run ./cmd/seed --username admin
//
// Environment variables:
//
//	AUTHD_DB_DSN     SQLite file path; the seed always uses the sqlite driver (default: ./data/auth.db)
//	AUTHD_KEYFILE    Encryption keyfile path — must match the server (default: ./data/auth.key)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/audiobooks/authd/internal/account"
	"github.com/audiobooks/authd/internal/backupcodes"
	"github.com/audiobooks/authd/internal/db"
	"github.com/audiobooks/authd/internal/repositories"
	"github.com/audiobooks/authd/internal/totp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	username := flag.String("username", "", "Username for the new admin account (required)")
	canDownload := flag.Bool("can-download", true, "Grant the download permission")
	flag.Parse()

	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	dsn := envOrDefault("AUTHD_DB_DSN", "./data/auth.db")
	keyFile := envOrDefault("AUTHD_KEYFILE", "./data/auth.key")

	// InitEncryption must be called before any DB operation so that
	// EncryptedString fields are encoded correctly on write.
	keyBytes, err := db.LoadOrCreateKey(keyFile)
	if err != nil {
		return fmt.Errorf("load encryption key: %w", err)
	}
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	secret, err := totp.GenerateSecret()
	if err != nil {
		return fmt.Errorf("generate totp secret: %w", err)
	}

	codes, err := backupcodes.Generate()
	if err != nil {
		return fmt.Errorf("generate backup codes: %w", err)
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		h, err := backupcodes.Hash(backupcodes.Normalize(c))
		if err != nil {
			return fmt.Errorf("hash backup code: %w", err)
		}
		hashes[i] = h
	}

	directory := account.New(repositories.NewUserRepository(database))
	user := &db.User{
		Username:       *username,
		AuthType:       db.AuthTypeTOTP,
		AuthCredential: db.EncryptedString(secret),
		IsAdmin:        true,
		CanDownload:    *canDownload,
	}
	if err := directory.Create(context.Background(), user); err != nil {
		if errors.Is(err, account.ErrUsernameTaken) {
			return fmt.Errorf("a user named %q already exists", *username)
		}
		return fmt.Errorf("create user: %w", err)
	}

	if err := repositories.NewBackupCodeRepository(database).ReplaceAll(context.Background(), user.ID, hashes); err != nil {
		return fmt.Errorf("store backup codes: %w", err)
	}

	fmt.Printf("user created\n")
	fmt.Printf("  id:               %s\n", user.ID)
	fmt.Printf("  username:         %s\n", user.Username)
	fmt.Printf("  totp secret:      %s\n", totp.SecretToBase32(secret))
	fmt.Printf("  provisioning uri: %s\n", totp.ProvisioningURI("authd", user.Username, secret))
	fmt.Printf("  backup codes:\n")
	for _, c := range codes {
		fmt.Printf("    %s\n", c)
	}

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
