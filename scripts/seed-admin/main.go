package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

// seed-admin creates the first administrator. Sign-up refuses the admin role,
// so a fresh database has no other way to get one.
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 5 {
		fmt.Println("Usage: go run ./scripts/seed-admin <username> <email> <first_name> <last_name>")
		fmt.Println("The password is read from SEED_ADMIN_PASSWORD.")
		os.Exit(1)
	}
	username, email, first, last := os.Args[1], os.Args[2], os.Args[3], os.Args[4]

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if err := auth.ValidatePassword(password); err != nil {
		fmt.Printf("Error: SEED_ADMIN_PASSWORD rejected: %v\n", err)
		os.Exit(1)
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Println("Error: DATABASE_URL environment variable not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		fmt.Printf("Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Printf("Error hashing password: %v\n", err)
		os.Exit(1)
	}

	user := &auth.User{
		ID:                 uuid.NewString(),
		Username:           username,
		Email:              email,
		PasswordHash:       hash,
		FirstName:          first,
		LastName:           last,
		Role:               auth.RoleAdmin,
		Status:             auth.UserActive,
		EmailNotifications: true,
	}
	if err := auth.InsertUser(ctx, pool, user); err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) || errors.Is(err, auth.ErrEmailTaken) {
			fmt.Printf("Admin not created: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Error creating admin: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created admin %s (%s)\n", user.Username, user.ID)
}
