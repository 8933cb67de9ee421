package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"market-settler/internal/auth"

	"github.com/joho/godotenv"
)

// token mints an admin service token for the operator API, signed with the
// same secret the server validates against.
//
// Usage: token <subject> [ttl-hours]
func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "Usage: token <subject> [ttl-hours]")
		os.Exit(1)
	}

	subject := os.Args[1]

	ttl := 24 * time.Hour
	if len(os.Args) == 3 {
		hours, err := strconv.Atoi(os.Args[2])
		if err != nil || hours <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid ttl-hours %q\n", os.Args[2])
			os.Exit(1)
		}
		ttl = time.Duration(hours) * time.Hour
	}

	_ = godotenv.Load()
	secret := os.Getenv("ADMIN_TOKEN_SECRET")
	if secret == "" {
		log.Fatal("ADMIN_TOKEN_SECRET is required")
	}
	auth.InitJWT(secret)

	token, err := auth.GenerateServiceToken(subject, ttl)
	if err != nil {
		log.Fatalf("Failed to generate service token: %v", err)
	}

	fmt.Println(token)
}
