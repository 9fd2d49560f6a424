package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"ecodeli-delivery/internal/auth"
	"ecodeli-delivery/internal/models"
)

// Mints a bearer token for local testing against the delivery API.
func main() {
	role := flag.String("role", models.RoleDeliverer, "CLIENT, DELIVERER or ADMIN")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Usage: go run ./misc/issue-token [-role ROLE] [-ttl 24h] <user-id>")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	r := strings.ToUpper(*role)
	switch r {
	case models.RoleClient, models.RoleDeliverer, models.RoleAdmin:
	default:
		log.Fatalf("unknown role %q", *role)
	}

	token, err := auth.IssueToken(secret, flag.Arg(0), r, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
