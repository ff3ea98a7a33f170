// Package main is a utility for generating service keys offline. The server
// stores only the SHA-256 hash of a key, never the raw value, so this tool
// is used when manually seeding or verifying service_credentials rows
// without running the full server. It prints the raw key (hand it to the
// submitting service) and an INSERT statement carrying only the hash.
package main

import (
	"fmt"
	"os"

	"github.com/audit-trail/audit-trail/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <service-name>\n", os.Args[0])
		os.Exit(1)
	}
	serviceName := os.Args[1]

	rawKey, keyHash, err := auth.GenerateServiceKey(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Service:  %s\n", serviceName)
	fmt.Printf("Raw key:  %s\n", rawKey)
	fmt.Printf("Key hash: %s\n\n", keyHash)
	fmt.Println("Seed SQL:")
	fmt.Printf("  INSERT INTO service_credentials (key_hash, service_name, can_write, created_by)\n")
	fmt.Printf("  VALUES ('%s', '%s', TRUE, 'genkey');\n", keyHash, serviceName)
}
