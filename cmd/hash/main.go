// Package main hashes a password with the same bcrypt cost the server uses, for seeding an
// admin account directly in the users table. The password is read from the first argument
// or, when absent, from stdin.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cadogy/cadogy-backend/internal/auth"
)

func main() {
	var password string
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("read password: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if violations := auth.PasswordPolicyViolations(password); len(violations) > 0 {
		log.Printf("Warning: password does not meet the policy: %s", strings.Join(violations, "; "))
	}

	hash, err := auth.HashPassword(password, 0)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	fmt.Println(hash)
}
