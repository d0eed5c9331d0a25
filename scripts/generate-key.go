//go:build ignore

// generate-key prints fresh secrets for a new deployment: the JWT signing secret and the
// AES-256 master key that seals stored API keys. Run with `go run scripts/generate-key.go`.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/cadogy/cadogy-backend/internal/crypto"
)

func main() {
	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		log.Fatal(err)
	}
	master, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("# Add to your environment. Rotating ENCRYPTION_KEY makes stored API keys unrevealable.")
	fmt.Printf("CADOGY_AUTH_JWT_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(secret))
	fmt.Printf("ENCRYPTION_KEY=%s\n", hex.EncodeToString(master))
}
