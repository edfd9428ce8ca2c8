// genkey generates an Ed25519 key pair for guidematch JWT signing, or hashes
// an API key for GUIDEMATCH_API_KEYS.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey                  # write data/jwt_*.pem
//	go run ./scripts/genkey -hash <api-key>  # print an argon2id hash
//
// Writes:
//
//	data/jwt_private.pem  (mode 0600, keep this secret)
//	data/jwt_public.pem   (mode 0600)
//
// The server auto-generates ephemeral keys when GUIDEMATCH_JWT_PRIVATE_KEY is
// unset, but those are discarded on every restart, invalidating all issued
// tokens. Persistent keys prevent that.
//
// A hashed key goes into GUIDEMATCH_API_KEYS as name:role:hash, for example
// GUIDEMATCH_API_KEYS=web:client:<hash>,ops:admin:<hash>.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wayfarer-labs/guidematch/internal/auth"
)

func main() {
	hashKey := flag.String("hash", "", "print the argon2id hash of this API key and exit")
	dir := flag.String("dir", "data", "directory to write the key pair into")
	flag.Parse()

	if *hashKey != "" {
		h, err := auth.HashAPIKey(*hashKey)
		if err != nil {
			fail("hash api key: %v", err)
		}
		fmt.Println(h)
		return
	}

	if err := writeKeyPair(*dir); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func writeKeyPair(dir string) error {
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}

	// Refuse to overwrite existing keys; that would invalidate live tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, delete it first if you want to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
	fmt.Println("Set GUIDEMATCH_JWT_PRIVATE_KEY and GUIDEMATCH_JWT_PUBLIC_KEY to these paths.")
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
