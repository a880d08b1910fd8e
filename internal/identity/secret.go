package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}

// prehash folds a secret of any length into 44 bytes, under bcrypt's
// 72-byte input limit.
func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

func hashSecret(secret string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

func secretMatches(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(secret)) == nil
}

// decoy burns one bcrypt comparison for unknown emails so a miss costs
// about as much as a wrong secret.
type decoy struct {
	once sync.Once
	hash string
	cost int
}

func (d *decoy) compare(secret string) {
	d.once.Do(func() {
		h, err := hashSecret("decoy", d.cost)
		if err == nil {
			d.hash = h
		}
	})
	if d.hash != "" {
		_ = secretMatches(d.hash, secret)
	}
}

func validateNew(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}
	return nil
}
