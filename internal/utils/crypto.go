// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}

// OrderIdempotencyKey is stable for the same user, product, coupon and attempt so
// that a double-submitted order creation maps onto one backend order. A new attempt
// starts once the previous attempt's intent is canceled.
func OrderIdempotencyKey(userID, productType, productID, coupon string, attempt int) string {
	parts := []string{userID, productType, productID, strings.ToUpper(coupon), strconv.Itoa(attempt)}
	return "order_" + HashString(strings.Join(parts, "|"))[:32]
}
