package tinyurl

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const aliasCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewAlias returns a random alphanumeric alias of length n.
func NewAlias(n int) (string, error) {
	if n < 1 {
		return "", errors.New("alias length must be positive")
	}

	result := make([]byte, n)
	limit := big.NewInt(int64(len(aliasCharset)))
	for i := range result {
		num, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		result[i] = aliasCharset[num.Int64()]
	}
	return string(result), nil
}
