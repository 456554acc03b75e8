package util

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Clients send the lowercase hex md5 of the password; the store keeps a
// bcrypt hash of that md5 string.

// HashPassword hashes a client password digest for storage.
func HashPassword(passwordMD5 string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.ToLower(passwordMD5)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether passwordMD5 matches the stored hash.
func CheckPassword(hash, passwordMD5 string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.ToLower(passwordMD5)))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare password: %w", err)
	}
}

// MD5Hex returns the lowercase hex md5 digest of data.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
