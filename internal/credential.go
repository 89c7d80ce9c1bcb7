package internal

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

// LegacyHash reproduces the credential scheme of the system this core
// replaces: hex md5 over password+salt. Kept for record compatibility;
// the user directory owns any migration to a stronger scheme.
func LegacyHash(password, salt string) string {
	sum := md5.Sum([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// VerifyLegacy compares a presented password against the stored hash in
// constant time.
func VerifyLegacy(password, salt, storedHash string) bool {
	computed := LegacyHash(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// NewSalt returns a fresh 16-character hex salt.
func NewSalt() (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}
