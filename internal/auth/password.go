package auth

import "golang.org/x/crypto/bcrypt"

// HashKey hashes an admin API key for storage in ADMIN_KEY_HASH.
func HashKey(key string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CompareKey verifies a presented key against its hash.
func CompareKey(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
