package pkg

import "golang.org/x/crypto/bcrypt"

const PasswordHashCost = 14

func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, PasswordHashCost)
}

func HashPasswordWithCost(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

// CheckPasswordHash compares in constant time; any malformed hash is a mismatch.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
