package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Credentials holds API secrets loaded from the environment. They are
// kept out of the persisted settings file on purpose.
type Credentials struct {
	APIKey string
}

// Present reports whether an API key was supplied at all.
func (c Credentials) Present() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// Plausible performs a cheap shape check so an obviously broken key is
// rejected during validation instead of surfacing as a 401 mid-job.
func (c Credentials) Plausible() bool {
	key := strings.TrimSpace(c.APIKey)
	return len(key) >= 20 && !strings.ContainsAny(key, " \t\n")
}

// LoadCredentials reads credentials from a .env file (when present) and
// the process environment. A missing .env file is not an error.
func LoadCredentials() Credentials {
	_ = godotenv.Load()
	return Credentials{
		APIKey: strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
	}
}
