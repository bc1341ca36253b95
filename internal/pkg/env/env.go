package env

import (
	"errors"

	"github.com/joho/godotenv"
)

// Env holds the values of the loaded .env file. The process environment is
// not copied in.
var Env map[string]string

var ErrNoEnvFile = errors.New("no .env file found in any of the expected locations")

// SetupEnvFile loads the first .env file found. Containers usually have no
// file and pass everything through the environment, so a miss is reported
// but not fatal.
func SetupEnvFile() error {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/<binary> to project root
		"../../../.env", // Fallback for deeper nesting
	}

	for _, envFile := range envFiles {
		loaded, err := godotenv.Read(envFile)
		if err == nil {
			Env = loaded
			return nil
		}
	}
	return ErrNoEnvFile
}
