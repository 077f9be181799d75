package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/retinascope/internal/envvar"
)

// Environment is the deployment environment the process runs in.
type Environment string

const (
	// Development enables human-friendly console logs at debug level.
	Development Environment = "development"

	// Production enables JSON logs at info level.
	Production Environment = "production"

	// Test is used by test binaries.
	Test Environment = "test"
)

// FromEnv reads the environment from RETINASCOPE_ENV. Unknown or empty values
// fall back to Development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.RetinascopeEnv))
}

// Parse converts a string into an Environment.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}

// String implements fmt.Stringer.
func (e Environment) String() string {
	return string(e)
}
