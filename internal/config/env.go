package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment is a read-only key/value source for worker overrides
type Environment interface {
	Lookup(key string) (string, bool)
}

// OSEnvironment reads the process environment
type OSEnvironment struct{}

func (OSEnvironment) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// MapEnvironment is a fixed set of values
type MapEnvironment map[string]string

func (m MapEnvironment) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Layered consults each environment in order; the first hit wins
func Layered(envs ...Environment) Environment {
	return layered(envs)
}

type layered []Environment

func (l layered) Lookup(key string) (string, bool) {
	for _, env := range l {
		if env == nil {
			continue
		}
		if v, ok := env.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// ReadDotEnv parses the given .env files without touching the process
// environment. Later files override earlier ones.
func ReadDotEnv(paths ...string) (MapEnvironment, error) {
	out := MapEnvironment{}
	for _, p := range paths {
		vals, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", p, err)
		}
		for k, v := range vals {
			out[k] = v
		}
	}
	return out, nil
}
