package configstore

import (
	"fmt"
	"strings"
)

// Environment identifies a deployment environment. Base is the fallback
// environment used when no environment-specific value exists.
type Environment int

const (
	Base Environment = iota
	Development
	Staging
	Production
	Edge
)

// Environments lists every environment in declaration order.
var Environments = []Environment{Base, Development, Staging, Production, Edge}

// String returns the lowercase canonical name.
func (e Environment) String() string {
	switch e {
	case Base:
		return "base"
	case Development:
		return "development"
	case Staging:
		return "staging"
	case Production:
		return "production"
	case Edge:
		return "edge"
	default:
		return fmt.Sprintf("environment(%d)", int(e))
	}
}

// Valid reports whether e is one of the declared environments.
func (e Environment) Valid() bool {
	return e >= Base && e <= Edge
}

// ParseEnvironment accepts canonical names and the short aliases
// dev, stage and prod, case-insensitively.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base":
		return Base, nil
	case "dev", "development":
		return Development, nil
	case "stage", "staging":
		return Staging, nil
	case "prod", "production":
		return Production, nil
	case "edge":
		return Edge, nil
	}
	return Base, ValidationError{
		Kind:    InvalidIdentifier,
		Field:   "environment",
		Message: fmt.Sprintf("unknown environment %q (expected base, development, staging, production or edge)", s),
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Environment) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("invalid environment %d", int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Environment) UnmarshalText(b []byte) error {
	parsed, err := ParseEnvironment(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
