package validation

import (
	"fmt"
	"regexp"

	"github.com/systmms/cfgstore/pkg/configstore"
)

// SecretPolicyConfig defines requirements for secret values.
type SecretPolicyConfig struct {
	MinLength     int  `yaml:"min_length,omitempty"`
	MaxLength     int  `yaml:"max_length,omitempty"`
	RequireUpper  bool `yaml:"require_upper,omitempty"`
	RequireLower  bool `yaml:"require_lower,omitempty"`
	RequireDigit  bool `yaml:"require_digit,omitempty"`
	RequireSymbol bool `yaml:"require_symbol,omitempty"`

	// ForbiddenPatterns are regular expressions a secret must not match.
	ForbiddenPatterns []string `yaml:"forbidden_patterns,omitempty"`
	// RequiredPatterns are regular expressions a secret must match.
	RequiredPatterns []string `yaml:"required_patterns,omitempty"`
}

var (
	upperPattern  = regexp.MustCompile(`[A-Z]`)
	lowerPattern  = regexp.MustCompile(`[a-z]`)
	digitPattern  = regexp.MustCompile(`[0-9]`)
	symbolPattern = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?~` + "`" + `]`)
)

// SecretPolicy is a compiled SecretPolicyConfig.
type SecretPolicy struct {
	cfg       SecretPolicyConfig
	forbidden []*regexp.Regexp
	required  []*regexp.Regexp
}

// NewSecretPolicy compiles the configured patterns.
func NewSecretPolicy(cfg SecretPolicyConfig) (*SecretPolicy, error) {
	if cfg.MaxLength > 0 && cfg.MinLength > cfg.MaxLength {
		return nil, fmt.Errorf("secret policy: min_length %d exceeds max_length %d", cfg.MinLength, cfg.MaxLength)
	}
	p := &SecretPolicy{cfg: cfg}
	for _, pattern := range cfg.ForbiddenPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("secret policy: forbidden pattern %q: %w", pattern, err)
		}
		p.forbidden = append(p.forbidden, re)
	}
	for _, pattern := range cfg.RequiredPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("secret policy: required pattern %q: %w", pattern, err)
		}
		p.required = append(p.required, re)
	}
	return p, nil
}

// Check validates a secret. Messages never include the value itself.
func (p *SecretPolicy) Check(value string) error {
	c := p.cfg
	switch {
	case c.MinLength > 0 && len(value) < c.MinLength:
		return violation("secret must be at least %d characters", c.MinLength)
	case c.MaxLength > 0 && len(value) > c.MaxLength:
		return violation("secret must not exceed %d characters", c.MaxLength)
	case c.RequireUpper && !upperPattern.MatchString(value):
		return violation("secret must contain uppercase letters")
	case c.RequireLower && !lowerPattern.MatchString(value):
		return violation("secret must contain lowercase letters")
	case c.RequireDigit && !digitPattern.MatchString(value):
		return violation("secret must contain digits")
	case c.RequireSymbol && !symbolPattern.MatchString(value):
		return violation("secret must contain symbols")
	}

	for _, re := range p.forbidden {
		if re.MatchString(value) {
			return violation("secret matches forbidden pattern %s", re)
		}
	}
	for _, re := range p.required {
		if !re.MatchString(value) {
			return violation("secret does not match required pattern %s", re)
		}
	}
	return nil
}

func violation(format string, args ...any) error {
	return configstore.ValidationError{
		Kind:    configstore.PolicyViolation,
		Field:   "value",
		Message: fmt.Sprintf(format, args...),
	}
}
