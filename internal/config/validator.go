package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/repclub/gymgate/internal/adapter/outbound/cel"
	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/domain/policy"
)

// RegisterCustomValidators registers gymgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	custom := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"trace_output": validateTraceOutput,
		"duration":     validateDuration,
		"role":         validateRole,
		"key_hash":     validateKeyHash,
		"abs_path":     validateAbsPath,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout", or file://, dir:// or sqlite:// with an absolute path.
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" {
		return true
	}
	for _, scheme := range []string{"file://", "dir://", "sqlite://"} {
		if strings.HasPrefix(output, scheme) {
			return isAbsPath(strings.TrimPrefix(output, scheme))
		}
	}
	return false
}

func validateAbsPath(fl validator.FieldLevel) bool {
	return isAbsPath(fl.Field().String())
}

func validateTraceOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" {
		return true
	}
	if strings.HasPrefix(output, "file://") {
		return isAbsPath(strings.TrimPrefix(output, "file://"))
	}
	return false
}

func isAbsPath(path string) bool {
	return path != "" && filepath.IsAbs(path)
}

// validateDuration accepts any non-negative time.ParseDuration string.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateRole(fl validator.FieldLevel) bool {
	_, err := policy.ParseRole(fl.Field().String())
	return err == nil
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashTypeUnknown
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: Identity reference integrity
	if err := c.validateIdentityReferences(); err != nil {
		return err
	}

	if err := c.validateThrottle(); err != nil {
		return err
	}

	if err := c.LockoutPolicy().Validate(); err != nil {
		return fmt.Errorf("lockout: %w", err)
	}

	return c.validateRules()
}

// validateIdentityReferences ensures API keys and profiles reference known
// identities, and that no identity has two profiles.
func (c *Config) validateIdentityReferences() error {
	knownIdentities := make(map[string]struct{}, len(c.Auth.Identities))
	for i, identity := range c.Auth.Identities {
		if _, dup := knownIdentities[identity.ID]; dup {
			return fmt.Errorf("identities[%d]: duplicate id: %s", i, identity.ID)
		}
		knownIdentities[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := knownIdentities[apiKey.IdentityID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown identity_id: %s", i, apiKey.IdentityID)
		}
	}

	seen := make(map[string]struct{}, len(c.Profiles))
	for i, p := range c.Profiles {
		if _, exists := knownIdentities[p.IdentityID]; !exists {
			return fmt.Errorf("profiles[%d]: references unknown identity_id: %s", i, p.IdentityID)
		}
		if _, dup := seen[p.IdentityID]; dup {
			return fmt.Errorf("profiles[%d]: duplicate profile for identity_id: %s", i, p.IdentityID)
		}
		seen[p.IdentityID] = struct{}{}
	}

	return nil
}

// validateThrottle ensures every configured action admits at least one
// request per non-empty window.
func (c *Config) validateThrottle() error {
	actions := make([]string, 0, len(c.Throttle.Limits))
	for action := range c.Throttle.Limits {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	for _, action := range actions {
		if strings.TrimSpace(action) == "" {
			return errors.New("throttle.limits: action name must not be empty")
		}
		l := c.Throttle.Limits[action]
		if Duration(l.Window, 0) <= 0 {
			return fmt.Errorf("throttle.limits.%s: window must be positive", action)
		}
	}
	return nil
}

// validateRules compiles every CEL condition so a bad rule fails at load
// time instead of denying at request time.
func (c *Config) validateRules() error {
	if len(c.Rules.Granular) == 0 && len(c.Rules.MFA) == 0 {
		return nil
	}
	eval, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	for i, r := range c.Rules.Granular {
		if r.Condition == "" {
			continue
		}
		if err := eval.ValidateExpression(r.Condition); err != nil {
			return fmt.Errorf("rules.granular[%d] (%s): %w", i, r.Key, err)
		}
	}
	for i, r := range c.Rules.MFA {
		if r.Condition == "" {
			continue
		}
		if err := eval.ValidateExpression(r.Condition); err != nil {
			return fmt.Errorf("rules.mfa[%d] (%s): %w", i, r.Route, err)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as \"250ms\" or \"15m\"", field)
	case "role":
		return fmt.Sprintf("%s must be one of: member, trainer, staff, manager, owner", field)
	case "key_hash":
		return fmt.Sprintf("%s must be 'sha256:<hex>' or an argon2id hash", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'file://<absolute-path>', 'dir://<absolute-path>' or 'sqlite://<absolute-path>'", field)
	case "abs_path":
		return fmt.Sprintf("%s must be an absolute path", field)
	case "trace_output":
		return fmt.Sprintf("%s must be 'stdout' or 'file://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
