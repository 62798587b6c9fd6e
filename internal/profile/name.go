package profile

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/rcschat/internal/config"
)

const (
	// DefaultName is used when nothing selects a profile.
	DefaultName = "main"
	// NameEnv selects the profile when no flag is given.
	NameEnv = "RCSCHAT_PROFILE"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("profile: invalid name")

// Profile names become directory names under profiles/.
var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Resolve picks the profile name: the --profile flag, then $RCSCHAT_PROFILE,
// then default_profile from the global config, then DefaultName. The
// result is not validated.
func Resolve(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(NameEnv); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

func ValidateName(name string) error {
	if validName.MatchString(name) {
		return nil
	}
	return fmt.Errorf("%w %q: use up to 64 lowercase letters, digits, '-' or '_', starting with a letter or digit", ErrInvalidName, name)
}
