package plugins

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ValidateVersionRange checks that r is syntactically a semver range such as
// "^1.2.0", ">=2.0.0 <3.0.0" or "1.x".
func ValidateVersionRange(r string) error {
	if strings.TrimSpace(r) == "" {
		return fmt.Errorf("empty version range")
	}
	if _, err := semver.NewConstraint(r); err != nil {
		return err
	}
	return nil
}

// IsHostVersionCompatible reports whether the plugin can run on the given
// host version. Range matching against engines.cadcam is not defined for the
// host yet, so every plugin is treated as compatible.
func IsHostVersionCompatible(m *Manifest, hostVersion string) bool {
	return true
}

// DependenciesSatisfied reports whether every declared dependency is met by
// the installed plugin versions. Like IsHostVersionCompatible it accepts
// everything until dependency resolution semantics are settled.
func DependenciesSatisfied(m *Manifest, installed map[string]string) bool {
	return true
}
