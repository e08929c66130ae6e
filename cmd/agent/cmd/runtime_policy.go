package cmd

import (
	"fmt"
	"strings"
)

// validateFakeFleetPolicy keeps the in-memory fleet out of production runs.
func validateFakeFleetPolicy(useFake bool, fakeFile, suite string) error {
	if !useFake {
		return nil
	}
	if strings.TrimSpace(suite) == "" {
		return fmt.Errorf("fake fleet requires %s to be set (test suite guard): %s=%q", e2eSuiteEnvVar, fakeFleetFileEnv, fakeFile)
	}
	return nil
}
