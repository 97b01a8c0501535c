package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/c360/testbedbus/errors"
)

// Limits on what a config file and its environment overrides may hold.
const (
	maxConfigSize = 1 << 20
	maxNesting    = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

var configExtensions = []string{".json", ".yaml", ".yml"}

func invalid(method, format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf(format+": %w", append(args, errors.ErrInvalidConfig)...),
		"config", method, "check input")
}

// validateConfigPath accepts JSON and YAML files. A relative path must not
// leave the working directory.
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return invalid("validateConfigPath", "empty config path")
	case len(path) > maxPathLen:
		return invalid("validateConfigPath", "config path longer than %d", maxPathLen)
	case !slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))):
		return invalid("validateConfigPath", "%s: not a .json, .yaml or .yml file", path)
	}
	if filepath.IsAbs(path) {
		return nil
	}
	if rel := filepath.Clean(path); rel == ".." || strings.HasPrefix(rel, "../") {
		return invalid("validateConfigPath", "%s: outside the working directory", path)
	}
	return nil
}

// safeReadFile reads at most maxConfigSize bytes of a regular file.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "safeReadFile", "open "+path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "safeReadFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, invalid("safeReadFile", "%s: not a regular file", path)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "safeReadFile", "read "+path)
	}
	if len(data) > maxConfigSize {
		return nil, invalid("safeReadFile", "%s: larger than %d bytes", path, maxConfigSize)
	}
	return data, nil
}

// safeWriteFile writes owner read/write only: the file may hold broker
// credentials.
func safeWriteFile(path string, data []byte) error {
	if err := validateConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return invalid("safeWriteFile", "config larger than %d bytes", maxConfigSize)
	}
	return os.WriteFile(path, data, 0o600)
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return invalid("validateEnvVar", "%s longer than %d", key, maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return invalid("validateEnvVar", "%s holds a NUL byte", key)
	}
	return nil
}

// checkNesting bounds the depth of a decoded JSON or YAML document.
func checkNesting(v any, depth int) error {
	if depth > maxNesting {
		return invalid("checkNesting", "nested deeper than %d", maxNesting)
	}
	switch v := v.(type) {
	case map[string]any:
		for _, item := range v {
			if err := checkNesting(item, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range v {
			if err := checkNesting(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
