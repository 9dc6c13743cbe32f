package github

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-github/v80/github"
)

type PermissionLevel int

const (
	LevelNone PermissionLevel = iota
	LevelRead
	LevelWrite
	LevelAdmin // never granted, 'write' is the highest allowed level
)

func parseLevel(s string) PermissionLevel {
	switch strings.ToLower(s) {
	case "read", "readonly":
		return LevelRead
	case "write", "readwrite":
		return LevelWrite
	case "admin":
		return LevelAdmin
	default:
		return LevelNone
	}
}

// ValidatePermissions rejects unknown levels and anything above write.
func ValidatePermissions(perms map[string]string) error {
	for name, value := range perms {
		switch parseLevel(value) {
		case LevelNone:
			return fmt.Errorf("permission '%s': unknown level '%s'", name, value)
		case LevelAdmin:
			return fmt.Errorf("permission '%s': level 'admin' is not allowed", name)
		}
	}
	return nil
}

// installationPermissions converts the permission map to the API type.
// Unknown permission names are rejected instead of silently dropped.
func installationPermissions(perms map[string]string) (*github.InstallationPermissions, error) {
	normalized := make(map[string]string, len(perms))
	for name, value := range perms {
		switch parseLevel(value) {
		case LevelRead:
			normalized[name] = "read"
		case LevelWrite:
			normalized[name] = "write"
		default:
			normalized[name] = value
		}
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encoding permissions: %w", err)
	}
	var out github.InstallationPermissions
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("unsupported github permissions: %w", err)
	}
	return &out, nil
}
