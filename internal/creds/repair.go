// Package creds inspects the transport's credential directory and
// quarantines half-paired credential files before a reconnect.
package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CredsFileName is the primary credential file written by the transport's
// multi-file auth state.
const CredsFileName = "creds.json"

// Repair checks creds.json in dir and renames it aside when it describes a
// partially completed pairing. It returns true when the file was
// quarantined. A missing or unparseable file is left alone; the transport
// treats that as a fresh session.
//
// A credential record is considered complete when registered == true, or
// when it has neither a "me" nor an "account" subrecord (nothing was
// paired yet). Anything in between is a pairing that was interrupted
// before registration finished; reconnecting with it gets the session
// stuck, so the file is moved to creds.partial.<unix_millis>.json.
func Repair(dir string) (bool, error) {
	path := filepath.Join(dir, CredsFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", CredsFileName, err)
	}

	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return false, nil
	}

	if registered, ok := record["registered"].(bool); ok && registered {
		return false, nil
	}

	_, hasMe := record["me"]
	_, hasAccount := record["account"]
	if !hasMe && !hasAccount {
		return false, nil
	}

	quarantine := filepath.Join(dir, fmt.Sprintf("creds.partial.%d.json", time.Now().UnixMilli()))
	if err := os.Rename(path, quarantine); err != nil {
		return false, fmt.Errorf("failed to quarantine partial credentials: %w", err)
	}

	return true, nil
}
