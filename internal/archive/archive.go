// Package archive keeps a diagnostics copy of what each analysis sent and received.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"insights-backend/internal/shared/storage/object"
)

// Archive writes JSON documents under processes/<id>/.
type Archive struct {
	store object.Store
}

func New(store object.Store) *Archive {
	return &Archive{store: store}
}

// Save stores v as processes/<processID>/<name>.json.
func (a *Archive) Save(ctx context.Context, processID, name string, v any) error {
	if a == nil || a.store == nil {
		return nil
	}
	key, err := Key(processID, name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive %s: %w", key, err)
	}
	if _, err := a.store.Put(ctx, key, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}

// Key returns the object key for a process document.
func Key(processID, name string) (string, error) {
	processID = strings.TrimSpace(processID)
	name = strings.TrimSpace(name)
	if processID == "" || name == "" || strings.ContainsAny(processID+name, `/\`) || strings.Contains(processID+name, "..") {
		return "", fmt.Errorf("%w: process=%q name=%q", object.ErrInvalidKey, processID, name)
	}
	return path.Join("processes", processID, name+".json"), nil
}
