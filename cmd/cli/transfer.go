package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

func exportMappings(ctx context.Context, store ports.Store, w io.Writer) error {
	mappings, err := store.Dump(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if mappings == nil {
		mappings = []domain.ExportedMapping{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(mappings)
}

// importMappings loads an export in a single transaction. Live mappings whose
// code is already taken, or whose owner already shortened the URL, are skipped.
func importMappings(ctx context.Context, store ports.Store, r io.Reader) (imported, skipped int, err error) {
	var mappings []domain.ExportedMapping
	if err := json.NewDecoder(r).Decode(&mappings); err != nil {
		return 0, 0, fmt.Errorf("decode export: %w", err)
	}

	err = store.InTx(ctx, func(q ports.Queries) error {
		imported, skipped = 0, 0
		for _, m := range mappings {
			ok, err := q.ImportMapping(ctx, m)
			if err != nil {
				return fmt.Errorf("import %s: %w", m.Code, err)
			}
			if ok {
				imported++
			} else {
				skipped++
			}
		}
		return nil
	})
	return imported, skipped, err
}
