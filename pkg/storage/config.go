package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, postgres, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()
	sp := configuredSQL()

	lflag.Do(func() {
		switch *provider {
		case "sqlite", "postgres":
			sp.driver = *provider
			if err := sp.Validate(); err != nil {
				panic(fmt.Sprintf("%s validation failed: %v", *provider, err))
			}
			if err := sp.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("%s init failed: %v", *provider, err))
			}
			p.Database = sp
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
