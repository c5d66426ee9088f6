package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// ConfiguredDatabase sets up the TeslaMate charging session store based on
// flags.
func ConfiguredDatabase() Database {
	var db struct{ Database }

	pg := configuredPostgres()

	lflag.Do(func() {
		if err := pg.Validate(); err != nil {
			panic(fmt.Sprintf("postgres validation failed: %v", err))
		}
		if err := pg.Init(context.Background()); err != nil {
			panic(fmt.Sprintf("postgres init failed: %v", err))
		}
		db.Database = pg
	})

	return &db
}

type configuredArchive struct{ PriceArchive }

// Archiving reports whether a actually stores segments.
func Archiving(a PriceArchive) bool {
	if c, ok := a.(*configuredArchive); ok {
		a = c.PriceArchive
	}
	switch a.(type) {
	case nil, NoArchive, *NoArchive:
		return false
	}
	return true
}

// ConfiguredArchive sets up the price archive based on flags.
func ConfiguredArchive() PriceArchive {
	archive := lflag.String("price-archive", "none", "Where to archive fetched prices (available: none, firestore)")

	var ar configuredArchive

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *archive {
		case "none", "":
			ar.PriceArchive = NoArchive{}
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			ar.PriceArchive = fs
		default:
			panic(fmt.Sprintf("unknown price archive: %s", *archive))
		}
	})

	return &ar
}
