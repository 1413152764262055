package journal

import (
	"context"

	"github.com/koustreak/bucketdesk/internal/database"
	"github.com/koustreak/bucketdesk/internal/database/mysql"
	"github.com/koustreak/bucketdesk/internal/database/postgres"
)

// Open builds the journal cfg selects. BackendNone yields Discard.
func Open(ctx context.Context, cfg Config) (Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "", BackendNone:
		return Discard, nil
	case BackendMemory:
		return NewMemory(cfg.Capacity), nil
	}

	dbCfg := cfg.Database
	dbCfg.Driver = database.Driver(cfg.Backend)

	var (
		db  database.DB
		err error
	)
	if cfg.Backend == BackendPostgres {
		db, err = postgres.New(ctx, &dbCfg)
	} else {
		db, err = mysql.New(ctx, &dbCfg)
	}
	if err != nil {
		return nil, err
	}

	j, err := NewSQL(ctx, db, cfg.Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}
