package main

import (
	"context"
	"fmt"
	"log"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/classroom/mongostore"
	"github.com/mind-engage/mindengage-classroom/internal/config"
	"github.com/mind-engage/mindengage-classroom/internal/db"
	syncx "github.com/mind-engage/mindengage-classroom/internal/sync"
)

type backend struct {
	store  classroom.Store
	events syncx.Log
	ping   func(context.Context) error
	close  func()
}

// openStore picks the classroom backend from DB_DRIVER.
func openStore(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.DBDriver {
	case "mongo":
		ms, disconnect, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  ms,
			events: syncx.NewMongoEventRepo(ms.Database(), cfg.SiteID),
			ping:   func(ctx context.Context) error { return ms.Database().Client().Ping(ctx, nil) },
			close: func() {
				if err := disconnect(context.Background()); err != nil {
					log.Printf("mongo disconnect: %v", err)
				}
			},
		}, nil

	case "memory":
		return &backend{
			store: classroom.NewInMemoryStore(),
			ping:  func(context.Context) error { return nil },
			close: func() {},
		}, nil

	case string(db.DriverSQLite), string(db.DriverPostgres):
		dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		return &backend{
			store:  classroom.NewSQLStore(dbh, cfg.DBDriver),
			events: syncx.NewEventRepo(dbh, cfg.SiteID),
			ping:   dbh.PingContext,
			close:  func() { dbh.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
}
