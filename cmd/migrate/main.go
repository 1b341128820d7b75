package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		driver = flag.String("driver", envOr("SHALOM_STORE_DRIVER", "postgres"), "Store driver: postgres, sqlite or mysql")
		dsn    = flag.String("dsn", os.Getenv("SHALOM_STORE_DSN"), "Database DSN (file path for sqlite)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or SHALOM_STORE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := kv.OpenSQL(ctx, *driver, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr, err := migrate.NewManager(store.DB(), store.Dialect().Name)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
