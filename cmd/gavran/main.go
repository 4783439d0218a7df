// gavran is a minimal command-line driver for the paging and
// transaction core: open a database file, read a page or modify it and
// commit, and report the resulting page count.
//
// Usage:
//
//	gavran -db data.gavran -page 3 -write "hello"
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/gavran-db/gavran/config"
	"github.com/gavran-db/gavran/gavranlog"
	"github.com/gavran-db/gavran/txn"
)

func main() {
	configPath := flag.String("config", "", "path to a gavran config file (yaml/json/toml)")
	dbPath := flag.String("db", "", "database file path (overrides config)")
	pageNum := flag.Uint64("page", 0, "page number to read or modify")
	write := flag.String("write", "", "if set, modify_page(page) and write this text into it, then commit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("gavran: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := gavranlog.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("gavran: %v", err)
	}
	defer logger.Sync()

	db, err := txn.OpenDatabase(cfg.Database.Path, txn.DatabaseOptions{
		ReadOnly:     cfg.Database.ReadOnly,
		InitialPages: cfg.Database.InitialPages,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("gavran: open %q: %v", cfg.Database.Path, err)
	}
	defer db.Close()

	if *write != "" {
		tx, err := txn.Begin(db, txn.FlagNone)
		if err != nil {
			log.Fatalf("gavran: begin: %v", err)
		}
		page, err := tx.ModifyPage(*pageNum, 0)
		if err != nil {
			tx.Close()
			log.Fatalf("gavran: modify_page(%d): %v", *pageNum, err)
		}
		copy(page.Address, []byte(*write))
		if err := tx.Commit(); err != nil {
			tx.Close()
			log.Fatalf("gavran: commit: %v", err)
		}
		tx.Close()
		fmt.Printf("wrote %d bytes to page %d\n", len(*write), *pageNum)
	} else {
		tx, err := txn.Begin(db, txn.FlagReadOnly)
		if err != nil {
			log.Fatalf("gavran: begin: %v", err)
		}
		defer tx.Close()
		page, err := tx.GetPage(*pageNum)
		if err != nil {
			log.Fatalf("gavran: get_page(%d): %v", *pageNum, err)
		}
		fmt.Printf("page %d, first 32 bytes: %q\n", *pageNum, page.Address[:32])
	}

	fmt.Printf("total pages: %d\n", db.TotalPages())
}
