// Package main implements a maintenance inspector for the unified-agent
// database. It opens the database file directly, reports table counts and
// referential health, and can rebuild the chunk full-text index or compact
// the file in place.
//
// Usage: go run ./cmd/tools/dbinspect -db ~/.unified-agent/unified-agent.db
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", defaultDBPath(), "Path to the unified-agent database")
	rebuildFTS := flag.Bool("rebuild-fts", false, "Drop and repopulate the chunk full-text index")
	vacuum := flag.Bool("vacuum", false, "Compact the database file after checks")
	flag.Parse()

	fmt.Println("=================================================")
	fmt.Println("  DB INSPECT - unified-agent store")
	fmt.Println("=================================================")
	fmt.Println()

	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "dbinspect: cannot stat %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbinspect: open failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	fmt.Printf("[OK] opened %s\n\n", *dbPath)

	failures := 0

	// Step 1: integrity.
	var verdict string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&verdict); err != nil {
		fmt.Fprintf(os.Stderr, "dbinspect: integrity check failed to run: %v\n", err)
		os.Exit(1)
	}
	if verdict == "ok" {
		fmt.Println("[OK] integrity_check: ok")
	} else {
		fmt.Printf("[FAIL] integrity_check: %s\n", verdict)
		failures++
	}

	// Step 2: table counts.
	fmt.Println()
	fmt.Println("Tables:")
	for _, table := range []string{"events", "chunks", "assessments", "external_sessions", "_sync_queue"} {
		n, err := count(db, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			fmt.Printf("  %-18s missing (%v)\n", table, err)
			failures++
			continue
		}
		fmt.Printf("  %-18s %d\n", table, n)
	}

	// Step 3: referential health.
	fmt.Println()
	checks := []struct {
		label  string
		query  string
		orphan bool // orphans are defects; backlog counts are informational
	}{
		{"events tagged to missing chunks",
			`SELECT COUNT(*) FROM events WHERE chunk_id IS NOT NULL AND chunk_id != ''
			 AND chunk_id NOT IN (SELECT id FROM chunks)`, true},
		{"assessments for missing chunks",
			`SELECT COUNT(*) FROM assessments WHERE chunk_id NOT IN (SELECT id FROM chunks)`, true},
		{"chunks awaiting consensus",
			`SELECT COUNT(*) FROM chunks WHERE consensus_score IS NULL`, false},
		{"sync entries pending",
			`SELECT COUNT(*) FROM _sync_queue WHERE synced_at IS NULL`, false},
	}
	for _, c := range checks {
		n, err := count(db, c.query)
		if err != nil {
			fmt.Printf("[WARN] %s: query failed: %v\n", c.label, err)
			continue
		}
		mark := "[OK]"
		if n > 0 && c.orphan {
			mark = "[WARN]"
		}
		fmt.Printf("%s %s: %d\n", mark, c.label, n)
	}

	// Step 4: FTS state, optionally rebuilt from the chunks table.
	fmt.Println()
	ftsRows, ftsErr := count(db, "SELECT COUNT(*) FROM chunk_fts")
	switch {
	case ftsErr != nil:
		fmt.Printf("[WARN] chunk_fts unavailable: %v\n", ftsErr)
	case *rebuildFTS:
		if err := rebuildIndex(db); err != nil {
			fmt.Fprintf(os.Stderr, "dbinspect: fts rebuild failed: %v\n", err)
			os.Exit(1)
		}
		rebuilt, _ := count(db, "SELECT COUNT(*) FROM chunk_fts")
		fmt.Printf("[OK] chunk_fts rebuilt: %d -> %d rows\n", ftsRows, rebuilt)
	default:
		chunks, _ := count(db, "SELECT COUNT(*) FROM chunks")
		if ftsRows == chunks {
			fmt.Printf("[OK] chunk_fts in sync (%d rows)\n", ftsRows)
		} else {
			fmt.Printf("[WARN] chunk_fts has %d rows for %d chunks (run -rebuild-fts)\n", ftsRows, chunks)
		}
	}

	if *vacuum {
		if _, err := db.Exec("VACUUM"); err != nil {
			fmt.Fprintf(os.Stderr, "dbinspect: vacuum failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("[OK] vacuum complete")
	}

	fmt.Println()
	if failures > 0 {
		fmt.Printf("Done with %d failure(s).\n", failures)
		os.Exit(1)
	}
	fmt.Println("Done.")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "unified-agent.db"
	}
	return filepath.Join(home, ".unified-agent", "unified-agent.db")
}

func count(db *sql.DB, query string) (int, error) {
	var n int
	err := db.QueryRow(query).Scan(&n)
	return n, err
}

// rebuildIndex repopulates chunk_fts from the chunks table inside one
// transaction, so a crash cannot leave the index half-built.
func rebuildIndex(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunk_fts"); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO chunk_fts (chunk_id, content) SELECT id, content FROM chunks"); err != nil {
		return err
	}
	return tx.Commit()
}
