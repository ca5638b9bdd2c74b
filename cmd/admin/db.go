package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd queries the secondary index written by the server.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "index sqlite path (default: <data>/index/index.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	pid0 := fs.Uint64("pid0", 0, "player filter, first limb (commands)")
	pid1 := fs.Uint64("pid1", 0, "player filter, second limb (commands)")
	op := fs.String("op", "", "op filter (commands)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "index.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,seq,path,digest,entries FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int64  `json:"seq"`
				Path    string `json:"path"`
				Digest  string `json:"digest"`
				Entries int    `json:"entries"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Path, &r.Digest, &r.Entries); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "commands":
		where := []string{"1=1"}
		var qargs []any
		if *pid0 != 0 || *pid1 != 0 {
			where = append(where, "pid0=? AND pid1=?")
			qargs = append(qargs, int64(*pid0), int64(*pid1))
		}
		if s := strings.ToUpper(strings.TrimSpace(*op)); s != "" {
			where = append(where, "op=?")
			qargs = append(qargs, s)
		}
		qargs = append(qargs, *limit)
		rows, err := db.Query(`SELECT seq,tick,pid0,pid1,op,code,fatal,digest FROM commands WHERE `+strings.Join(where, " AND ")+` ORDER BY seq DESC LIMIT ?`, qargs...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					Seq    int64     `json:"seq"`
					Tick   int64     `json:"tick"`
					PID    [2]uint64 `json:"pid"`
					Op     string    `json:"op"`
					Code   int       `json:"code"`
					Fatal  string    `json:"fatal,omitempty"`
					Digest string    `json:"digest"`
				}
				p0, p1 int64
				fatal  sql.NullString
			)
			if err := rows.Scan(&r.Seq, &r.Tick, &p0, &p1, &r.Op, &r.Code, &fatal, &r.Digest); err != nil {
				fail("scan", err)
			}
			r.PID = [2]uint64{uint64(p0), uint64(p1)}
			r.Fatal = fatal.String
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "ticks":
		rows, err := db.Query(`SELECT tick,damage,loot,kills,spawned,credits FROM ticks ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64 `json:"tick"`
				Damage  int64 `json:"damage"`
				Loot    int64 `json:"loot"`
				Kills   int64 `json:"kills"`
				Spawned int   `json:"spawned"`
				Credits int   `json:"credits"`
			}
			if err := rows.Scan(&r.Tick, &r.Damage, &r.Loot, &r.Kills, &r.Spawned, &r.Credits); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "tuning":
		var r struct {
			Digest    string `json:"digest"`
			JSON      string `json:"json"`
			UpdatedAt string `json:"updated_at"`
		}
		row := db.QueryRow(`SELECT t.digest,t.json,t.updated_at FROM tuning t JOIN meta m ON m.key='tuning_digest' AND m.value=t.digest`)
		if err := row.Scan(&r.Digest, &r.JSON, &r.UpdatedAt); err != nil {
			fail("scan", err)
		}
		printJSON(r)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-limit N] [-pid0 A -pid1 B] [-op OP] snapshots|commands|ticks|tuning")
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
