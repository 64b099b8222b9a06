// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package export copies the contents of an index into an sqlite database,
// for looking at it with ordinary SQL tools.
package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	// Import sqlite3 driver so that we can create db backed by sqlite.
	_ "github.com/mattn/go-sqlite3"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

var schema = []string{
	// Due to a bug in early version of sqlite, a non-integer primary key
	// can be null, so every key is an INTEGER.
	`CREATE TABLE resources (
		id INTEGER NOT NULL PRIMARY KEY,
		location TEXT NOT NULL,
		size INTEGER, mtime INTEGER, hash INTEGER,
		last_used INTEGER NOT NULL,
		corrupt INTEGER NOT NULL,
		jdk_level INTEGER NOT NULL,
		package_fragment_root TEXT)`,
	`CREATE TABLE workspace_locations (resource INTEGER NOT NULL, path TEXT NOT NULL)`,
	`CREATE TABLE zip_entries (resource INTEGER NOT NULL, name TEXT NOT NULL)`,
	`CREATE TABLE types (
		id INTEGER NOT NULL PRIMARY KEY,
		resource INTEGER NOT NULL,
		descriptor TEXT NOT NULL,
		simple_name TEXT NOT NULL,
		modifiers INTEGER NOT NULL,
		flags INTEGER NOT NULL,
		superclass TEXT,
		type_params TEXT,
		source_file TEXT,
		declaring_type TEXT)`,
	`CREATE TABLE members (
		type INTEGER NOT NULL,
		name TEXT NOT NULL,
		descriptor TEXT NOT NULL,
		kind TEXT NOT NULL,
		access INTEGER NOT NULL,
		position INTEGER NOT NULL,
		signature TEXT)`,
	`CREATE INDEX types_by_descriptor ON types (descriptor)`,
	`CREATE INDEX types_by_simple_name ON types (simple_name)`,
}

// Counts tells how many rows an export wrote.
type Counts struct {
	Resources int
	Types     int
	Members   int
}

func (c Counts) String() string {
	return fmt.Sprintf("%d resources, %d types, %d members", c.Resources, c.Types, c.Members)
}

// SqliteDB is an export database being written.
type SqliteDB struct {
	db *sql.DB

	// Prepared statements for each table.
	resourceStmt, locationStmt, entryStmt, typeStmt, memberStmt *sql.Stmt
}

// Create creates an empty export database at 'path', replacing any file
// there.
func Create(path string) (*SqliteDB, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open the db backed by %s: %w", path, err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	s := &SqliteDB{db: db}
	for _, p := range []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&s.resourceStmt, "INSERT INTO resources VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"},
		{&s.locationStmt, "INSERT INTO workspace_locations VALUES (?, ?)"},
		{&s.entryStmt, "INSERT INTO zip_entries VALUES (?, ?)"},
		{&s.typeStmt, "INSERT INTO types VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"},
		{&s.memberStmt, "INSERT INTO members VALUES (?, ?, ?, ?, ?, ?, ?)"},
	} {
		if *p.stmt, err = db.Prepare(p.query); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to prepare %q: %w", p.query, err)
		}
	}
	return s, nil
}

// Close closes the db. All errors are logged and the last one is returned.
func (s *SqliteDB) Close() (err error) {
	for _, stmt := range []*sql.Stmt{s.resourceStmt, s.locationStmt, s.entryStmt, s.typeStmt, s.memberStmt} {
		if stmt == nil {
			continue
		}
		if cerr := stmt.Close(); cerr != nil {
			err = cerr
			log.Errorf("failed to close statement: %s", err)
		}
	}
	if cerr := s.db.Close(); cerr != nil {
		err = cerr
		log.Errorf("failed to close db: %s", err)
	}
	return err
}

// resource is everything exported for one resource, read in one burst.
type resource struct {
	addr      pagedb.Address
	location  string
	fpPresent bool
	size      uint64
	mtime     int64
	hash      interface{}
	lastUsed  int64
	corrupt   bool
	jdkLevel  uint32
	pfr       string
	locations []string
	entries   []string
	types     []typeRow
}

type typeRow struct {
	addr   pagedb.Address
	simple string
	data   *nd.TypeData
}

func readResource(ix *nd.Index, a pagedb.Address) (*resource, error) {
	rs, err := ix.Resource(a)
	if err != nil {
		return nil, err
	}
	if !rs.IsVisible() {
		return nil, nil
	}
	out := &resource{
		addr:     a,
		lastUsed: rs.TimeLastUsed(),
		corrupt:  rs.Flags()&nd.FlagCorruptArchive != 0,
		jdkLevel: rs.JDKLevel(),
	}
	if fp := rs.Fingerprint(); !fp.IsEmpty() {
		out.fpPresent, out.size, out.mtime = true, fp.Size, fp.ModTime
		if fp.HasHash {
			out.hash = int64(fp.Hash)
		}
	}
	if out.location, err = rs.Location(); err != nil {
		return nil, err
	}
	if out.pfr, err = rs.PackageFragmentRoot(); err != nil {
		return nil, err
	}
	if out.locations, err = rs.WorkspaceLocations(); err != nil {
		return nil, err
	}
	if out.entries, err = rs.ZipEntries(); err != nil {
		return nil, err
	}
	types, err := rs.Types()
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		d, err := t.Data()
		if err != nil {
			return nil, err
		}
		simple, err := t.SimpleName()
		if err != nil {
			return nil, err
		}
		out.types = append(out.types, typeRow{addr: t.Addr(), simple: simple, data: d})
	}
	return out, nil
}

// Export writes the visible contents of the index in 'db' to a new sqlite
// database at 'path'. The index is read one resource per read lock burst,
// so a concurrent scan may make the export a mix of before and after.
func Export(ctx context.Context, db *pagedb.Database, path string) (Counts, error) {
	var c Counts
	ix := nd.New(db)
	var addrs []pagedb.Address
	err := db.View(func() (err error) {
		addrs, err = ix.AllResources()
		return err
	})
	if err != nil {
		return c, err
	}

	s, err := Create(path)
	if err != nil {
		return c, err
	}
	defer s.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	for _, a := range addrs {
		if err := ctx.Err(); err != nil {
			tx.Rollback()
			return c, err
		}
		var r *resource
		err := db.View(func() (err error) {
			r, err = readResource(ix, a)
			return err
		})
		if errors.Is(err, pagedb.ErrCorrupt) {
			// Freed since the list was taken.
			log.V(1).Infof("resource %d went away: %s", a, err)
			continue
		} else if err != nil {
			tx.Rollback()
			return c, err
		}
		if r == nil {
			continue
		}
		if err := s.put(tx, r, &c); err != nil {
			tx.Rollback()
			return c, err
		}
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	log.Infof("exported %s to %s", c, path)
	return c, nil
}

func (s *SqliteDB) put(tx *sql.Tx, r *resource, c *Counts) error {
	var size, mtime, hash interface{}
	if r.fpPresent {
		size, mtime, hash = int64(r.size), r.mtime, r.hash
	}
	_, err := tx.Stmt(s.resourceStmt).Exec(int64(r.addr), r.location, size, mtime, hash,
		r.lastUsed, r.corrupt, int64(r.jdkLevel), nullable(r.pfr))
	if err != nil {
		return fmt.Errorf("failed to insert resource %s: %w", r.location, err)
	}
	c.Resources++
	for _, l := range r.locations {
		if _, err := tx.Stmt(s.locationStmt).Exec(int64(r.addr), l); err != nil {
			return err
		}
	}
	for _, e := range r.entries {
		if _, err := tx.Stmt(s.entryStmt).Exec(int64(r.addr), e); err != nil {
			return err
		}
	}
	for _, t := range r.types {
		d := t.data
		var super interface{}
		if d.Superclass != nil {
			super = d.Superclass.Signature()
		}
		_, err := tx.Stmt(s.typeStmt).Exec(int64(t.addr), int64(r.addr), d.Descriptor, t.simple,
			int64(d.Modifiers), int64(d.Flags), super, nullable(d.TypeParams), nullable(d.SourceFile),
			nullable(d.DeclaringType))
		if err != nil {
			return fmt.Errorf("failed to insert type %s: %w", d.Descriptor, err)
		}
		c.Types++
		for _, m := range d.Members {
			_, err := tx.Stmt(s.memberStmt).Exec(int64(t.addr), m.Name, m.Descriptor, m.Kind.String(),
				int64(m.Access), m.Position, nullable(m.GenericSignature))
			if err != nil {
				return fmt.Errorf("failed to insert member %s.%s: %w", d.Descriptor, m.Name, err)
			}
			c.Members++
		}
	}
	return nil
}

// nullable maps "" to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
