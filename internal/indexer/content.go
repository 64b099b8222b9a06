// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package indexer

import (
	"context"
	"errors"
	"reflect"
	"time"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/internal/core"
	"github.com/westerndigitalcorporation/classindex/internal/fingerprint"
	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

const manifestEntry = "META-INF/MANIFEST.MF"

// indexLocation builds a new resource for 'c' and, once it's complete,
// makes it replace any older resource for the same location. Returns false
// if there was nothing to index.
//
// A location that can't be read is indexed with an empty fingerprint, so it
// is retried by the next scan. An archive that can't be opened is flagged
// as corrupt.
func (ix *Indexer) indexLocation(ctx context.Context, c change, elems []workspace.ElementRef, now time.Time, st *ScanStats) (bool, error) {
	if len(elems) == 0 {
		return false, nil
	}
	loc := c.location

	var addr pagedb.Address
	err := ix.db.Update(ctx, func() error {
		rs, err := ix.index.NewResource(loc, now.UnixMilli())
		if err != nil {
			return err
		}
		addr = rs.Addr()
		_, err = setMappings(rs, loc, elems)
		return err
	})
	if err != nil {
		return false, err
	}

	if workspace.IsArchiveName(loc) {
		err = ix.indexArchive(ctx, addr, loc, st)
	} else {
		err = ix.indexClassFile(ctx, addr, loc, st)
	}

	fp, corrupt := c.fp, false
	switch core.FromError(err) {
	case core.NoError:
	case core.ErrCorruptArchive:
		log.Warningf("%s: %s", loc, err)
		corrupt = true
		st.Corrupt++
	case core.ErrFileNotFound, core.ErrIO:
		log.Warningf("%s: %s, will retry", loc, err)
		fp = fingerprint.Empty
	default:
		// The resource isn't done, so the next collection deletes it.
		return false, err
	}

	var superseded []pagedb.Address
	err = ix.db.Update(ctx, func() error {
		rs, err := ix.index.Resource(addr)
		if err != nil {
			return err
		}
		rs.SetFingerprint(fp)
		rs.SetFlag(nd.FlagCorruptArchive, corrupt)
		rs.MarkDone()

		all, err := ix.index.FindResources(loc)
		if err != nil {
			return err
		}
		for _, o := range all {
			if o.Addr() != addr {
				o.Invalidate()
				superseded = append(superseded, o.Addr())
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	ix.cache.Remove(loc)

	for _, a := range superseded {
		if err := ix.deleteResource(ctx, a); err != nil {
			return false, err
		}
		st.Collected++
	}
	return true, nil
}

// indexArchive adds every class in the archive at 'loc' to the resource at
// 'addr'. Other entries are recorded by name.
func (ix *Indexer) indexArchive(ctx context.Context, addr pagedb.Address, loc string, st *ScanStats) error {
	// Opening is retried; reading entries isn't, as it would duplicate types.
	var n int
	err := ix.retrier.Run(ctx, func() (err error) {
		if err = ix.injected(opRead); err != nil {
			return err
		}
		n, err = workspace.ArchiveLen(loc)
		return err
	}, core.IsRetriable)
	if err != nil {
		return err
	}
	log.V(1).Infof("%s: indexing %d entries", loc, n)

	return workspace.ReadArchive(ctx, loc, func(e *workspace.ArchiveEntry) error {
		if e.IsDir {
			return nil
		}
		if !classfile.IsClassFileName(e.Name) {
			return ix.addZipEntry(ctx, addr, e)
		}
		b, err := e.Read()
		if errors.Is(err, workspace.ErrCorruptArchive) {
			log.Warningf("%s: skipping entry: %s", loc, err)
			st.Skipped++
			classesSkipped.Inc()
			return nil
		} else if err != nil {
			return err
		}
		return ix.indexClass(ctx, addr, loc+"!"+e.Name, b, st)
	})
}

func (ix *Indexer) addZipEntry(ctx context.Context, addr pagedb.Address, e *workspace.ArchiveEntry) error {
	var manifest []byte
	if e.Name == manifestEntry {
		b, err := e.Read()
		if err != nil {
			log.Warningf("unreadable manifest: %s", err)
		}
		manifest = b
	}
	return ix.db.Update(ctx, func() error {
		rs, err := ix.index.Resource(addr)
		if err != nil {
			return err
		}
		if err := rs.AddZipEntry(e.Name); err != nil {
			return err
		}
		if manifest != nil {
			return rs.SetManifest(manifest)
		}
		return nil
	})
}

// indexClassFile adds the loose class file at 'loc' to the resource at
// 'addr'.
func (ix *Indexer) indexClassFile(ctx context.Context, addr pagedb.Address, loc string, st *ScanStats) error {
	var b []byte
	err := ix.retrier.Run(ctx, func() (err error) {
		if err = ix.injected(opRead); err != nil {
			return err
		}
		b, err = workspace.ReadFile(loc)
		return err
	}, core.IsRetriable)
	if err != nil {
		return err
	}
	return ix.indexClass(ctx, addr, loc, b, st)
}

// indexClass parses a class file outside the lock and stores it in one
// write burst. Malformed class files are skipped.
func (ix *Indexer) indexClass(ctx context.Context, addr pagedb.Address, source string, b []byte, st *ScanStats) error {
	cf, err := classfile.Parse(b)
	var d *nd.TypeData
	if err == nil {
		d, err = Convert(cf)
	}
	if errors.Is(err, classfile.ErrFormat) {
		ix.skip(source, err, st)
		return nil
	} else if err != nil {
		return err
	}

	added := false
	err = ix.db.Update(ctx, func() error {
		rs, err := ix.index.Resource(addr)
		if err != nil {
			return err
		}
		t, err := rs.AddType(d)
		if err != nil {
			return err
		}
		added = true
		rs.SetJDKLevel(uint32(cf.MajorVersion)<<16 | uint32(cf.MinorVersion))
		if ix.cfg.DebugSelfTest {
			ix.selfTest(source, t, d)
		}
		return nil
	})
	if !added && errors.Is(err, nd.ErrInvalidData) {
		ix.skip(source, err, st)
		return nil
	} else if err != nil {
		return err
	}

	if ix.cfg.DebugInsertions {
		log.Infof("indexed %s from %s: %d members", d.Descriptor, source, len(d.Members))
	}
	st.Types++
	classesIndexed.Inc()
	return nil
}

func (ix *Indexer) skip(source string, err error, st *ScanStats) {
	log.Warningf("%s: skipping class: %s", source, err)
	st.Skipped++
	classesSkipped.Inc()
}

// selfTest reads back a type just added and compares it with what was
// written. Requires a lock.
func (ix *Indexer) selfTest(source string, t *nd.Type, want *nd.TypeData) {
	got, err := t.Data()
	if err != nil {
		selfTestFailures.Inc()
		log.Errorf("self test %s: reading back: %s", source, err)
		return
	}
	if !reflect.DeepEqual(got, want) {
		selfTestFailures.Inc()
		log.Errorf("self test %s: wrote %+v, read back %+v", source, want, got)
	}
}
