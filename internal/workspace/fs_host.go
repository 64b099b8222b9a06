// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package workspace

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/golang/glog"
)

// IsArchiveName is true for file names the indexer reads as archives.
func IsArchiveName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jar" || ext == ".zip"
}

type project struct {
	roots []string
	open  bool
}

// FSHost is a Host over the local filesystem. Each project has a set of
// roots; a root is an archive or a class folder. Archives found inside a
// class folder are roots of their own.
type FSHost struct {
	lock     sync.Mutex
	projects map[string]*project
}

// NewFSHost returns a host without projects.
func NewFSHost() *FSHost {
	return &FSHost{projects: make(map[string]*project)}
}

// AddProject adds or replaces an open project.
func (h *FSHost) AddProject(name string, roots ...string) {
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		if a, err := filepath.Abs(r); err == nil {
			r = a
		}
		abs = append(abs, filepath.Clean(r))
	}
	h.lock.Lock()
	h.projects[name] = &project{roots: abs, open: true}
	h.lock.Unlock()
}

// RemoveProject removes a project.
func (h *FSHost) RemoveProject(name string) {
	h.lock.Lock()
	delete(h.projects, name)
	h.lock.Unlock()
}

// SetOpen opens or closes a project. Closed projects contribute nothing.
func (h *FSHost) SetOpen(name string, open bool) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	p, ok := h.projects[name]
	if !ok {
		return fmt.Errorf("unknown project %q", name)
	}
	p.open = open
	return nil
}

// Projects returns the names of all projects.
func (h *FSHost) Projects() []string {
	h.lock.Lock()
	defer h.lock.Unlock()
	var names []string
	for n := range h.projects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EnumerateIndexableLocations implements Host.
func (h *FSHost) EnumerateIndexableLocations(ctx context.Context) (map[string][]ElementRef, error) {
	h.lock.Lock()
	roots := make(map[string][]string)
	for name, p := range h.projects {
		if p.open {
			roots[name] = append([]string(nil), p.roots...)
		}
	}
	h.lock.Unlock()

	out := make(map[string][]ElementRef)
	for name, rs := range roots {
		for _, root := range rs {
			if err := walkRoot(ctx, name, root, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func walkRoot(ctx context.Context, projectName, root string, out map[string][]ElementRef) error {
	fi, err := os.Stat(root)
	if err != nil {
		log.V(1).Infof("skipping root %s of project %s: %s", root, projectName, err)
		return nil
	}
	if !fi.IsDir() {
		if IsArchiveName(root) || strings.HasSuffix(root, ".class") {
			out[root] = append(out[root], ElementRef{Path: workspacePath(projectName, filepath.Base(root)), Root: root})
		}
		return nil
	}

	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			// Something vanished or became unreadable during the walk.
			log.V(1).Infof("skipping %s: %s", p, err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		wsPath := workspacePath(projectName, filepath.Base(root), filepath.ToSlash(rel))
		switch {
		case IsArchiveName(p):
			out[p] = append(out[p], ElementRef{Path: wsPath, Root: p})
		case strings.HasSuffix(p, ".class"):
			out[p] = append(out[p], ElementRef{Path: wsPath, Root: root})
		}
		return nil
	})
}

func workspacePath(projectName string, elems ...string) string {
	return path.Join(append([]string{"/", projectName}, elems...)...)
}
