// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/codegangsta/cli"
	shlex "github.com/flynn-archive/go-shlex"
	"github.com/peterh/liner"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/classindex/internal/classfile"
	"github.com/westerndigitalcorporation/classindex/internal/export"
	"github.com/westerndigitalcorporation/classindex/internal/indexer"
	"github.com/westerndigitalcorporation/classindex/internal/nd"
	"github.com/westerndigitalcorporation/classindex/internal/workspace"
	"github.com/westerndigitalcorporation/classindex/pkg/pagedb"
)

var usage = `
	ndcli inspects and maintains a class index database.

	You can issue one command:

		ndcli --index <path> <subcommand> [<flags>...]

	or start a command line interpreter and issue commands interactively:

		ndcli --index <path> shell

	The index stays open for the whole session, so a shell is the cheap way
	to run several queries. Commands that scan (rescan, rebuild) index the
	class path roots given with --roots; they must not be run while an
	indexd daemon has the same index open.
	`

// ndCli holds the index opened by the first command that needs it.
type ndCli struct {
	app *cli.App

	path string
	db   *pagedb.Database
	ix   *nd.Index

	// True if we are running a shell.
	inShell bool
}

func newNdCli() *ndCli {
	n := &ndCli{}
	app := cli.NewApp()
	app.Name = "ndcli"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "index, i",
			Usage: "path of the index database",
			Value: "index.db",
		},
		cli.StringFlag{
			Name:  "journal, j",
			Usage: "path of the scan journal",
		},
	}

	rootsFlag := cli.StringSliceFlag{
		Name:  "roots, r",
		Usage: "class path roots to index, repeatable",
	}
	verboseFlag := cli.BoolFlag{
		Name:  "verbose, v",
		Usage: "print members too",
	}

	app.Commands = []cli.Command{
		{
			Name:   "stats",
			Usage:  "Prints database statistics.",
			Action: n.cmdStats,
		},
		{
			Name:   "resources",
			Usage:  "Lists the indexed locations.",
			Flags:  []cli.Flag{cli.BoolFlag{Name: "all, a", Usage: "include resources that aren't visible"}},
			Action: n.cmdResources,
		},
		{
			Name:      "find",
			Aliases:   []string{"f"},
			Usage:     "Finds types by simple name, or by binary name if it contains '/'.",
			ArgsUsage: "<name>...",
			Flags:     []cli.Flag{verboseFlag},
			Action:    n.cmdFind,
		},
		{
			Name:      "export",
			Usage:     "Exports the index into an sqlite database.",
			ArgsUsage: "<path>",
			Action:    n.cmdExport,
		},
		{
			Name:   "rescan",
			Usage:  "Brings the index up to date with the given roots.",
			Flags:  []cli.Flag{rootsFlag},
			Action: n.cmdRescan,
		},
		{
			Name:   "rebuild",
			Usage:  "Discards the index and indexes the given roots.",
			Flags:  []cli.Flag{rootsFlag},
			Action: n.cmdRebuild,
		},
		{
			Name:   "history",
			Usage:  "Prints the scans in the journal.",
			Flags:  []cli.Flag{cli.IntFlag{Name: "n", Usage: "how many scans", Value: 20}},
			Action: n.cmdHistory,
		},
		{
			Name:   "shell",
			Usage:  "Starts a command line interpreter.",
			Action: n.cmdShell,
		},
	}
	n.app = app
	return n
}

func (n *ndCli) run(args []string) error {
	return n.app.Run(args)
}

// stop closes the index.
func (n *ndCli) stop() {
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			log.Errorf("closing %s: %s", n.path, err)
		}
		n.db, n.ix = nil, nil
	}
}

// open returns the index named by --index, opening it if needed.
func (n *ndCli) open(c *cli.Context) (*nd.Index, error) {
	path := c.GlobalString("index")
	if n.db != nil && n.path == path {
		return n.ix, nil
	}
	n.stop()
	db, err := pagedb.Open(path, nd.SchemaVersion, pagedb.DefaultProdConfig)
	if err != nil {
		return nil, err
	}
	n.path, n.db, n.ix = path, db, nd.New(db)
	return n.ix, nil
}

func (n *ndCli) cmdStats(c *cli.Context) error {
	ix, err := n.open(c)
	if err != nil {
		return err
	}
	return ix.DB().View(func() error {
		count, err := ix.ResourceCount()
		if err != nil {
			return err
		}
		fmt.Printf("%d resources\n%s", count, ix.DB().Stats())
		return nil
	})
}

func (n *ndCli) cmdResources(c *cli.Context) error {
	ix, err := n.open(c)
	if err != nil {
		return err
	}
	all := c.Bool("all")
	var lines []string
	err = ix.DB().View(func() error {
		return ix.EachResource(func(rs *nd.Resource) (bool, error) {
			if !all && !rs.IsVisible() {
				return true, nil
			}
			loc, err := rs.Location()
			if err != nil {
				return false, err
			}
			state := rs.Lifecycle().String()
			if !rs.IsDoneIndexing() {
				state += ",indexing"
			}
			if rs.Flags()&nd.FlagCorruptArchive != 0 {
				state += ",corrupt"
			}
			used := time.Unix(0, rs.TimeLastUsed()*int64(time.Millisecond))
			lines = append(lines, fmt.Sprintf("%s\t%d types\t%s\tused %s\t%s",
				loc, rs.TypeCount(), state, used.Format(time.RFC3339), rs.Fingerprint()))
			return true, nil
		})
	})
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Println(l)
	}
	return err
}

func (n *ndCli) cmdFind(c *cli.Context) error {
	ix, err := n.open(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return fmt.Errorf("find needs a name")
	}
	verbose := c.Bool("verbose")
	return ix.DB().View(func() error {
		for _, name := range c.Args() {
			var types []*nd.Type
			var err error
			if strings.Contains(name, "/") {
				types, err = ix.TypesOf(classfile.BinaryNameToDescriptor(name))
			} else {
				types, err = ix.FindTypesBySimpleName(name)
			}
			if err != nil {
				return err
			}
			if len(types) == 0 {
				fmt.Printf("%s: not found\n", name)
			}
			for _, t := range types {
				if err := printType(t, verbose); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// printType prints a type. Requires a lock.
func printType(t *nd.Type, verbose bool) error {
	d, err := t.Data()
	if err != nil {
		return err
	}
	rs, err := t.Resource()
	if err != nil {
		return err
	}
	loc, err := rs.Location()
	if err != nil {
		return err
	}
	fmt.Printf("%s%s in %s\n", d.Descriptor, d.TypeParams, loc)
	if !verbose {
		return nil
	}
	if d.Superclass != nil {
		fmt.Printf("  extends %s\n", d.Superclass)
	}
	for _, i := range d.Interfaces {
		fmt.Printf("  implements %s\n", i)
	}
	for _, m := range d.Members {
		sig := m.Descriptor
		if m.GenericSignature != "" {
			sig = m.GenericSignature
		}
		fmt.Printf("  %-6s %04x %s %s\n", m.Kind, m.Access, m.Name, sig)
	}
	return nil
}

func (n *ndCli) cmdExport(c *cli.Context) error {
	ix, err := n.open(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("export needs a destination path")
	}
	counts, err := export.Export(context.Background(), ix.DB(), c.Args().First())
	if err != nil {
		return err
	}
	fmt.Printf("exported %s\n", counts)
	return nil
}

// indexer returns an indexer over the roots given to the command.
func (n *ndCli) indexer(c *cli.Context) (*indexer.Indexer, error) {
	ix, err := n.open(c)
	if err != nil {
		return nil, err
	}
	roots := c.StringSlice("roots")
	if len(roots) == 0 {
		return nil, fmt.Errorf("no roots given")
	}
	host := workspace.NewFSHost()
	host.AddProject("ndcli", roots...)
	cfg := indexer.DefaultProdConfig
	cfg.JournalPath = c.GlobalString("journal")
	return indexer.New(ix.DB(), host, cfg)
}

func (n *ndCli) cmdRescan(c *cli.Context) error {
	ixr, err := n.indexer(c)
	if err != nil {
		return err
	}
	defer ixr.Close()
	st, err := ixr.Rescan(context.Background())
	if err != nil {
		return err
	}
	printScan(st)
	return nil
}

func (n *ndCli) cmdRebuild(c *cli.Context) error {
	ixr, err := n.indexer(c)
	if err != nil {
		return err
	}
	defer ixr.Close()
	st, err := ixr.RebuildIndex(context.Background())
	if err != nil {
		return err
	}
	printScan(st)
	return nil
}

func printScan(st *indexer.ScanStats) {
	fmt.Printf("%d locations, %d reindexed, %d refreshed, %d types, %d skipped, %d corrupt, %d collected in %s\n",
		st.Locations, st.Changed, st.Refreshed, st.Types, st.Skipped, st.Corrupt, st.Collected, st.Duration)
}

func (n *ndCli) cmdHistory(c *cli.Context) error {
	path := c.GlobalString("journal")
	if path == "" {
		return fmt.Errorf("no journal given, use --journal")
	}
	j, err := indexer.OpenJournal(path, indexer.DefaultProdConfig.JournalEntries)
	if err != nil {
		return err
	}
	defer j.Close()
	h, err := j.History(c.Int("n"))
	if err != nil {
		return err
	}
	for _, st := range h {
		fmt.Printf("%s ", st.Start.Format(time.RFC3339))
		printScan(st)
	}
	s, err := j.Summary()
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

// cmdShell implements "shell" subcommand.
func (n *ndCli) cmdShell(c *cli.Context) error {
	if n.inShell {
		return fmt.Errorf("already in a shell")
	}
	n.inShell = true
	defer func() { n.inShell = false }()

	// Make cli not exit on errors.
	cli.OsExiter = func(int) {}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	// Complete command names.
	line.SetCompleter(func(input string) (c []string) {
		for _, cmd := range n.app.Commands {
			if strings.HasPrefix(cmd.Name, input) {
				c = append(c, cmd.Name)
			}
		}
		return
	})

	for {
		input, err := line.Prompt("(nd) ")
		if err != nil {
			if err != liner.ErrPromptAborted {
				log.Errorf("error: %v", err)
			}
			return nil
		}

		// Split using shell-style rules for quoting and commenting.
		args, err := shlex.Split(input)
		if err != nil {
			log.Errorf("error: %v", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}

		if err := n.runCommand(c, args...); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		} else {
			line.AppendHistory(input)
		}
	}
}

// runCommand runs a command from within the shell, with the global flags the
// shell was started with.
func (n *ndCli) runCommand(c *cli.Context, args ...string) error {
	ndArgs := []string{"ndcli", "--index", c.GlobalString("index")}
	if j := c.GlobalString("journal"); j != "" {
		ndArgs = append(ndArgs, "--journal", j)
	}
	return n.run(append(ndArgs, args...))
}
