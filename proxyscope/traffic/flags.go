// Package traffic implements the query-side CLI over a capture store file.
// Readers open the store read-only, so the commands work while a capture
// server is live against the same file.
package traffic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/proxyscope/proxyscope/proxyscope/cli"
	"github.com/proxyscope/proxyscope/proxyscope/config"
)

func Parse(args []string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("subcommand required")
	}

	switch args[0] {
	case "list":
		return parseList(args[1:])
	case "search":
		return parseSearch(args[1:])
	case "status":
		return parseStatus(args[1:])
	case "clear":
		return parseClear(args[1:])
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return cli.UnknownSubcommandError("traffic", args[0],
			[]string{"list", "search", "status", "clear"})
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: proxyscope traffic <command> [options]

Query a captured traffic store.

Commands:
  list       List captured flows (filtered, paginated)
  search     Search flow URLs, headers, and bodies for a substring
  status     Show store size and session info
  clear      Delete all captured flows and start a new session

Use "proxyscope traffic <command> --help" for more information.
`)
}

// defaultDBPath resolves the store path the server would use in this
// working directory.
func defaultDBPath() string {
	workDir, err := os.Getwd()
	if err != nil {
		return filepath.Join(config.ConfigDirName, config.DefaultDBFile)
	}
	if cfg, err := config.Load(filepath.Join(workDir, config.ConfigDirName, "config.json")); err == nil {
		return cfg.DBPath
	}
	return filepath.Join(workDir, config.ConfigDirName, config.DefaultDBFile)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetInterspersed(true)
	dbPath := fs.String("db", "", "traffic store path (default: from .proxyscope/config.json)")
	return fs, dbPath
}

func resolveDBPath(flagValue string) (string, error) {
	path := flagValue
	if path == "" {
		path = defaultDBPath()
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("traffic store not found at %s (run 'proxyscope serve' to start capturing)", path)
	}
	return path, nil
}

func parseList(args []string) error {
	fs, dbPath := newFlagSet("traffic list")
	var host, status, resourceType, since, until, order string
	var limit, offset int

	fs.StringVar(&host, "host", "", "filter by host suffix (case-insensitive)")
	fs.StringVar(&status, "status", "", "filter by status code, class (2xx), or range (200-299)")
	fs.StringVar(&resourceType, "type", "", "filter by resource type (document, xhr, script, ...)")
	fs.StringVar(&since, "since", "", "only flows captured at or after this RFC3339 timestamp")
	fs.StringVar(&until, "until", "", "only flows captured at or before this RFC3339 timestamp")
	fs.StringVar(&order, "order", "asc", "sort order by id: asc or desc")
	fs.IntVar(&limit, "limit", config.DefaultListLimit, "max flows to show")
	fs.IntVar(&offset, "offset", 0, "skip the first N matching flows")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: proxyscope traffic list [options]

List captured flows.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	return list(*dbPath, listOpts{
		host: host, status: status, resourceType: resourceType,
		since: since, until: until, order: order,
		limit: limit, offset: offset,
	})
}

func parseSearch(args []string) error {
	fs, dbPath := newFlagSet("traffic search")
	var fields, host, status, resourceType string
	var limit, contextBytes int

	fs.StringVar(&fields, "fields", "", "comma-separated fields to search (default: all)")
	fs.StringVar(&host, "host", "", "filter by host suffix (case-insensitive)")
	fs.StringVar(&status, "status", "", "filter by status code, class, or range")
	fs.StringVar(&resourceType, "type", "", "filter by resource type")
	fs.IntVar(&limit, "limit", config.DefaultSearchLimit, "max matches to show")
	fs.IntVar(&contextBytes, "context", config.DefaultContextBytes, "context bytes around each body match")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: proxyscope traffic search <term> [options]

Search captured traffic for a literal substring (case-insensitive).

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(fs.Args()) < 1 {
		fs.Usage()
		return errors.New("search term required")
	}

	return search(*dbPath, fs.Args()[0], searchOpts{
		fields: fields, host: host, status: status, resourceType: resourceType,
		limit: limit, contextBytes: contextBytes,
	})
}

func parseStatus(args []string) error {
	fs, dbPath := newFlagSet("traffic status")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: proxyscope traffic status [options]

Show store size and session info.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	return status(*dbPath)
}

func parseClear(args []string) error {
	fs, dbPath := newFlagSet("traffic clear")
	var yes bool
	fs.BoolVar(&yes, "yes", false, "skip the confirmation prompt")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: proxyscope traffic clear [options]

Delete all captured flows and start a new capture session.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	return clear(*dbPath, yes)
}
