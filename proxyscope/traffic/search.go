package traffic

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/proxyscope/proxyscope/proxyscope/cliutil"
	"github.com/proxyscope/proxyscope/proxyscope/config"
	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

type searchOpts struct {
	fields, host, status, resourceType string
	limit, contextBytes                int
}

func search(dbPath, term string, opts searchOpts) error {
	path, err := resolveDBPath(dbPath)
	if err != nil {
		return err
	}

	var fieldList []string
	if opts.fields != "" {
		fieldList = strings.Split(opts.fields, ",")
	}
	fields, err := store.ParseSearchFields(fieldList)
	if err != nil {
		return err
	}

	limit := opts.limit
	if limit <= 0 || limit > config.MaxSearchLimit {
		limit = config.MaxSearchLimit
	}
	contextBytes := opts.contextBytes
	if contextBytes <= 0 || contextBytes > config.MaxContextBytes {
		contextBytes = config.DefaultContextBytes
	}

	s, err := store.Open(path, store.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open traffic store: %w", err)
	}
	defer func() { _ = s.Close() }()

	matches, truncated, err := s.Search(context.Background(), store.SearchQuery{
		Term:         term,
		Fields:       fields,
		Filter:       store.ListFilter{Host: opts.host, Status: opts.status, ResourceType: opts.resourceType},
		Limit:        limit,
		ContextBytes: contextBytes,
	})
	if err != nil {
		return fmt.Errorf("traffic search failed: %w", err)
	}

	if len(matches) == 0 {
		cliutil.NoResults(os.Stdout, fmt.Sprintf("No matches for %q.", term))
		return nil
	}

	t := cliutil.NewTable(os.Stdout)
	t.AppendHeader(table.Row{"Flow", "Method", "URL", "Field", "Context"})
	for _, m := range matches {
		t.AppendRow(table.Row{
			m.FlowID, m.Method, truncate(m.URL, 50), m.Field,
			truncate(oneLine(m.Context), 70),
		})
	}
	t.Render()

	cliutil.Summary(os.Stdout, len(matches), "match", "matches")
	if truncated {
		cliutil.HintCommand(os.Stdout, "More matches exist; narrow the search or raise the limit",
			fmt.Sprintf("proxyscope traffic search %q --limit %d", term, limit*2))
	}
	return nil
}

// oneLine flattens a context window for table display.
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}
