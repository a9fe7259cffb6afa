package traffic

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/proxyscope/proxyscope/proxyscope/cliutil"
	"github.com/proxyscope/proxyscope/proxyscope/config"
	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

type listOpts struct {
	host, status, resourceType string
	since, until, order        string
	limit, offset              int
}

func list(dbPath string, opts listOpts) error {
	path, err := resolveDBPath(dbPath)
	if err != nil {
		return err
	}

	filter := store.ListFilter{
		Host:         opts.host,
		Status:       opts.status,
		ResourceType: opts.resourceType,
	}
	if opts.since != "" {
		if filter.Since, err = time.Parse(time.RFC3339, opts.since); err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
	}
	if opts.until != "" {
		if filter.Until, err = time.Parse(time.RFC3339, opts.until); err != nil {
			return fmt.Errorf("invalid --until value: %w", err)
		}
	}
	if opts.order != "asc" && opts.order != "desc" {
		return fmt.Errorf("invalid --order value %q: must be asc or desc", opts.order)
	}
	limit := opts.limit
	if limit <= 0 || limit > config.MaxListLimit {
		limit = config.MaxListLimit
	}

	s, err := store.Open(path, store.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open traffic store: %w", err)
	}
	defer func() { _ = s.Close() }()

	flows, hasMore, err := s.List(context.Background(), store.ListQuery{
		Filter:     filter,
		Descending: opts.order == "desc",
		Limit:      limit,
		Offset:     opts.offset,
	})
	if err != nil {
		return fmt.Errorf("traffic list failed: %w", err)
	}

	if len(flows) == 0 {
		cliutil.NoResults(os.Stdout, "No matching flows found.")
		return nil
	}

	printFlowTable(flows)
	cliutil.Summary(os.Stdout, len(flows), "flow", "flows")
	if hasMore {
		cliutil.HintCommand(os.Stdout, "To list the next page",
			"proxyscope traffic list --offset "+strconv.Itoa(opts.offset+len(flows)))
	}
	return nil
}

func printFlowTable(flows []store.FlowMeta) {
	t := cliutil.NewTable(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Method", "Host", "Path", "Status", "Type", "Size", "Time"})
	t.SetRowPainter(cliutil.StatusRowPainter(4)) // status is column index 4

	for _, f := range flows {
		status := any("-") // response never arrived
		if f.Status != nil {
			status = *f.Status
		}
		t.AppendRow(table.Row{
			f.ID, f.Method, f.Host, truncate(f.Path, 60), status,
			f.ResourceType, f.ResponseSize,
			f.Timestamp.Local().Format("15:04:05"),
		})
	}
	t.Render()
}

// truncate shortens s for display, marking elision.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
