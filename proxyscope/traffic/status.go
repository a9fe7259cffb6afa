package traffic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

func status(dbPath string) error {
	path, err := resolveDBPath(dbPath)
	if err != nil {
		return err
	}

	s, err := store.Open(path, store.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open traffic store: %w", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	count, err := s.Count(ctx)
	if err != nil {
		return fmt.Errorf("traffic status failed: %w", err)
	}

	fmt.Printf("Store:    %s\n", s.Path())
	fmt.Printf("Flows:    %d\n", count)
	if sessionID := s.SessionID(ctx); sessionID != "" {
		fmt.Printf("Session:  %s\n", sessionID)
	}
	return nil
}

func clear(dbPath string, skipConfirm bool) error {
	path, err := resolveDBPath(dbPath)
	if err != nil {
		return err
	}

	if !skipConfirm {
		fmt.Fprintf(os.Stderr, "Delete all captured flows in %s? [y/N] ", path)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	// Clear needs write access; a live capture server holds the writer lock.
	s, err := store.Open(path, store.Options{})
	if errors.Is(err, store.ErrLocked) {
		return errors.New("store is in use by a running capture server; use the traffic_clear tool instead")
	} else if err != nil {
		return fmt.Errorf("open traffic store: %w", err)
	}
	defer func() { _ = s.Close() }()

	cleared, err := s.Clear(context.Background())
	if err != nil {
		return fmt.Errorf("traffic clear failed: %w", err)
	}

	fmt.Printf("Cleared %d flows. New session: %s\n", cleared, s.SessionID(context.Background()))
	return nil
}
