// Package service runs the MCP tool surface over one capture session store.
package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/proxyscope/proxyscope/proxyscope/capture"
	"github.com/proxyscope/proxyscope/proxyscope/config"
	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

const shutdownTimeout = 10 * time.Second

// Server owns the store handle and exposes the traffic tools over MCP.
// There is exactly one explicit store handle, shared by ingestion and the
// query tools; no process-wide singleton.
type Server struct {
	cfg   *config.Config
	flags ServeFlags

	store    *store.Store
	ingestor *capture.Ingestor

	mcpServer *mcpServer
	started   chan struct{}
	startedAt time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer creates a server from parsed flags.
func NewServer(flags ServeFlags) *Server {
	return &Server{
		flags:      flags,
		started:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Ingestor returns the capture ingestion entry point. The interception
// source pushes request/response events through it. Nil until Run has
// opened the store.
func (s *Server) Ingestor() *capture.Ingestor {
	return s.ingestor
}

// WaitTillStarted blocks until the server has started.
func (s *Server) WaitTillStarted() {
	<-s.started
}

// RequestShutdown asks a running server to stop.
func (s *Server) RequestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Run opens the store, starts the MCP server, and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("proxyscope server starting (version=%s)", config.Version)

	markStarted := sync.OnceFunc(func() {
		s.startedAt = time.Now()
		close(s.started)
	})
	defer markStarted()

	if err := s.loadOrCreateConfig(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(s.cfg.DBPath, store.Options{})
	if err != nil {
		return fmt.Errorf("failed to open traffic store: %w", err)
	}
	defer func() { _ = st.Close() }()
	s.store = st
	s.ingestor = capture.NewIngestor(st)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s.mcpServer = newMCPServer(s)
	if err := s.mcpServer.Start(s.cfg.MCPPort); err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}
	log.Printf("service: MCP server listening on %s (store=%s)", s.mcpServer.Addr(), s.cfg.DBPath)
	markStarted()

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Printf("service: received signal %v, shutting down", sig)
	case <-s.shutdownCh:
		log.Printf("service: shutdown requested")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.mcpServer.Close(closeCtx); err != nil {
		log.Printf("service: MCP server close error: %v", err)
	}
	return nil
}

// loadOrCreateConfig resolves the config file, creating it with defaults on
// first run, then applies CLI flag overrides.
func (s *Server) loadOrCreateConfig() error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	path := s.flags.ConfigPath
	if path == "" {
		path = filepath.Join(workDir, config.ConfigDirName, "config.json")
	}

	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		cfg = config.DefaultConfig(workDir)
		if saveErr := cfg.Save(path); saveErr != nil {
			return fmt.Errorf("write default config: %w", saveErr)
		}
	} else if err != nil {
		return err
	}

	if s.flags.DBPath != "" {
		cfg.DBPath = s.flags.DBPath
	}
	if s.flags.MCPPort != 0 {
		cfg.MCPPort = s.flags.MCPPort
	}
	if s.flags.TruncateAt != 0 {
		cfg.TruncateAt = s.flags.TruncateAt
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	s.cfg = cfg
	return nil
}
