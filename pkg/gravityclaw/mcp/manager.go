package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/tools"
)

const (
	connectTimeout     = 30 * time.Second
	defaultCallTimeout = 60 * time.Second
)

// Manager owns the connected servers.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client
	logger  *slog.Logger

	callTimeout time.Duration

	// start is replaced in tests.
	start func(ctx context.Context, name string, cfg ServerConfig, logger *slog.Logger) (*Client, error)
}

// NewManager creates an empty manager. callTimeout bounds each tool call on
// every server; zero selects 60s.
func NewManager(callTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Manager{
		clients:     make(map[string]*Client),
		logger:      logger.With("component", "mcp"),
		callTimeout: callTimeout,
		start:       Start,
	}
}

// Connect starts every configured server and registers its tools. A server
// that fails to start or list its tools is logged and skipped. It returns
// the number of registered tools.
func (m *Manager) Connect(ctx context.Context, cfg Config, registry *tools.Registry) int {
	total := 0
	for _, name := range cfg.ServerNames() {
		m.logger.Info("connecting to server", "server", name)

		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		n, err := m.connect(cctx, name, cfg.MCPServers[name], registry)
		cancel()
		if err != nil {
			m.logger.Error("failed to connect to server", "server", name, "error", err)
			continue
		}
		m.logger.Info("server connected", "server", name, "tools", n)
		total += n
	}
	if len(cfg.MCPServers) > 0 {
		m.logger.Info("mcp tools loaded", "count", total)
	}
	return total
}

func (m *Manager) connect(ctx context.Context, name string, sc ServerConfig, registry *tools.Registry) (int, error) {
	c, err := m.start(ctx, name, sc, m.logger)
	if err != nil {
		return 0, err
	}
	schemas, err := c.ListTools(ctx)
	if err != nil {
		c.Close()
		return 0, err
	}

	m.mu.Lock()
	if old, ok := m.clients[name]; ok {
		old.Close()
	}
	m.clients[name] = c
	m.mu.Unlock()

	for _, s := range schemas {
		rt := tools.NewRemoteTool(name, s.Name, s.Description, s.InputSchema, c)
		rt.Timeout = m.callTimeout
		registry.Register(rt)
	}
	return len(schemas), nil
}

// Servers returns the names of connected servers.
func (m *Manager) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := Config{MCPServers: make(map[string]ServerConfig, len(m.clients))}
	for name := range m.clients {
		cfg.MCPServers[name] = ServerConfig{}
	}
	return cfg.ServerNames()
}

// Close stops every server.
func (m *Manager) Close() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for name, c := range clients {
		if err := c.Close(); err != nil {
			m.logger.Debug("closing server", "server", name, "error", err)
		}
	}
}
