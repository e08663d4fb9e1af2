// SPDX-License-Identifier: MPL-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/echoninelabs/kite/internal/core/serverbase"
	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/internal/scripting"
)

type (
	// Manager is the script registry the console drives.
	// *scripting.Manager implements it.
	Manager interface {
		ListAvailable() ([]discovery.ScriptName, error)
		ListLoaded() []discovery.ScriptName
		Load(ctx context.Context, name discovery.ScriptName) *scripting.Future[bool]
		Unload(ctx context.Context, name discovery.ScriptName) *scripting.Future[bool]
		Reload(ctx context.Context, name discovery.ScriptName) *scripting.Future[bool]
		ReloadAll(ctx context.Context) *scripting.Future[scripting.Summary]
	}

	// Dispatcher runs commands registered by scripts.
	// *host.CommandRegistry implements it.
	Dispatcher interface {
		Dispatch(ctx context.Context, name string, args []string) (string, error)
		Names() []string
	}

	// Config holds the console settings.
	Config struct {
		// Host defaults to 127.0.0.1.
		Host string
		// Port 0 picks a free port.
		Port int
		// HostKeyPath is created on first start when missing.
		HostKeyPath string
		// AuthorizedKeysPath enables public key logins.
		AuthorizedKeysPath string
		// TokenTTL bounds issued access tokens; zero means 24h.
		TokenTTL        time.Duration
		StartupTimeout  time.Duration
		ShutdownTimeout time.Duration
		Logger          *slog.Logger
	}

	// Console is the SSH management server. It is single-use: once stopped,
	// create a new one.
	Console struct {
		*serverbase.Base

		cfg        Config
		manager    Manager
		dispatcher Dispatcher
		logger     *slog.Logger
		now        func() time.Time

		srvMu    sync.Mutex
		srv      *ssh.Server
		listener net.Listener
		addr     string

		keys    []ssh.PublicKey
		tokenMu sync.RWMutex
		tokens  map[string]*Token
	}
)

// New returns a console in the created state.
func New(cfg Config, manager Manager, dispatcher Dispatcher) *Console {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		Base:       serverbase.NewBase(serverbase.WithName("console")),
		cfg:        cfg,
		manager:    manager,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		tokens:     make(map[string]*Token),
	}
}

// Start listens and blocks until the console accepts connections, fails,
// or the startup timeout passes.
func (c *Console) Start(ctx context.Context) error {
	if err := c.Begin(ctx); err != nil {
		return err
	}
	if err := c.loadAuthorizedKeys(); err != nil {
		c.Fail(err)
		return err
	}

	startupCtx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(startupCtx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("listen on %s: %w", addr, err)
		c.Fail(err)
		return err
	}

	opts := []ssh.Option{
		wish.WithAddress(listener.Addr().String()),
		wish.WithPasswordAuth(c.passwordHandler),
		wish.WithMiddleware(c.commandMiddleware()),
	}
	if c.cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(c.cfg.HostKeyPath))
	}
	if len(c.keys) > 0 {
		opts = append(opts, wish.WithPublicKeyAuth(c.publicKeyHandler))
	}
	srv, err := wish.NewServer(opts...)
	if err != nil {
		_ = listener.Close()
		err = fmt.Errorf("create ssh server: %w", err)
		c.Fail(err)
		return err
	}

	c.srvMu.Lock()
	c.srv, c.listener, c.addr = srv, listener, listener.Addr().String()
	c.srvMu.Unlock()

	c.Go(func(context.Context) { c.serve(srv, listener) })
	c.Go(c.expireTokens)

	if err := c.WaitReady(startupCtx); err != nil {
		c.Fail(err)
		_ = srv.Close()
		return err
	}
	c.logger.Info("console listening", "address", c.addr)
	return nil
}

// Stop shuts the server down, waiting up to the shutdown timeout for
// running sessions. Calling it again is a no-op.
func (c *Console) Stop() error {
	if !c.BeginStop() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	c.srvMu.Lock()
	if c.srv != nil {
		if err = c.srv.Shutdown(ctx); err != nil && (errors.Is(err, net.ErrClosed) || errors.Is(err, ssh.ErrServerClosed)) {
			err = nil
		}
	}
	if c.listener != nil {
		_ = c.listener.Close()
	}
	c.srvMu.Unlock()

	c.Finish()
	c.logger.Info("console stopped")
	return err
}

// Address returns the bound host:port, or "" before Start succeeded.
func (c *Console) Address() string {
	c.srvMu.Lock()
	defer c.srvMu.Unlock()
	return c.addr
}

// Port returns the bound port, or 0 before Start succeeded.
func (c *Console) Port() int {
	_, port, err := net.SplitHostPort(c.Address())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

func (c *Console) serve(srv *ssh.Server, listener net.Listener) {
	c.Ready()
	err := srv.Serve(listener)
	if err == nil || errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return
	}
	c.logger.Error("console stopped serving", "error", err)
	c.SendError(fmt.Errorf("serve: %w", err))
}
