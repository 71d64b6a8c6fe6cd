// Command metaverse-presence starts the real-time presence server.
//
// It supports three subcommands:
//  1. "serve" (default) – runs the HTTP server exposing REST API, the WebSocket protocol, and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//  3. "token" – mints a development token for a user id
//
// While serving, SIGHUP reloads the space files.
//
// Every flag can also be set from the environment or a .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/metaverse-presence/api"
	"github.com/wricardo/metaverse-presence/auth"
	"github.com/wricardo/metaverse-presence/logging"
	"github.com/wricardo/metaverse-presence/metaverse/presence"
	"github.com/wricardo/metaverse-presence/metaverse/room"
	"github.com/wricardo/metaverse-presence/metaverse/service"
	"github.com/wricardo/metaverse-presence/metaverse/session"
	"github.com/wricardo/metaverse-presence/metaverse/space"
	"github.com/wricardo/metaverse-presence/transport/mcp"
	"github.com/wricardo/metaverse-presence/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Metaverse Presence Server"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command tree. Flags declared on the root are inherited by subcommands.
func newApp() *cli.Command {
	return &cli.Command{
		Name:    "metaverse-presence",
		Usage:   AppName,
		Version: Version,
		Flags:   appFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run HTTP server with REST API, WebSocket, and MCP endpoint",
				Action: runServe,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "Run MCP stdio server with internal HTTP server",
				Action:  runMCP,
			},
			{
				Name:  "token",
				Usage: "Mint a signed token for a user id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "user id placed in the sub claim", Required: true},
					&cli.DurationFlag{Name: "ttl", Value: auth.DefaultTTL, Usage: "token lifetime"},
				},
				Action: runToken,
			},
		},
	}
}

func appFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: "localhost", Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
		&cli.IntFlag{Name: "port", Value: 8080, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
		&cli.StringFlag{Name: "jwt-secret", Usage: "HS256 secret shared with the token issuer", Sources: cli.EnvVars("JWT_SECRET", "JWT_PASSWORD")},
		&cli.StringFlag{Name: "spaces-dir", Value: "spaces", Usage: "directory of <id>.json space files", Sources: cli.EnvVars("SPACES_DIR")},
		&cli.StringFlag{Name: "database-url", Usage: "Postgres URL for the Space table (optional)", Sources: cli.EnvVars("DATABASE_URL")},
		&cli.StringFlag{Name: "redis-addr", Usage: "Redis address for the presence mirror (optional)", Sources: cli.EnvVars("REDIS_ADDR")},
		&cli.StringFlag{Name: "redis-password", Usage: "Redis password", Sources: cli.EnvVars("REDIS_PASSWORD")},
		&cli.IntFlag{Name: "redis-db", Usage: "Redis database number", Sources: cli.EnvVars("REDIS_DB")},
		&cli.DurationFlag{Name: "presence-ttl", Value: presence.DefaultTTL, Usage: "lifetime of Redis presence keys, renewed on every websocket ping (54s)", Sources: cli.EnvVars("PRESENCE_TTL")},
		&cli.StringFlag{Name: "nats-url", Usage: "NATS URL for presence events (optional)", Sources: cli.EnvVars("NATS_URL")},
		&cli.StringFlag{Name: "nats-subject", Value: presence.DefaultSubjectPrefix, Usage: "NATS subject prefix", Sources: cli.EnvVars("NATS_SUBJECT")},
		&cli.DurationFlag{Name: "lookup-timeout", Value: session.DefaultLookupTimeout, Usage: "space lookup timeout on join", Sources: cli.EnvVars("LOOKUP_TIMEOUT")},
		&cli.IntFlag{Name: "send-buffer", Value: session.DefaultSendBuffer, Usage: "outbound frames queued per connection", Sources: cli.EnvVars("SEND_BUFFER")},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", Sources: cli.EnvVars("LOG_LEVEL")},
		&cli.StringFlag{Name: "log-format", Value: logging.FormatConsole, Usage: "console or json", Sources: cli.EnvVars("LOG_FORMAT")},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

// serverConfig is the flag set resolved for one run.
type serverConfig struct {
	Host          string
	Port          int
	JWTSecret     string
	SpacesDir     string
	DatabaseURL   string
	Redis         presence.RedisConfig
	PresenceTTL   time.Duration
	NATSURL       string
	NATSSubject   string
	LookupTimeout time.Duration
	SendBuffer    int
	LogLevel      string
	LogFormat     string
	Ngrok         bool
	NgrokAuth     string
	NgrokDomain   string
}

func configFromCommand(cmd *cli.Command) serverConfig {
	return serverConfig{
		Host:        cmd.String("host"),
		Port:        cmd.Int("port"),
		JWTSecret:   cmd.String("jwt-secret"),
		SpacesDir:   cmd.String("spaces-dir"),
		DatabaseURL: cmd.String("database-url"),
		Redis: presence.RedisConfig{
			Addr:     cmd.String("redis-addr"),
			Password: cmd.String("redis-password"),
			DB:       cmd.Int("redis-db"),
		},
		PresenceTTL:   cmd.Duration("presence-ttl"),
		NATSURL:       cmd.String("nats-url"),
		NATSSubject:   cmd.String("nats-subject"),
		LookupTimeout: cmd.Duration("lookup-timeout"),
		SendBuffer:    cmd.Int("send-buffer"),
		LogLevel:      cmd.String("log-level"),
		LogFormat:     cmd.String("log-format"),
		Ngrok:         cmd.Bool("ngrok"),
		NgrokAuth:     cmd.String("ngrok-auth"),
		NgrokDomain:   cmd.String("ngrok-domain"),
	}
}

func (c serverConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// stack is the wired set of components shared by serve and mcp.
type stack struct {
	handler  *session.Handler
	listener *websocket.Listener
	service  service.PresenceService
	api      *api.Server
	catalog  *space.FileCatalog
	closers  []func()
}

// Close ends every live session and releases external clients.
func (s *stack) Close() {
	s.listener.Shutdown()
	s.release()
}

func (s *stack) release() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// buildStack wires spaces, presence sinks, the protocol handler, the
// WebSocket listener and the REST API.
func buildStack(ctx context.Context, cfg serverConfig, logger *zap.Logger) (*stack, error) {
	st := &stack{}
	fail := func(err error) (*stack, error) {
		st.release()
		return nil, err
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, 0)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}

	var spaces space.Chain
	if cfg.DatabaseURL != "" {
		store, err := space.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("space store: %w", err))
		}
		st.closers = append(st.closers, store.Close)
		spaces = append(spaces, store)
		logger.Info("space lookup via postgres enabled")
	}
	if cfg.SpacesDir != "" {
		catalog, err := space.NewFileCatalog(cfg.SpacesDir)
		if err != nil {
			return fail(fmt.Errorf("space catalog: %w", err))
		}
		spaces = append(spaces, catalog)
		st.catalog = catalog
		logger.Info("space catalog loaded", zap.String("dir", cfg.SpacesDir))
	}
	if len(spaces) == 0 {
		return fail(errors.New("no space source configured: set --spaces-dir or --database-url"))
	}

	var sinks presence.Multi
	var mirror *presence.RedisSink
	if cfg.Redis.Addr != "" {
		rdb, err := presence.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		st.closers = append(st.closers, func() { rdb.Close() })
		mirror = presence.NewRedisSink(rdb, cfg.PresenceTTL)
		sinks = append(sinks, mirror)
		logger.Info("presence mirror via redis enabled", zap.String("addr", cfg.Redis.Addr))
	}
	if cfg.NATSURL != "" {
		nc, err := presence.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return fail(err)
		}
		st.closers = append(st.closers, func() { nc.Drain() })
		sinks = append(sinks, presence.NewNATSSink(nc, cfg.NATSSubject))
		logger.Info("presence events via nats enabled", zap.String("subject", cfg.NATSSubject))
	}
	var sink presence.Sink = presence.Nop{}
	if len(sinks) > 0 {
		sink = sinks
	}

	directory := room.NewDirectory()
	st.handler, err = session.NewHandler(session.Config{
		Directory:     directory,
		Verifier:      verifier,
		Spaces:        spaces,
		Sink:          sink,
		LookupTimeout: cfg.LookupTimeout,
		Logger:        logger,
	})
	if err != nil {
		return fail(err)
	}

	st.listener = websocket.NewListener(st.handler,
		websocket.WithLogger(logger),
		websocket.WithSendBuffer(cfg.SendBuffer),
	)
	opts := []service.Option{
		service.WithCounters(st.handler),
		service.WithConnections(st.listener),
	}
	if mirror != nil {
		opts = append(opts, service.WithMirror(mirror))
	}
	st.service = service.NewPresenceService(directory, spaces, opts...)
	st.api = api.NewServer(st.service, st.listener, logger)
	return st, nil
}

// mcpHTTPHandler serves single MCP JSON-RPC messages over POST.
func mcpHTTPHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := configFromCommand(cmd)
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting", zap.String("app", AppName), zap.String("version", Version))

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer st.Close()

	if st.catalog != nil {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go reloadSpaces(ctx, hup, st.catalog, logger)
	}

	return runHTTPServer(ctx, cfg, st, logger)
}

// reloadSpaces drops the cached space files every time sig fires, so edited
// files take effect on the next join.
func reloadSpaces(ctx context.Context, sig <-chan os.Signal, catalog interface{ Refresh() }, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			catalog.Refresh()
			logger.Info("space catalog reloaded")
		}
	}
}

// runHTTPServer serves until ctx is cancelled, then shuts down gracefully.
// If ngrok is enabled it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, cfg serverConfig, st *stack, logger *zap.Logger) error {
	addr := cfg.addr()
	mcpClient := mcp.NewClient("http://" + addr)

	st.api.Router().HandleFunc("/mcp", mcpHTTPHandler(mcpClient))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      st.api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("api", "http://"+addr+"/api"),
			zap.String("websocket", "ws://"+addr+"/ws"),
			zap.String("mcp", "http://"+addr+"/mcp"),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
			cancel()
		}
	}()

	if cfg.Ngrok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg, st.api, logger)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	// Hijacked WebSocket connections are not tracked by http.Server.
	st.listener.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	wg.Wait()
	logger.Info("server stopped")

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

func runNgrok(ctx context.Context, cfg serverConfig, handler http.Handler, logger *zap.Logger) {
	if cfg.NgrokAuth == "" {
		logger.Warn("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	logger.Info("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
		logger.Info("using custom ngrok domain", zap.String("domain", cfg.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuth))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", zap.Error(err))
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn("failed to close ngrok tunnel", zap.Error(err))
		}
	}()

	ngrokURL := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", ngrokURL),
		zap.String("api", ngrokURL+"/api"),
		zap.String("websocket", ngrokURL+"/ws"),
		zap.String("mcp", ngrokURL+"/mcp"),
	)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Warn("ngrok server error", zap.Error(err))
	}
	logger.Info("ngrok tunnel closed")
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg := configFromCommand(cmd)
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	return runStdioMCPWithInternalServer(ctx, cfg, logger)
}

// runStdioMCPWithInternalServer runs an MCP stdio server.
// It reuses an external API at the configured address when one answers; otherwise
// it starts an internal HTTP API bound to a random loopback port and targets that.
func runStdioMCPWithInternalServer(ctx context.Context, cfg serverConfig, logger *zap.Logger) error {
	externalURL := "http://" + cfg.addr()
	logger.Info("checking for external API server", zap.String("url", externalURL))

	baseURL := externalURL
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/api")
	if err == nil {
		resp.Body.Close()
	}
	if err == nil && resp.StatusCode < 500 {
		logger.Info("external API server found, using it for MCP")
	} else {
		logger.Info("no external API server found, starting internal HTTP server")

		st, err := buildStack(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize services: %w", err)
		}
		defer st.Close()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}

		httpServer := &http.Server{Handler: st.api}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("internal HTTP server error", zap.Error(err))
			}
		}()
		defer httpServer.Close()

		baseURL = "http://" + listener.Addr().String()
		logger.Info("internal HTTP server started", zap.String("url", baseURL))
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info("MCP stdio server ready", zap.String("api", baseURL))

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func runToken(ctx context.Context, cmd *cli.Command) error {
	token, expires, err := auth.Issue(cmd.String("jwt-secret"), cmd.String("user"), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, token)
	fmt.Fprintf(cmd.Root().ErrWriter, "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
