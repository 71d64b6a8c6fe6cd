// Command walker connects one or more bots to a presence server, joins a
// space and random-walks with valid unit steps. It is useful as a demo
// population and as a light load generator.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/metaverse-presence/auth"
	"github.com/wricardo/metaverse-presence/logging"
	"github.com/wricardo/metaverse-presence/metaverse/grid"
)

// walkConfig holds one run's settings.
type walkConfig struct {
	ServerURL  string
	SpaceID    string
	Bots       int
	Moves      int
	Interval   time.Duration
	Token      string
	JWTSecret  string
	UserPrefix string
	Seed       uint64
}

// tokenFor returns the token bot i joins with.
func (c walkConfig) tokenFor(i int) (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	token, _, err := auth.Issue(c.JWTSecret, fmt.Sprintf("%s-%d", c.UserPrefix, i), time.Hour)
	return token, err
}

// runBots starts every bot and waits for them. Individual bot failures are
// logged and joined into the returned error.
func runBots(ctx context.Context, cfg walkConfig, logger *zap.Logger) (Stats, error) {
	if cfg.Token == "" && cfg.JWTSecret == "" {
		return Stats{}, errors.New("either --token or --jwt-secret is required")
	}
	if cfg.Token != "" && cfg.Bots > 1 {
		logger.Warn("all bots share one token; the server accepts only the first per user")
	}

	bounds, err := fetchBounds(ctx, &http.Client{Timeout: 5 * time.Second}, cfg.ServerURL, cfg.SpaceID)
	if err != nil {
		logger.Warn("space dimensions unavailable, relying on rejections", zap.Error(err))
		bounds = grid.Bounds{}
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total Stats
		errs  []error
	)
	for i := 0; i < cfg.Bots; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats, err := runBot(ctx, cfg, i, bounds, logger)

			mu.Lock()
			defer mu.Unlock()
			total.Sent += stats.Sent
			total.Rejected += stats.Rejected
			total.PeerEvents += stats.PeerEvents
			if err != nil {
				logger.Warn("bot failed", zap.Int("bot", i), zap.Error(err))
				errs = append(errs, fmt.Errorf("bot %d: %w", i, err))
			}
		}(i)
	}
	wg.Wait()

	return total, errors.Join(errs...)
}

func runBot(ctx context.Context, cfg walkConfig, i int, bounds grid.Bounds, logger *zap.Logger) (Stats, error) {
	token, err := cfg.tokenFor(i)
	if err != nil {
		return Stats{}, err
	}

	bot, err := Dial(ctx, cfg.ServerURL, fmt.Sprintf("bot-%d", i), cfg.Seed+uint64(i), logger)
	if err != nil {
		return Stats{}, err
	}
	if err := bot.Join(cfg.SpaceID, token, bounds); err != nil {
		bot.conn.Close()
		return Stats{}, err
	}
	return bot.Walk(ctx, cfg.Moves, cfg.Interval)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "walker",
		Usage: "Random-walk bots for the presence server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "presence server URL", Sources: cli.EnvVars("WALKER_URL")},
			&cli.StringFlag{Name: "space", Value: "lobby", Usage: "space to join"},
			&cli.IntFlag{Name: "bots", Value: 1, Usage: "number of concurrent bots"},
			&cli.IntFlag{Name: "moves", Value: 100, Usage: "moves per bot (0 walks until interrupted)"},
			&cli.DurationFlag{Name: "interval", Value: 250 * time.Millisecond, Usage: "delay between moves"},
			&cli.StringFlag{Name: "token", Usage: "token shared by every bot", Sources: cli.EnvVars("WALKER_TOKEN")},
			&cli.StringFlag{Name: "jwt-secret", Usage: "mint one token per bot with this secret", Sources: cli.EnvVars("JWT_SECRET", "JWT_PASSWORD")},
			&cli.StringFlag{Name: "user-prefix", Value: "walker", Usage: "user id prefix for minted tokens"},
			&cli.Uint64Flag{Name: "seed", Usage: "random seed (0 uses the clock)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, err := logging.New(cmd.String("log-level"), logging.FormatConsole)
			if err != nil {
				return err
			}
			defer logger.Sync()

			seed := cmd.Uint64("seed")
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			cfg := walkConfig{
				ServerURL:  cmd.String("url"),
				SpaceID:    cmd.String("space"),
				Bots:       cmd.Int("bots"),
				Moves:      cmd.Int("moves"),
				Interval:   cmd.Duration("interval"),
				Token:      cmd.String("token"),
				JWTSecret:  cmd.String("jwt-secret"),
				UserPrefix: cmd.String("user-prefix"),
				Seed:       seed,
			}

			logger.Info("starting bots", zap.String("url", cfg.ServerURL), zap.String("space", cfg.SpaceID), zap.Int("bots", cfg.Bots))
			start := time.Now()
			stats, err := runBots(ctx, cfg, logger)
			logger.Info("done",
				zap.Int("sent", stats.Sent),
				zap.Int("rejected", stats.Rejected),
				zap.Int("peer_events", stats.PeerEvents),
				zap.Duration("elapsed", time.Since(start)),
			)
			return err
		},
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "walker: %v\n", err)
		os.Exit(1)
	}
}
