package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/codeclash-dev/codeclash/internal/api"
	"github.com/codeclash-dev/codeclash/internal/database"
	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/problem"
	"github.com/codeclash-dev/codeclash/internal/queue"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/util/signal"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
	"github.com/codeclash-dev/codeclash/internal/version"
	"github.com/codeclash-dev/codeclash/internal/ws"
)

var serverCmd = &cobra.Command{
	Use:     "codeclash-server",
	Args:    cobra.ExactArgs(0),
	Version: version.Version,
	Short:   "Start CodeClash server",
	Long: `CodeClash is a real-time head-to-head programming duel server.

This command runs the server: matchmaking, match orchestration, grading
via an external judge, rewards, and the player websocket endpoint.
`,
}

func main() {
	p := serverCmd.Flags()
	optsPath := p.StringP(
		"options", "o", "",
		"options file",
	)
	if err := serverCmd.MarkFlagRequired("options"); err != nil {
		panic(err)
	}

	serverCmd.RunE = func(cmd *cobra.Command, _args []string) error {
		rawOpts, err := os.ReadFile(*optsPath)
		if err != nil {
			return fmt.Errorf("read options: %w", err)
		}
		var opts Options
		if err := toml.Unmarshal(rawOpts, &opts); err != nil {
			return fmt.Errorf("unmarshal options: %w", err)
		}
		opts.FillDefaults()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		log := slog.Default()

		db, err := database.New(log, opts.DB)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		var store queue.Store
		if opts.Redis.Addr != "" {
			redisStore := queue.NewRedisStore(opts.Redis)
			defer func() {
				if err := redisStore.Close(); err != nil {
					log.Warn("could not close redis", slogx.Err(err))
				}
			}()
			store = redisStore
			log.Info("using redis matchmaking queue", slog.String("addr", opts.Redis.Addr))
		} else {
			store = queue.NewMemStore()
			log.Info("using in-memory matchmaking queue")
		}
		mmQueue := queue.New(log, store, opts.Queue)

		grader := judge.NewGrader(log, judge.NewClient(opts.Judge, nil), opts.Grader)
		problems := problem.NewSource(log, problem.NewHTTPProvider(opts.Provider, nil), db, opts.Problems)
		rewards := reward.NewEngine(log, db, opts.Rewards)

		hub := ws.NewHub(log)
		keeper := duel.NewKeeper(log, duel.Deps{
			DB:       db,
			Grader:   grader,
			Problems: problems,
			Rewards:  rewards,
			Users:    db,
			Sink:     hub,
		}, opts.Matches)
		defer keeper.Close()

		mux := http.NewServeMux()
		mux.Handle("/ws", ws.NewHandler(log, hub, mmQueue, keeper, db, opts.WS))
		mux.Handle("/api/state/", api.New(log, mmQueue, keeper, db))

		servFin := make(chan struct{})
		servCtx, servCancel := context.WithCancel(ctx)
		server := &http.Server{
			Addr:        opts.Addr,
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return servCtx },
		}
		go func() {
			defer close(servFin)
			log.Info("starting http server", slog.String("addr", opts.Addr))
			if err := server.ListenAndServe(); err != nil {
				select {
				case <-servCtx.Done():
				default:
					log.Warn("listen http server failed", slogx.Err(err))
				}
			}
		}()
		defer func() { <-servFin }()
		defer func() {
			log.Info("stopping server")
			servCancel()
			_ = server.Shutdown(servCtx)
		}()

		<-ctx.Done()
		return nil
	}

	if err := serverCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
