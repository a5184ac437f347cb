package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ra397/spyfall/internal/catalog"
	"github.com/ra397/spyfall/internal/config"
	"github.com/ra397/spyfall/internal/directory"
	"github.com/ra397/spyfall/internal/directory/memdir"
	"github.com/ra397/spyfall/internal/directory/pgdir"
	"github.com/ra397/spyfall/internal/directory/pgdir/natsnotify"
	"github.com/ra397/spyfall/internal/engine"
	"github.com/ra397/spyfall/internal/identity"
	"github.com/ra397/spyfall/internal/statestore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := loadCatalog(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load location catalog")
	}

	dir, cleanup, err := openDirectory(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session directory")
	}
	defer cleanup()

	storage, err := identity.OpenFileStorage(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local storage")
	}

	store := statestore.New()
	eng, err := engine.New(engine.Config{
		Directory: dir,
		State:     store,
		Catalog:   cat,
		Storage:   storage,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine")
	}
	defer eng.Close()

	unsubscribe := store.Subscribe(printTransitions())
	defer unsubscribe()

	if eng.Resume(ctx) {
		snap := store.Get()
		fmt.Printf("resumed session %s as %s\n", snap.SessionCode, snap.DisplayName)
	}

	go repl(ctx, cancel, eng, store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.LoadDefault()
}

// openDirectory builds the configured directory backend and returns it
// with its cleanup function.
func openDirectory(ctx context.Context, cfg config.Config) (directory.Directory, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memdir.New(clockwork.NewRealClock()), func() {}, nil

	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.DB.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}

		var notifier pgdir.Notifier
		var closeNotifier func()
		switch cfg.Notifier {
		case config.NotifierNATS:
			nn, err := natsnotify.Connect(cfg.NATSURL, cfg.NotifyChannel)
			if err != nil {
				db.Close()
				return nil, nil, err
			}
			notifier = nn
			closeNotifier = nn.Close
		default:
			notifier = pgdir.NewPGNotifier(db, cfg.DB.DSN(), cfg.NotifyChannel)
			closeNotifier = func() {}
		}

		store := pgdir.New(db, notifier, pgdir.Config{Channel: cfg.NotifyChannel})
		if err := store.EnsureSchema(ctx); err != nil {
			closeNotifier()
			db.Close()
			return nil, nil, err
		}
		go func() {
			if err := store.Run(ctx); err != nil {
				log.Error().Err(err).Msg("directory subscription pump failed")
			}
		}()
		return store, func() {
			closeNotifier()
			db.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// printTransitions renders state changes worth telling the player
// about: route changes, errors, roster movement, and role reveals.
func printTransitions() func(statestore.Snapshot) {
	var last statestore.Snapshot
	return func(snap statestore.Snapshot) {
		if snap.Err != "" && snap.Err != last.Err {
			fmt.Printf("! %s\n", snap.Err)
		}
		if snap.Route != last.Route {
			switch snap.Route {
			case "lobby":
				fmt.Printf("= lobby %s (%d players)\n", snap.SessionCode, len(snap.Roster))
			case "game":
				if snap.Role != nil {
					if *snap.Role == "Spy" {
						fmt.Println("= round started: you are the Spy")
					} else if snap.Session != nil && snap.Session.Location != nil {
						fmt.Printf("= round started: %s at %s\n", *snap.Role, *snap.Session.Location)
					}
				}
			case "home":
				fmt.Println("= back home")
			}
		}
		if len(snap.Roster) != len(last.Roster) && snap.Route == "lobby" {
			names := make([]string, 0, len(snap.Roster))
			for _, p := range snap.Roster {
				names = append(names, p.DisplayName)
			}
			fmt.Printf("= players: %s\n", strings.Join(names, ", "))
		}
		last = snap
	}
}

func repl(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, store *statestore.Store) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: create <name> | join <name> <code> | start | end | duration <sec> | locations | leave | quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "create":
			if len(fields) != 2 {
				fmt.Println("usage: create <name>")
				continue
			}
			if eng.CreateSession(ctx, fields[1]) {
				fmt.Printf("session code: %s\n", store.Get().SessionCode)
			}
		case "join":
			if len(fields) != 3 {
				fmt.Println("usage: join <name> <code>")
				continue
			}
			eng.JoinSession(ctx, fields[1], fields[2])
		case "start":
			eng.StartRound(ctx)
		case "end":
			eng.EndRound(ctx)
		case "duration":
			if len(fields) != 2 {
				fmt.Println("usage: duration <seconds>")
				continue
			}
			secs, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: duration <seconds>")
				continue
			}
			eng.UpdateDuration(ctx, secs)
		case "locations":
			fmt.Println(strings.Join(eng.LocationNames(), ", "))
		case "leave":
			eng.LeaveSession(ctx)
		case "quit", "exit":
			cancel()
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
	cancel()
}
