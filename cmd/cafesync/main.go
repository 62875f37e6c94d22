package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"cafesync/internal/admin"
	"cafesync/internal/cluster"
	"cafesync/internal/config"
	"cafesync/internal/discovery"
	"cafesync/internal/logx"
	"cafesync/internal/netx"
	"cafesync/internal/protocol"
	"cafesync/internal/relay"
	"cafesync/internal/role"
	"cafesync/internal/store"
	"cafesync/pkg/types"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "env file:", err)
		os.Exit(2)
	}
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logx.New(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("cafesync stopped")
	}
}

func run(ctx context.Context, cfg types.Config, log zerolog.Logger) error {
	dialect, _ := store.ParseDialect(cfg.DatabaseType)
	st, err := store.Open(ctx, dialect, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer st.Close()

	r := protocol.Role(cfg.Role)
	self := netx.PeerInfo{ID: protocol.NewPeerID(), Name: cfg.Name, Role: r, Addr: cfg.AdvertiseAddr}
	session := netx.NewTCP(cfg.ListenAddr, self, log)
	medium := discovery.NewMulticast(cfg.Multicast, cfg.Beacon, log)
	reach := discovery.InterfaceReachability{AllowLoopback: cfg.AllowLoopback}

	node := cluster.NewNode(cluster.NodeConfig{
		Service:         cfg.Service,
		Role:            r,
		Settle:          cfg.Settle,
		DialTimeout:     cfg.DialTimeout,
		RestartCooldown: cfg.RestartCooldown,
		ForceCooldown:   cfg.ForceCooldown,
	}, session, medium, reach, log)
	if err := node.Start(ctx); err != nil {
		return err
	}
	defer node.Close()
	eng := node.Engine()

	var (
		coord *role.Coordinator
		term  *role.Terminal
	)
	switch r {
	case protocol.RoleCoordinator:
		var pub relay.Publisher = relay.Nop{}
		if cfg.RelayURL != "" {
			a, err := relay.Dial(cfg.RelayURL, cfg.RelayExchange, log)
			if err != nil {
				log.Warn().Err(err).Msg("order relay disabled")
			} else {
				defer a.Close()
				pub = a
			}
		}
		coord = role.NewCoordinator(eng, st, pub, role.CoordinatorOptions{
			Tables:         cfg.Tables,
			SeedCatalog:    cfg.SeedCatalog,
			SeedDemoOrders: cfg.SeedDemo,
		}, log)
		if err := coord.Load(ctx); err != nil {
			return err
		}
		go coord.Run(ctx)
	default:
		term = role.NewTerminal(eng, st, cfg.Table, log)
		if err := term.Load(ctx); err != nil {
			return err
		}
		go term.Run(ctx)
	}

	if cfg.HTTPAddr != "" {
		srv := admin.New(eng, coord, term, log)
		go func() {
			if err := srv.Run(ctx, cfg.HTTPAddr); err != nil {
				log.Error().Err(err).Msg("http control api stopped")
			}
		}()
	}

	fmt.Printf("%s %q (%s) listening on %s\n", r, cfg.Name, node.ID.Short(), session.Addr())
	if cfg.NoREPL {
		<-ctx.Done()
		return nil
	}
	fmt.Println("type 'help' for commands")
	c := &console{eng: eng, coord: coord, term: term}
	go c.watch(ctx)
	c.repl(ctx)
	return nil
}
