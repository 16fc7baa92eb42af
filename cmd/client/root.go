package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/nakkag/webrtc-mesh/internal/adapters/rtc"
	"github.com/nakkag/webrtc-mesh/internal/config"
	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/logging"
	"github.com/nakkag/webrtc-mesh/internal/mesh"
)

var (
	flagConfig  string
	flagVerbose bool
	v           *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "mesh-client [room]",
	Short: "Headless mesh participant",
	Long: `mesh-client joins a room on the signaling server and negotiates a direct
media link with every other member, sending silent audio and counting what it receives.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New(flagConfig)
		for key, name := range map[string]string{
			"client.server_url":           "server",
			"client.id":                   "id",
			"client.reconnect_delay":      "reconnect-delay",
			"client.ping_period":          "ping-period",
			"client.insecure_skip_verify": "insecure",
		} {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		if len(args) == 1 {
			v.Set("client.room", args[0])
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Decode(v)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if flagVerbose {
			level = "debug"
		}
		logging.Setup(level, true)
		return run(cmd.Context(), cfg)
	},
}

func init() {
	logging.Setup("info", true)

	f := rootCmd.Flags()
	f.StringVar(&flagConfig, "config", "", "path to config file")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	f.String("server", "", "signaling server url (wss://host:port/)")
	f.String("id", "", "peer id (random when empty)")
	f.Duration("reconnect-delay", 0, "delay before reconnecting the signaling link")
	f.Duration("ping-period", 0, "signaling keepalive interval")
	f.Bool("insecure", false, "skip TLS certificate verification")
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	room := domain.RoomName(cfg.Client.Room)
	if err := room.Validate(); err != nil {
		return fmt.Errorf("room: %w", err)
	}
	self := domain.PeerID(cfg.Client.ID)
	if self == "" {
		self = domain.NewPeerID()
	}
	if err := self.Validate(); err != nil {
		return fmt.Errorf("id: %w", err)
	}

	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	source, err := rtc.NewSilentSource(string(self))
	if err != nil {
		return err
	}
	sink := rtc.NewCountingSink()

	sup := mesh.NewSupervisor(mesh.SupervisorConfig{
		Room:           room,
		Self:           self,
		ReconnectDelay: cfg.Client.ReconnectDelay,
		PingPeriod:     cfg.Client.PingPeriod,
	}, mesh.NewWSDialer(cfg.Client.ServerURL, cfg.Client.InsecureSkipVerify))

	mgr := mesh.NewManager(mesh.ManagerConfig{
		Room:      room,
		Self:      self,
		Transport: rtc.NewFactory(api, webrtc.Configuration{ICEServers: cfg.WebRTCICEServers()}),
		Source:    source,
		Sink:      sink,
		Hooks: mesh.Hooks{
			OnError: func(peer domain.PeerID, err error) {
				log.Warn().Err(err).Str("module", "client").Str("peer", string(peer)).Msg("negotiation error")
			},
			OnState: func(peer domain.PeerID, st mesh.State) {
				log.Info().Str("module", "client").Str("peer", string(peer)).Str("state", st.String()).Msg("peer state")
			},
		},
	}, sup)
	sup.OnMessage(mgr.Deliver)

	log.Info().Str("module", "client").Str("room", string(room)).Str("id", string(self)).Str("server", cfg.Client.ServerURL).Msg("starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return source.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Str("module", "client").Msg("stopped")
	return nil
}
