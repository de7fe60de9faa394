// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/autoplay"
	"github.com/osa030/lavabox/internal/app/filter"
	"github.com/osa030/lavabox/internal/app/music"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/playback"
	"github.com/osa030/lavabox/internal/app/registry"
	"github.com/osa030/lavabox/internal/app/skin"
	"github.com/osa030/lavabox/internal/infra/config"
	"github.com/osa030/lavabox/internal/infra/discord"
	"github.com/osa030/lavabox/internal/infra/lavalink"
	"github.com/osa030/lavabox/internal/infra/logger"
	"github.com/osa030/lavabox/internal/infra/spotify"
	"github.com/osa030/lavabox/internal/infra/store"
)

var (
	app        = kingpin.New("lavabox", "Discord music bot backed by Lavalink")
	configPath = app.Flag("config", "Path to config file").Default("config/lavabox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listFiltersCmd = app.Command("list-filters", "List available admission filters and exit")
	listSkinsCmd   = app.Command("list-skins", "List control panel skins and audio presets and exit")
)

const eventBuffer = 256

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case listFiltersCmd.FullCommand():
		printFilters()
		return
	case listSkinsCmd.FullCommand():
		printSkins()
		return
	}

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %+v", err)
		os.Exit(1)
	}
}

// run wires the bot and blocks until a shutdown signal.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filters, err := filter.NewChainFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}
	related, err := autoplay.NewChainFromConfig(cfg.Autoplay)
	if err != nil {
		return fmt.Errorf("invalid autoplay config: %w", err)
	}

	settings, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	defer settings.Close()

	var resolvers []music.Resolver
	if cfg.Spotify.Enabled() {
		sp, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return fmt.Errorf("failed to create Spotify client: %w", err)
		}
		resolvers = append(resolvers, sp)
		zlog.Info().Msg("Spotify links enabled")
	}

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	voice := discord.NewVoice(session)

	selector := node.NewSelector()
	players := registry.New(selector, playback.ConfigFrom(cfg), playback.Deps{
		Autoplay: related,
		Channel:  discord.NewDisplay(session),
		Voice:    voice,
	})
	svc := music.New(music.ConfigFrom(cfg), music.Deps{
		Registry:  players,
		Selector:  selector,
		Store:     settings,
		Filters:   filters,
		Voice:     voice,
		Resolvers: resolvers,
	})

	bot := discord.New(session, cfg, svc, players)
	userID, err := bot.Open()
	if err != nil {
		return err
	}
	defer bot.Close()

	// Nodes identify with the bot user, known once the gateway session is open. They outlive ctx
	// so players can be destroyed on their nodes during shutdown.
	nodeCtx, stopNodes := context.WithCancel(context.Background())
	defer stopNodes()
	events := make(chan node.Event, eventBuffer)
	for _, nc := range cfg.Nodes {
		n := lavalink.New(lavalink.ConfigFrom(nc, userID), events)
		selector.Add(n)
		go func() {
			if err := n.Run(nodeCtx); err != nil {
				zlog.Error().Msgf("Node stopped: node=%s err=%v", nc.ID, err)
				selector.MarkUnavailable(nc.ID)
			}
		}()
	}
	go players.Run(nodeCtx, events)

	zlog.Info().Msgf("Bot started: user=%s nodes=%d", userID, len(cfg.Nodes))
	<-ctx.Done()
	zlog.Info().Msg("Received shutdown signal...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	players.Shutdown(shutdownCtx)

	zlog.Info().Msg("Bot stopped")
	return nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, name := range filter.RegisteredNames() {
		f := filter.GetRegistered()[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// printSkins prints the control panel skins and audio filter presets.
func printSkins() {
	fmt.Println("Skins:")
	for _, name := range skin.Names() {
		sk := skin.GetOrDefault(name)
		mode := "static"
		if sk.AutoRefresh > 0 {
			mode = "refresh every " + sk.AutoRefresh.String()
		}
		fmt.Printf("  %-20s %s\n", name, mode)
	}
	fmt.Println("Filter presets:")
	for _, name := range node.PresetNames() {
		fmt.Printf("  %s\n", name)
	}
}
