// Package main provides a CLI for checking audio nodes without starting the bot.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/config"
	"github.com/osa030/lavabox/internal/infra/lavalink"
)

var (
	app        = kingpin.New("lavabox-nodecheck", "Check lavabox audio nodes")
	configPath = app.Flag("config", "Path to config file").Default("config/lavabox.yaml").String()
	timeout    = app.Flag("timeout", "Request timeout").Default("15s").Duration()

	// search command
	searchCmd    = app.Command("search", "Look a query up on a node")
	searchQuery  = searchCmd.Arg("query", "Link or search text").Required().String()
	searchNode   = searchCmd.Flag("node", "Node ID (default: every node)").String()
	searchPrefix = searchCmd.Flag("prefix", "Search prefix for plain text").Default("ytsearch").String()

	// nodes command
	nodesCmd = app.Command("nodes", "List configured nodes")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case searchCmd.FullCommand():
		search(ctx, cfg, *searchNode, *searchQuery)
	case nodesCmd.FullCommand():
		listNodes(cfg)
	}
}

func search(ctx context.Context, cfg *config.Config, nodeID, query string) {
	nodes := selectNodes(cfg, nodeID)
	if len(nodes) == 0 {
		fmt.Printf("Error: unknown node %q\n", nodeID)
		os.Exit(1)
	}

	identifier := query
	if !isURL(query) {
		identifier = *searchPrefix + ":" + query
	}

	failed := 0
	for _, nc := range nodes {
		if err := loadFrom(ctx, nc, identifier); err != nil {
			fmt.Printf("Node %s: error: %v\n", nc.ID, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func loadFrom(ctx context.Context, nc config.NodeConfig, identifier string) error {
	// Lookups are REST only; no websocket session is needed.
	n := lavalink.New(lavalink.ConfigFrom(nc, ""), nil)
	start := time.Now()
	res, err := n.LoadTracks(ctx, identifier)
	if err != nil {
		return err
	}

	fmt.Printf("Node %s answered in %v: %s\n", nc.ID, time.Since(start).Round(time.Millisecond), res.Type)
	switch {
	case res.Type == node.LoadError && res.Exception != nil:
		fmt.Printf("  exception: %s (severity=%s, kind=%s)\n", res.Exception.Error(), res.Exception.Severity, res.Exception.Kind)
	case res.Playlist != nil:
		fmt.Printf("  playlist: %s\n", res.Playlist.Name)
	}
	for i, t := range res.Tracks {
		fmt.Printf("  %2d. %s - %s [%s] %s\n", i+1, t.Author, t.Title, track.FormatDuration(t.Duration), t.URI)
	}
	return nil
}

func listNodes(cfg *config.Config) {
	fmt.Println("Nodes:")
	for _, nc := range cfg.Nodes {
		search := ""
		if nc.Search {
			search = " (search)"
		}
		fmt.Printf("  %-12s %s:%d secure=%t%s\n", nc.ID, nc.Host, nc.Port, nc.Secure, search)
	}
}

func selectNodes(cfg *config.Config, id string) []config.NodeConfig {
	if id == "" {
		return cfg.Nodes
	}
	for _, nc := range cfg.Nodes {
		if nc.ID == id {
			return []config.NodeConfig{nc}
		}
	}
	return nil
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
