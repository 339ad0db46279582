package main

import (
	"fmt"
	"log"
	"os"

	"github.com/ironsheep/xenarch/internal/catalog"
	"github.com/ironsheep/xenarch/internal/config"
	"github.com/ironsheep/xenarch/internal/logging"
	"github.com/ironsheep/xenarch/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("xenarch-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("xenarch-mcp - MCP server for terrain anomaly detection")
			fmt.Println()
			fmt.Println("Usage: xenarch-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  XENARCH_LOG_LEVEL=debug        Log level (debug, info, warn, error)")
			fmt.Println("  XENARCH_CONFIG=/path/cfg.json  Configuration file for tool defaults")
			fmt.Println("  XENARCH_CATALOG=/path/runs.db  SQLite catalog for pipeline runs")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	logging.LevelFromEnv("XENARCH_LOG_LEVEL")
	logging.Debugf("Xenarch MCP Server v%s (built %s, commit %s)", Version, BuildTime, GitCommit)

	opts := []server.Option{}
	if path := os.Getenv("XENARCH_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatalf("Config error: %v", err)
		}
		opts = append(opts, server.WithConfig(cfg))
	}
	if path := os.Getenv("XENARCH_CATALOG"); path != "" {
		cat, err := catalog.Open(path)
		if err != nil {
			log.Fatalf("Catalog error: %v", err)
		}
		defer cat.Close()
		opts = append(opts, server.WithCatalog(cat))
	}

	srv := server.New(opts...)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
