// riskd MCP server - exposes compliance tools to LLM clients over stdio
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rentwise/riskd/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL: envOrDefault("RISKD_API_URL", "http://localhost:8080"),
		Token:  os.Getenv("RISKD_TOKEN"),
	}

	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "RISKD_TOKEN is required (issue one with cmd/token)")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
