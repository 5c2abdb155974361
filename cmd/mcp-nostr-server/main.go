// Command mcp-nostr-server is a thin wrapper composing a transport.Server
// with a locally spawned MCP server subprocess, per SPEC_FULL.md §4.9.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mcpnostr/bridge"
	"mcpnostr/internal/config"
	"mcpnostr/payments"
	"mcpnostr/relaypool"
	"mcpnostr/signer"
	"mcpnostr/transport"
)

func main() {
	conf := config.MakeOrGetConfig()
	_ = conf.BindEnv("secret_key", "NOSTR_SECRET_KEY")
	_ = conf.ReadInConfig()

	localCommand := conf.GetString("local_server_command")
	if localCommand == "" {
		fmt.Fprintln(os.Stderr, "mcp-nostr-server: local_server_command is required")
		os.Exit(1)
	}

	kp, err := loadOrGenerateKeypair(conf.GetString("secret_key"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-server:", err)
		os.Exit(1)
	}

	mode, err := transport.ParseEncryptionMode(conf.GetString("encryption_mode"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-server:", err)
		os.Exit(1)
	}

	prices, err := conf.CapabilityPricing()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-server:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	parts := strings.Fields(localCommand)
	local, err := bridge.StartProcess(ctx, parts[0], parts[1:]...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-server:", err)
		os.Exit(1)
	}

	relays := conf.GetStringSlice("relays")
	pool := relaypool.New(relays)
	srv := transport.NewServer(pool, signer.New(kp), local, transport.ServerConfig{
		ServerInfo: transport.ServerInfo{
			Name:    conf.GetString("server_info.name"),
			About:   conf.GetString("server_info.description"),
			Website: conf.GetString("server_info.website"),
			Picture: conf.GetString("server_info.picture"),
		},
		IsPublicServer:    conf.GetBool("is_public_server"),
		AllowedPublicKeys: conf.GetStringSlice("allowed_public_keys"),
		EncryptionMode:    mode,
		SessionTimeout:    time.Duration(conf.GetInt("session_idle_timeout_seconds")) * time.Second,
		Pricing:           payments.NewResolver(prices),
	})

	b := bridge.NewServerBridge(srv, local)
	if err := b.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-server:", err)
		os.Exit(1)
	}
}

func loadOrGenerateKeypair(secretKeyHex string) (signer.Keypair, error) {
	if secretKeyHex == "" {
		return signer.Generate()
	}
	return signer.FromSecretKey(secretKeyHex)
}
