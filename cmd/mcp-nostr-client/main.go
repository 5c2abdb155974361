// Command mcp-nostr-client is a thin wrapper composing a transport.Client
// with the local stdin/stdout pipe, the way the teacher's cmd/engine wires a
// handful of library packages together behind a Viper config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mcpnostr/bridge"
	"mcpnostr/internal/config"
	"mcpnostr/relaypool"
	"mcpnostr/signer"
	"mcpnostr/transport"
)

func main() {
	conf := config.MakeOrGetConfig()
	_ = conf.BindEnv("secret_key", "NOSTR_SECRET_KEY")
	_ = conf.ReadInConfig()

	serverPubkey := conf.GetString("server_pubkey")
	if serverPubkey == "" {
		fmt.Fprintln(os.Stderr, "mcp-nostr-client: server_pubkey is required")
		os.Exit(1)
	}

	kp, err := loadOrGenerateKeypair(conf.GetString("secret_key"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-client:", err)
		os.Exit(1)
	}

	mode, err := transport.ParseEncryptionMode(conf.GetString("encryption_mode"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-client:", err)
		os.Exit(1)
	}

	relays := conf.GetStringSlice("relays")
	pool := relaypool.New(relays)
	client := transport.NewClient(pool, signer.New(kp), serverPubkey, mode)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b := bridge.NewClientBridge(client)
	if err := b.Run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "mcp-nostr-client:", err)
		os.Exit(1)
	}
}

func loadOrGenerateKeypair(secretKeyHex string) (signer.Keypair, error) {
	if secretKeyHex == "" {
		return signer.Generate()
	}
	return signer.FromSecretKey(secretKeyHex)
}
