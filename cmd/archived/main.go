// Command archived runs the archive daemon for one session. It keeps the
// WhatsApp link and the message cache current, and serves archivectl on the
// session's Unix socket.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wpp-archive/internal/config"
	"github.com/matheus3301/wpp-archive/internal/daemon"
	"github.com/matheus3301/wpp-archive/internal/session"
	"go.uber.org/fx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "archived: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	name := flag.String("session", "", "session to serve (default from config)")
	cfgPath := flag.String("config", session.ConfigPath(), "config file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		return err
	}
	sessionName := session.Resolve(*name, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}

	app := fx.New(fx.NopLogger, daemon.Module(daemon.Params{
		SessionName: sessionName,
		Config:      cfg,
	}))
	if err := app.Err(); err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	app.Run()
	return nil
}
