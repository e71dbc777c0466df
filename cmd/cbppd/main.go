package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/arcflux/cbppcore/internal/cbppd"
	"github.com/arcflux/cbppcore/internal/config"
	"github.com/arcflux/cbppcore/internal/job"
	"github.com/arcflux/cbppcore/internal/obslog"
)

// loggingHandler dispatches every request to the structured logger. It
// is the only request handler cbppd installs; modules loaded through the
// admin surface's /sys/load_module endpoint do not replace it.
type loggingHandler struct{}

func (loggingHandler) OnRequest(ctx *job.Context, messageID uint16, payload []byte) error {
	logger := obslog.With("cbppd")
	logger.Debug().Uint16("message_id", messageID).Int("payload_len", len(payload)).Msg("unhandled request")
	return nil
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the CBPP server config file")
	listenAddr := flag.String("listen", ":9100", "CBPP listener bind address")
	flag.Parse()

	obslog.ConfigureRuntime()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cbppd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := cbppd.New(cfg, *listenAddr, loggingHandler{})
	if err := svc.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "cbppd: %v\n", err)
		os.Exit(1)
	}
}
