package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/galmasi/keylime-agent/common"
	"github.com/galmasi/keylime-agent/config"
	"github.com/galmasi/keylime-agent/httpserver"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Value: "",
		Usage: "configuration file to use instead of KEYLIME_CONFIG or the system default",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "",
		Usage: "address to listen on for Prometheus metrics, empty disables metrics",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: common.PackageName,
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "keylime-agent",
		Usage: "Run the Keylime attestation agent",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			configPath := cCtx.String("config")
			metricsAddr := cCtx.String("metrics-addr")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			builder := &config.Builder{Log: logger}
			if configPath != "" {
				builder.Resolver = config.NewResolver(configPath)
			}

			cfg, err := builder.Build()
			if err != nil {
				logger.Error("Failed to build agent configuration", "err", err)
				return err
			}

			logger.Info("Agent configuration resolved",
				"uuid", cfg.AgentUUID,
				"hashAlg", cfg.HashAlg.String(),
				"encAlg", cfg.EncAlg.String(),
				"signAlg", cfg.SignAlg.String(),
				"workDir", cfg.WorkDir,
				"mtls", cfg.MTLSEnabled,
			)

			if cfg.Identity == nil {
				logger.Info("No usable attestation key identity, it will be regenerated in the TPM")
			} else if !cfg.Identity.Valid(cfg.HashAlg, cfg.SignAlg) {
				logger.Info("Persisted identity does not match the configured algorithms, it will be regenerated in the TPM",
					"persistedHashAlg", cfg.Identity.AKHashAlg.String(),
					"persistedSignAlg", cfg.Identity.AKSignAlg.String(),
				)
			}

			if cfg.RunAs != "" {
				logger.Info("Privileges will be dropped after initialization", "runAs", cfg.RunAs)
			}

			server, err := httpserver.New(&httpserver.HTTPServerConfig{
				ListenAddr:               net.JoinHostPort(cfg.AgentIP, cfg.AgentPort),
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			})
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Agent is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Agent shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
