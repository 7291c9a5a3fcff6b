package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/imagepipe/cmd/imagepipe/setup"
	"github.com/papercomputeco/imagepipe/pkg/config"
	"github.com/papercomputeco/imagepipe/pkg/logger"
	"github.com/papercomputeco/imagepipe/server"
)

const serveLongDesc string = `Serve the pipeline over HTTP.

Starts the pipeline server, checks in the background that the
configured models exist on the model server and, when a config
file is given, reapplies it whenever it changes.

Examples:
  imagepipe serve
  imagepipe serve --config ./imagepipe.toml --listen :9099 --debug`

const serveShortDesc string = "Serve the pipeline over HTTP"

type serveCommander struct {
	configPath string
	listenAddr string
	debug      bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&cmder.listenAddr, "listen", "l", "", "Address to listen on (overrides config)")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.listenAddr != "" {
		cfg.ListenAddr = c.listenAddr
	}
	if c.debug {
		cfg.Debug = true
	}

	log := logger.NewLogger(cfg.Debug, cfg.Color)
	defer log.Sync()

	components, err := setup.New(cfg, log)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{ListenAddr: cfg.ListenAddr}, components.Pipeline, components.Validator, log.Named("server"))

	log.Info("imagepipe starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("upstream", cfg.BaseURL),
		zap.String("vision_model", cfg.VisionModel),
		zap.String("general_model", cfg.GeneralModel),
		zap.Bool("debug", cfg.Debug),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return components.Validator.Run(groupCtx)
	})

	if c.configPath != "" {
		group.Go(func() error {
			return config.Watch(groupCtx, c.configPath, log.Named("config"), func(next config.Config) {
				if next.BaseURL != cfg.BaseURL || next.APIKey != cfg.APIKey || next.ListenAddr != cfg.ListenAddr {
					log.Warn("connection settings changed; restart to apply them")
				}
				components.Reconfigure(next)
			})
		})
	}

	group.Go(func() error {
		if err := srv.Run(); err != nil {
			return fmt.Errorf("pipeline server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")
		return srv.Shutdown()
	})

	return group.Wait()
}
