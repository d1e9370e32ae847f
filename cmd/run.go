package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/browser/humanoid"
	"github.com/xkilldash9x/claimpilot/internal/browser/locator"
	"github.com/xkilldash9x/claimpilot/internal/browser/session"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/mailbox"
	"github.com/xkilldash9x/claimpilot/internal/observability"
	"github.com/xkilldash9x/claimpilot/internal/orchestrator"
	"github.com/xkilldash9x/claimpilot/internal/pool"
	"github.com/xkilldash9x/claimpilot/internal/postrun"
	"github.com/xkilldash9x/claimpilot/internal/statestore"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one claim run against the configured target pool",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line overrides take precedence over the
			// config file and environment.
			if err := viper.BindPFlag("browser.cdp_url", cmd.Flags().Lookup("cdp-url")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := appCfg
			if cfg == nil {
				return fmt.Errorf("configuration was not initialized")
			}
			// Re-unmarshal so bound flags override file/env values.
			refreshed, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			cfg = refreshed

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			if err := components.Orchestrator.Run(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted by user signal")
					return err
				}
				logger.Error("Run failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	runCmd.Flags().String("cdp-url", "", "Debugging endpoint of the running browser. (Overrides config/env)")
	return runCmd
}

// runComponents holds initialized services.
type runComponents struct {
	Session      *session.Session
	Orchestrator *orchestrator.Orchestrator
}

// Shutdown closes the browser session.
func (rc *runComponents) Shutdown() {
	if rc.Session != nil {
		rc.Session.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Mailbox. Built first: a broken mailbox setup should fail the run
	// before any browser interaction happens.
	gmail, err := mailbox.NewGmailClient(ctx, cfg.OTP, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailbox client: %w", err)
	}
	retriever, err := mailbox.NewRetriever(gmail, cfg.OTP, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize code retriever: %w", err)
	}

	// 2. Browser session.
	sess, err := session.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to browser: %w", err)
	}
	components.Session = sess

	// 3. Pipeline collaborators.
	human := humanoid.New(cfg.Humanoid, logger, sess)
	finder := locator.New(sess, logger)
	queue := pool.NewQueue(cfg.Pools.EmailsFile)
	targets := pool.NewTargetPool(cfg.Pools.LinksFile, cfg.Pools.FallbackClaimURL)
	store := statestore.New(cfg.State.File)
	script := postrun.New(logger)

	components.Orchestrator = orchestrator.New(cfg, logger, orchestrator.Deps{
		Page:    sess,
		Human:   human,
		Finder:  finder,
		Codes:   retriever,
		Queue:   queue,
		Targets: targets,
		Store:   store,
		Script:  script,
	})
	return components, nil
}
