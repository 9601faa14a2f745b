package cmd

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/browser"
	"github.com/xkilldash9x/pagemap/internal/detect"
	"github.com/xkilldash9x/pagemap/internal/engine"
	"github.com/xkilldash9x/pagemap/internal/manifest"
	"github.com/xkilldash9x/pagemap/internal/mapper"
	"github.com/xkilldash9x/pagemap/internal/observability"
	"github.com/xkilldash9x/pagemap/internal/waiter"
)

var manifestJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// newMapCmd creates and configures the `map` command.
func newMapCmd() *cobra.Command {
	var (
		useBrowser bool
		windowSize int
		start      int
		asJSON     bool
		waitHuman  time.Duration
	)

	mapCmd := &cobra.Command{
		Use:   "map <url>",
		Short: "Navigate to a URL and print its interaction manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			target := args[0]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				target = "https://" + target
			}

			if cmd.Flags().Changed("browser") {
				cfg.Browser.Enabled = useBrowser
			}
			if !cmd.Flags().Changed("window") {
				windowSize = cfg.Map.WindowSize
			}

			page, closePage, err := newPage(cmd, logger)
			if err != nil {
				return err
			}
			defer closePage()

			m := mapper.New(logger, page, mapper.Config{
				Wait: waiter.Options{
					PollInterval: cfg.Map.PollInterval,
					Grace:        cfg.Map.WaitGrace,
					Settle:       cfg.Map.WaitSettle,
					Max:          cfg.Map.WaitMax,
				},
				HumanPollInterval: cfg.Map.HumanPollInterval,
			})

			logger.Info("Mapping page",
				zap.String("url", target),
				zap.Bool("browser", cfg.Browser.Enabled),
				zap.Int("window_size", windowSize),
			)

			if err := page.Navigate(ctx, target); err != nil {
				return fmt.Errorf("failed to navigate to %q: %w", target, err)
			}

			win := detect.WindowOptions{Size: windowSize, Start: start}
			man, err := m.Generate(ctx, win)
			if schemas.IsBotBlocked(err) && waitHuman > 0 {
				// Hand the tab to the operator and poll until the challenge
				// clears, then map what replaced it.
				logger.Warn("Bot challenge detected, waiting for manual resolution",
					zap.Duration("timeout", waitHuman))
				man, err = m.WaitForChange(ctx, waitHuman)
			}
			if err != nil {
				return err
			}

			if asJSON {
				data, mErr := manifestJSON.MarshalIndent(man, "", "  ")
				if mErr != nil {
					return fmt.Errorf("failed to encode manifest: %w", mErr)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), manifest.Render(man))
			return nil
		},
	}

	mapCmd.Flags().BoolVar(&useBrowser, "browser", false, "Drive a real Chrome tab instead of the built-in engine. (Overrides config/env)")
	mapCmd.Flags().IntVarP(&windowSize, "window", "w", 0, "Maximum elements per manifest page; 0 disables windowing. (Overrides config/env)")
	mapCmd.Flags().IntVar(&start, "start", 0, "Element offset to start the window at.")
	mapCmd.Flags().BoolVar(&asJSON, "json", false, "Emit the manifest as JSON instead of text.")
	mapCmd.Flags().DurationVar(&waitHuman, "wait-human", 0, "How long to wait for a human to clear a bot challenge. 0 fails immediately.")

	return mapCmd
}

// newPage builds the configured page backend. The returned func releases it.
func newPage(cmd *cobra.Command, logger *zap.Logger) (schemas.Page, func(), error) {
	if cfg.Browser.Enabled {
		bp, err := browser.NewPage(cmd.Context(), logger, browser.Options{
			Headless:          cfg.Browser.Headless,
			ExecPath:          cfg.Browser.ExecPath,
			UserAgent:         cfg.Browser.UserAgent,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			ActionTimeout:     cfg.Browser.ActionTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start browser: %w", err)
		}
		return bp, bp.Close, nil
	}

	ep := engine.NewPage(cmd.Context(), logger, engine.Options{
		UserAgent:      cfg.Network.UserAgent,
		AcceptLanguage: cfg.Network.AcceptLanguage,
		Timeout:        cfg.Network.Timeout,
	})
	return ep, ep.Close, nil
}
