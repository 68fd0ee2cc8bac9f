package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yacchi/bettershare"
	"github.com/yacchi/bettershare/options"
	"github.com/yacchi/bettershare/rewrite"
)

func (a *app) newGetCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := store.LoadPreferences(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load preferences: %w", err)
			}
			return printPreferences(cmd, output, p)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func (a *app) newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <site> <value>",
		Short: "Change the preference for one site",
		Long: `Change the preference for one site.

Sites and their values:
  reddit      vxreddit, rxddit
  x           fixupx, fxtwitter, twittpr, vxtwitter
  instagram   ddinstagram`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := store.LoadPreferences(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load preferences: %w", err)
			}
			updated, err := p.With(bettershare.Site(args[0]), args[1])
			if err != nil {
				return err
			}
			if err := store.SavePreferences(cmd.Context(), updated); err != nil {
				return fmt.Errorf("failed to save preferences: %w", err)
			}
			a.logger.Debug("preference updated", zap.String("site", args[0]), zap.String("value", args[1]))
			return printPreferences(cmd, "json", updated)
		},
	}
}

func (a *app) newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the default preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			p := bettershare.DefaultPreferences()
			if err := store.SavePreferences(cmd.Context(), p); err != nil {
				return fmt.Errorf("failed to save preferences: %w", err)
			}
			return printPreferences(cmd, "json", p)
		},
	}
}

func (a *app) newShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <url>",
		Short: "Rewrite a link for sharing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := store.LoadPreferences(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load preferences: %w", err)
			}
			out, err := rewrite.ShareableURL(args[0], p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print preferences every time they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeFn, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			updates := make(chan bettershare.UserPreferences, 16)
			id := store.OnPreferenceUpdate(func(p bettershare.UserPreferences) {
				select {
				case updates <- p:
				default:
					a.logger.Warn("dropping preference update, output is too slow")
				}
			})
			defer store.RemovePreferenceUpdateListener(id)

			p, err := store.LoadPreferences(ctx)
			if err != nil {
				return fmt.Errorf("failed to load preferences: %w", err)
			}
			if err := printPreferences(cmd, "json", p); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case p := <-updates:
					if err := printPreferences(cmd, "json", p); err != nil {
						return err
					}
				}
			}
		},
	}
}

func (a *app) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the settings API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeFn, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			handler, err := options.NewHandler(store, a.logger)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("serving settings API", zap.String("addr", addr))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return fmt.Errorf("server stopped: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down: %w", err)
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func printPreferences(cmd *cobra.Command, format string, p bettershare.UserPreferences) error {
	w := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(p.Record()); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
