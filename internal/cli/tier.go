package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/broadcast"
	"github.com/roach88/chatsync/internal/entitlement"
)

// NewTierCommand creates the tier command group.
func NewTierCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tier",
		Short: "Manage cached subscription tiers",
		Long: `Manage the locally cached subscription tier of a user.

Tier changes clear every tier-derived cache (memory, key/value area and
the subscriptions table) and are announced to other instances on the
configured bus.`,
	}

	cmd.AddCommand(newTierInvalidateCommand(rootOpts))
	cmd.AddCommand(newTierSetCommand(rootOpts))
	cmd.AddCommand(newTierShowCommand(rootOpts))
	cmd.AddCommand(newTierWatchCommand(rootOpts))

	return cmd
}

func newTierInvalidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <user>",
		Short: "Clear a user's cached tier without telling other instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			rt, err := openRuntime(cmd.Context(), f, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			_, br, err := rt.tiers(nil)
			if err != nil {
				return f.Fail(ExitCommandError, CodeConfig, "failed to set up tier cache", err)
			}

			report := br.InvalidateUserTier(cmd.Context(), args[0])
			if err := f.Success(report, func(w io.Writer) { writeReport(w, report) }); err != nil {
				return err
			}
			if !report.OK() {
				return NewExitError(ExitFailure, fmt.Sprintf("invalidation failed for %s", strings.Join(report.Failed, ", ")))
			}
			return nil
		},
	}
}

// TierSetOptions holds flags for the tier set command.
type TierSetOptions struct {
	*RootOptions
	Source string
}

// TierSetResult is the output of tier set.
type TierSetResult struct {
	Tier   entitlement.Tier             `json:"tier"`
	Report broadcast.InvalidationReport `json:"report"`
	Stored entitlement.Subscription     `json:"stored"`
}

func newTierSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TierSetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <user> <tier>",
		Short: "Record an authoritative tier change and broadcast it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTierSet(cmd, opts, args[0], entitlement.Tier(args[1]))
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "cli", "origin of the change recorded in the broadcast")

	return cmd
}

func runTierSet(cmd *cobra.Command, opts *TierSetOptions, userID string, tier entitlement.Tier) error {
	ctx := cmd.Context()
	f := newFormatter(cmd, opts.RootOptions)
	rt, err := openRuntime(ctx, f, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, br, err := rt.tiers(func(context.Context, string) (entitlement.Tier, error) {
		return tier, nil
	})
	if err != nil {
		return f.Fail(ExitCommandError, CodeConfig, "failed to set up tier cache", err)
	}

	report, pubErr := br.OnTierChange(ctx, userID, tier, opts.Source)

	// Repopulate from the new authoritative value.
	if _, err := svc.Refresh(ctx, userID); err != nil {
		return f.Fail(ExitCommandError, CodeStore, "failed to store tier", err)
	}
	stored, err := svc.Persisted(ctx, userID)
	if err != nil {
		return f.Fail(ExitCommandError, CodeStore, "failed to read stored tier", err)
	}

	if pubErr != nil {
		return f.Fail(ExitFailure, CodePublish, "tier stored but broadcast failed", pubErr)
	}

	res := TierSetResult{Tier: tier, Report: report, Stored: stored}
	return f.Success(res, func(w io.Writer) {
		writeReport(w, report)
		fmt.Fprintf(w, "%s is now %s\n", stored.UserID, stored.Tier)
	})
}

func newTierShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Show a user's stored subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			rt, err := openRuntime(cmd.Context(), f, rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc, _, err := rt.tiers(nil)
			if err != nil {
				return f.Fail(ExitCommandError, CodeConfig, "failed to set up tier cache", err)
			}

			sub, err := svc.Persisted(cmd.Context(), args[0])
			if errors.Is(err, entitlement.ErrNoSubscription) {
				return f.Fail(ExitFailure, CodeNotFound, fmt.Sprintf("no stored subscription for %s", args[0]), err)
			}
			if err != nil {
				return f.Fail(ExitCommandError, CodeStore, "failed to read subscription", err)
			}

			return f.Success(sub, func(w io.Writer) {
				fmt.Fprintf(w, "user:    %s\n", sub.UserID)
				fmt.Fprintf(w, "tier:    %s\n", sub.Tier)
				fmt.Fprintf(w, "status:  %s\n", sub.Status)
				fmt.Fprintf(w, "synced:  %s\n", time.UnixMilli(sub.LastSynced).UTC().Format(time.RFC3339))
				fmt.Fprintf(w, "expires: %s\n", time.UnixMilli(sub.ExpiresAt).UTC().Format(time.RFC3339))
			})
		},
	}
}

func newTierWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print tier changes announced by other instances",
		Long: `Listen on the configured bus and print each tier change another
instance announces, one JSON object per line. Runs until interrupted.

With the local bus only changes from this process are visible, so watch
is mostly useful with bus.kind: nats.

With --metrics-addr the process also serves Prometheus metrics at
/metrics on that address while it runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTierWatch(cmd, rootOpts, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func runTierWatch(cmd *cobra.Command, rootOpts *RootOptions, metricsAddr string) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := newFormatter(cmd, rootOpts)
	rt, err := openRuntime(ctx, f, rootOpts)
	if err != nil {
		return err
	}
	defer rt.Close()

	_, br, err := rt.tiers(nil)
	if err != nil {
		return f.Fail(ExitCommandError, CodeConfig, "failed to set up tier cache", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	cancel := br.Subscribe(func(ev broadcast.TierChanged) {
		if err := enc.Encode(ev); err != nil {
			rt.logger.Warn("write tier change", "error", err)
		}
	})
	defer cancel()

	if err := br.Start(); err != nil {
		return f.Fail(ExitCommandError, CodeConfig, "failed to listen for tier changes", err)
	}
	f.VerboseLog("listening on %s (%s)", rt.cfg.Bus.Subject, rt.cfg.Bus.Kind)

	if metricsAddr != "" {
		addr, err := serveMetrics(ctx, metricsAddr, rt.registry, rt.logger)
		if err != nil {
			return f.Fail(ExitCommandError, CodeConfig, "failed to serve metrics", err)
		}
		rt.logger.Info("serving metrics", "addr", addr)
		f.VerboseLog("metrics: http://%s/metrics", addr)
	}

	<-ctx.Done()
	rt.logger.Debug("tier watch stopped")
	return nil
}

func writeReport(w io.Writer, r broadcast.InvalidationReport) {
	fmt.Fprintf(w, "invalidated %s: memory=%d kv=%d store=%d\n", r.UserID, r.MemoryItems, len(r.KVKeys), r.StoreRows)
	for _, target := range r.Failed {
		fmt.Fprintf(w, "  failed: %s\n", target)
	}
}
