// Command pushctl is the operator CLI for the push reminder server.
//
// Usage:
//
//	pushctl vapid generate
//	pushctl subscriptions list
//	pushctl alarms list --endpoint https://fcm.googleapis.com/fcm/send/...
//	pushctl purge --retention-days 30
//	pushctl send --endpoint https://... --message "Test reminder"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cnutodo/pushsched/internal/config"
	"github.com/cnutodo/pushsched/internal/maintenance"
	"github.com/cnutodo/pushsched/internal/push"
	"github.com/cnutodo/pushsched/internal/registry"
	"github.com/cnutodo/pushsched/internal/storage"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "pushctl",
		Short:        "Push reminder server operator CLI",
		SilenceUsage: true,
	}

	root.AddCommand(vapidCmd())
	root.AddCommand(subscriptionsCmd())
	root.AddCommand(alarmsCmd())
	root.AddCommand(purgeCmd())
	root.AddCommand(sendCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// vapid command
// --------------------------------------------------------------------------

func vapidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Manage VAPID keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a VAPID key pair in .env format",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("generate keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// subscriptions command
// --------------------------------------------------------------------------

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Inspect stored push subscriptions",
	}
	var full bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStores(func(ctx context.Context, cfg *config.Config, s *storage.Stores, reg *registry.Registry) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENDPOINT\tEXPIRES")
				for _, sub := range reg.List() {
					endpoint := sub.Endpoint
					if !full {
						endpoint = push.Redact(endpoint)
					}
					expires := "-"
					if sub.ExpirationTime != nil {
						expires = time.UnixMilli(*sub.ExpirationTime).UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\n", endpoint, expires)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&full, "full", false, "Print complete endpoint URLs")
	cmd.AddCommand(list)
	return cmd
}

// --------------------------------------------------------------------------
// alarms command
// --------------------------------------------------------------------------

func alarmsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "Inspect persisted alarms",
	}
	var endpoint string
	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted alarms of one subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStores(func(ctx context.Context, cfg *config.Config, s *storage.Stores, reg *registry.Registry) error {
				handles, err := s.Alarms.FindAllForSubscriber(ctx, endpoint)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SCHEDULED\tBLOCK\tMESSAGE")
				for _, h := range handles {
					a, ok, err := s.Alarms.Load(ctx, h)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n",
						a.Time().UTC().Format(time.RFC3339),
						time.UnixMilli(h.Block).UTC().Format("2006-01-02 15:04"),
						a.Message)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&endpoint, "endpoint", "", "Subscription endpoint")
	_ = list.MarkFlagRequired("endpoint")
	cmd.AddCommand(list)
	return cmd
}

// --------------------------------------------------------------------------
// purge command
// --------------------------------------------------------------------------

func purgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove alarm partitions older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStores(func(ctx context.Context, cfg *config.Config, s *storage.Stores, reg *registry.Registry) error {
				retention := cfg.Retention()
				if days > 0 {
					retention = time.Duration(days) * 24 * time.Hour
				}
				n, err := maintenance.Purge(ctx, s.Alarms, retention, time.Now(), logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d partitions\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "retention-days", 0, "Override RETENTION_DAYS")
	return cmd
}

// --------------------------------------------------------------------------
// send command
// --------------------------------------------------------------------------

func sendCmd() *cobra.Command {
	var endpoint, title, message string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one test notification to a stored subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStores(func(ctx context.Context, cfg *config.Config, s *storage.Stores, reg *registry.Registry) error {
				sub, ok := reg.Get(endpoint)
				if !ok {
					return fmt.Errorf("no subscription for %s", push.Redact(endpoint))
				}
				sender := push.NewWebPushSender(
					push.VAPID{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey, Subject: cfg.VAPIDSubject},
					push.Options{TTL: cfg.PushTTL, Urgency: cfg.PushUrgency, Timeout: cfg.PushTimeout},
					logger)
				if sender == nil {
					return errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required")
				}
				if title == "" {
					title = cfg.PushTitle
				}
				payload, err := json.Marshal(push.Payload{Title: title, Message: message})
				if err != nil {
					return err
				}
				if err := sender.Send(ctx, sub, payload); err != nil {
					if errors.Is(err, push.ErrGone) {
						logger.Warn("Subscription is gone; the server will remove it on its next delivery")
					}
					return err
				}
				logger.Info("Notification sent", "endpoint", push.Redact(endpoint))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Subscription endpoint")
	cmd.Flags().StringVar(&title, "title", "", "Notification title (default PUSH_TITLE)")
	cmd.Flags().StringVar(&message, "message", "Test notification", "Notification body")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func runWithStores(fn func(ctx context.Context, cfg *config.Config, s *storage.Stores, reg *registry.Registry) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stores, err := storage.Open(ctx, cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	reg := registry.New(stores.KV, logger)
	if err := reg.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, cfg, stores, reg)
}
