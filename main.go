package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ccfrost/guestdrive/commands"
	"github.com/ccfrost/guestdrive/internal/config"
	"github.com/ccfrost/guestdrive/internal/logging"
	"github.com/spf13/cobra"
)

const guestdrive = "guestdrive"

func main() {
	var configPath string
	var cfg config.Config
	var logger *slog.Logger

	rootCmd := cobra.Command{
		Use:   guestdrive,
		Short: "Collect guest photos into per-guest cloud folders",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger = logging.New(cfg.Debug)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")

	serveCmd := cobra.Command{
		Use:   "serve",
		Short: "Run the upload server",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				cfg.Port = port
			}
			if err := commands.Serve(ctx, cfg, logger); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(&serveCmd)

	uploadCmd := cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload photos and videos for one guest",
		Long: `Upload photos and videos to the server on behalf of one guest.
Photos are resized and re-encoded as JPEG so each fits under the per-file
limit, then sent in batches that fit under the request size limit.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name, err := cmd.Flags().GetString("name")
			if err != nil {
				fmt.Fprintln(os.Stderr, "error: invalid name flag:", err)
				os.Exit(1)
			}
			server, err := cmd.Flags().GetString("server")
			if err != nil {
				fmt.Fprintln(os.Stderr, "error: invalid server flag:", err)
				os.Exit(1)
			}
			if server != "" {
				cfg.Client.ServerURL = server
			}
			isolate, err := cmd.Flags().GetBool("isolate")
			if err != nil {
				fmt.Fprintln(os.Stderr, "error: invalid isolate flag:", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			_, err = commands.Upload(ctx, cfg, commands.UploadOptions{
				GuestName:       name,
				Paths:           args,
				IsolateFailures: isolate,
				ShowProgress:    true,
				Out:             os.Stdout,
			}, logger)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
		},
	}
	uploadCmd.Flags().StringP("name", "n", "", "Guest name; files go into a folder with this name")
	uploadCmd.Flags().StringP("server", "s", "", "Server URL (overrides client.server_url)")
	uploadCmd.Flags().Bool("isolate", false, "Skip files that cannot be prepared instead of aborting")
	_ = uploadCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(&uploadCmd)

	authURLCmd := cobra.Command{
		Use:   "auth-url",
		Short: "Print the Google consent URL",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			u, err := commands.AuthURL(cfg, logger)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Println(u)
		},
	}
	rootCmd.AddCommand(&authURLCmd)

	authorizeCmd := cobra.Command{
		Use:   "authorize",
		Short: "Authorize Google Drive access from the terminal",
		Long: `Print the Google consent URL, read the authorization code from stdin,
and save the resulting token to token_file.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := commands.Authorize(cmd.Context(), cfg, os.Stdin, os.Stdout, logger); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
		},
	}
	rootCmd.AddCommand(&authorizeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
