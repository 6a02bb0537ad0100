package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/converge-vcs/converge/server"
)

var showVersion bool

const version = "1.0.0"

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "data directory (overrides config)")
	serveCmd.Flags().String("bootstrap-token", "", "one-time bootstrap token (overrides config)")
	serveCmd.Flags().String("dev-user", "", "seed a dev admin with this handle on first run")
	serveCmd.Flags().String("dev-token", "", "token secret for the seeded dev admin")
}

var rootCmd = &cobra.Command{
	Use:   "converge-server",
	Short: "`converge-server`",
	Long:  "`converge-server` hosts converge repositories.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println("converge-server", version)
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve [config]",
	Short: "`serve` hosts converge repositories",
	Long:  "`serve` hosts converge repositories over HTTP.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(cmd, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		ctx := context.Background()
		srv, err := server.NewServer(ctx, config)
		if err != nil {
			logrus.Fatalln(err)
		}
		if err := srv.ListenAndServe(ctx); err != nil {
			logrus.Fatalln(err)
		}
	},
}

func resolveConfiguration(cmd *cobra.Command, args []string) (*server.Configuration, error) {
	var config *server.Configuration
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		config, err = server.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", args[0], err)
		}
	} else {
		config = server.Default()
	}

	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		config.HTTP.Addr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		config.Storage.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("bootstrap-token"); v != "" {
		config.Bootstrap.Token = v
	}
	if v, _ := cmd.Flags().GetString("dev-user"); v != "" {
		config.Bootstrap.DevUser = v
	}
	if v, _ := cmd.Flags().GetString("dev-token"); v != "" {
		config.Bootstrap.DevToken = v
	}
	return config, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
