// Command pike-lsp is the entrypoint for the mediator: it speaks LSP
// over stdio to an editor and bridges every analysis request to a
// supervised Pike child interpreter subprocess.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poppa/pike-lsp-sub007/internal/config"
	"github.com/poppa/pike-lsp-sub007/internal/core"
	"github.com/poppa/pike-lsp-sub007/internal/logging"
)

// versionInfo is the structured payload behind `pike-lsp version --json`.
type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "pike-lsp",
		Short: "LSP mediator bridging an editor to a Pike interpreter subprocess",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to pike-lsp.yaml (optional)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "information", "minimum log level (verbose|debug|information|warning|error)")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the LSP mediator over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.ParseLevel(logLevel))

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := core.New(cfg)
			return m.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}

func versionCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the mediator's own version",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:   core.Version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS,
				Arch:      runtime.GOARCH,
			}
			if !jsonOutput {
				fmt.Printf("pike-lsp v%s (%s, %s/%s)\n", info.Version, info.GoVersion, info.Platform, info.Arch)
				return nil
			}
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print version information as JSON")
	return cmd
}
