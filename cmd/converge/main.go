// Command converge is the workspace-side CLI: local snapshots, diffs,
// publication and delivery against a converge server.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/converge-vcs/converge/workspace"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "`converge`",
	Long:  "`converge` versions trees of files against a central repository.",
	Run: func(cmd *cobra.Command, args []string) {
		// nolint:errcheck
		cmd.Usage()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(snapCmd)
	rootCmd.AddCommand(snapsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(mvCmd)

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(pinsCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(gcCmd)

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(tokensCmd)
}

// fatal prints one line to stderr and exits non-zero.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func emit(v any, text func()) {
	if jsonOutput {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(b))
		return
	}
	text()
}

func discoverWorkspace() *workspace.Workspace {
	ws, err := workspace.Discover(".")
	if err != nil {
		fatal(err)
	}
	return ws
}

// remoteSession resolves the workspace's remote config and stored token.
func remoteSession(ws *workspace.Workspace) (*workspace.Remote, workspace.RemoteConfig) {
	cfg, err := ws.LoadConfig()
	if err != nil {
		fatal(err)
	}
	if cfg.Remote == nil {
		fatal(fmt.Errorf("no remote configured (run `converge remote set`)"))
	}
	token, err := ws.RemoteToken(cfg.Remote.BaseURL)
	if err != nil {
		fatal(err)
	}
	return workspace.NewRemote(cfg.Remote.BaseURL, token), *cfg.Remote
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
