package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/converge-vcs/converge/workspace"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage the workspace's remote",
	Run: func(cmd *cobra.Command, args []string) {
		// nolint:errcheck
		cmd.Usage()
	},
}

func init() {
	remoteCmd.AddCommand(remoteShowCmd)
	remoteCmd.AddCommand(remoteSetCmd)
	remoteCmd.AddCommand(remoteCreateRepoCmd)
	remoteCmd.AddCommand(remotePurgeCmd)

	remoteSetCmd.Flags().String("scope", "main", "scope to publish into")
	remoteSetCmd.Flags().String("gate", "dev-intake", "gate to publish into")
	loginCmd.Flags().String("token", "", "bearer token (prompted when omitted)")

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreateCmd)
	tokensCmd.AddCommand(tokensCreateCmd)
	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensRevokeCmd)

	tokensCreateCmd.Flags().String("label", "", "label for the new token")
}

var remoteShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the configured remote",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		cfg, err := ws.LoadConfig()
		if err != nil {
			fatal(err)
		}
		if cfg.Remote == nil {
			fatal(fmt.Errorf("no remote configured"))
		}
		emit(cfg.Remote, func() {
			fmt.Println("url:  ", cfg.Remote.BaseURL)
			fmt.Println("repo: ", cfg.Remote.RepoID)
			fmt.Println("scope:", cfg.Remote.Scope)
			fmt.Println("gate: ", cfg.Remote.Gate)
		})
	},
}

var remoteSetCmd = &cobra.Command{
	Use:   "set <url> <repo>",
	Short: "Point the workspace at a server and repo",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		cfg, err := ws.LoadConfig()
		if err != nil {
			fatal(err)
		}
		scope, _ := cmd.Flags().GetString("scope")
		gate, _ := cmd.Flags().GetString("gate")
		cfg.Remote = &workspace.RemoteConfig{
			BaseURL: strings.TrimRight(args[0], "/"),
			RepoID:  args[1],
			Scope:   scope,
			Gate:    gate,
		}
		if err := ws.SaveConfig(cfg); err != nil {
			fatal(err)
		}
		emit(cfg.Remote, func() {
			fmt.Printf("remote set to %s repo %s (%s/%s)\n", cfg.Remote.BaseURL, cfg.Remote.RepoID, scope, gate)
		})
	},
}

var remoteCreateRepoCmd = &cobra.Command{
	Use:   "create-repo",
	Short: "Create the configured repo on the server",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		if err := rm.CreateRepo(context.Background(), remote.RepoID); err != nil {
			fatal(err)
		}
		emit(map[string]string{"repo": remote.RepoID}, func() {
			fmt.Println("created repo", remote.RepoID)
		})
	},
}

var remotePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete the configured repo and all of its data (admin)",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		if err := rm.PurgeRepo(context.Background(), remote.RepoID); err != nil {
			fatal(err)
		}
		emit(map[string]string{"purged": remote.RepoID}, func() {
			fmt.Println("purged repo", remote.RepoID)
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a bearer token for the configured remote",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		cfg, err := ws.LoadConfig()
		if err != nil {
			fatal(err)
		}
		if cfg.Remote == nil {
			fatal(fmt.Errorf("no remote configured (run `converge remote set`)"))
		}
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			fmt.Fprint(os.Stderr, "token: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				fatal(err)
			}
			token = strings.TrimSpace(line)
		}

		rm := workspace.NewRemote(cfg.Remote.BaseURL, token)
		me, err := rm.Whoami(context.Background())
		if err != nil {
			fatal(err)
		}
		if err := ws.SetRemoteToken(cfg.Remote.BaseURL, token); err != nil {
			fatal(err)
		}
		emit(me, func() {
			fmt.Printf("logged in to %s as %s\n", cfg.Remote.BaseURL, me.User)
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated identity",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, _ := remoteSession(ws)
		me, err := rm.Whoami(context.Background())
		if err != nil {
			fatal(err)
		}
		emit(me, func() {
			admin := ""
			if me.Admin {
				admin = " (admin)"
			}
			fmt.Printf("%s%s\n", me.User, admin)
		})
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage server users",
	Run: func(cmd *cobra.Command, args []string) {
		// nolint:errcheck
		cmd.Usage()
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, _ := remoteSession(ws)
		var users []map[string]any
		if err := rm.GetJSON(context.Background(), "/users", &users); err != nil {
			fatal(err)
		}
		emit(users, func() {
			for _, u := range users {
				fmt.Printf("%v\t%v\n", u["handle"], u["id"])
			}
		})
	},
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <handle>",
	Short: "Create a user (admin)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, _ := remoteSession(ws)
		var user map[string]any
		if err := rm.PostJSON(context.Background(), "/users", map[string]string{"handle": args[0]}, &user); err != nil {
			fatal(err)
		}
		emit(user, func() {
			fmt.Printf("created user %v (%v)\n", user["handle"], user["id"])
		})
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage bearer tokens",
	Run: func(cmd *cobra.Command, args []string) {
		// nolint:errcheck
		cmd.Usage()
	},
}

var tokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new token for the current user",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, _ := remoteSession(ws)
		label, _ := cmd.Flags().GetString("label")
		var out map[string]any
		if err := rm.PostJSON(context.Background(), "/tokens", map[string]string{"label": label}, &out); err != nil {
			fatal(err)
		}
		emit(out, func() {
			fmt.Printf("token %v\nsecret %v (shown once)\n", out["id"], out["token"])
		})
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current user's tokens",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, _ := remoteSession(ws)
		var tokens []map[string]any
		if err := rm.GetJSON(context.Background(), "/tokens", &tokens); err != nil {
			fatal(err)
		}
		emit(tokens, func() {
			for _, t := range tokens {
				revoked := ""
				if r, ok := t["revoked_at"].(string); ok && r != "" {
					revoked = " (revoked)"
				}
				fmt.Printf("%v\t%v%s\n", t["id"], t["label"], revoked)
			}
		})
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, _ := remoteSession(ws)
		if err := rm.Delete(context.Background(), "/tokens/"+args[0]); err != nil {
			fatal(err)
		}
		emit(map[string]string{"revoked": args[0]}, func() {
			fmt.Println("revoked", args[0])
		})
	},
}
