package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/workspace"
)

func init() {
	publishCmd.Flags().String("snap", "", "snap id to publish (defaults to HEAD)")
	publishCmd.Flags().Bool("metadata-only", false, "publish metadata without requiring blobs")
	syncCmd.Flags().String("lane", "default", "lane to sync into")
	syncCmd.Flags().String("client-id", "", "client identifier recorded on the lane head")
	syncCmd.Flags().Bool("check", false, "report sync status without pushing")
	releaseCmd.Flags().String("notes", "", "release notes")
	gcCmd.Flags().Bool("dry-run", false, "report without deleting")
	gcCmd.Flags().Bool("prune-metadata", false, "also prune unreferenced metadata")
	gcCmd.Flags().Int("prune-releases-keep-last", -1, "trim each channel's releases to its last N before collection")
}

// headOrFlag resolves the snap argument for delivery commands.
func headOrFlag(cmd *cobra.Command, ws *workspace.Workspace) objectid.ID {
	if v, _ := cmd.Flags().GetString("snap"); v != "" {
		return objectid.ID(v)
	}
	head, err := ws.Head()
	if err != nil {
		fatal(err)
	}
	if head == "" {
		fatal(fmt.Errorf("no HEAD snap (run `converge snap` first)"))
	}
	return head
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a snap into the remote's scope and gate",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		snapID := headOrFlag(cmd, ws)
		metadataOnly, _ := cmd.Flags().GetBool("metadata-only")

		pub, err := ws.Publish(context.Background(), rm, remote, snapID, metadataOnly, nil)
		if err != nil {
			fatal(err)
		}
		emit(pub, func() {
			fmt.Printf("published %s to %s/%s as %s\n", pub.SnapID, pub.Scope, pub.Gate, pub.ID)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push HEAD as this user's lane head",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		lane, _ := cmd.Flags().GetString("lane")
		ctx := context.Background()

		me, err := rm.Whoami(ctx)
		if err != nil {
			fatal(err)
		}

		if check, _ := cmd.Flags().GetBool("check"); check {
			status, err := ws.CheckLane(ctx, rm, remote.RepoID, lane, me.User)
			if err != nil {
				fatal(err)
			}
			emit(status, func() {
				if status.InSync {
					fmt.Printf("lane %s in sync at %s\n", lane, status.RemoteSnap)
				} else {
					fmt.Printf("lane %s out of sync (local %s, remote %s)\n", lane, status.LocalSnap, status.RemoteSnap)
				}
			})
			return
		}

		head, err := ws.Head()
		if err != nil {
			fatal(err)
		}
		if head == "" {
			fatal(fmt.Errorf("no HEAD snap (run `converge snap` first)"))
		}
		clientID, _ := cmd.Flags().GetString("client-id")
		rec, err := ws.SyncLane(ctx, rm, remote.RepoID, lane, me.User, head, clientID)
		if err != nil {
			fatal(err)
		}
		emit(rec, func() {
			fmt.Printf("synced %s to lane %s\n", rec.SnapID, lane)
		})
	},
}

var bundleCmd = &cobra.Command{
	Use:   "bundle <publication>...",
	Short: "Coalesce publications into a bundle",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		bundle, err := rm.CreateBundle(context.Background(), remote.RepoID, remote.Scope, remote.Gate, args)
		if err != nil {
			fatal(err)
		}
		emit(bundle, func() {
			fmt.Printf("bundle %s root %s promotable=%t\n", bundle.ID, bundle.RootManifest, bundle.Promotable)
			for _, reason := range bundle.Reasons {
				fmt.Println("  blocked:", reason)
			}
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <bundle>",
	Short: "Approve a bundle",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		bundle, err := rm.ApproveBundle(context.Background(), remote.RepoID, args[0])
		if err != nil {
			fatal(err)
		}
		emit(bundle, func() {
			fmt.Printf("bundle %s approvals=%d promotable=%t\n", bundle.ID, len(bundle.Approvals), bundle.Promotable)
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <bundle> <to-gate>",
	Short: "Promote a bundle along the gate graph",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		promotion, err := rm.Promote(context.Background(), remote.RepoID, args[0], args[1])
		if err != nil {
			fatal(err)
		}
		emit(promotion, func() {
			fmt.Printf("promoted %s %s -> %s\n", promotion.BundleID, promotion.FromGate, promotion.ToGate)
		})
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <bundle> <channel>",
	Short: "Release a bundle to a channel",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		notes, _ := cmd.Flags().GetString("notes")
		release, err := rm.Release(context.Background(), remote.RepoID, args[0], args[1], notes)
		if err != nil {
			fatal(err)
		}
		emit(release, func() {
			fmt.Printf("released %s to %s as %s\n", release.BundleID, release.Channel, release.ID)
		})
	},
}

var pinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "List pinned bundles",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		pins, err := rm.ListPins(context.Background(), remote.RepoID)
		if err != nil {
			fatal(err)
		}
		emit(map[string][]string{"pinned_bundles": pins}, func() {
			for _, p := range pins {
				fmt.Println(p)
			}
		})
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin <bundle>",
	Short: "Pin a bundle so GC retains it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		if err := rm.PinBundle(context.Background(), remote.RepoID, args[0]); err != nil {
			fatal(err)
		}
		emit(map[string]string{"pinned": args[0]}, func() {
			fmt.Println("pinned", args[0])
		})
	},
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <bundle>",
	Short: "Unpin a bundle",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		if err := rm.UnpinBundle(context.Background(), remote.RepoID, args[0]); err != nil {
			fatal(err)
		}
		emit(map[string]string{"unpinned": args[0]}, func() {
			fmt.Println("unpinned", args[0])
		})
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run a garbage collection pass on the remote repo",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		pruneMetadata, _ := cmd.Flags().GetBool("prune-metadata")
		var keepLast *int
		if n, _ := cmd.Flags().GetInt("prune-releases-keep-last"); n >= 0 {
			keepLast = &n
		}
		result, err := rm.RunGC(context.Background(), remote.RepoID, dryRun, pruneMetadata, keepLast)
		if err != nil {
			fatal(err)
		}
		emit(result, func() {
			fmt.Printf("%+v\n", result)
		})
	},
}
