package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/workspace"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "reinitialize an existing workspace")
	snapCmd.Flags().StringP("message", "m", "", "snap message")
	diffCmd.Flags().String("from", "", "diff from this snap id")
	diffCmd.Flags().String("to", "", "diff to this snap id")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a workspace in the current directory",
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(err)
		}
		ws, err := workspace.Init(cwd, initForce)
		if err != nil {
			fatal(err)
		}
		emit(map[string]string{"root": ws.Root}, func() {
			fmt.Println("Initialized workspace at", ws.Root)
		})
	},
}

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Record a snapshot of the working tree",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		message, _ := cmd.Flags().GetString("message")
		snap, err := ws.CreateSnap(context.Background(), scanProducer{ws: ws}, message)
		if err != nil {
			fatal(err)
		}
		emit(snap, func() {
			fmt.Printf("%s %d files %d bytes\n", snap.ID, snap.Stats.FileCount, snap.Stats.TotalSize)
		})
	},
}

var snapsCmd = &cobra.Command{
	Use:   "snaps",
	Short: "List local snaps, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		snaps, err := ws.ListSnaps()
		if err != nil {
			fatal(err)
		}
		head, err := ws.Head()
		if err != nil {
			fatal(err)
		}
		emit(snaps, func() {
			for _, s := range snaps {
				marker := " "
				if s.ID == head {
					marker = "*"
				}
				fmt.Printf("%s %s %s %s\n", marker, s.ID, s.CreatedAt, s.Message)
			}
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <snap>",
	Short: "Show one snap",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		snap, err := ws.Store.GetSnap(objectid.ID(args[0]))
		if err != nil {
			fatal(err)
		}
		emit(snap, func() {
			fmt.Println("snap:         ", snap.ID)
			fmt.Println("created_at:   ", snap.CreatedAt)
			fmt.Println("root_manifest:", snap.RootManifest)
			if snap.Message != "" {
				fmt.Println("message:      ", snap.Message)
			}
			fmt.Printf("stats:         %d files, %d dirs, %d bytes\n", snap.Stats.FileCount, snap.Stats.DirCount, snap.Stats.TotalSize)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show working-tree changes against HEAD",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		changes, err := workingTreeChanges(ws)
		if err != nil {
			fatal(err)
		}
		emit(changes, func() {
			if len(changes) == 0 {
				fmt.Println("Clean")
				return
			}
			printChanges(changes)
		})
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff two snaps, or the working tree against HEAD",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		var changes []workspace.Change
		var err error
		switch {
		case from == "" && to == "":
			changes, err = workingTreeChanges(ws)
		case from != "" && to != "":
			var fromSnap, toSnap = objectid.ID(from), objectid.ID(to)
			changes, err = diffSnaps(ws, fromSnap, toSnap)
		default:
			fatal(fmt.Errorf("use both --from and --to for snap diffs, or neither for working tree vs HEAD"))
		}
		if err != nil {
			fatal(err)
		}
		emit(changes, func() {
			printChanges(changes)
			fmt.Printf("%d changes\n", len(changes))
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snap>",
	Short: "Materialize a snap into the working tree",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		snap, err := ws.Store.GetSnap(objectid.ID(args[0]))
		if err != nil {
			fatal(err)
		}
		if err := restoreTree(ws, snap.RootManifest, ws.Root); err != nil {
			fatal(err)
		}
		if err := ws.SetHead(snap.ID); err != nil {
			fatal(err)
		}
		emit(snap, func() {
			fmt.Println("Restored", snap.ID)
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <from> <to>",
	Short: "Move a file within the working tree",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		from := filepath.Join(ws.Root, args[0])
		to := filepath.Join(ws.Root, args[1])
		if err := os.MkdirAll(filepath.Dir(to), 0o777); err != nil {
			fatal(err)
		}
		if err := os.Rename(from, to); err != nil {
			fatal(err)
		}
		emit(map[string]string{"from": args[0], "to": args[1]}, func() {
			fmt.Printf("%s -> %s\n", args[0], args[1])
		})
	},
}

// workingTreeChanges scans the working tree and diffs it against HEAD's
// root manifest.
func workingTreeChanges(ws *workspace.Workspace) ([]workspace.Change, error) {
	head, err := ws.Head()
	if err != nil {
		return nil, err
	}
	var baseRoot objectid.ID
	if head != "" {
		snap, err := ws.Store.GetSnap(head)
		if err != nil {
			return nil, err
		}
		baseRoot = snap.RootManifest
	}
	curRoot, _, err := scanProducer{ws: ws}.BuildManifest(context.Background())
	if err != nil {
		return nil, err
	}
	return workspace.DiffTrees(ws.Store, baseRoot, curRoot)
}

func diffSnaps(ws *workspace.Workspace, from, to objectid.ID) ([]workspace.Change, error) {
	fromSnap, err := ws.Store.GetSnap(from)
	if err != nil {
		return nil, err
	}
	toSnap, err := ws.Store.GetSnap(to)
	if err != nil {
		return nil, err
	}
	return workspace.DiffTrees(ws.Store, fromSnap.RootManifest, toSnap.RootManifest)
}

func printChanges(changes []workspace.Change) {
	for _, c := range changes {
		switch c.Kind {
		case workspace.ChangeAdded:
			fmt.Println("A", c.Path)
		case workspace.ChangeDeleted:
			fmt.Println("D", c.Path)
		case workspace.ChangeModified:
			fmt.Println("M", c.Path)
		case workspace.ChangeRenamed:
			fmt.Printf("R %s -> %s\n", c.From, c.Path)
		}
	}
}
