package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/resolve"
	"github.com/converge-vcs/converge/workspace"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Work through a bundle's superposition conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		// nolint:errcheck
		cmd.Usage()
	},
}

func init() {
	resolveCmd.AddCommand(resolveInitCmd)
	resolveCmd.AddCommand(resolvePickCmd)
	resolveCmd.AddCommand(resolveClearCmd)
	resolveCmd.AddCommand(resolveShowCmd)
	resolveCmd.AddCommand(resolveValidateCmd)
	resolveCmd.AddCommand(resolveApplyCmd)
	resolveCmd.AddCommand(resolveUpgradeCmd)
}

func draftPath(ws *workspace.Workspace) string {
	return filepath.Join(ws.Root, workspace.ConvergeDirName, "resolution.json")
}

func loadDraft(ws *workspace.Workspace) (*model.Resolution, error) {
	b, err := os.ReadFile(draftPath(ws))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerr.New(cerr.NotFound, "no resolution in progress (run `converge resolve init <bundle>`)")
		}
		return nil, cerr.New(cerr.Io, "read resolution draft: %v", err)
	}
	var r model.Resolution
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, cerr.New(cerr.InvalidInput, "parse resolution draft: %v", err)
	}
	return &r, nil
}

func saveDraft(ws *workspace.Workspace, r *model.Resolution) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return cerr.New(cerr.Io, "encode resolution draft: %v", err)
	}
	tmp := draftPath(ws) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o666); err != nil {
		return cerr.New(cerr.Io, "write resolution draft: %v", err)
	}
	if err := os.Rename(tmp, draftPath(ws)); err != nil {
		os.Remove(tmp)
		return cerr.New(cerr.Io, "rename resolution draft: %v", err)
	}
	return nil
}

var resolveInitCmd = &cobra.Command{
	Use:   "init <bundle>",
	Short: "Start resolving a bundle's conflicts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		rm, remote := remoteSession(ws)
		ctx := context.Background()

		bundle, err := rm.GetBundle(ctx, remote.RepoID, args[0])
		if err != nil {
			fatal(err)
		}
		if err := ws.PullManifestTree(ctx, rm, remote.RepoID, bundle.RootManifest); err != nil {
			fatal(err)
		}

		draft := &model.Resolution{
			Version:      1,
			BundleID:     bundle.ID,
			RootManifest: bundle.RootManifest,
			CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			Decisions:    map[string]model.ResolutionDecision{},
		}
		if err := saveDraft(ws, draft); err != nil {
			fatal(err)
		}

		paths, _, err := resolve.Paths(ws.Store, bundle.RootManifest)
		if err != nil {
			fatal(err)
		}
		emit(map[string]any{"bundle": bundle.ID, "conflicts": paths}, func() {
			fmt.Printf("resolving bundle %s: %d conflicts\n", bundle.ID, len(paths))
			for _, p := range paths {
				fmt.Println(" ", p)
			}
		})
	},
}

var resolvePickCmd = &cobra.Command{
	Use:   "pick <path> <source-tag>",
	Short: "Choose the variant published by source-tag for a conflict path",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		draft, err := loadDraft(ws)
		if err != nil {
			fatal(err)
		}
		conflictPath, sourceTag := args[0], args[1]

		_, variantsByPath, err := resolve.Paths(ws.Store, draft.RootManifest)
		if err != nil {
			fatal(err)
		}
		variants, ok := variantsByPath[conflictPath]
		if !ok {
			fatal(cerr.New(cerr.InvalidInput, "no conflict at path %q", conflictPath))
		}
		var chosen *model.SuperpositionVariant
		for i := range variants {
			if variants[i].SourceTag == sourceTag {
				chosen = &variants[i]
				break
			}
		}
		if chosen == nil {
			fatal(cerr.New(cerr.InvalidInput, "no variant tagged %q at %q", sourceTag, conflictPath))
		}

		draft.Decisions[conflictPath] = model.KeyDecision(chosen.Key())
		if err := saveDraft(ws, draft); err != nil {
			fatal(err)
		}
		emit(draft, func() {
			fmt.Printf("picked %s for %s\n", sourceTag, conflictPath)
		})
	},
}

var resolveClearCmd = &cobra.Command{
	Use:   "clear [path]",
	Short: "Drop one decision, or the whole draft",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		if len(args) == 0 {
			if err := os.Remove(draftPath(ws)); err != nil && !os.IsNotExist(err) {
				fatal(err)
			}
			emit(map[string]bool{"cleared": true}, func() { fmt.Println("cleared resolution draft") })
			return
		}
		draft, err := loadDraft(ws)
		if err != nil {
			fatal(err)
		}
		delete(draft.Decisions, args[0])
		if err := saveDraft(ws, draft); err != nil {
			fatal(err)
		}
		emit(draft, func() { fmt.Println("cleared decision for", args[0]) })
	},
}

var resolveShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolution draft and remaining conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		draft, err := loadDraft(ws)
		if err != nil {
			fatal(err)
		}
		paths, variantsByPath, err := resolve.Paths(ws.Store, draft.RootManifest)
		if err != nil {
			fatal(err)
		}
		emit(map[string]any{"draft": draft, "conflicts": paths}, func() {
			fmt.Printf("bundle %s: %d conflicts, %d decided\n", draft.BundleID, len(paths), len(draft.Decisions))
			for _, p := range paths {
				if _, decided := draft.Decisions[p]; decided {
					fmt.Printf("  [x] %s\n", p)
					continue
				}
				fmt.Printf("  [ ] %s\n", p)
				for _, v := range variantsByPath[p] {
					fmt.Printf("        %s\n", v.SourceTag)
				}
			}
		})
	},
}

func reportIssues(report resolve.Report) string {
	const maxPerCategory = 5
	trim := func(list []string) []string {
		if len(list) > maxPerCategory {
			return append(append([]string{}, list[:maxPerCategory]...), "...")
		}
		return list
	}
	out := ""
	if len(report.Missing) > 0 {
		out += fmt.Sprintf(" missing=%v", trim(report.Missing))
	}
	if len(report.Extraneous) > 0 {
		out += fmt.Sprintf(" extraneous=%v", trim(report.Extraneous))
	}
	if len(report.OutOfRange) > 0 {
		out += fmt.Sprintf(" out_of_range=%v", trim(report.OutOfRange))
	}
	if len(report.InvalidKeys) > 0 {
		out += fmt.Sprintf(" invalid_keys=%v", trim(report.InvalidKeys))
	}
	return out
}

var resolveValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the draft against the bundle's conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		draft, err := loadDraft(ws)
		if err != nil {
			fatal(err)
		}
		report, err := resolve.Validate(ws.Store, draft.RootManifest, draft.Decisions)
		if err != nil {
			fatal(err)
		}
		emit(report, func() {
			if report.OK {
				fmt.Println("resolution valid")
				return
			}
			fmt.Println("resolution invalid:" + reportIssues(report))
		})
		if !report.OK {
			os.Exit(1)
		}
	},
}

var resolveApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the draft, producing a resolved snap",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		draft, err := loadDraft(ws)
		if err != nil {
			fatal(err)
		}
		resolvedRoot, err := resolve.Apply(ws.Store, draft.RootManifest, draft.Decisions)
		if err != nil {
			if ce, ok := err.(*cerr.Error); ok && ce.Code == cerr.ResolutionInvalid {
				if report, ok := ce.Detail.(resolve.Report); ok {
					fmt.Fprintln(os.Stderr, "error: resolution invalid:"+reportIssues(report))
					os.Exit(1)
				}
			}
			fatal(err)
		}

		createdAt := time.Now().UTC().Format(time.RFC3339Nano)
		snap := model.NewSnap(createdAt, resolvedRoot, fmt.Sprintf("resolve bundle %s", draft.BundleID), model.SnapStats{})
		if _, err := ws.Store.PutSnap(snap); err != nil {
			fatal(err)
		}
		if err := ws.SetHead(snap.ID); err != nil {
			fatal(err)
		}
		if err := os.Remove(draftPath(ws)); err != nil && !os.IsNotExist(err) {
			fatal(err)
		}
		emit(snap, func() {
			fmt.Printf("resolved %s -> snap %s (root %s)\n", draft.BundleID, snap.ID, resolvedRoot)
		})
	},
}

var resolveUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Rewrite legacy index decisions to content keys",
	Run: func(cmd *cobra.Command, args []string) {
		ws := discoverWorkspace()
		draft, err := loadDraft(ws)
		if err != nil {
			fatal(err)
		}
		upgraded, err := resolve.UpgradeLegacyDecisions(ws.Store, draft.RootManifest, draft.Decisions)
		if err != nil {
			fatal(err)
		}
		upgradedCount := 0
		for p, d := range draft.Decisions {
			if upgraded[p].Kind != d.Kind {
				upgradedCount++
			}
		}
		draft.Decisions = upgraded
		if err := saveDraft(ws, draft); err != nil {
			fatal(err)
		}
		emit(draft, func() {
			fmt.Printf("upgraded %d decisions to content keys\n", upgradedCount)
		})
	},
}
