package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/workspace"
)

// scanProducer is the CLI's built-in manifest producer: a plain directory
// walk writing blobs and manifests into the workspace store. Large-file
// chunking stays behind the recipe producer boundary; every file here is
// stored as a single blob.
type scanProducer struct {
	ws *workspace.Workspace
}

func (p scanProducer) BuildManifest(ctx context.Context) (objectid.ID, model.SnapStats, error) {
	var stats model.SnapStats
	root, err := p.scanDir(ctx, p.ws.Root, &stats)
	if err != nil {
		return "", model.SnapStats{}, err
	}
	return root, stats, nil
}

func (p scanProducer) scanDir(ctx context.Context, dir string, stats *model.SnapStats) (objectid.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", cerr.New(cerr.Io, "scan cancelled: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", cerr.New(cerr.Io, "read %s: %v", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	manifest := model.Manifest{Version: 1}
	for _, e := range entries {
		name := e.Name()
		if name == workspace.ConvergeDirName {
			continue
		}
		full := filepath.Join(dir, name)

		switch {
		case e.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return "", cerr.New(cerr.Io, "readlink %s: %v", full, err)
			}
			manifest.Entries = append(manifest.Entries, model.ManifestEntry{Name: name, Kind: model.Symlink{Target: target}})
		case e.IsDir():
			sub, err := p.scanDir(ctx, full, stats)
			if err != nil {
				return "", err
			}
			stats.DirCount++
			manifest.Entries = append(manifest.Entries, model.ManifestEntry{Name: name, Kind: model.Dir{Manifest: sub}})
		default:
			info, err := e.Info()
			if err != nil {
				return "", cerr.New(cerr.Io, "stat %s: %v", full, err)
			}
			content, err := os.ReadFile(full)
			if err != nil {
				return "", cerr.New(cerr.Io, "read %s: %v", full, err)
			}
			blob, err := p.ws.Store.PutBlob(content)
			if err != nil {
				return "", err
			}
			stats.FileCount++
			stats.TotalSize += uint64(len(content))
			manifest.Entries = append(manifest.Entries, model.ManifestEntry{Name: name, Kind: model.File{
				Blob: blob,
				Mode: uint32(info.Mode().Perm()) | 0o100000,
				Size: uint64(len(content)),
			}})
		}
	}
	return p.ws.Store.PutManifest(manifest)
}

// restoreTree materializes a manifest tree under dir, overwriting
// existing files.
func restoreTree(ws *workspace.Workspace, manifestID objectid.ID, dir string) error {
	m, err := ws.Store.GetManifest(manifestID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return cerr.New(cerr.Io, "create %s: %v", dir, err)
	}
	for _, e := range m.Entries {
		full := filepath.Join(dir, e.Name)
		switch v := e.Kind.(type) {
		case model.Dir:
			if err := restoreTree(ws, v.Manifest, full); err != nil {
				return err
			}
		case model.File:
			b, err := ws.Store.GetBlob(v.Blob)
			if err != nil {
				return err
			}
			if err := os.WriteFile(full, b, os.FileMode(v.Mode&0o777)); err != nil {
				return cerr.New(cerr.Io, "write %s: %v", full, err)
			}
		case model.FileChunks:
			recipe, err := ws.Store.GetRecipe(v.Recipe)
			if err != nil {
				return err
			}
			f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(v.Mode&0o777))
			if err != nil {
				return cerr.New(cerr.Io, "open %s: %v", full, err)
			}
			for _, chunk := range recipe.Chunks {
				b, err := ws.Store.GetBlob(chunk.Blob)
				if err != nil {
					f.Close()
					return err
				}
				if _, err := f.Write(b); err != nil {
					f.Close()
					return cerr.New(cerr.Io, "write %s: %v", full, err)
				}
			}
			if err := f.Close(); err != nil {
				return cerr.New(cerr.Io, "close %s: %v", full, err)
			}
		case model.Symlink:
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return cerr.New(cerr.Io, "replace %s: %v", full, err)
			}
			if err := os.Symlink(v.Target, full); err != nil {
				return cerr.New(cerr.Io, "symlink %s: %v", full, err)
			}
		case model.Superposition:
			return cerr.New(cerr.Unavailable, "cannot restore %s: unresolved superposition (run `converge resolve`)", full)
		}
	}
	return nil
}
