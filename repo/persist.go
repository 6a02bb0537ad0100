package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/google/uuid"
)

// persist writes r's state to <dataDir>/<r.ID>/repo.json via the
// temp-file-then-rename pattern.
func persist(dataDir string, r *model.Repo) error {
	dir := filepath.Join(dataDir, r.ID)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return cerr.New(cerr.Io, "create repo dir: %v", err)
	}

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return cerr.New(cerr.Io, "encode repo.json: %v", err)
	}

	target := filepath.Join(dir, "repo.json")
	tmp := fmt.Sprintf("%s.%s.tmp", target, uuid.NewString())
	if err := os.WriteFile(tmp, b, 0o666); err != nil {
		return cerr.New(cerr.Io, "write repo.json temp file: %v", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return cerr.New(cerr.Io, "rename repo.json into place: %v", err)
	}
	return nil
}

func writeIfAbsent(path string, b []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o666)
}

// writeBundleFile persists a bundle's own archival copy at
// bundles/<id>.json, independent of its
// entry in repo.json's Bundles slice — the two fall out of sync once GC
// metadata-prune removes old bundles from the in-memory list while their
// files remain until the next sweep.
func writeBundleFile(dataDir, repoID string, bundle model.Bundle) error {
	b, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return cerr.New(cerr.Io, "encode bundle: %v", err)
	}
	path := filepath.Join(dataDir, repoID, "bundles", bundle.ID+".json")
	if err := writeIfAbsent(path, b); err != nil {
		return cerr.New(cerr.Io, "write bundle file: %v", err)
	}
	return nil
}

func readBundleFile(dataDir, repoID, bundleID string) (model.Bundle, error) {
	path := filepath.Join(dataDir, repoID, "bundles", bundleID+".json")
	b, err := readFileIfExists(path)
	if err != nil {
		return model.Bundle{}, cerr.New(cerr.Io, "read bundle file: %v", err)
	}
	if b == nil {
		return model.Bundle{}, cerr.New(cerr.NotFound, "bundle %s not found", bundleID)
	}
	var bundle model.Bundle
	if err := json.Unmarshal(b, &bundle); err != nil {
		return model.Bundle{}, cerr.New(cerr.IntegrityError, "decode bundle %s: %v", bundleID, err)
	}
	return bundle, nil
}

// writeReleaseFile persists a release's own archival copy at
// releases/<id>.json.
func writeReleaseFile(dataDir, repoID string, release model.Release) error {
	b, err := json.MarshalIndent(release, "", "  ")
	if err != nil {
		return cerr.New(cerr.Io, "encode release: %v", err)
	}
	path := filepath.Join(dataDir, repoID, "releases", release.ID+".json")
	if err := writeIfAbsent(path, b); err != nil {
		return cerr.New(cerr.Io, "write release file: %v", err)
	}
	return nil
}

// ListBundleFileIDs lists every bundle id with an archival file on disk
// under <dataDir>/<repoID>/bundles, for GC's metadata-prune sweep.
func ListBundleFileIDs(dataDir, repoID string) ([]string, error) {
	return listJSONIDs(filepath.Join(dataDir, repoID, "bundles"))
}

// DeleteBundleFile removes a bundle's archival file. Used only by GC's
// metadata-prune sweep.
func DeleteBundleFile(dataDir, repoID, bundleID string) error {
	return deleteIfPresent(filepath.Join(dataDir, repoID, "bundles", bundleID+".json"))
}

// ListReleaseFileIDs lists every release id with an archival file on disk
// under <dataDir>/<repoID>/releases, for GC's metadata-prune sweep.
func ListReleaseFileIDs(dataDir, repoID string) ([]string, error) {
	return listJSONIDs(filepath.Join(dataDir, repoID, "releases"))
}

// DeleteReleaseFile removes a release's archival file. Used only by GC's
// metadata-prune sweep.
func DeleteReleaseFile(dataDir, repoID, releaseID string) error {
	return deleteIfPresent(filepath.Join(dataDir, repoID, "releases", releaseID+".json"))
}

func listJSONIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".json"))
	}
	return out, nil
}

func deleteIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func removeAll(dir string) error {
	return os.RemoveAll(dir)
}

func readFileIfExists(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

func listDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
