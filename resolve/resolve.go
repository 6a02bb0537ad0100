// Package resolve implements the resolution engine: validating a client's
// path-to-variant decision map against a manifest tree's superposition
// paths, then applying it to produce a resolved tree. Paths are
// slash-joined from the root ("a/b.txt"), matching how the client derives
// them while walking the same tree it downloaded.
package resolve

import (
	"path"
	"sort"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
)

// Report is the result of Validate: ok is true only if every list is
// empty.
type Report struct {
	OK          bool
	Missing     []string
	Extraneous  []string
	OutOfRange  []string
	InvalidKeys []string
}

// superpositionPaths enumerates every path under root whose entry is a
// Superposition, in sorted order.
func superpositionPaths(s *store.Store, root objectid.ID) ([]string, map[string][]model.SuperpositionVariant, error) {
	paths := []string{}
	variantsByPath := map[string][]model.SuperpositionVariant{}

	var walk func(manifestID objectid.ID, prefix string) error
	walk = func(manifestID objectid.ID, prefix string) error {
		m, err := s.GetManifest(manifestID)
		if err != nil {
			return err
		}
		for _, e := range m.Entries {
			p := path.Join(prefix, e.Name)
			switch v := e.Kind.(type) {
			case model.Superposition:
				paths = append(paths, p)
				variantsByPath[p] = v.Variants
			case model.Dir:
				if err := walk(v.Manifest, p); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)
	return paths, variantsByPath, nil
}

// Paths enumerates every superposition path under root along with its
// variants, for callers presenting conflicts to a user.
func Paths(s *store.Store, root objectid.ID) ([]string, map[string][]model.SuperpositionVariant, error) {
	return superpositionPaths(s, root)
}

// Validate reports whether decisions exactly cover root's superposition
// paths with in-range/valid-key choices.
func Validate(s *store.Store, root objectid.ID, decisions map[string]model.ResolutionDecision) (Report, error) {
	paths, variantsByPath, err := superpositionPaths(s, root)
	if err != nil {
		return Report{}, err
	}

	inTree := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		inTree[p] = struct{}{}
	}

	var missing, extraneous, outOfRange, invalidKeys []string

	for _, p := range paths {
		if _, ok := decisions[p]; !ok {
			missing = append(missing, p)
		}
	}
	for p := range decisions {
		if _, ok := inTree[p]; !ok {
			extraneous = append(extraneous, p)
		}
	}
	for p, d := range decisions {
		variants, ok := variantsByPath[p]
		if !ok {
			continue // already reported as extraneous
		}
		switch d.Kind {
		case model.DecisionIndex:
			if int(d.Index) >= len(variants) {
				outOfRange = append(outOfRange, p)
			}
		case model.DecisionKey:
			found := false
			for _, v := range variants {
				if v.Key().Equal(d.Key) {
					found = true
					break
				}
			}
			if !found {
				invalidKeys = append(invalidKeys, p)
			}
		}
	}

	sort.Strings(missing)
	sort.Strings(extraneous)
	sort.Strings(outOfRange)
	sort.Strings(invalidKeys)

	return Report{
		OK:          len(missing) == 0 && len(extraneous) == 0 && len(outOfRange) == 0 && len(invalidKeys) == 0,
		Missing:     missing,
		Extraneous:  extraneous,
		OutOfRange:  outOfRange,
		InvalidKeys: invalidKeys,
	}, nil
}

// Apply validates decisions against root, then rewrites the manifest tree
// replacing each superposition entry with its chosen variant, returning
// the resolved root manifest id.
func Apply(s *store.Store, root objectid.ID, decisions map[string]model.ResolutionDecision) (objectid.ID, error) {
	report, err := Validate(s, root, decisions)
	if err != nil {
		return "", err
	}
	if !report.OK {
		return "", cerr.New(cerr.ResolutionInvalid, "resolution does not match tree").WithDetail(report)
	}

	memo := map[objectid.ID]objectid.ID{}
	var rewrite func(manifestID objectid.ID, prefix string) (objectid.ID, error)
	rewrite = func(manifestID objectid.ID, prefix string) (objectid.ID, error) {
		if resolved, ok := memo[manifestID]; ok {
			return resolved, nil
		}

		m, err := s.GetManifest(manifestID)
		if err != nil {
			return "", err
		}

		entries := make([]model.ManifestEntry, 0, len(m.Entries))
		for _, e := range m.Entries {
			p := path.Join(prefix, e.Name)

			switch v := e.Kind.(type) {
			case model.Superposition:
				resolvedEntry, drop, err := resolveEntry(s, e.Name, p, v, decisions[p], rewrite)
				if err != nil {
					return "", err
				}
				if !drop {
					entries = append(entries, resolvedEntry)
				}
			case model.Dir:
				resolvedSub, err := rewrite(v.Manifest, p)
				if err != nil {
					return "", err
				}
				entries = append(entries, model.ManifestEntry{Name: e.Name, Kind: model.Dir{Manifest: resolvedSub}})
			default:
				entries = append(entries, e)
			}
		}

		id, err := s.PutManifest(model.Manifest{Version: m.Version, Entries: entries})
		if err != nil {
			return "", err
		}
		memo[manifestID] = id
		return id, nil
	}

	return rewrite(root, "")
}

func resolveEntry(
	s *store.Store,
	name, fullPath string,
	sp model.Superposition,
	decision model.ResolutionDecision,
	rewriteDir func(objectid.ID, string) (objectid.ID, error),
) (model.ManifestEntry, bool, error) {
	var chosen model.SuperpositionVariant
	switch decision.Kind {
	case model.DecisionIndex:
		chosen = sp.Variants[decision.Index]
	case model.DecisionKey:
		for _, v := range sp.Variants {
			if v.Key().Equal(decision.Key) {
				chosen = v
				break
			}
		}
	}

	switch k := chosen.Kind.(type) {
	case model.Tombstone:
		return model.ManifestEntry{}, true, nil
	case model.Dir:
		resolvedSub, err := rewriteDir(k.Manifest, fullPath)
		if err != nil {
			return model.ManifestEntry{}, false, err
		}
		return model.ManifestEntry{Name: name, Kind: model.Dir{Manifest: resolvedSub}}, false, nil
	default:
		return model.ManifestEntry{Name: name, Kind: chosen.Kind}, false, nil
	}
}

// UpgradeLegacyDecisions rewrites every Index decision in decisions to the
// equivalent Key decision using root's current variant lists, leaving Key
// decisions untouched.
func UpgradeLegacyDecisions(s *store.Store, root objectid.ID, decisions map[string]model.ResolutionDecision) (map[string]model.ResolutionDecision, error) {
	_, variantsByPath, err := superpositionPaths(s, root)
	if err != nil {
		return nil, err
	}

	upgraded := make(map[string]model.ResolutionDecision, len(decisions))
	for p, d := range decisions {
		if d.Kind != model.DecisionIndex {
			upgraded[p] = d
			continue
		}
		variants, ok := variantsByPath[p]
		if !ok || int(d.Index) >= len(variants) {
			upgraded[p] = d
			continue
		}
		upgraded[p] = model.KeyDecision(variants[d.Index].Key())
	}
	return upgraded, nil
}
