package repo

import (
	"github.com/converge-vcs/converge/model"
)

// defaultRepo builds a brand-new repo's state: a single "default" lane
// with owner as its only member, a single "dev-intake" gate that allows
// releases but not superpositions or metadata-only publications, and a
// single "main" scope. A fresh repo is immediately usable without any
// gate-graph setup.
func defaultRepo(repoID, owner, ownerUserID string) *model.Repo {
	r := &model.Repo{
		ID:          repoID,
		Owner:       owner,
		OwnerUserID: ownerUserID,
		Readers:     []string{owner},
		Publishers:  []string{owner},
		Lanes: map[string]*model.Lane{
			"default": {
				ID:          "default",
				Members:     []string{owner},
				Heads:       map[string]model.LaneHeadRecord{},
				HeadHistory: map[string][]model.LaneHeadRecord{},
			},
		},
		GateGraph: model.GateGraph{
			Version: 1,
			Gates: []model.GateDef{{
				ID:                            "dev-intake",
				Name:                          "Dev Intake",
				Upstream:                      []string{},
				AllowReleases:                 true,
				AllowSuperpositions:           false,
				AllowMetadataOnlyPublications: false,
				RequiredApprovals:             0,
			}},
		},
		Scopes:         []string{"main"},
		PromotionState: map[string]map[string]string{},
	}
	if ownerUserID != "" {
		r.ReaderUserIDs = []string{ownerUserID}
		r.PublisherUserIDs = []string{ownerUserID}
	}
	return r
}
