package model

import "github.com/converge-vcs/converge/objectid"

// GateDef is one node of a repo's gate graph.
type GateDef struct {
	ID                            string   `json:"id"`
	Name                          string   `json:"name"`
	Upstream                      []string `json:"upstream"`
	AllowReleases                 bool     `json:"allow_releases"`
	AllowSuperpositions           bool     `json:"allow_superpositions"`
	AllowMetadataOnlyPublications bool     `json:"allow_metadata_only_publications"`
	RequiredApprovals             uint32   `json:"required_approvals"`
}

// GateGraph is the repo's sorted gate list, interpreted as a DAG via each
// gate's Upstream references.
type GateGraph struct {
	Version uint32    `json:"version"`
	Gates   []GateDef `json:"gates"`
}

// Publication is a snap admitted into a (scope, gate) pair by a
// publisher.
type Publication struct {
	ID              string      `json:"id"`
	SnapID          objectid.ID `json:"snap_id"`
	Scope           string      `json:"scope"`
	Gate            string      `json:"gate"`
	Publisher       string      `json:"publisher"`
	PublisherUserID string      `json:"publisher_user_id,omitempty"`
	CreatedAt       string      `json:"created_at"`
	MetadataOnly    bool        `json:"metadata_only"`
	Resolution      *Resolution `json:"resolution,omitempty"`
}

// Bundle is a merge of N publications' root manifests.
type Bundle struct {
	ID                string      `json:"id"`
	Scope             string      `json:"scope"`
	Gate              string      `json:"gate"`
	InputPublications []string    `json:"input_publications"`
	RootManifest      objectid.ID `json:"root_manifest"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         string      `json:"created_at"`
	Approvals         []string    `json:"approvals"`
	Promotable        bool        `json:"promotable"`
	Reasons           []string    `json:"reasons"`
}

// Promotion records a bundle's movement along one gate-graph edge.
type Promotion struct {
	ID       string `json:"id"`
	BundleID string `json:"bundle_id"`
	FromGate string `json:"from_gate"`
	ToGate   string `json:"to_gate"`
	User     string `json:"user"`
	TS       string `json:"ts"`
}

// Release records a bundle issued to a channel.
type Release struct {
	ID       string `json:"id"`
	Channel  string `json:"channel"`
	BundleID string `json:"bundle_id"`
	TS       string `json:"ts"`
	User     string `json:"user"`
	Notes    string `json:"notes,omitempty"`
}

// LaneHeadRecord is the latest snap published by one user into one lane.
type LaneHeadRecord struct {
	SnapID    objectid.ID `json:"snap_id"`
	UpdatedAt string      `json:"updated_at"`
	ClientID  string      `json:"client_id,omitempty"`
}

// LaneHeadHistoryKeepLast bounds the per-user retained history.
const LaneHeadHistoryKeepLast = 20

// Lane is a shared scratch namespace: each member publishes a rolling head
// snap, with bounded history.
type Lane struct {
	ID            string                      `json:"id"`
	Members       []string                    `json:"members"`
	MemberUserIDs []string                    `json:"member_user_ids,omitempty"`
	Heads         map[string]LaneHeadRecord   `json:"heads"`
	HeadHistory   map[string][]LaneHeadRecord `json:"head_history"`
}

// Repo owns one gate graph, a set of scopes, uploaded snap ids, and the
// append-only publication/bundle/promotion/release lists.
type Repo struct {
	ID               string   `json:"id"`
	Owner            string   `json:"owner"`
	OwnerUserID      string   `json:"owner_user_id,omitempty"`
	Readers          []string `json:"readers"`
	ReaderUserIDs    []string `json:"reader_user_ids,omitempty"`
	Publishers       []string `json:"publishers"`
	PublisherUserIDs []string `json:"publisher_user_ids,omitempty"`

	Lanes     map[string]*Lane `json:"lanes"`
	GateGraph GateGraph        `json:"gate_graph"`
	Scopes    []string         `json:"scopes"`

	Snaps []objectid.ID `json:"snaps"`

	Publications []Publication `json:"publications"`
	Bundles      []Bundle      `json:"bundles"`

	PinnedBundles []string `json:"pinned_bundles"`

	Promotions     []Promotion                  `json:"promotions"`
	PromotionState map[string]map[string]string `json:"promotion_state"` // scope -> gate -> bundle id

	Releases []Release `json:"releases"`
}
