// Package metrics registers the server's prometheus instrumentation under
// a single "converge" namespace.
package metrics

import "github.com/docker/go-metrics"

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "converge"
)

var (
	// StorageNamespace is the prometheus namespace of object store operations
	StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)

	// RepoNamespace is the prometheus namespace of repo state machine operations
	RepoNamespace = metrics.NewNamespace(NamespacePrefix, "repo", nil)

	// GCNamespace is the prometheus namespace of garbage collector passes
	GCNamespace = metrics.NewNamespace(NamespacePrefix, "gc", nil)
)

var (
	// ObjectReads counts object store reads by kind.
	ObjectReads = StorageNamespace.NewLabeledCounter("object_reads", "The number of object store reads", "kind")

	// ObjectWrites counts object store writes by kind.
	ObjectWrites = StorageNamespace.NewLabeledCounter("object_writes", "The number of object store writes", "kind")

	// Publications counts created publications.
	Publications = RepoNamespace.NewCounter("publications", "The number of publications created")

	// Bundles counts created bundles.
	Bundles = RepoNamespace.NewCounter("bundles", "The number of bundles created")

	// Promotions counts recorded promotions.
	Promotions = RepoNamespace.NewCounter("promotions", "The number of promotions recorded")

	// Releases counts recorded releases.
	Releases = RepoNamespace.NewCounter("releases", "The number of releases recorded")

	// SweptObjects counts objects deleted by GC sweeps, by kind.
	SweptObjects = GCNamespace.NewLabeledCounter("swept_objects", "The number of objects deleted by GC sweeps", "kind")
)

func init() {
	metrics.Register(StorageNamespace)
	metrics.Register(RepoNamespace)
	metrics.Register(GCNamespace)
}
