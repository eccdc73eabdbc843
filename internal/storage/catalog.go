// Package storage declares the data-lake catalog surface: namespaces,
// tables, table versions, streams, partitions, and deltas. It mirrors
// deltacat's storage/interface.py one-for-one — every operation is a
// pure declaration with no backing implementation, left for a concrete
// catalog (filesystem, object store, metastore) to satisfy.
package storage

import (
	"context"
	"errors"
)

// ErrNotImplemented is returned by every Catalog method until a concrete
// backend is wired in. The interface exists to fix the contract before
// any storage engine commits to it.
var ErrNotImplemented = errors.New("storage: not implemented")

// LocatorID identifies a named storage entity. Namespace is often empty
// for table-version-scoped locators that already carry a Namespace field.
type LocatorID struct {
	Namespace string
	Name      string
}

type Namespace struct {
	Locator  LocatorID
	Metadata map[string]any
}

type Table struct {
	Namespace string
	Name      string
	Metadata  map[string]any
}

type TableVersion struct {
	Namespace string
	Table     string
	Version   string
	Schema    map[string]any
	Metadata  map[string]any
}

type Stream struct {
	Namespace     string
	Table         string
	TableVersion  string
	ID            string
}

type Partition struct {
	Stream       Stream
	PartitionKey []string
	StagedPath   string
	State        string
}

type Delta struct {
	Partition Partition
	StreamPos int64
	Manifest  DeltaManifest
}

type DeltaManifest struct {
	Entries []DeltaManifestEntry
}

type DeltaManifestEntry struct {
	URI         string
	ContentType string
	SizeBytes   int64
}

type StagingArea struct {
	Path string
}

// Catalog is the full declarative surface a data-lake backend implements.
// Every method returns ErrNotImplemented until a concrete adapter (e.g.
// an object-store or metastore-backed implementation) replaces it.
type Catalog interface {
	ListNamespaces(ctx context.Context) ([]Namespace, error)
	ListTables(ctx context.Context, namespace string) ([]Table, error)
	ListTableVersions(ctx context.Context, namespace, table string) ([]TableVersion, error)
	ListPartitions(ctx context.Context, namespace, table, tableVersion string) ([]Partition, error)
	ListPartitionsPendingCommit(ctx context.Context, namespace, table, tableVersion string) ([]Partition, error)
	ListDeltas(ctx context.Context, namespace, table, tableVersion string, partitionKey []string, firstStreamPos, lastStreamPos int64) ([]Delta, error)
	ListDeltasPendingCommit(ctx context.Context, partition Partition) ([]Delta, error)

	GetDelta(ctx context.Context, namespace, table, tableVersion string, streamPos int64, partitionKey []string) (Delta, error)
	GetLatestDelta(ctx context.Context, namespace, table, tableVersion string, partitionKey []string) (Delta, error)
	DownloadDelta(ctx context.Context, delta Delta) ([][]byte, error)
	DownloadDeltaManifestEntry(ctx context.Context, entry DeltaManifestEntry) ([]byte, error)
	GetDeltaManifest(ctx context.Context, delta Delta) (DeltaManifest, error)

	CreateNamespace(ctx context.Context, namespace string, metadata map[string]any) (Namespace, error)
	UpdateNamespace(ctx context.Context, namespace string, metadata map[string]any) error
	CreateTableVersion(ctx context.Context, namespace, table string, schema map[string]any, metadata map[string]any) (TableVersion, error)
	UpdateTable(ctx context.Context, namespace, table string, metadata map[string]any) error
	UpdateTableVersion(ctx context.Context, namespace, table, tableVersion string, metadata map[string]any) error

	StageStream(ctx context.Context, namespace, table, tableVersion string) (Stream, error)
	CommitStream(ctx context.Context, stream Stream) (Stream, error)
	DeleteStream(ctx context.Context, stream Stream) error

	GetPartitionStagingArea(ctx context.Context, stream Stream, partitionKey []string) (StagingArea, error)
	StagePartition(ctx context.Context, stream Stream, partitionKey []string) (Partition, error)
	CommitPartition(ctx context.Context, partition Partition) (Partition, error)
	DeletePartition(ctx context.Context, partition Partition) error

	GetDeltaStagingArea(ctx context.Context, partition Partition) (StagingArea, error)
	StageDelta(ctx context.Context, partition Partition, manifest DeltaManifest) (Delta, error)
	CommitDelta(ctx context.Context, delta Delta) (Delta, error)

	GetNamespace(ctx context.Context, namespace string) (Namespace, error)
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	GetTable(ctx context.Context, namespace, table string) (Table, error)
	TableExists(ctx context.Context, namespace, table string) (bool, error)
	GetTableVersion(ctx context.Context, namespace, table, tableVersion string) (TableVersion, error)
	GetLatestTableVersion(ctx context.Context, namespace, table string) (TableVersion, error)
	GetLatestActiveTableVersion(ctx context.Context, namespace, table string) (TableVersion, error)
	GetTableVersionColumnNames(ctx context.Context, namespace, table, tableVersion string) ([]string, error)
	GetTableVersionSchema(ctx context.Context, namespace, table, tableVersion string) (map[string]any, error)
	TableVersionExists(ctx context.Context, namespace, table, tableVersion string) (bool, error)
}

// unimplementedCatalog is the zero-effort Catalog every method of which
// fails with ErrNotImplemented, useful as an embeddable base for a
// partial backend that only implements a handful of operations.
type unimplementedCatalog struct{}

// NewUnimplementedCatalog returns a Catalog stub. Embed it in a concrete
// type and override only the methods that type actually backs.
func NewUnimplementedCatalog() Catalog { return unimplementedCatalog{} }

func (unimplementedCatalog) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) ListTables(ctx context.Context, namespace string) ([]Table, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) ListTableVersions(ctx context.Context, namespace, table string) ([]TableVersion, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) ListPartitions(ctx context.Context, namespace, table, tableVersion string) ([]Partition, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) ListPartitionsPendingCommit(ctx context.Context, namespace, table, tableVersion string) ([]Partition, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) ListDeltas(ctx context.Context, namespace, table, tableVersion string, partitionKey []string, firstStreamPos, lastStreamPos int64) ([]Delta, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) ListDeltasPendingCommit(ctx context.Context, partition Partition) ([]Delta, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) GetDelta(ctx context.Context, namespace, table, tableVersion string, streamPos int64, partitionKey []string) (Delta, error) {
	return Delta{}, ErrNotImplemented
}
func (unimplementedCatalog) GetLatestDelta(ctx context.Context, namespace, table, tableVersion string, partitionKey []string) (Delta, error) {
	return Delta{}, ErrNotImplemented
}
func (unimplementedCatalog) DownloadDelta(ctx context.Context, delta Delta) ([][]byte, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) DownloadDeltaManifestEntry(ctx context.Context, entry DeltaManifestEntry) ([]byte, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) GetDeltaManifest(ctx context.Context, delta Delta) (DeltaManifest, error) {
	return DeltaManifest{}, ErrNotImplemented
}
func (unimplementedCatalog) CreateNamespace(ctx context.Context, namespace string, metadata map[string]any) (Namespace, error) {
	return Namespace{}, ErrNotImplemented
}
func (unimplementedCatalog) UpdateNamespace(ctx context.Context, namespace string, metadata map[string]any) error {
	return ErrNotImplemented
}
func (unimplementedCatalog) CreateTableVersion(ctx context.Context, namespace, table string, schema map[string]any, metadata map[string]any) (TableVersion, error) {
	return TableVersion{}, ErrNotImplemented
}
func (unimplementedCatalog) UpdateTable(ctx context.Context, namespace, table string, metadata map[string]any) error {
	return ErrNotImplemented
}
func (unimplementedCatalog) UpdateTableVersion(ctx context.Context, namespace, table, tableVersion string, metadata map[string]any) error {
	return ErrNotImplemented
}
func (unimplementedCatalog) StageStream(ctx context.Context, namespace, table, tableVersion string) (Stream, error) {
	return Stream{}, ErrNotImplemented
}
func (unimplementedCatalog) CommitStream(ctx context.Context, stream Stream) (Stream, error) {
	return Stream{}, ErrNotImplemented
}
func (unimplementedCatalog) DeleteStream(ctx context.Context, stream Stream) error {
	return ErrNotImplemented
}
func (unimplementedCatalog) GetPartitionStagingArea(ctx context.Context, stream Stream, partitionKey []string) (StagingArea, error) {
	return StagingArea{}, ErrNotImplemented
}
func (unimplementedCatalog) StagePartition(ctx context.Context, stream Stream, partitionKey []string) (Partition, error) {
	return Partition{}, ErrNotImplemented
}
func (unimplementedCatalog) CommitPartition(ctx context.Context, partition Partition) (Partition, error) {
	return Partition{}, ErrNotImplemented
}
func (unimplementedCatalog) DeletePartition(ctx context.Context, partition Partition) error {
	return ErrNotImplemented
}
func (unimplementedCatalog) GetDeltaStagingArea(ctx context.Context, partition Partition) (StagingArea, error) {
	return StagingArea{}, ErrNotImplemented
}
func (unimplementedCatalog) StageDelta(ctx context.Context, partition Partition, manifest DeltaManifest) (Delta, error) {
	return Delta{}, ErrNotImplemented
}
func (unimplementedCatalog) CommitDelta(ctx context.Context, delta Delta) (Delta, error) {
	return Delta{}, ErrNotImplemented
}
func (unimplementedCatalog) GetNamespace(ctx context.Context, namespace string) (Namespace, error) {
	return Namespace{}, ErrNotImplemented
}
func (unimplementedCatalog) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	return false, ErrNotImplemented
}
func (unimplementedCatalog) GetTable(ctx context.Context, namespace, table string) (Table, error) {
	return Table{}, ErrNotImplemented
}
func (unimplementedCatalog) TableExists(ctx context.Context, namespace, table string) (bool, error) {
	return false, ErrNotImplemented
}
func (unimplementedCatalog) GetTableVersion(ctx context.Context, namespace, table, tableVersion string) (TableVersion, error) {
	return TableVersion{}, ErrNotImplemented
}
func (unimplementedCatalog) GetLatestTableVersion(ctx context.Context, namespace, table string) (TableVersion, error) {
	return TableVersion{}, ErrNotImplemented
}
func (unimplementedCatalog) GetLatestActiveTableVersion(ctx context.Context, namespace, table string) (TableVersion, error) {
	return TableVersion{}, ErrNotImplemented
}
func (unimplementedCatalog) GetTableVersionColumnNames(ctx context.Context, namespace, table, tableVersion string) ([]string, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) GetTableVersionSchema(ctx context.Context, namespace, table, tableVersion string) (map[string]any, error) {
	return nil, ErrNotImplemented
}
func (unimplementedCatalog) TableVersionExists(ctx context.Context, namespace, table, tableVersion string) (bool, error) {
	return false, ErrNotImplemented
}
