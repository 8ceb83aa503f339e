// Package model defines the data types that flow through the ingestion
// pipeline: the message published by the watcher, the warehouse-resident
// artifact produced by the store, and the catalog document inserted for it.
package model

import "time"

// FileEvent is the broker message body: an absolute source path, UTF-8,
// with no envelope or schema version. It travels over the wire as raw
// bytes — see internal/broker.
type FileEvent string

// Artifact describes a file once it has been accepted into the warehouse.
type Artifact struct {
	Hash       string // lowercase hex digest
	Suffix     string // original extension, including leading dot
	Size       int64  // bytes
	Path       string // warehouse path, derived from Hash and Suffix
	SourcePath string // transient: where the file came from in the barn
}

// Collection names a catalog collection. Only "images" and "videos" exist.
type Collection string

const (
	CollectionImages Collection = "images"
	CollectionVideos Collection = "videos"
)

// Record is one catalog document describing an Artifact.
type Record struct {
	BaseName   string    `bson:"base_name"`
	Path       string    `bson:"path"`
	Hash       string    `bson:"hash"`
	FileSize   int64     `bson:"file_size"`
	IndexTime  time.Time `bson:"index_time"`
	RawTag     any       `bson:"raw_tag"`
	ManualTags []string  `bson:"manual_tags"`
	Authors    []string  `bson:"authors"`
}
