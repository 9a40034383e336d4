package models

import (
	"time"
)

// KnowledgeSet is a named collection of files owned by a single caller identity.
type KnowledgeSet struct {
	OwnerID        string    `db:"owner_id" json:"-"`
	KnowledgeSetID string    `db:"knowledge_set_id" json:"knowledge_set_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// FileMetadata is everything recorded about one version of an uploaded document.
//
// Filename:              logical name shared by every version of the document.
// ContentHash:           hex SHA-256 of the raw bytes.
// Version:               1-based, increments by one along the PreviousVersionFileID chain.
// PreviousVersionFileID: file this version superseded (nil for version 1).
// IsLatestVersion:       at most one record per filename carries true.
// Extra:                 free-form metadata (sizes, extension, storage url, ...).
type FileMetadata struct {
	Filename              string         `json:"filename"`
	Title                 string         `json:"title,omitempty"`
	ExtractedText         string         `json:"extracted_text,omitempty"`
	ContentHash           string         `json:"content_hash"`
	Version               int            `json:"version"`
	PreviousVersionFileID *string        `json:"previous_version_file_id"`
	IsLatestVersion       bool           `json:"is_latest_version"`
	Extra                 map[string]any `json:"extra,omitempty"`
}

// FileRecord is one stored version of one logical document.
type FileRecord struct {
	OwnerID        string       `json:"-"`
	KnowledgeSetID string       `json:"knowledge_set_id"`
	FileID         string       `json:"file_id"`
	Metadata       FileMetadata `json:"metadata"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ChunkEntry is one embedded segment of a file's extracted text.
type ChunkEntry struct {
	ChunkID   string         `json:"chunk_id"`
	FileID    string         `json:"file_id"`
	Embedding []float32      `json:"-"`
	Text      string         `json:"text"`
	Offset    int            `json:"offset"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// ChunkMetadata is the payload returned with a query match.
type ChunkMetadata struct {
	Text   string         `json:"text"`
	Offset int            `json:"offset"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// ChunkMatch is one ranked result of a similarity query. Score is 1 - cosine distance.
type ChunkMatch struct {
	FileID   string        `json:"file_id"`
	ChunkID  string        `json:"chunk_id"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// IngestOutcome names which branch an ingestion took.
type IngestOutcome string

const (
	OutcomeDuplicate  IngestOutcome = "duplicate"
	OutcomeNewVersion IngestOutcome = "new_version"
	OutcomeNewFile    IngestOutcome = "new_file"
)

// IngestResult is returned by every ingestion call.
type IngestResult struct {
	FileID         string        `json:"file_id"`
	Filename       string        `json:"filename"`
	ChunksCreated  int           `json:"chunks_created"`
	Message        string        `json:"message"`
	IsDuplicate    bool          `json:"is_duplicate"`
	ExistingFileID *string       `json:"existing_file_id"`
	Version        int           `json:"version"`
	Outcome        IngestOutcome `json:"outcome"`
}

// DeleteResult reports whether a delete removed anything.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	Detail  string `json:"detail"`
}
