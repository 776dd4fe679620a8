// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

// Package record defines the copy request record that follows a single object
// through the migration pipeline, together with its status machine and
// validation rules.
package record

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors
var (
	ErrInvalidRecord     = errors.New("invalid copy request")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the processing status of a copy request.
type Status string

const (
	StatusInitiating    Status = "INITIATING"
	StatusRestoring     Status = "RESTORING"
	StatusQueuedForCopy Status = "QUEUED_FOR_COPY"
	StatusCopyCompleted Status = "COPY_COMPLETED"
	StatusError         Status = "ERROR"
)

// DefaultTargetStorageClass is applied when the manifest row leaves the
// target storage class empty.
const DefaultTargetStorageClass = "GLACIER"

// transitions lists the legal next states for each non-terminal status.
var transitions = map[Status][]Status{
	StatusInitiating:    {StatusRestoring, StatusQueuedForCopy, StatusError},
	StatusRestoring:     {StatusQueuedForCopy, StatusError},
	StatusQueuedForCopy: {StatusCopyCompleted, StatusError},
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCopyCompleted || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiating, StatusRestoring, StatusQueuedForCopy, StatusCopyCompleted, StatusError:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown processing status %q", s)
	}
	return st, nil
}

// CopyRequest is the unit of work: one object to be copied from a source
// location to a target location. It is identified by SourceBucket and
// SourceObjectPath.
type CopyRequest struct {
	ManifestFile       string    `json:"manifest_file" dynamodbav:"manifest_file"`
	SourceBucket       string    `json:"source_bucket" dynamodbav:"source_bucket"`
	SourceObjectPath   string    `json:"source_object_path" dynamodbav:"source_object_path"`
	SourceTags         string    `json:"source_tags,omitempty" dynamodbav:"source_tags,omitempty"`
	Size               int64     `json:"size" dynamodbav:"size"`
	StorageClass       string    `json:"storage_class" dynamodbav:"storage_class"`
	TargetBucket       string    `json:"target_bucket" dynamodbav:"target_bucket"`
	TargetObjectPath   string    `json:"target_object_path" dynamodbav:"target_object_path"`
	TargetStorageClass string    `json:"target_storage_class" dynamodbav:"target_storage_class"`
	TargetTags         string    `json:"target_tags,omitempty" dynamodbav:"target_tags,omitempty"`
	ProcessingStatus   Status    `json:"processing_status" dynamodbav:"processing_status"`
	ErrorMessage       string    `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	CreationTime       time.Time `json:"creation_time" dynamodbav:"creation_time"`
	LastUpdateTime     time.Time `json:"last_update_time" dynamodbav:"last_update_time"`
}

// Params carries the fields a copy request is built from.
type Params struct {
	ManifestFile       string
	SourceBucket       string
	SourceObjectPath   string
	SourceTags         string
	Size               int64
	StorageClass       string
	TargetBucket       string
	TargetObjectPath   string
	TargetStorageClass string
	TargetTags         string
}

// New builds a copy request in INITIATING status with defaults applied.
func New(p Params) *CopyRequest {
	return build(p, StatusInitiating, time.Now().UTC())
}

// NewQueued builds a copy request that re-enters the pipeline directly in
// QUEUED_FOR_COPY, for example when it is rebuilt from a dispatched message.
func NewQueued(p Params) *CopyRequest {
	return build(p, StatusQueuedForCopy, time.Now().UTC())
}

// Requeue rebuilds prev as a fresh QUEUED_FOR_COPY record carrying every
// field forward except the size, which is replaced by size. CreationTime of
// prev is kept.
func Requeue(prev *CopyRequest, size int64) *CopyRequest {
	p := prev.Params()
	p.Size = size
	rec := build(p, StatusQueuedForCopy, time.Now().UTC())
	if !prev.CreationTime.IsZero() {
		rec.CreationTime = prev.CreationTime
	}
	return rec
}

func build(p Params, status Status, now time.Time) *CopyRequest {
	if p.TargetObjectPath == "" {
		p.TargetObjectPath = p.SourceObjectPath
	}
	if p.TargetStorageClass == "" {
		p.TargetStorageClass = DefaultTargetStorageClass
	}
	return &CopyRequest{
		ManifestFile:       p.ManifestFile,
		SourceBucket:       p.SourceBucket,
		SourceObjectPath:   p.SourceObjectPath,
		SourceTags:         p.SourceTags,
		Size:               p.Size,
		StorageClass:       p.StorageClass,
		TargetBucket:       p.TargetBucket,
		TargetObjectPath:   p.TargetObjectPath,
		TargetStorageClass: p.TargetStorageClass,
		TargetTags:         p.TargetTags,
		ProcessingStatus:   status,
		CreationTime:       now,
		LastUpdateTime:     now,
	}
}

// Params returns the construction fields of r.
func (r *CopyRequest) Params() Params {
	return Params{
		ManifestFile:       r.ManifestFile,
		SourceBucket:       r.SourceBucket,
		SourceObjectPath:   r.SourceObjectPath,
		SourceTags:         r.SourceTags,
		Size:               r.Size,
		StorageClass:       r.StorageClass,
		TargetBucket:       r.TargetBucket,
		TargetObjectPath:   r.TargetObjectPath,
		TargetStorageClass: r.TargetStorageClass,
		TargetTags:         r.TargetTags,
	}
}

// Transition moves r to status to, refreshing LastUpdateTime.
func (r *CopyRequest) Transition(to Status) error {
	for _, next := range transitions[r.ProcessingStatus] {
		if next == to {
			r.ProcessingStatus = to
			r.LastUpdateTime = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.ProcessingStatus, to)
}

// Fail moves r to ERROR with message. A record that is already terminal keeps
// its status but the message is still recorded.
func (r *CopyRequest) Fail(message string) {
	r.ErrorMessage = message
	if !r.ProcessingStatus.IsTerminal() {
		r.ProcessingStatus = StatusError
	}
	r.LastUpdateTime = time.Now().UTC()
}

// Key returns the identity of r in "bucket/path" form, used in logs.
func (r *CopyRequest) Key() string {
	return r.SourceBucket + "/" + r.SourceObjectPath
}

// Clone returns a copy of r.
func (r *CopyRequest) Clone() *CopyRequest {
	c := *r
	return &c
}
