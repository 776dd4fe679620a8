// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// MessageBody is the body of every copy dispatch message. All data travels in
// the message attributes.
const MessageBody = "Copy request for S3 object"

// Attribute names of a copy dispatch message.
const (
	AttrManifestFile       = "manifest_file"
	AttrSourceBucket       = "source_bucket"
	AttrSourceObjectPath   = "source_object_path"
	AttrSourceTags         = "source_tags"
	AttrSize               = "size"
	AttrStorageClass       = "storage_class"
	AttrTargetBucket       = "target_bucket"
	AttrTargetObjectPath   = "target_object_path"
	AttrTargetStorageClass = "target_storage_class"
	AttrTargetTags         = "target_tags"
)

// RequiredAttributes lists the attributes every copy dispatch message carries.
var RequiredAttributes = []string{
	AttrManifestFile,
	AttrSourceBucket,
	AttrSourceObjectPath,
	AttrSize,
	AttrStorageClass,
	AttrTargetBucket,
	AttrTargetObjectPath,
	AttrTargetStorageClass,
}

// IsNumberAttribute reports whether name is transported as a number.
func IsNumberAttribute(name string) bool {
	return name == AttrSize
}

// Common errors
var (
	ErrMissingAttributes  = errors.New("copy message is missing required attributes")
	ErrMalformedAttribute = errors.New("copy message has a malformed attribute")
	ErrMessageNotFound    = errors.New("message not found")
	ErrQueueClosed        = errors.New("queue is closed")
)

// AttributeError lists every problem found while parsing message attributes.
type AttributeError struct {
	Missing   []string
	Malformed []string
}

func (e *AttributeError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing attributes: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Malformed) > 0 {
		parts = append(parts, "malformed attributes: "+strings.Join(e.Malformed, ", "))
	}
	return strings.Join(parts, "; ")
}

func (e *AttributeError) Is(target error) bool {
	switch target {
	case ErrMissingAttributes:
		return len(e.Missing) > 0
	case ErrMalformedAttribute:
		return len(e.Malformed) > 0
	}
	return false
}

// Attributes is the typed schema of a copy dispatch message.
type Attributes struct {
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

// AttributesFromRecord extracts the message attributes of rec.
func AttributesFromRecord(rec *record.CopyRequest) Attributes {
	return Attributes{
		ManifestFile:       rec.ManifestFile,
		SourceBucket:       rec.SourceBucket,
		SourceObjectPath:   rec.SourceObjectPath,
		SourceTags:         rec.SourceTags,
		Size:               rec.Size,
		StorageClass:       rec.StorageClass,
		TargetBucket:       rec.TargetBucket,
		TargetObjectPath:   rec.TargetObjectPath,
		TargetStorageClass: rec.TargetStorageClass,
		TargetTags:         rec.TargetTags,
	}
}

// Map renders a as message attributes. Empty optional tags are omitted.
func (a Attributes) Map() map[string]string {
	m := map[string]string{
		AttrManifestFile:       a.ManifestFile,
		AttrSourceBucket:       a.SourceBucket,
		AttrSourceObjectPath:   a.SourceObjectPath,
		AttrSize:               strconv.FormatInt(a.Size, 10),
		AttrStorageClass:       a.StorageClass,
		AttrTargetBucket:       a.TargetBucket,
		AttrTargetObjectPath:   a.TargetObjectPath,
		AttrTargetStorageClass: a.TargetStorageClass,
	}
	if a.SourceTags != "" {
		m[AttrSourceTags] = a.SourceTags
	}
	if a.TargetTags != "" {
		m[AttrTargetTags] = a.TargetTags
	}
	return m
}

// ParseAttributes decodes message attributes. Every missing required and
// every malformed attribute is reported in a single *AttributeError. The
// returned Attributes holds whatever could be decoded, even on error.
func ParseAttributes(m map[string]string) (Attributes, error) {
	var a Attributes
	var aerr AttributeError

	for _, name := range RequiredAttributes {
		if _, ok := m[name]; !ok {
			aerr.Missing = append(aerr.Missing, name)
		}
	}

	a.ManifestFile = m[AttrManifestFile]
	a.SourceBucket = m[AttrSourceBucket]
	a.SourceObjectPath = m[AttrSourceObjectPath]
	a.SourceTags = m[AttrSourceTags]
	a.StorageClass = m[AttrStorageClass]
	a.TargetBucket = m[AttrTargetBucket]
	a.TargetObjectPath = m[AttrTargetObjectPath]
	a.TargetStorageClass = m[AttrTargetStorageClass]
	a.TargetTags = m[AttrTargetTags]

	if raw, ok := m[AttrSize]; ok {
		size, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			aerr.Malformed = append(aerr.Malformed, AttrSize)
		}
		a.Size = size
	}

	if len(aerr.Missing) > 0 || len(aerr.Malformed) > 0 {
		return a, &aerr
	}
	return a, nil
}

// Record rebuilds the copy request carried by a. It re-enters the pipeline in
// QUEUED_FOR_COPY.
func (a Attributes) Record() *record.CopyRequest {
	return record.NewQueued(record.Params{
		ManifestFile:       a.ManifestFile,
		SourceBucket:       a.SourceBucket,
		SourceObjectPath:   a.SourceObjectPath,
		SourceTags:         a.SourceTags,
		Size:               a.Size,
		StorageClass:       a.StorageClass,
		TargetBucket:       a.TargetBucket,
		TargetObjectPath:   a.TargetObjectPath,
		TargetStorageClass: a.TargetStorageClass,
		TargetTags:         a.TargetTags,
	})
}

// Delivery is one received message.
type Delivery struct {
	ID            string
	ReceiptHandle string
	Body          string
	Attributes    map[string]string
	ReceiveCount  int

	// sqsAttributes holds the attributes exactly as SQS delivered them,
	// data types and binary values included. Forward replays them as is.
	sqsAttributes map[string]types.MessageAttributeValue
}

func (d *Delivery) String() string {
	return fmt.Sprintf("message %s (receive %d)", d.ID, d.ReceiveCount)
}
