// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"regexp"
	"strings"
)

// StorageClasses is the fixed set of storage classes accepted for source and
// target objects, in display order.
var StorageClasses = []string{
	"STANDARD",
	"REDUCED_REDUNDANCY",
	"STANDARD_IA",
	"ONEZONE_IA",
	"INTELLIGENT_TIERING",
	"GLACIER",
	"DEEP_ARCHIVE",
	"OUTPOSTS",
}

var tagPattern = regexp.MustCompile(`^([^&= ]+)=([^&= ]+)(&([^&= ]+)=([^&= ]+))*$`)

var storageClassList = strings.Join(StorageClasses, ",")

// Validation reasons reported by Validate.
var (
	ReasonManifestEmpty            = "Manifest file is empty in copy request."
	ReasonSourceBucketEmpty        = "Source bucket value is empty in copy request."
	ReasonSourcePathEmpty          = "Source object path is empty in copy request."
	ReasonSourceTagsFormat         = `Source tags incorrectly formatted in copy request.  Must be in format "tag=value&tag2=value2`
	ReasonSizeNotPositive          = "Size must be greater than zero in copy request."
	ReasonStorageClassEmpty        = "Storage class is empty in copy request."
	ReasonStorageClassInvalid      = "Storage class does not have a valid value in copy request.  Must be one of: " + storageClassList
	ReasonTargetBucketEmpty        = "Target bucket value is empty in copy request."
	ReasonTargetPathEmpty          = "Target object path is empty in copy request."
	ReasonTargetStorageClassEmpty  = "Target storage class is empty in copy request."
	ReasonTargetStorageClassFormat = "Target storage class does not have a valid value in copy request.  Must be one of: " + storageClassList
	ReasonTargetTagsFormat         = `Target tags incorrectly formatted in copy request.  Must be in format "tag=value&tag2=value2`
)

// ValidationError carries every rule a copy request violates.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Reasons, " ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// IsStorageClass reports whether class is in the accepted set. The check is
// case-sensitive.
func IsStorageClass(class string) bool {
	for _, c := range StorageClasses {
		if c == class {
			return true
		}
	}
	return false
}

// IsArchival reports whether objects in class must be restored before they
// can be copied.
func IsArchival(class string) bool {
	return class == "GLACIER" || class == "DEEP_ARCHIVE"
}

// ValidTags reports whether tags is empty or a well-formed tag string.
func ValidTags(tags string) bool {
	return tags == "" || tagPattern.MatchString(tags)
}

// Validate returns every violated rule in a fixed order. An empty result means
// the request is valid.
func (r *CopyRequest) Validate() []string {
	var reasons []string

	if r.ManifestFile == "" {
		reasons = append(reasons, ReasonManifestEmpty)
	}
	if r.SourceBucket == "" {
		reasons = append(reasons, ReasonSourceBucketEmpty)
	}
	if r.SourceObjectPath == "" {
		reasons = append(reasons, ReasonSourcePathEmpty)
	}
	if !ValidTags(r.SourceTags) {
		reasons = append(reasons, ReasonSourceTagsFormat)
	}
	if r.Size <= 0 {
		reasons = append(reasons, ReasonSizeNotPositive)
	}
	if r.StorageClass == "" {
		reasons = append(reasons, ReasonStorageClassEmpty)
	} else if !IsStorageClass(r.StorageClass) {
		reasons = append(reasons, ReasonStorageClassInvalid)
	}
	if r.TargetBucket == "" {
		reasons = append(reasons, ReasonTargetBucketEmpty)
	}
	if r.TargetObjectPath == "" {
		reasons = append(reasons, ReasonTargetPathEmpty)
	}
	if r.TargetStorageClass == "" {
		reasons = append(reasons, ReasonTargetStorageClassEmpty)
	} else if !IsStorageClass(r.TargetStorageClass) {
		reasons = append(reasons, ReasonTargetStorageClassFormat)
	}
	if !ValidTags(r.TargetTags) {
		reasons = append(reasons, ReasonTargetTagsFormat)
	}

	return reasons
}

// IsValid reports whether Validate finds no violations.
func (r *CopyRequest) IsValid() bool {
	return len(r.Validate()) == 0
}

// Check returns a *ValidationError when r is invalid, nil otherwise.
func (r *CopyRequest) Check() error {
	if reasons := r.Validate(); len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}
