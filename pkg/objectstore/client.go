// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore wraps the S3 calls the pipeline makes: metadata lookup,
// archival restore, tagging, server-side copy and multipart part copy.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"golang.org/x/sync/errgroup"
)

// Common errors
var (
	ErrObjectNotFound = errors.New("object not found")
)

// API is the subset of *s3.Client used by Client.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	RestoreObject(ctx context.Context, params *s3.RestoreObjectInput, optFns ...func(*s3.Options)) (*s3.RestoreObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Compile-time interface verification
var _ API = (*s3.Client)(nil)

// ObjectInfo is the metadata returned by a lookup.
type ObjectInfo struct {
	Size         int64
	StorageClass string
}

// ObjectDetails is everything a multipart copy needs to recreate the object.
type ObjectDetails struct {
	ContentType   string
	ContentLength int64
	Metadata      map[string]string
	Tags          record.TagSet
}

// CopyInput describes a single-request server-side copy.
type CopyInput struct {
	SourceBucket string
	SourceKey    string
	TargetBucket string
	TargetKey    string
	StorageClass string
	Tags         record.TagSet
}

// MultipartInput describes the target of a multipart copy.
type MultipartInput struct {
	TargetBucket string
	TargetKey    string
	StorageClass string
	ContentType  string
	Metadata     map[string]string
	Tags         record.TagSet
}

// PartCopyInput describes one part of a multipart copy.
type PartCopyInput struct {
	TargetBucket string
	TargetKey    string
	UploadID     string
	PartNumber   int32
	SourceBucket string
	SourceKey    string
	Range        ByteRange
}

// CompletedPart is a copied part ready for reassembly.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// Client performs object-storage calls against an API.
type Client struct {
	api API
}

// NewClient wraps api.
func NewClient(api API) *Client {
	return &Client{api: api}
}

// Lookup returns the size and storage class of bucket/key. ErrObjectNotFound
// is returned when no object has exactly that key.
func (c *Client) Lookup(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	observe("lookup", err)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("list %s/%s: %w", bucket, key, err)
	}
	if len(out.Contents) == 0 || aws.ToString(out.Contents[0].Key) != key {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}

	obj := out.Contents[0]
	class := string(obj.StorageClass)
	if class == "" {
		class = string(types.ObjectStorageClassStandard)
	}
	return ObjectInfo{Size: aws.ToInt64(obj.Size), StorageClass: class}, nil
}

// Details fetches the head metadata and tags of bucket/key concurrently.
func (c *Client) Details(ctx context.Context, bucket, key string) (*ObjectDetails, error) {
	var details ObjectDetails
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out, err := c.api.HeadObject(gctx, &s3.HeadObjectInput{
			Bucket:       aws.String(bucket),
			Key:          aws.String(key),
			RequestPayer: types.RequestPayerRequester,
		})
		observe("head", err)
		if err != nil {
			return fmt.Errorf("head %s/%s: %w", bucket, key, err)
		}
		details.ContentType = aws.ToString(out.ContentType)
		details.ContentLength = aws.ToInt64(out.ContentLength)
		details.Metadata = out.Metadata
		return nil
	})

	g.Go(func() error {
		tags, err := c.Tags(gctx, bucket, key)
		if err != nil {
			return err
		}
		details.Tags = tags
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &details, nil
}

// Tags returns the tag set of bucket/key.
func (c *Client) Tags(ctx context.Context, bucket, key string) (record.TagSet, error) {
	out, err := c.api.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		RequestPayer: types.RequestPayerRequester,
	})
	observe("get_tagging", err)
	if err != nil {
		return nil, fmt.Errorf("get tagging %s/%s: %w", bucket, key, err)
	}

	tags := make(record.TagSet, 0, len(out.TagSet))
	for _, t := range out.TagSet {
		tags = append(tags, record.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return tags, nil
}

// PutTags replaces the tag set of bucket/key.
func (c *Client) PutTags(ctx context.Context, bucket, key string, tags record.TagSet) error {
	set := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		set = append(set, types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	_, err := c.api.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Tagging:      &types.Tagging{TagSet: set},
		RequestPayer: types.RequestPayerRequester,
	})
	observe("put_tagging", err)
	if err != nil {
		return fmt.Errorf("put tagging %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Restore asks for a temporary copy of an archived object. It returns the
// HTTP status of the response: 200 when a restored copy is already
// available, 202 when the restore was accepted and is in progress.
func (c *Client) Restore(ctx context.Context, bucket, key string, days int32, tier string) (int, error) {
	out, err := c.api.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(days),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: types.Tier(tier),
			},
		},
		RequestPayer: types.RequestPayerRequester,
	})
	observe("restore", err)
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			return re.HTTPStatusCode(), fmt.Errorf("restore %s/%s: %w", bucket, key, err)
		}
		return 0, fmt.Errorf("restore %s/%s: %w", bucket, key, err)
	}
	return responseStatus(out.ResultMetadata), nil
}

func responseStatus(md middleware.Metadata) int {
	if raw, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response); ok && raw != nil {
		return raw.StatusCode
	}
	return 0
}

// Copy performs a single-request server-side copy. Metadata is copied from the
// source and the tag set is replaced by in.Tags.
func (c *Client) Copy(ctx context.Context, in CopyInput) error {
	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(in.TargetBucket),
		Key:               aws.String(in.TargetKey),
		CopySource:        aws.String(CopySource(in.SourceBucket, in.SourceKey)),
		StorageClass:      types.StorageClass(in.StorageClass),
		MetadataDirective: types.MetadataDirectiveCopy,
		TaggingDirective:  types.TaggingDirectiveReplace,
		Tagging:           aws.String(EncodeTagging(in.Tags)),
		ACL:               types.ObjectCannedACLBucketOwnerFullControl,
		RequestPayer:      types.RequestPayerRequester,
	})
	observe("copy", err)
	if err != nil {
		return fmt.Errorf("copy %s/%s to %s/%s: %w", in.SourceBucket, in.SourceKey, in.TargetBucket, in.TargetKey, err)
	}
	return nil
}

// CreateMultipart starts a multipart upload and returns its upload ID.
func (c *Client) CreateMultipart(ctx context.Context, in MultipartInput) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(in.TargetBucket),
		Key:          aws.String(in.TargetKey),
		StorageClass: types.StorageClass(in.StorageClass),
		Metadata:     in.Metadata,
		ACL:          types.ObjectCannedACLBucketOwnerFullControl,
		RequestPayer: types.RequestPayerRequester,
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if len(in.Tags) > 0 {
		input.Tagging = aws.String(EncodeTagging(in.Tags))
	}

	out, err := c.api.CreateMultipartUpload(ctx, input)
	observe("create_multipart", err)
	if err != nil {
		return "", fmt.Errorf("create multipart upload %s/%s: %w", in.TargetBucket, in.TargetKey, err)
	}
	return aws.ToString(out.UploadId), nil
}

// CopyPart copies one byte range of the source into the upload and returns
// the part's ETag.
func (c *Client) CopyPart(ctx context.Context, in PartCopyInput) (string, error) {
	out, err := c.api.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(in.TargetBucket),
		Key:             aws.String(in.TargetKey),
		UploadId:        aws.String(in.UploadID),
		PartNumber:      aws.Int32(in.PartNumber),
		CopySource:      aws.String(CopySource(in.SourceBucket, in.SourceKey)),
		CopySourceRange: aws.String(in.Range.Header()),
		RequestPayer:    types.RequestPayerRequester,
	})
	observe("copy_part", err)
	if err != nil {
		return "", fmt.Errorf("copy part %d of %s/%s: %w", in.PartNumber, in.SourceBucket, in.SourceKey, err)
	}
	if out.CopyPartResult == nil {
		return "", fmt.Errorf("copy part %d of %s/%s: empty result", in.PartNumber, in.SourceBucket, in.SourceKey)
	}
	BytesCopied.Add(float64(in.Range.Len()))
	return aws.ToString(out.CopyPartResult.ETag), nil
}

// CompleteMultipart reassembles parts, ordered by part number.
func (c *Client) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error {
	sorted := append([]CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	completed := make([]types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}

	_, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		RequestPayer:    types.RequestPayerRequester,
	})
	observe("complete_multipart", err)
	if err != nil {
		return fmt.Errorf("complete multipart upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// AbortMultipart discards an upload and its copied parts.
func (c *Client) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		UploadId:     aws.String(uploadID),
		RequestPayer: types.RequestPayerRequester,
	})
	observe("abort_multipart", err)
	if err != nil {
		return fmt.Errorf("abort multipart upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download streams bucket/key into w and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	observe("get", err)
	if err != nil {
		return 0, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// CopySource renders the x-amz-copy-source value for bucket/key with each key
// segment URL-escaped.
func CopySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// EncodeTagging renders tags in the URL query form S3 expects for the
// x-amz-tagging header.
func EncodeTagging(tags record.TagSet) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, url.QueryEscape(t.Key)+"="+url.QueryEscape(t.Value))
	}
	return strings.Join(parts, "&")
}
