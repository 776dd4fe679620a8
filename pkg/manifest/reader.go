// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"

	"github.com/dustin/go-humanize"
)

// ErrManifestRead is returned when the manifest cannot be fetched or parsed.
var ErrManifestRead = errors.New("unable to read manifest")

// Column names of a manifest file.
const (
	ColSourceBucket       = "source_bucket"
	ColSourceObjectPath   = "source_object_path"
	ColSourceTags         = "source_tags"
	ColTargetBucket       = "target_bucket"
	ColTargetObjectPath   = "target_object_path"
	ColTargetStorageClass = "target_storage_class"
	ColTargetTags         = "target_tags"
)

// Columns lists the header columns every manifest must carry.
var Columns = []string{
	ColSourceBucket,
	ColSourceObjectPath,
	ColSourceTags,
	ColTargetBucket,
	ColTargetObjectPath,
	ColTargetStorageClass,
	ColTargetTags,
}

// Row is one manifest line.
type Row struct {
	Line               int
	SourceBucket       string
	SourceObjectPath   string
	SourceTags         string
	TargetBucket       string
	TargetObjectPath   string
	TargetStorageClass string
	TargetTags         string
}

// Downloader fetches an object into w.
type Downloader interface {
	Download(ctx context.Context, bucket, key string, w io.Writer) (int64, error)
}

// Reader streams rows from a manifest downloaded to a local temporary file.
type Reader struct {
	file    *os.File
	csv     *csv.Reader
	columns map[string]int
}

// Open downloads bucket/key into a temporary file under dir (os.TempDir when
// empty) and reads its header.
func Open(ctx context.Context, d Downloader, bucket, key, dir string) (*Reader, error) {
	f, err := os.CreateTemp(dir, "manifest-*.csv")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %w", ErrManifestRead, err)
	}

	n, err := d.Download(ctx, bucket, key, f)
	if err != nil {
		discard(f)
		return nil, fmt.Errorf("%w: %w", ErrManifestRead, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard(f)
		return nil, fmt.Errorf("%w: %w", ErrManifestRead, err)
	}

	logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Str("size", humanize.IBytes(uint64(n))).
		Msg("manifest: downloaded")

	r, err := newReader(f)
	if err != nil {
		discard(f)
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewReader reads a manifest from src. Close does not close src.
func NewReader(src io.Reader) (*Reader, error) {
	return newReader(src)
}

func newReader(src io.Reader) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: manifest is empty", ErrManifestRead)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrManifestRead, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		columns[name] = i
	}

	var missing []string
	for _, name := range Columns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrManifestRead, strings.Join(missing, ", "))
	}

	return &Reader{csv: cr, columns: columns}, nil
}

// Next returns the next row, or io.EOF after the last one. Short lines yield
// empty values for the missing columns.
func (r *Reader) Next() (Row, error) {
	for {
		fields, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Row{}, io.EOF
			}
			return Row{}, fmt.Errorf("%w: %w", ErrManifestRead, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}

		line, _ := r.csv.FieldPos(0)
		get := func(col string) string {
			i := r.columns[col]
			if i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}
		return Row{
			Line:               line,
			SourceBucket:       get(ColSourceBucket),
			SourceObjectPath:   get(ColSourceObjectPath),
			SourceTags:         get(ColSourceTags),
			TargetBucket:       get(ColTargetBucket),
			TargetObjectPath:   get(ColTargetObjectPath),
			TargetStorageClass: get(ColTargetStorageClass),
			TargetTags:         get(ColTargetTags),
		}, nil
	}
}

// Close removes the temporary file, if any.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	discard(r.file)
	r.file = nil
	return nil
}

func discard(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}
