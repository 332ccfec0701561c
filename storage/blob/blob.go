// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"io"
	"net/url"
	"strings"

	"github.com/gorse-io/bandmate/config"
	"github.com/juju/errors"
)

// Store is a flat namespace of named blobs.
type Store interface {
	// Open a blob for reading.
	Open(name string) (io.ReadCloser, error)
	// Create a blob for writing. The blob becomes visible once the writer is
	// closed; the returned channel then yields the result of the upload.
	Create(name string) (io.WriteCloser, <-chan error, error)
	// List names of all blobs.
	List() ([]string, error)
	// Remove a blob.
	Remove(name string) error
}

// Open creates a blob store from a URL. Plain paths and file:// URLs are local
// directories; s3://, gcs:// and azblob:// URLs take the bucket (or container)
// from the host and the prefix from the path.
func Open(rawURL string, cfg *config.Config) (Store, error) {
	if strings.HasPrefix(rawURL, config.FilePrefix) {
		return NewPOSIX(rawURL[len(config.FilePrefix):]), nil
	}
	if !strings.Contains(rawURL, "://") {
		return NewPOSIX(rawURL), nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Trace(err)
	}
	bucket, prefix := parsed.Host, strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" {
		return nil, errors.NotValidf("blob store %s without bucket", rawURL)
	}
	switch {
	case strings.HasPrefix(rawURL, config.S3Prefix):
		return NewS3(cfg.S3, bucket, prefix)
	case strings.HasPrefix(rawURL, config.GCSPrefix):
		return NewGCS(cfg.GCS, bucket, prefix)
	case strings.HasPrefix(rawURL, config.AzureBlobPrefix):
		return NewAzureBlob(cfg.Azure, bucket, prefix)
	}
	return nil, errors.NotSupportedf("blob store %s", rawURL)
}

// trimPrefix converts an object key under prefix into a blob name.
func trimPrefix(key, prefix string) string {
	name := strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(name, "/")
}

// pipeUpload runs upload in the background and streams the written bytes into it.
func pipeUpload(upload func(r io.Reader) error) (io.WriteCloser, <-chan error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := upload(pr)
		// unblock the writer if the upload gave up early
		_ = pr.CloseWithError(errors.Trace(err))
		done <- err
	}()
	return pw, done
}

// Abort discards a blob opened by Create. The pending upload fails with cause
// instead of committing whatever was written so far.
func Abort(w io.WriteCloser, cause error) error {
	if aborter, ok := w.(interface{ CloseWithError(error) error }); ok {
		return aborter.CloseWithError(cause)
	}
	return w.Close()
}
