// Copyright 2026 gorse Project Authors
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
	"path/filepath"
	"testing"

	"github.com/gorse-io/bandmate/config"
	"github.com/stretchr/testify/assert"
)

func TestOpen(t *testing.T) {
	cfg := config.GetDefaultConfig()
	dir := t.TempDir()

	store, err := Open(dir, cfg)
	assert.NoError(t, err)
	assert.Equal(t, &POSIX{dir: dir}, store)

	store, err = Open("file://"+filepath.Join(dir, "models"), cfg)
	assert.NoError(t, err)
	assert.Equal(t, &POSIX{dir: filepath.Join(dir, "models")}, store)

	cfg.S3.Endpoint = "localhost:9000"
	store, err = Open("s3://bandmate/models/v1", cfg)
	assert.NoError(t, err)
	if assert.IsType(t, &S3{}, store) {
		assert.Equal(t, "bandmate", store.(*S3).bucket)
		assert.Equal(t, "models/v1", store.(*S3).prefix)
	}

	cfg.Azure.ConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"
	store, err = Open("azblob://bandmate", cfg)
	assert.NoError(t, err)
	if assert.IsType(t, &AzureBlob{}, store) {
		assert.Equal(t, "bandmate", store.(*AzureBlob).container)
		assert.Empty(t, store.(*AzureBlob).prefix)
	}

	_, err = Open("s3:///models", cfg)
	assert.Error(t, err)
	_, err = Open("ftp://bandmate/models", cfg)
	assert.Error(t, err)
}

func TestTrimPrefix(t *testing.T) {
	assert.Equal(t, "bandmate.bundle", trimPrefix("models/bandmate.bundle", "models"))
	assert.Equal(t, "bandmate.bundle", trimPrefix("bandmate.bundle", ""))
}
