package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

// Interface compliance (compile-time assertion)
var _ core.ArtifactStore = (*Store)(nil)

func TestNewValidatesOptions(t *testing.T) {
	_, err := New()
	assert.Error(t, err)

	_, err = New(func(o *Options) { o.Endpoint = "localhost:9000" })
	assert.Error(t, err)

	s, err := New(func(o *Options) {
		o.Endpoint = "localhost:9000"
		o.AccessKey = "minio"
		o.SecretKey = "minio123"
		o.Bucket = ""
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultBucket, s.bucket)
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNoSuchKey(errors.New("boom")))
}
