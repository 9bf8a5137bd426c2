package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitURL(t *testing.T) {
	bucket, prefix, err := SplitURL("s3://recordings/barn-a/2024-05-01/")
	require.NoError(t, err)
	assert.Equal(t, "recordings", bucket)
	assert.Equal(t, "barn-a/2024-05-01/", prefix)

	bucket, prefix, err = SplitURL("http://localhost:9000/recordings/barn-a")
	require.NoError(t, err)
	assert.Equal(t, "recordings", bucket)
	assert.Equal(t, "barn-a", prefix)

	_, _, err = SplitURL("http://localhost:9000/recordings")
	require.Error(t, err)

	_, _, err = SplitURL("s3:///prefix")
	require.Error(t, err)
}
