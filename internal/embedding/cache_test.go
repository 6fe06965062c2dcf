package embedding

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/codec"
)

// countingEmbedder records the refs of every call it forwards.
type countingEmbedder struct {
	inner Embedder
	calls [][]string
	err   error
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, refs []string, dtype codec.DType) (*BatchResult, error) {
	c.calls = append(c.calls, append([]string(nil), refs...))
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.EmbedBatch(ctx, refs, dtype)
}

func (c *countingEmbedder) Close() error { return nil }

func TestCachedEmbedder_OnlyMissesGoUpstream(t *testing.T) {
	refs := writePhotos(t, "a.jpg", "b.jpg", "c.jpg")
	up := &countingEmbedder{inner: NewMockEmbedder(8)}
	c, err := NewCachedEmbedder(up, 16, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.EmbedBatch(ctx, refs[:2], codec.F32)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	second, err := c.EmbedBatch(ctx, refs, codec.F32)
	require.NoError(t, err)

	require.Len(t, up.calls, 2)
	assert.Equal(t, refs[2:], up.calls[1], "only the uncached photo is requested")
	assert.Equal(t, 3, second.Batch.N)
	assert.Equal(t, first.Batch.Row(0), second.Batch.Row(0))
	assert.Equal(t, first.Batch.Row(1), second.Batch.Row(1))
	assert.Equal(t, MockModelVersion, second.ModelVersion)

	// all hits: no upstream call
	_, err = c.EmbedBatch(ctx, refs, codec.F32)
	require.NoError(t, err)
	assert.Len(t, up.calls, 2)
}

func TestCachedEmbedder_KeyedByDType(t *testing.T) {
	refs := writePhotos(t, "a.jpg")
	up := &countingEmbedder{inner: NewMockEmbedder(8)}
	c, _ := NewCachedEmbedder(up, 0, nil)
	ctx := context.Background()

	_, _ = c.EmbedBatch(ctx, refs, codec.F32)
	_, _ = c.EmbedBatch(ctx, refs, codec.F16)
	assert.Len(t, up.calls, 2)
}

func TestCachedEmbedder_ChangedFileIsRefetched(t *testing.T) {
	refs := writePhotos(t, "a.jpg")
	up := &countingEmbedder{inner: NewMockEmbedder(8)}
	c, _ := NewCachedEmbedder(up, 4, nil)
	ctx := context.Background()

	_, _ = c.EmbedBatch(ctx, refs, codec.F32)
	require.NoError(t, os.WriteFile(refs[0], []byte("a different and longer photo"), 0644))
	_, _ = c.EmbedBatch(ctx, refs, codec.F32)
	assert.Len(t, up.calls, 2)
}

// versionedEmbedder embeds with a different model per version, keeping the dimension.
type versionedEmbedder struct {
	version string
	calls   [][]string
}

func (v *versionedEmbedder) model() *MockEmbedder {
	version := v.version
	return NewMockEmbedder(8, WithKeyFunc(func(ref string) string { return version + "|" + StemKey(ref) }))
}

func (v *versionedEmbedder) EmbedBatch(ctx context.Context, refs []string, dtype codec.DType) (*BatchResult, error) {
	v.calls = append(v.calls, append([]string(nil), refs...))
	res, err := v.model().EmbedBatch(ctx, refs, dtype)
	if err != nil {
		return nil, err
	}
	res.ModelVersion = v.version
	return res, nil
}

func (v *versionedEmbedder) Close() error { return nil }

func TestCachedEmbedder_ModelUpgradeRefetchesBatch(t *testing.T) {
	refs := writePhotos(t, "a.jpg", "b.jpg")
	up := &versionedEmbedder{version: "v1"}
	c, _ := NewCachedEmbedder(up, 16, zap.NewNop())
	ctx := context.Background()

	_, err := c.EmbedBatch(ctx, refs[:1], codec.F32)
	require.NoError(t, err)

	up.version = "v2"
	res, err := c.EmbedBatch(ctx, refs, codec.F32)
	require.NoError(t, err)
	assert.Equal(t, "v2", res.ModelVersion)
	assert.Equal(t, up.model().Vector("v2|a"), res.Batch.Row(0), "cached v1 row must not be mixed in")
	assert.Equal(t, up.model().Vector("v2|b"), res.Batch.Row(1))
	require.Len(t, up.calls, 3)
	assert.Equal(t, refs, up.calls[2], "whole batch fetched again")

	// the refetched rows are cached under the new version
	_, err = c.EmbedBatch(ctx, refs, codec.F32)
	require.NoError(t, err)
	assert.Len(t, up.calls, 3)
	assert.Equal(t, 2, c.Len())
}

func TestCachedEmbedder_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	up := &countingEmbedder{inner: NewMockEmbedder(8), err: boom}
	c, _ := NewCachedEmbedder(up, 4, nil)
	_, err := c.EmbedBatch(context.Background(), writePhotos(t, "a.jpg"), codec.F32)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder(16)
	ctx := context.Background()
	res, err := m.EmbedBatch(ctx, []string{"/in/rex_01.jpg", "/ref/rex/rex_02.png", "/in/bella.jpg"}, codec.F32)
	require.NoError(t, err)
	assert.Equal(t, 16, res.Batch.D)
	assert.Equal(t, res.Batch.Row(0), res.Batch.Row(1), "same stem embeds identically")
	assert.NotEqual(t, res.Batch.Row(0), res.Batch.Row(2))

	var norm float64
	for _, v := range res.Batch.Row(2) {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestMockEmbedder_F16Precision(t *testing.T) {
	m := NewMockEmbedder(8, WithKeyFunc(func(ref string) string { return ref }))
	res, err := m.EmbedBatch(context.Background(), []string{"x"}, codec.F16)
	require.NoError(t, err)
	assert.Equal(t, codec.F16, res.Batch.DType)
	want := m.Vector("x")
	for i, v := range res.Batch.Row(0) {
		assert.InDelta(t, want[i], v, 1e-3)
		assert.Equal(t, v, codec.HalfToFloat32(codec.Float32ToHalf(v)))
	}
}

func TestStemKey(t *testing.T) {
	assert.Equal(t, "rex", StemKey("/a/b/Rex_001.JPG"))
	assert.Equal(t, "bella", StemKey("bella.png"))
	assert.Equal(t, "_odd.jpg", StemKey("_odd.jpg"))
}
