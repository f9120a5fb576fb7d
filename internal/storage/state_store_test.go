package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"scholar-ai-go/internal/config"
	"scholar-ai-go/internal/constants"
	"scholar-ai-go/internal/storage/models"
	"scholar-ai-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateStoreIsolatesCopies(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	p := sampleProfile()
	require.NoError(t, store.SaveProfile(ctx, "u1", p))
	p.Skills[0] = "mutated"

	got, err := store.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Python", got.Skills[0])

	got.Name = "changed"
	again, _ := store.LoadProfile(ctx, "u1")
	assert.Equal(t, "Alex Doe", again.Name)

	require.NoError(t, store.Delete(ctx, "u1"))
	_, err = store.LoadProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStateStoreCanceledContext(t *testing.T) {
	store := NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.SavePlan(ctx, "u1", nil), context.Canceled)
}

func TestNewStorageDriverSelection(t *testing.T) {
	s, err := NewStorage(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStateStore{}, s.State)
	assert.Nil(t, s.Archiver())
	assert.Nil(t, s.Publisher())

	_, err = NewStorage(context.Background(), &config.Config{State: config.StateConfig{StorageDriver: "mysql"}})
	assert.Error(t, err, "mysql 未配置时不能选作状态存储")

	_, err = NewStorage(context.Background(), &config.Config{State: config.StateConfig{StorageDriver: "etcd"}})
	assert.Error(t, err)
}

func TestRawInputObjectName(t *testing.T) {
	name, err := rawInputObjectName("u1", types.RawInput{Kind: types.InputDocument, FileName: "CV.PDF"}, "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, constants.RawInputBucketPrefix+"u1/document/"))
	assert.True(t, strings.HasSuffix(name, ".pdf"))

	name, err = rawInputObjectName("u1", types.RawInput{Kind: types.InputText}, "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".txt"))

	other, _ := rawInputObjectName("u1", types.RawInput{Kind: types.InputText}, "text/plain")
	assert.NotEqual(t, name, other)
}

func TestRawInputPayload(t *testing.T) {
	data, ct := rawInputPayload(types.RawInput{Kind: types.InputText, Text: "hello"})
	assert.Equal(t, []byte("hello"), data)
	assert.Contains(t, ct, "text/plain")

	data, ct = rawInputPayload(types.RawInput{Kind: types.InputAudio, Data: []byte{1, 2}})
	assert.Len(t, data, 2)
	assert.Equal(t, "application/octet-stream", ct)
}

type fakeObjectArchive struct {
	purged []string
}

func (f *fakeObjectArchive) ArchiveRawInput(ctx context.Context, ownerID string, input types.RawInput) (string, error) {
	return "raw-inputs/" + ownerID + "/" + string(input.Kind) + "/x.txt", nil
}

func (f *fakeObjectArchive) PurgeRawInputs(ctx context.Context, ownerID string) (int, error) {
	f.purged = append(f.purged, ownerID)
	return 2, nil
}

type fakeArchiveIndex struct {
	records   []*models.RawInputArchive
	deleted   []string
	recordErr error
}

func (f *fakeArchiveIndex) RecordArchive(ctx context.Context, rec *models.RawInputArchive) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeArchiveIndex) DeleteArchives(ctx context.Context, ownerID string) error {
	f.deleted = append(f.deleted, ownerID)
	return nil
}

func TestIndexedArchiver(t *testing.T) {
	objects, index := &fakeObjectArchive{}, &fakeArchiveIndex{}
	a := &indexedArchiver{RawInputArchiver: objects, index: index}
	ctx := context.Background()

	name, err := a.ArchiveRawInput(ctx, "u1", types.RawInput{Kind: types.InputText, Text: "hello"})
	require.NoError(t, err)
	require.Len(t, index.records, 1)
	assert.Equal(t, name, index.records[0].ObjectName)
	assert.Equal(t, "text", index.records[0].Kind)
	assert.EqualValues(t, 5, index.records[0].SizeBytes)

	// 索引写失败不影响归档
	index.recordErr = errors.New("db down")
	_, err = a.ArchiveRawInput(ctx, "u1", types.RawInput{Kind: types.InputText, Text: "again"})
	assert.NoError(t, err)

	n, err := a.PurgeRawInputs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"u1"}, objects.purged)
	assert.Equal(t, []string{"u1"}, index.deleted)
}
