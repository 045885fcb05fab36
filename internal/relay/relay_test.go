package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"github.com/ccfrost/guestdrive/internal/storage"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.UnixMilli(1700000000000) }

func threeImages() []Item {
	return []Item{
		{Name: "a.jpg", MimeType: "image/jpeg", Data: []byte("aaa")},
		{Name: "b.jpg", MimeType: "image/jpeg", Data: []byte("bbbb")},
		{Name: "c.jpg", MimeType: "image/jpeg", Data: []byte("cc")},
	}
}

func TestHandle_CreatesFolderAndObjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := NewMockBackend(ctrl)

	b.EXPECT().FindFolder(gomock.Any(), "parent", "홍길동").Return("", false, nil)
	b.EXPECT().CreateFolder(gomock.Any(), "parent", "홍길동").Return("folder-1", nil)

	var mu sync.Mutex
	created := map[string]string{}
	b.EXPECT().CreateFile(gomock.Any(), "folder-1", gomock.Any()).Times(3).DoAndReturn(
		func(ctx context.Context, folderID string, spec storage.FileSpec) (string, error) {
			data, err := io.ReadAll(spec.Body)
			if err != nil {
				return "", err
			}
			assert.Equal(t, int64(len(data)), spec.Size)
			assert.Equal(t, "image/jpeg", spec.MimeType)
			mu.Lock()
			defer mu.Unlock()
			created[spec.Name] = string(data)
			return "id-" + spec.Name, nil
		})

	r := New(b, Options{ParentID: "parent", Now: fixedNow})
	res, err := r.Handle(context.Background(), "  홍길동 ", threeImages())
	require.NoError(t, err)

	assert.Equal(t, "folder-1", res.FolderID)
	assert.Equal(t, "홍길동", res.FolderName)
	assert.Equal(t, []string{
		"id-1700000000000-0-a.jpg",
		"id-1700000000000-1-b.jpg",
		"id-1700000000000-2-c.jpg",
	}, res.Objects)
	assert.Equal(t, map[string]string{
		"1700000000000-0-a.jpg": "aaa",
		"1700000000000-1-b.jpg": "bbbb",
		"1700000000000-2-c.jpg": "cc",
	}, created)
}

func TestHandle_ValidationMakesNoCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := NewMockBackend(ctrl)
	r := New(b, Options{ParentID: "parent"})

	_, err := r.Handle(context.Background(), "   ", threeImages())
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = r.Handle(context.Background(), "Kim", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestHandle_MissingParent(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(NewMockBackend(ctrl), Options{})

	_, err := r.Handle(context.Background(), "Kim", threeImages())
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestHandle_ObjectFailureIsProviderError(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := NewMockBackend(ctrl)

	b.EXPECT().FindFolder(gomock.Any(), "parent", "Kim").Return("folder-1", true, nil)
	b.EXPECT().CreateFile(gomock.Any(), "folder-1", gomock.Any()).AnyTimes().DoAndReturn(
		func(ctx context.Context, folderID string, spec storage.FileSpec) (string, error) {
			if spec.Name == "1700000000000-1-b.jpg" {
				return "", errors.New("quota exceeded")
			}
			return "ok", nil
		})

	r := New(b, Options{ParentID: "parent", Concurrency: 1, Now: fixedNow})
	_, err := r.Handle(context.Background(), "Kim", threeImages())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProvider))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestHandle_FolderFailureStopsBeforeObjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := NewMockBackend(ctrl)
	b.EXPECT().FindFolder(gomock.Any(), "parent", "Kim").Return("", false, errors.New("unauthorized"))

	r := New(b, Options{ParentID: "parent"})
	_, err := r.Handle(context.Background(), "Kim", threeImages())
	assert.True(t, apperr.Is(err, apperr.KindProvider))
}

func TestHandle_BoundsConcurrency(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := NewMockBackend(ctrl)
	b.EXPECT().FindFolder(gomock.Any(), gomock.Any(), gomock.Any()).Return("f", true, nil)

	var inFlight, peak atomic.Int32
	b.EXPECT().CreateFile(gomock.Any(), "f", gomock.Any()).Times(12).DoAndReturn(
		func(ctx context.Context, folderID string, spec storage.FileSpec) (string, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			return spec.Name, nil
		})

	items := make([]Item, 12)
	for i := range items {
		items[i] = Item{Name: fmt.Sprintf("%d.jpg", i), MimeType: "image/jpeg", Data: []byte{1}}
	}
	r := New(b, Options{ParentID: "parent", Concurrency: 3})
	_, err := r.Handle(context.Background(), "Kim", items)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

// memBackend is a tiny in-memory Backend whose lookups are slow enough to
// expose a find-then-create race.
type memBackend struct {
	mu      sync.Mutex
	folders map[string]string
	creates atomic.Int32
}

func (m *memBackend) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	time.Sleep(5 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.folders[parentID+"/"+name]
	return id, ok, nil
}

func (m *memBackend) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.creates.Add(1)
	id := fmt.Sprintf("folder-%d", n)
	m.folders[parentID+"/"+name] = id
	return id, nil
}

func (m *memBackend) CreateFile(ctx context.Context, folderID string, spec storage.FileSpec) (string, error) {
	return folderID + "/" + spec.Name, nil
}

func TestHandle_ConcurrentRequestsShareFolder(t *testing.T) {
	b := &memBackend{folders: map[string]string{}}
	r := New(b, Options{ParentID: "parent"})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Handle(context.Background(), "홍길동", threeImages())
			if assert.NoError(t, err) {
				ids[i] = res.FolderID
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.creates.Load())
	for _, id := range ids {
		assert.Equal(t, "folder-1", id)
	}
	assert.Empty(t, r.locks.locks)
}
