package toc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

type recordedEvent struct {
	kind  string
	id    string
	index int
}

type recordingListener struct {
	events []recordedEvent
	metas  []map[string]any
	named  []string
}

func (r *recordingListener) OnAdd(rec *Record, index int) {
	r.events = append(r.events, recordedEvent{"add", rec.ID, index})
}

func (r *recordingListener) OnChange(rec *Record, index int) {
	r.events = append(r.events, recordedEvent{"change", rec.ID, index})
}

func (r *recordingListener) OnRemove(id string, index int) {
	r.events = append(r.events, recordedEvent{"remove", id, index})
}

func (r *recordingListener) OnTOCMetaChange(meta map[string]any) {
	r.metas = append(r.metas, meta)
}

func (r *recordingListener) OnBroadcastEvent(name string, _ any) {
	r.named = append(r.named, name)
}

func rec(id, key string) *Record {
	return &Record{ID: id, Key: key, Data: []byte(`{"id":"` + id + `"}`)}
}

func ids(l *List) []string {
	out := make([]string, 0, l.Len())
	for _, r := range l.Items() {
		out = append(out, r.ID)
	}
	return out
}

func TestNewList_SortsAndDropsDuplicates(t *testing.T) {
	l := NewList(ListOptions{Type: "raw"}, rec("c", "3"), rec("a", "1"), rec("b", "2"), rec("a", "9"))

	assert.Equal(t, []string{"a", "b", "c"}, ids(l))
	assert.Equal(t, "raw", l.OverlayNamespace())
	assert.Equal(t, 1, l.IndexOf("b"))
	assert.Equal(t, -1, l.IndexOf("zzz"))
}

func TestList_UpsertAddChangeMove(t *testing.T) {
	l := NewList(ListOptions{Type: "raw"}, rec("a", "1"), rec("b", "2"), rec("c", "3"))
	lis := &recordingListener{}
	l.Subscribe(lis)

	l.Upsert(rec("d", "25"))
	l.Upsert(&Record{ID: "b", Key: "2", Height: 3})
	l.Upsert(rec("a", "4"))

	assert.Equal(t, []string{"b", "d", "c", "a"}, ids(l))
	assert.Equal(t, []recordedEvent{
		{"add", "d", 2},
		{"change", "b", 1},
		{"remove", "a", 0},
		{"add", "a", 3},
	}, lis.events)
}

func TestList_Remove(t *testing.T) {
	l := NewList(ListOptions{}, rec("a", "1"), rec("b", "2"))
	lis := &recordingListener{}
	l.Subscribe(lis)

	assert.True(t, l.Remove("a"))
	assert.False(t, l.Remove("a"))
	assert.Equal(t, []recordedEvent{{"remove", "a", 0}}, lis.events)
	assert.False(t, l.Has("a"))
}

func TestList_Unsubscribe(t *testing.T) {
	l := NewList(ListOptions{})
	lis := &recordingListener{}
	unsubscribe := l.Subscribe(lis)
	unsubscribe()
	unsubscribe()

	l.Upsert(rec("a", "1"))
	assert.Empty(t, lis.events)
	assert.Equal(t, 0, l.Listeners())
}

func TestList_Heights(t *testing.T) {
	l := NewList(ListOptions{},
		&Record{ID: "a", Key: "1", Height: 2},
		&Record{ID: "b", Key: "2"},
		&Record{ID: "c", Key: "3", Height: 3},
	)

	assert.Equal(t, 6, l.TotalHeight())
	assert.Equal(t, 0, l.HeightBefore(0))
	assert.Equal(t, 3, l.HeightBefore(2))
	assert.Equal(t, 0, l.IndexAtHeight(1))
	assert.Equal(t, 1, l.IndexAtHeight(2))
	assert.Equal(t, 2, l.IndexAtHeight(3))
	assert.Equal(t, 2, l.IndexAtHeight(100))
}

func TestList_MetaChangesNotifyOnlyOnDifference(t *testing.T) {
	l := NewList(ListOptions{})
	lis := &recordingListener{}
	l.Subscribe(lis)

	l.ApplyMetaChanges(map[string]any{"syncing": true})
	l.ApplyMetaChanges(map[string]any{"syncing": true})
	l.ApplyMetaChanges(map[string]any{"syncing": nil})

	require.Len(t, lis.metas, 2)
	assert.Equal(t, map[string]any{"syncing": true}, lis.metas[0])
	assert.Empty(t, lis.metas[1])
}

func TestList_BroadcastEvent(t *testing.T) {
	l := NewList(ListOptions{})
	lis := &recordingListener{}
	l.Subscribe(lis)

	l.BroadcastEvent("syncComplete", nil)
	assert.Equal(t, []string{"syncComplete"}, lis.named)
}

func TestList_AcquireRelease(t *testing.T) {
	forgotten := 0
	l := NewList(ListOptions{OnForgotten: func(*List) { forgotten++ }})

	v, err := l.Acquire("ctx1").Result()
	require.NoError(t, err)
	assert.Same(t, l, v)

	_, err = l.Acquire("ctx1").Result()
	assert.ErrorIs(t, err, ErrAlreadyAcquired)

	_, err = l.Acquire("ctx2").Result()
	require.NoError(t, err)

	require.NoError(t, l.Release("ctx1"))
	assert.Equal(t, 0, forgotten)
	assert.ErrorIs(t, l.Release("ctx1"), ErrNotAcquired)
	require.NoError(t, l.Release("ctx2"))
	assert.Equal(t, 1, forgotten)
}

func TestList_RefreshWithoutRefreshers(t *testing.T) {
	l := NewList(ListOptions{})
	f := l.Refresh("test")
	require.True(t, f.Settled())
	_, err := f.Result()
	assert.NoError(t, err)
}

func TestCollated_IgnoresCase(t *testing.T) {
	l := NewList(ListOptions{Compare: Collated(language.English)},
		rec("1", "banana"), rec("2", "Apple"), rec("3", "cherry"))

	assert.Equal(t, []string{"2", "1", "3"}, ids(l))
}

func TestDescending(t *testing.T) {
	l := NewList(ListOptions{Compare: Descending(ByKey)}, rec("a", "1"), rec("b", "2"))
	assert.Equal(t, []string{"b", "a"}, ids(l))
}
