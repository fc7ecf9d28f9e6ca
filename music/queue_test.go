package music

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEntries(n int) []Entry {
	list := make([]Entry, n)
	for i := range list {
		list[i] = Entry{ID: int64(1000 + i), Track: track(i + 1)}
	}
	return list
}

func TestBuildQueueViewPaging(t *testing.T) {
	list := makeEntries(25)
	current := list[12]

	tests := []struct {
		name      string
		page      int
		wantPage  int
		wantFirst int
		wantLen   int
	}{
		{"first page", 1, 1, 1, 10},
		{"middle page", 2, 2, 11, 10},
		{"last page is short", 3, 3, 21, 5},
		{"page zero collapses", 0, 1, 1, 10},
		{"past the end collapses", 4, 1, 1, 10},
		{"negative collapses", -2, 1, 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, ok := BuildQueueView(list, current, tt.page, DefaultPageSize)
			require.True(t, ok)
			assert.Equal(t, 3, view.PageCount)
			assert.Equal(t, tt.wantPage, view.Page)
			assert.Equal(t, tt.wantFirst, view.FirstPosition)
			assert.Len(t, view.Entries, tt.wantLen)
			assert.Equal(t, list[tt.wantFirst-1], view.Entries[0])
			assert.Equal(t, tt.wantFirst+1, view.Position(1))
		})
	}
}

func TestBuildQueueViewCurrent(t *testing.T) {
	list := makeEntries(25)

	view, ok := BuildQueueView(list, list[12], 1, DefaultPageSize)
	require.True(t, ok)
	assert.Equal(t, 13, view.CurrentPosition)
	assert.Equal(t, 2, view.CurrentPage)
	assert.Equal(t, 25, view.Length)
	require.NotNil(t, view.Previous)
	require.NotNil(t, view.Next)
	assert.Equal(t, list[11], *view.Previous)
	assert.Equal(t, list[13], *view.Next)

	var total time.Duration
	for _, e := range list {
		total += e.Track.Length()
	}
	assert.Equal(t, total, view.TotalDuration)

	view, ok = BuildQueueView(list, list[0], 1, DefaultPageSize)
	require.True(t, ok)
	assert.Nil(t, view.Previous)
	assert.Equal(t, list[1], *view.Next)

	view, ok = BuildQueueView(list, list[24], 1, DefaultPageSize)
	require.True(t, ok)
	assert.Equal(t, list[0], *view.Next, "next wraps")
	assert.Equal(t, 3, view.CurrentPage)
}

func TestBuildQueueViewMissing(t *testing.T) {
	_, ok := BuildQueueView(nil, Entry{ID: 1}, 1, DefaultPageSize)
	assert.False(t, ok)

	_, ok = BuildQueueView(makeEntries(3), Entry{ID: 1}, 1, DefaultPageSize)
	assert.False(t, ok)
}

func TestBuildQueueViewSingleEntry(t *testing.T) {
	list := makeEntries(1)
	view, ok := BuildQueueView(list, list[0], 1, 0)
	require.True(t, ok)
	assert.Equal(t, DefaultPageSize, view.PageSize)
	assert.Equal(t, 1, view.PageCount)
	assert.Nil(t, view.Previous)
	assert.Nil(t, view.Next)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:03:25", FormatDuration(205*time.Second))
	assert.Equal(t, "01:00:01", FormatDuration(3601*time.Second))
	assert.Equal(t, "00:00:00", FormatDuration(-time.Second))
}
