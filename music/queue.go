package music

import (
	"time"

	"github.com/samber/lo"
)

const DefaultPageSize = 10

// QueueView is one page of a playlist. Pages are absolute: page 1 always
// starts at the first entry, whatever is playing.
type QueueView struct {
	Entries       []Entry
	Page          int
	PageCount     int
	PageSize      int
	FirstPosition int
	Length        int
	TotalDuration time.Duration

	Current         Entry
	CurrentPosition int
	CurrentPage     int
	Previous        *Entry
	Next            *Entry
}

// BuildQueueView cuts the requested page out of list.
// Pages outside [1, PageCount] fall back to page 1. It reports false for an
// empty list or when current is not in it.
func BuildQueueView(list []Entry, current Entry, page, pageSize int) (QueueView, bool) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	at := indexOf(list, current.ID)
	if len(list) == 0 || at < 0 {
		return QueueView{}, false
	}

	pageCount := (len(list) + pageSize - 1) / pageSize
	if page < 1 || page > pageCount {
		page = 1
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, len(list))

	view := QueueView{
		Entries:       append([]Entry(nil), list[start:end]...),
		Page:          page,
		PageCount:     pageCount,
		PageSize:      pageSize,
		FirstPosition: start + 1,
		Length:        len(list),
		TotalDuration: time.Duration(lo.SumBy(list, func(e Entry) int { return e.Track.Duration })) * time.Second,

		Current:         list[at],
		CurrentPosition: at + 1,
		CurrentPage:     at/pageSize + 1,
	}
	if prev, ok := previousOf(list, current); ok {
		view.Previous = &prev
	}
	if next, ok := nextOf(list, current); ok && next.ID != current.ID {
		view.Next = &next
	}
	return view, true
}

// Position returns the 1-based playlist position of the i-th entry on the page.
func (v QueueView) Position(i int) int {
	return v.FirstPosition + i
}
