package repositories

import (
	"testing"

	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
)

func pageFixture(ids ...int) []models.Message {
	msgs := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, models.Message{ID: id, GroupID: 7})
	}
	return msgs
}

func TestTrimPageExactlyLimit(t *testing.T) {
	// the query fetched limit+1 rows but only limit existed: the page ends
	// on the newest remaining message and has_more must be false
	msgs, nextCursor, hasMore := trimPage(pageFixture(30, 20, 10), 3)

	require.Len(t, msgs, 3)
	require.False(t, hasMore)
	require.Equal(t, 0, nextCursor)
}

func TestTrimPageWithExtraRow(t *testing.T) {
	msgs, nextCursor, hasMore := trimPage(pageFixture(40, 30, 20, 10), 3)

	require.Len(t, msgs, 3)
	require.True(t, hasMore)
	// the cursor is the id of the last row returned, not the trimmed one
	require.Equal(t, 20, msgs[len(msgs)-1].ID)
	require.Equal(t, 20, nextCursor)
}

func TestTrimPageEmpty(t *testing.T) {
	msgs, nextCursor, hasMore := trimPage(nil, 3)

	require.Empty(t, msgs)
	require.False(t, hasMore)
	require.Equal(t, 0, nextCursor)
}

func TestTrimPageTraversal(t *testing.T) {
	// paging with the returned cursor walks the whole set exactly once
	all := pageFixture(50, 40, 30, 20, 10)
	limit := 2

	var seen []int
	cursor := 0
	for {
		remaining := make([]models.Message, 0, limit+1)
		for _, m := range all {
			if cursor == 0 || m.ID < cursor {
				remaining = append(remaining, m)
			}
			if len(remaining) == limit+1 {
				break
			}
		}
		page, next, more := trimPage(remaining, limit)
		for _, m := range page {
			seen = append(seen, m.ID)
		}
		if !more {
			break
		}
		cursor = next
	}

	require.Equal(t, []int{50, 40, 30, 20, 10}, seen)
}
