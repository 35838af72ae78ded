package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, `%nike%`, likePattern("nike"))
	assert.Equal(t, `%air\_max%`, likePattern("air_max"))
	assert.Equal(t, `%50\%%`, likePattern("50%"))
}

func TestLatestOfNeverMovesBack(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("IRST", 3*3600+1800))
	expr := latestOf("last_user_message_at", at)
	assert.Equal(t, "GREATEST(last_user_message_at, ?)", expr.SQL)
	require.Len(t, expr.Vars, 1)
	assert.Equal(t, at.UTC(), expr.Vars[0])
}
