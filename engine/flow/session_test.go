package flow

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/survey-flow/log"
)

func TestSessionStartLogsItsId(t *testing.T) {
	hook := test.NewLocal(log.Logger)
	defer hook.Reset()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(log.InfoLevel)

	ss := NewSessions()
	sess := ss.Get(7, 1)

	require.NotEmpty(t, hook.Entries)
	assert.Contains(t, hook.LastEntry().Message, sess.ID.String())

	// fetching the live session again is not a new start
	n := len(hook.Entries)
	again := ss.Get(7, 1)
	assert.Equal(t, sess.ID, again.ID)
	assert.Len(t, hook.Entries, n)

	// dropping and re-fetching starts over with a fresh id
	ss.Drop(7, 1)
	fresh := ss.Get(7, 1)
	assert.NotEqual(t, sess.ID, fresh.ID)
	assert.Contains(t, hook.LastEntry().Message, fresh.ID.String())
}

func TestSessionPathPushAndBack(t *testing.T) {
	sess := &Session{}

	sess.Push(1)
	sess.Push(1) // revisit of the tail does not grow the stack
	sess.Push(2)
	assert.Equal(t, []int64{1, 2}, sess.Path)

	current, ok := sess.Current()
	require.True(t, ok)
	assert.EqualValues(t, 2, current)

	back, ok := sess.Back()
	require.True(t, ok)
	assert.EqualValues(t, 1, back)

	// the first question has no further Back target
	back, ok = sess.Back()
	require.True(t, ok)
	assert.EqualValues(t, 1, back)

	empty := &Session{}
	_, ok = empty.Back()
	assert.False(t, ok)
}
