package conversation_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/memory-agent/conversation"
	"github.com/becomeliminal/memory-agent/core"
)

func TestState_AppendOnly(t *testing.T) {
	s := conversation.NewState(core.NewUserMessage("one"))
	s.Append(core.NewAssistantMessage("two"), core.NewUserMessage("three"))

	assert.Equal(t, 3, s.Len())
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "three", last.Content)

	snapshot := s.Messages()
	snapshot[0].Content = "mutated"
	assert.Equal(t, "one", s.Messages()[0].Content, "Messages must return a copy")
}

func TestState_Tail(t *testing.T) {
	s := conversation.NewState(
		core.NewUserMessage("a"),
		core.NewAssistantMessage("b"),
		core.NewUserMessage("c"),
		core.NewAssistantMessage("d"),
	)

	tail := s.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, "b", tail[0].Content)
	assert.Equal(t, "d", tail[2].Content)

	assert.Len(t, s.Tail(10), 4)
	assert.Empty(t, s.Tail(0))
}

func TestState_Empty(t *testing.T) {
	s := conversation.NewState()
	_, ok := s.Last()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Tail(3))
}

func TestState_ConcurrentReaders(t *testing.T) {
	s := conversation.NewState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Append(core.NewUserMessage("x"))
		}()
		go func() {
			defer wg.Done()
			_ = s.Messages()
			_, _ = s.Last()
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Len())
}

func forEachCheckpointer(t *testing.T, fn func(t *testing.T, c conversation.Checkpointer)) {
	t.Run("memory", func(t *testing.T) {
		c := conversation.NewMemoryCheckpointer()
		defer c.Close()
		fn(t, c)
	})
	t.Run("bolt", func(t *testing.T) {
		c, err := conversation.OpenBolt(filepath.Join(t.TempDir(), "threads", "threads.db"))
		require.NoError(t, err)
		defer c.Close()
		fn(t, c)
	})
}

func TestCheckpointer_RoundTrip(t *testing.T) {
	forEachCheckpointer(t, func(t *testing.T, c conversation.Checkpointer) {
		ctx := context.Background()

		fresh, err := c.Load(ctx, "unknown")
		require.NoError(t, err)
		assert.Equal(t, 0, fresh.Len())

		s := conversation.NewState(
			core.NewUserMessage("I like pizza"),
			core.NewAssistantMessage("", core.ToolCall{
				ID:        "call_1",
				Name:      "save_memory_record",
				Arguments: json.RawMessage(`{"content":"likes pizza","context":"chat"}`),
			}),
			core.NewToolMessage("call_1", "Stored memory k1"),
		)
		require.NoError(t, c.Save(ctx, "thread-1", s))

		loaded, err := c.Load(ctx, "thread-1")
		require.NoError(t, err)
		msgs := loaded.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, core.RoleAssistant, msgs[1].Role)
		require.Len(t, msgs[1].ToolCalls, 1)
		assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)
		assert.JSONEq(t, `{"content":"likes pizza","context":"chat"}`, string(msgs[1].ToolCalls[0].Arguments))
		assert.Equal(t, "call_1", msgs[2].ToolCallID)

		// Threads are independent.
		other, err := c.Load(ctx, "thread-2")
		require.NoError(t, err)
		assert.Equal(t, 0, other.Len())
	})
}

func TestCheckpointer_SaveOverwrites(t *testing.T) {
	forEachCheckpointer(t, func(t *testing.T, c conversation.Checkpointer) {
		ctx := context.Background()
		s := conversation.NewState(core.NewUserMessage("first"))
		require.NoError(t, c.Save(ctx, "t", s))

		s.Append(core.NewAssistantMessage("second"))
		require.NoError(t, c.Save(ctx, "t", s))

		loaded, err := c.Load(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Len())
	})
}

func TestBoltCheckpointer_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	ctx := context.Background()

	c, err := conversation.OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx, "t", conversation.NewState(core.NewUserMessage("persisted"))))
	require.NoError(t, c.Close())

	c, err = conversation.OpenBolt(path)
	require.NoError(t, err)
	defer c.Close()

	loaded, err := c.Load(ctx, "t")
	require.NoError(t, err)
	last, ok := loaded.Last()
	require.True(t, ok)
	assert.Equal(t, "persisted", last.Content)
}
