package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/conversation"
	"github.com/becomeliminal/memory-agent/core"
	"github.com/becomeliminal/memory-agent/engine"
	"github.com/becomeliminal/memory-agent/llm/llmtest"
	"github.com/becomeliminal/memory-agent/memory"
	"github.com/becomeliminal/memory-agent/memory/embedder/mock"
	"github.com/becomeliminal/memory-agent/memory/store/chromem"
	"github.com/becomeliminal/memory-agent/tools"
)

var fixedTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newManager(t *testing.T) *memory.Manager {
	t.Helper()
	store, err := chromem.New()
	require.NoError(t, err)
	return memory.NewManager(store, mock.New(), nil)
}

func newEngine(mem engine.Memory, model *llmtest.Scripted, opts ...engine.Option) *engine.Engine {
	opts = append([]engine.Option{engine.WithClock(func() time.Time { return fixedTime })}, opts...)
	return engine.New(mem, model, opts...)
}

func saveCall(id, content, memContext string) core.ToolCall {
	args, _ := json.Marshal(map[string]string{"content": content, "context": memContext})
	return core.ToolCall{ID: id, Name: tools.SaveMemoryToolName, Arguments: args}
}

func TestSelectNextStep(t *testing.T) {
	assert.Equal(t, engine.StepEnd, engine.SelectNextStep(conversation.NewState()))
	assert.Equal(t, engine.StepEnd, engine.SelectNextStep(conversation.NewState(
		core.NewUserMessage("hi"),
		core.NewAssistantMessage("hello"),
	)))
	assert.Equal(t, engine.StepPersist, engine.SelectNextStep(conversation.NewState(
		core.NewUserMessage("hi"),
		core.NewAssistantMessage("", saveCall("c1", "a", "b")),
	)))
}

func TestRun_EndsWithoutToolCalls(t *testing.T) {
	model := llmtest.New(core.NewAssistantMessage("Hi there! What do you enjoy doing?"))
	e := newEngine(newManager(t), model)
	state := conversation.NewState(core.NewUserMessage("hello"))

	res, err := e.Run(context.Background(), state, config.NewAgentConfig(config.WithUserID("u1")))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 0, res.RecordsWritten)
	assert.Equal(t, "Hi there! What do you enjoy doing?", res.Reply)
	assert.Equal(t, 2, state.Len())
	assert.Equal(t, 0, model.Remaining())

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, config.DefaultModel, reqs[0].Selector)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, tools.SaveMemoryToolName, reqs[0].Tools[0].Name)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, core.RoleSystem, reqs[0].Messages[0].Role)
	assert.NotContains(t, reqs[0].Messages[0].Content, "<memories>")
	assert.Contains(t, reqs[0].Messages[0].Content, "System Time: 2025-03-14T09:26:53Z")
}

func TestRun_PersistsEveryToolCallInOrder(t *testing.T) {
	mgr := newManager(t)
	model := llmtest.New(
		core.NewAssistantMessage("",
			saveCall("call_a", "User likes hiking", "mentioned weekend plans"),
			saveCall("call_b", "User lives in Lisbon", "mentioned their city"),
			saveCall("call_c", "User has a dog named Rex", "talked about pets"),
		),
		core.NewAssistantMessage("Got it, I'll remember that."),
	)
	e := newEngine(mgr, model)
	cfg := config.NewAgentConfig(config.WithUserID("u1"))
	state := conversation.NewState(core.NewUserMessage("I hike on weekends in Lisbon with my dog Rex"))

	res, err := e.Run(context.Background(), state, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 3, res.RecordsWritten)

	msgs := state.Messages()
	// user, assistant(3 calls), 3 tool results, assistant
	require.Len(t, msgs, 6)
	for i, id := range []string{"call_a", "call_b", "call_c"} {
		tm := msgs[2+i]
		assert.Equal(t, core.RoleTool, tm.Role)
		assert.Equal(t, id, tm.ToolCallID)
		assert.True(t, strings.HasPrefix(tm.Content, "Stored memory "), tm.Content)

		key := strings.TrimPrefix(tm.Content, "Stored memory ")
		rec, err := mgr.Get(context.Background(), memory.UserNamespace("u1"), key)
		require.NoError(t, err)
		assert.NotEmpty(t, rec.Content)
	}
	assert.Equal(t, core.RoleAssistant, msgs[5].Role)

	// The second generate step sees the tool results.
	reqs := model.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 1+5)
}

// reorderingMemory holds the save of blockContent until every other save
// has returned, so saves complete out of launch order.
type reorderingMemory struct {
	failingMemory
	blockContent string
	others       sync.WaitGroup
	completed    []string
}

func (r *reorderingMemory) Save(ctx context.Context, ns memory.Namespace, key, content, memContext string) (memory.Record, error) {
	if content == r.blockContent {
		done := make(chan struct{})
		go func() {
			r.others.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			return memory.Record{}, errors.New("other saves never ran")
		}
	} else {
		defer r.others.Done()
	}

	rec, err := r.failingMemory.Save(ctx, ns, key, content, memContext)
	r.mu.Lock()
	r.completed = append(r.completed, content)
	r.mu.Unlock()
	return rec, err
}

func TestRun_PersistOrderIgnoresCompletionOrder(t *testing.T) {
	mem := &reorderingMemory{blockContent: "first"}
	mem.others.Add(2)
	model := llmtest.New(
		core.NewAssistantMessage("",
			saveCall("call_1", "first", "ctx"),
			saveCall("call_2", "second", "ctx"),
			saveCall("call_3", "third", "ctx"),
		),
		core.NewAssistantMessage("done"),
	)
	e := newEngine(mem, model)
	state := conversation.NewState(core.NewUserMessage("remember these"))

	res, err := e.Run(context.Background(), state, config.NewAgentConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordsWritten)

	mem.mu.Lock()
	assert.Equal(t, "first", mem.completed[len(mem.completed)-1], "first save should finish last")
	mem.mu.Unlock()

	msgs := state.Messages()
	require.Len(t, msgs, 6)
	for i, id := range []string{"call_1", "call_2", "call_3"} {
		assert.Equal(t, core.RoleTool, msgs[2+i].Role)
		assert.Equal(t, id, msgs[2+i].ToolCallID)
	}
}

func TestRun_UpdatesByRecordID(t *testing.T) {
	mgr := newManager(t)
	const id = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	call := func(callID, content string) core.ToolCall {
		args, _ := json.Marshal(map[string]string{"content": content, "context": "chat", "record_id": id})
		return core.ToolCall{ID: callID, Name: tools.SaveMemoryToolName, Arguments: args}
	}
	model := llmtest.New(
		core.NewAssistantMessage("", call("c1", "User likes tea")),
		core.NewAssistantMessage("ok"),
		core.NewAssistantMessage("", call("c2", "User prefers coffee now")),
		core.NewAssistantMessage("ok"),
	)
	e := newEngine(mgr, model)
	cfg := config.NewAgentConfig(config.WithUserID("u1"))
	state := conversation.NewState(core.NewUserMessage("I like tea"))

	_, err := e.Run(context.Background(), state, cfg)
	require.NoError(t, err)
	state.Append(core.NewUserMessage("Actually I switched to coffee"))
	_, err = e.Run(context.Background(), state, cfg)
	require.NoError(t, err)

	rec, err := mgr.Get(context.Background(), memory.UserNamespace("u1"), id)
	require.NoError(t, err)
	assert.Equal(t, "User prefers coffee now", rec.Content)

	results, err := mgr.Search(context.Background(), memory.UserNamespace("u1"), "coffee", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRun_InvalidArgumentsAppendNothing(t *testing.T) {
	mgr := newManager(t)
	model := llmtest.New(core.NewAssistantMessage("",
		saveCall("ok", "User likes jazz", "music chat"),
		core.ToolCall{ID: "bad", Name: tools.SaveMemoryToolName, Arguments: json.RawMessage(`{"content":"no context"}`)},
	))
	e := newEngine(mgr, model)
	state := conversation.NewState(core.NewUserMessage("I like jazz"))

	_, err := e.Run(context.Background(), state, config.NewAgentConfig(config.WithUserID("u1")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrInvalidArguments))

	// user + assistant only; no tool results after a failed persist.
	assert.Equal(t, 2, state.Len())
	assert.Equal(t, engine.StepPersist, engine.SelectNextStep(state))
}

func TestRun_UnknownTool(t *testing.T) {
	model := llmtest.New(core.NewAssistantMessage("", core.ToolCall{
		ID: "x", Name: "delete_everything", Arguments: json.RawMessage(`{}`),
	}))
	e := newEngine(newManager(t), model)
	state := conversation.NewState(core.NewUserMessage("hi"))

	_, err := e.Run(context.Background(), state, config.NewAgentConfig())
	assert.True(t, errors.Is(err, engine.ErrUnknownTool))
	assert.Equal(t, 2, state.Len())
}

func TestRun_ModelFailure(t *testing.T) {
	model := llmtest.New()
	model.PushError(errors.New("provider unavailable"))
	e := newEngine(newManager(t), model)
	state := conversation.NewState(core.NewUserMessage("hi"))

	_, err := e.Run(context.Background(), state, config.NewAgentConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider unavailable")
	assert.Equal(t, 1, state.Len())
}

// failingMemory returns the configured errors and records saved contents.
type failingMemory struct {
	mu        sync.Mutex
	searchErr error
	saveErr   error
	saved     []string
}

func (f *failingMemory) Search(ctx context.Context, ns memory.Namespace, query string, limit int) ([]memory.SearchResult, error) {
	return nil, f.searchErr
}

func (f *failingMemory) Save(ctx context.Context, ns memory.Namespace, key, content, memContext string) (memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return memory.Record{}, f.saveErr
	}
	f.saved = append(f.saved, content)
	return memory.Record{Key: key, Namespace: ns, Content: content, Context: memContext}, nil
}

func TestRun_StoreFailures(t *testing.T) {
	t.Run("search", func(t *testing.T) {
		mem := &failingMemory{searchErr: errors.New("store down")}
		model := llmtest.New(core.NewAssistantMessage("unused"))
		e := newEngine(mem, model)
		state := conversation.NewState(core.NewUserMessage("hi"))

		_, err := e.Run(context.Background(), state, config.NewAgentConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store down")
		assert.Equal(t, 1, state.Len())
		assert.Empty(t, model.Requests(), "model must not be called without memories")
	})

	t.Run("save", func(t *testing.T) {
		mem := &failingMemory{saveErr: errors.New("disk full")}
		model := llmtest.New(core.NewAssistantMessage("", saveCall("c1", "a", "b")))
		e := newEngine(mem, model)
		state := conversation.NewState(core.NewUserMessage("hi"))

		_, err := e.Run(context.Background(), state, config.NewAgentConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 2, state.Len())
	})
}

func TestRun_MaxIterations(t *testing.T) {
	mem := &failingMemory{}
	model := llmtest.New()
	model.Repeat = &llmtest.Response{Message: core.NewAssistantMessage("", saveCall("loop", "again", "again"))}
	e := newEngine(mem, model, engine.WithMaxIterations(3))
	state := conversation.NewState(core.NewUserMessage("hi"))

	_, err := e.Run(context.Background(), state, config.NewAgentConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrMaxIterations))
	assert.Len(t, model.Requests(), 3)
	assert.Len(t, mem.saved, 3)
	// user + 3 x (assistant, tool)
	assert.Equal(t, 7, state.Len())
}

func TestRun_UserIDFromEnvironment(t *testing.T) {
	t.Setenv("USER_ID", "env-user")
	mgr := newManager(t)
	model := llmtest.New(
		core.NewAssistantMessage("", saveCall("c1", "User enjoys chess", "hobbies")),
		core.NewAssistantMessage("Nice!"),
	)
	e := newEngine(mgr, model)

	_, err := e.Run(context.Background(), conversation.NewState(core.NewUserMessage("I play chess")), config.NewAgentConfig())
	require.NoError(t, err)

	got, err := mgr.Search(context.Background(), memory.UserNamespace("env-user"), "chess", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	none, err := mgr.Search(context.Background(), memory.UserNamespace(config.DefaultUserID), "chess", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// The model learns a preference in one thread, recalls it in a new thread
// for the same user, and nothing leaks to another user.
func TestRun_RemembersAcrossThreads(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	model := llmtest.New(
		core.NewAssistantMessage("", saveCall("c1", "User likes pizza", "said they love pizza")),
		core.NewAssistantMessage("Pizza is great!"),
		core.NewAssistantMessage("How about pizza?"),
		core.NewAssistantMessage("What kind of food do you like?"),
	)
	e := newEngine(mgr, model)
	alice := config.NewAgentConfig(config.WithUserID("alice"))
	bob := config.NewAgentConfig(config.WithUserID("bob"))

	first := conversation.NewState(core.NewUserMessage("I love pizza"))
	res, err := e.Run(ctx, first, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordsWritten)

	second := conversation.NewState(core.NewUserMessage("What should I eat for dinner? Maybe pizza?"))
	res, err = e.Run(ctx, second, alice)
	require.NoError(t, err)
	assert.Equal(t, "How about pizza?", res.Reply)

	third := conversation.NewState(core.NewUserMessage("What should I eat for dinner? Maybe pizza?"))
	_, err = e.Run(ctx, third, bob)
	require.NoError(t, err)

	reqs := model.Requests()
	require.Len(t, reqs, 4)

	aliceSystem := reqs[2].Messages[0].Content
	assert.Contains(t, aliceSystem, "<memories>")
	assert.Contains(t, aliceSystem, "User likes pizza")
	assert.Contains(t, aliceSystem, "(similarity: ")
	// New threads carry only their own history.
	assert.Len(t, reqs[2].Messages, 2)

	bobSystem := reqs[3].Messages[0].Content
	assert.NotContains(t, bobSystem, "<memories>")
	assert.NotContains(t, bobSystem, "pizza")

	bobMemories, err := mgr.Search(ctx, memory.UserNamespace("bob"), "pizza", 10)
	require.NoError(t, err)
	assert.Empty(t, bobMemories)
}

func TestRetrievalQuery(t *testing.T) {
	state := conversation.NewState(
		core.NewUserMessage("one"),
		core.NewAssistantMessage("two"),
		core.NewUserMessage("three"),
		core.NewAssistantMessage("four"),
	)
	assert.Equal(t, "two\nthree\nfour", engine.RetrievalQuery(state.Tail(engine.RetrievalWindow)))
	assert.Equal(t, "", engine.RetrievalQuery(nil))
}

func TestRenderSystemPrompt(t *testing.T) {
	tests := []struct {
		name     string
		template string
		info     string
		want     string
	}{
		{
			name:     "default template without memories",
			template: config.DefaultSystemPrompt,
			want: "You are a helpful and friendly chatbot. Get to know the user! Ask questions! Be spontaneous! \n" +
				"\n\nSystem Time: 2025-03-14T09:26:53Z",
		},
		{
			name:     "memories injected",
			template: "Known:{user_info}",
			info:     "\n<memories>\n[k]: v\n</memories>",
			want:     "Known:\n<memories>\n[k]: v\n</memories>",
		},
		{
			name:     "escaped braces",
			template: "Reply as JSON {{\"ok\": true}} at {time}",
			want:     "Reply as JSON {\"ok\": true} at 2025-03-14T09:26:53Z",
		},
		{
			name:     "no placeholders",
			template: "Be brief.",
			info:     "ignored",
			want:     "Be brief.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.RenderSystemPrompt(tt.template, tt.info, fixedTime))
		})
	}
}

func ExampleRenderSystemPrompt() {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	fmt.Println(engine.RenderSystemPrompt("{user_info}|{time}", "none", at))
	// Output: none|2025-01-02T03:04:05Z
}
