// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/unilife360/internal/config"
	"github.com/jeranaias/unilife360/internal/llm"
)

// fakeProvider records requests and replays fixed fragments.
type fakeProvider struct {
	name      string
	fragments []string
	err       error

	mu       sync.Mutex
	requests []llm.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Stream(ctx context.Context, req llm.Request, onFragment llm.FragmentFunc) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, frag := range f.fragments {
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeProvider) KeyFingerprint() string { return "ab12cd34" }

func validBindings() map[Task]Binding {
	return map[Task]Binding{
		TaskOnboarding: {Provider: config.ProviderOpenRouter, Model: "openai/gpt-4o-mini", Temperature: llm.Float(0.8)},
		TaskSummarizer: {Provider: config.ProviderOllama, Model: "llama3.2:3b"},
		TaskTutor:      {Provider: config.ProviderOpenRouter, Model: "openai/gpt-4o-mini", MaxTokens: 512},
	}
}

func TestTasks(t *testing.T) {
	assert.Equal(t, []Task{TaskOnboarding, TaskSummarizer, TaskTutor}, Tasks())
	assert.True(t, TaskTutor.Valid())
	assert.False(t, Task("grading").Valid())

	tasks := Tasks()
	tasks[0] = "mutated"
	assert.Equal(t, TaskOnboarding, Tasks()[0], "Tasks() must return a copy")
}

func TestNewWithProviders_ResolvesEveryTask(t *testing.T) {
	cloud := &fakeProvider{name: "openrouter"}
	local := &fakeProvider{name: "ollama"}

	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: cloud,
		config.ProviderOllama:     local,
	})
	require.NoError(t, err)

	handles := reg.Handles()
	require.Len(t, handles, 3)
	assert.Equal(t, TaskOnboarding, handles[0].Task)
	assert.Equal(t, TaskSummarizer, handles[1].Task)
	assert.Equal(t, TaskTutor, handles[2].Task)

	h, err := reg.Lookup(TaskSummarizer)
	require.NoError(t, err)
	assert.Equal(t, "ollama", h.Provider)
	assert.Equal(t, "llama3.2:3b", h.Model)
	assert.Equal(t, "default", h.TemperatureString())
}

func TestFormatTemperature(t *testing.T) {
	testCases := []struct {
		name string
		in   *float64
		want string
	}{
		{"unset", nil, "default"},
		{"two decimals", llm.Float(1.25), "1.25"},
		{"one decimal", llm.Float(0.7), "0.7"},
		{"zero", llm.Float(0), "0"},
		{"whole", llm.Float(1), "1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatTemperature(tc.in))
		})
	}

	h := &Handle{Temperature: llm.Float(1.25)}
	assert.Equal(t, "1.25", h.TemperatureString())
}

func TestLookup_UnknownTask(t *testing.T) {
	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{},
		config.ProviderOllama:     &fakeProvider{},
	})
	require.NoError(t, err)

	_, err = reg.Lookup("grading")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestHandle_StreamPassesSettings(t *testing.T) {
	cloud := &fakeProvider{name: "openrouter", fragments: []string{"Hi", " Sam"}}
	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: cloud,
		config.ProviderOllama:     &fakeProvider{name: "ollama"},
	})
	require.NoError(t, err)

	h, err := reg.Lookup(TaskOnboarding)
	require.NoError(t, err)

	var got strings.Builder
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "Hi, I'm Sam"}}
	err = h.Stream(context.Background(), "system prompt", msgs, func(f string) error {
		got.WriteString(f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Sam", got.String())

	require.Len(t, cloud.requests, 1)
	req := cloud.requests[0]
	assert.Equal(t, "openai/gpt-4o-mini", req.Model)
	assert.Equal(t, "system prompt", req.System)
	assert.Equal(t, msgs, req.Messages)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.8, *req.Temperature)
}

func TestHandle_StreamReturnsProviderError(t *testing.T) {
	boom := errors.New("upstream down")
	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{err: boom},
		config.ProviderOllama:     &fakeProvider{},
	})
	require.NoError(t, err)

	h, _ := reg.Lookup(TaskTutor)
	err = h.Stream(context.Background(), "", nil, func(string) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func TestHandle_Fingerprint(t *testing.T) {
	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{},
		config.ProviderOllama:     nonCredentialed{},
	})
	require.NoError(t, err)

	on, _ := reg.Lookup(TaskOnboarding)
	assert.Equal(t, "ab12cd34", on.Fingerprint())

	sum, _ := reg.Lookup(TaskSummarizer)
	assert.Equal(t, "none", sum.Fingerprint())
}

type nonCredentialed struct{}

func (nonCredentialed) Name() string { return "ollama" }
func (nonCredentialed) Stream(context.Context, llm.Request, llm.FragmentFunc) error {
	return nil
}

func TestNewWithProviders_Problems(t *testing.T) {
	providers := map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{},
		config.ProviderOllama:     &fakeProvider{},
	}

	tests := []struct {
		name    string
		mutate  func(b map[Task]Binding)
		wantMsg string
	}{
		{
			name:    "missing task",
			mutate:  func(b map[Task]Binding) { delete(b, TaskSummarizer) },
			wantMsg: `task "summarizer": no binding configured`,
		},
		{
			name: "unknown provider",
			mutate: func(b map[Task]Binding) {
				b[TaskTutor] = Binding{Provider: "anthropic", Model: "claude"}
			},
			wantMsg: `unknown provider "anthropic"`,
		},
		{
			name: "empty model",
			mutate: func(b map[Task]Binding) {
				b[TaskOnboarding] = Binding{Provider: config.ProviderOpenRouter, Model: "  "}
			},
			wantMsg: "model must not be empty",
		},
		{
			name:    "extra task",
			mutate:  func(b map[Task]Binding) { b["grading"] = Binding{Provider: config.ProviderOllama, Model: "m"} },
			wantMsg: `task "grading": not a known task`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBindings()
			tt.mutate(b)
			reg, err := NewWithProviders(b, providers)
			assert.Nil(t, reg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

// =============================================================================
// CONSTRUCTION FROM CONFIG
// =============================================================================

func TestNew_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cloud.APIKey = "sk-or-v1-test"
	cfg.Tasks[config.TaskSummarizer] = config.TaskConfig{Provider: config.ProviderOllama, Model: "llama3.2:3b"}

	reg, err := New(cfg)
	require.NoError(t, err)

	on, err := reg.Lookup(TaskOnboarding)
	require.NoError(t, err)
	assert.Equal(t, config.ProviderOpenRouter, on.Provider)
	require.NotNil(t, on.Temperature)
	assert.Equal(t, 0.8, *on.Temperature)
	assert.Len(t, on.Fingerprint(), 8)
	assert.NotContains(t, on.Fingerprint(), "sk-or")

	sum, err := reg.Lookup(TaskSummarizer)
	require.NoError(t, err)
	assert.Equal(t, config.ProviderOllama, sum.Provider)
	assert.Equal(t, "none", sum.Fingerprint())
}

func TestNew_MissingCredentialFailsFast(t *testing.T) {
	cfg := config.Default()
	cfg.Cloud.APIKey = ""

	reg, err := New(cfg)
	assert.Nil(t, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "credential missing")
}

func TestNew_LocalOnlyNeedsNoCredential(t *testing.T) {
	cfg := config.Default()
	cfg.Cloud.APIKey = ""
	for _, name := range cfg.TaskNames() {
		cfg.Tasks[name] = config.TaskConfig{Provider: config.ProviderOllama, Model: "llama3.2:3b"}
	}

	reg, err := New(cfg)
	require.NoError(t, err)
	assert.Len(t, reg.Handles(), 3)
}

func TestNew_JoinsAllProblems(t *testing.T) {
	cfg := config.Default()
	cfg.Cloud.APIKey = ""
	delete(cfg.Tasks, config.TaskTutor)
	cfg.Tasks[config.TaskSummarizer] = config.TaskConfig{Provider: "bedrock", Model: "x"}

	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	msg := err.Error()
	assert.Contains(t, msg, "credential missing")
	assert.Contains(t, msg, `task "tutor": no binding configured`)
	assert.Contains(t, msg, `unknown provider "bedrock"`)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRegistry_ConcurrentLookup(t *testing.T) {
	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{fragments: []string{"x"}},
		config.ProviderOllama:     &fakeProvider{fragments: []string{"y"}},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := Tasks()[i%3]
			h, err := reg.Lookup(task)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, h.Stream(context.Background(), "", nil, func(string) error { return nil }))
		}(i)
	}
	wg.Wait()
}

type pingingProvider struct {
	fakeProvider
	err error
}

func (p *pingingProvider) Ping(ctx context.Context) error { return p.err }

func TestHandle_Ping(t *testing.T) {
	down := errors.New("connection refused")
	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{},
		config.ProviderOllama:     &pingingProvider{err: down},
	})
	require.NoError(t, err)

	h, _ := reg.Lookup(TaskTutor)
	assert.ErrorIs(t, h.Ping(context.Background()), ErrPingUnsupported)

	h, _ = reg.Lookup(TaskSummarizer)
	assert.ErrorIs(t, h.Ping(context.Background()), down)
}

func TestHandle_Status(t *testing.T) {
	reg, err := NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{},
		config.ProviderOllama:     &pingingProvider{},
	})
	require.NoError(t, err)

	h, _ := reg.Lookup(TaskTutor)
	assert.Equal(t, StatusConfigured, h.Status(context.Background()))
	h, _ = reg.Lookup(TaskSummarizer)
	assert.Equal(t, StatusOK, h.Status(context.Background()))

	reg, err = NewWithProviders(validBindings(), map[string]llm.Provider{
		config.ProviderOpenRouter: &fakeProvider{},
		config.ProviderOllama:     &pingingProvider{err: errors.New("connection refused")},
	})
	require.NoError(t, err)
	h, _ = reg.Lookup(TaskSummarizer)
	assert.Equal(t, StatusUnavailable, h.Status(context.Background()))
}
