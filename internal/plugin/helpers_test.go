package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/plugin/api"
	plua "github.com/dshills/lumen/internal/plugin/lua"
	"github.com/dshills/lumen/internal/store"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Count returns how many log lines contain s.
func (b *syncBuffer) Count(s string) int {
	n := 0
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, s) {
			n++
		}
	}
	return n
}

func testLogger(out *syncBuffer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "test",
		Level:  hclog.Trace,
		Output: out,
	})
}

// writePlugin installs a plugin below dir. def is merged over a minimal
// valid definition.
func writePlugin(t *testing.T, dir, id string, def map[string]any, files map[string]string) string {
	t.Helper()
	pdir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(pdir, 0o755))

	doc := map[string]any{"name": id, "version": "1.0.0"}
	for k, v := range def {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pdir, DefinitionFile), data, 0o644))

	for name, content := range files {
		path := filepath.Join(pdir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return pdir
}

// recorder collects lifecycle events.
type recorder struct {
	mu     sync.Mutex
	events []ActionEvent
}

func (r *recorder) handle(ev ActionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []ActionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) matching(action Action, id string) []ActionEvent {
	var out []ActionEvent
	for _, ev := range r.all() {
		if ev.Action == action && ev.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) has(action Action, id string, success bool) bool {
	for _, ev := range r.matching(action, id) {
		if ev.Success == success {
			return true
		}
	}
	return false
}

// harness is a running Manager over a temporary plugins directory.
type harness struct {
	dir        string
	logs       *syncBuffer
	engine     *plua.Engine
	components *host.Registry
	muxer      *host.Muxer
	store      *store.Store
	loader     *Loader
	manager    *Manager
	events     *recorder
}

type harnessOption func(*ManagerConfig)

func newHarness(t *testing.T, install func(dir string), opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		dir:        t.TempDir(),
		logs:       &syncBuffer{},
		engine:     plua.NewEngine(),
		components: host.NewRegistry(),
		muxer:      host.NewMuxer(host.WithEffects("Rainbow swirl")),
		events:     &recorder{},
	}
	if install != nil {
		install(h.dir)
	}

	st, err := store.Open(store.Memory, "0")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h.store = st

	h.loader = NewLoader(h.dir)
	_, err = h.loader.Discover()
	require.NoError(t, err)

	modules, err := api.DefaultRegistry(&api.Context{
		Components: h.components,
		Colors:     h.muxer,
		Priorities: h.muxer,
	}, h.engine)
	require.NoError(t, err)

	cfg := ManagerConfig{
		Engine:        h.engine,
		Modules:       modules,
		Catalog:       h.loader,
		Store:         h.store,
		Components:    h.components,
		Priorities:    h.muxer,
		Logger:        testLogger(h.logs),
		ShutdownGrace: 2 * time.Second,
		KillWait:      2 * time.Second,
		FinishPoll:    5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.manager, err = NewManager(cfg)
	require.NoError(t, err)
	h.manager.Subscribe(h.events.handle)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = h.manager.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = h.manager.Shutdown(context.Background())
		cancel()
		<-runDone
	})
	return h
}

// Lua scripts used across tests.
const (
	// scriptReturn finishes right away.
	scriptReturn = `plugin.log("hello", plugin.levels.INFO)`

	// scriptLoop runs until asked to stop, delivering events while it waits.
	scriptLoop = `
		while not plugin.abort() do
			plugin.sleep(5)
		end
	`

	// scriptBusy never checks for interruption.
	scriptBusy = `while true do end`
)

func timeAfter() <-chan time.Time {
	return time.After(waitFor)
}

func indexOf(s, sub string) int {
	return strings.Index(s, sub)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
