package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, enabled map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	InitializeWith(zap.New(core), enabled)
	t.Cleanup(Reset)
	return logs
}

func TestGet_NoopBeforeInitialize(t *testing.T) {
	Reset()
	assert.False(t, IsCategoryEnabled(CategoryBoot))
	assert.NotPanics(t, func() {
		Get(CategoryBoot).Info("nothing %d", 1)
		Boot("still nothing")
		StartTimer(CategoryAssembly, "op").Stop()
	})
	assert.NoError(t, Sync())
}

func TestAllCategoriesLog(t *testing.T) {
	logs := observe(t, nil)

	cats := []Category{
		CategoryBoot, CategoryCatalog, CategoryClassify, CategoryAssembly, CategoryConsistency,
		CategoryValidation, CategoryGeneration, CategoryAPI, CategoryTelemetry, CategoryServer,
	}
	for _, c := range cats {
		Get(c).Info("hello from %s", c)
	}

	require.Equal(t, len(cats), logs.Len())
	for i, entry := range logs.All() {
		assert.Equal(t, string(cats[i]), entry.LoggerName)
		assert.Equal(t, "hello from "+string(cats[i]), entry.Message)
	}
}

func TestCategoryFilter(t *testing.T) {
	logs := observe(t, map[string]bool{"api": false, "catalog": true})

	API("dropped")
	Catalog("kept")
	Assembly("kept by default")

	assert.False(t, IsCategoryEnabled(CategoryAPI))
	assert.True(t, IsCategoryEnabled(CategoryAssembly))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestLevels(t *testing.T) {
	logs := observe(t, nil)
	l := Get(CategoryValidation)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	levels := make([]zapcore.Level, 0, 4)
	for _, e := range logs.All() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}, levels)
}

func TestWithRequestID(t *testing.T) {
	logs := observe(t, nil)
	WithRequestID(CategoryGeneration, "req-1").Info("prepared %s", "term")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "prepared term", entry.Message)
	assert.Equal(t, "req-1", entry.ContextMap()["request_id"])
}

func TestTimerStopWithThreshold(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryAssembly, "Assemble")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)

	assert.Greater(t, elapsed, time.Duration(0))
	slow := logs.FilterLoggerName(string(CategoryPerformance)).All()
	require.Len(t, slow, 1)
	assert.Contains(t, slow[0].Message, "assembly/Assemble took")
}

func TestConcurrentGet(t *testing.T) {
	observe(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Get(CategoryAssembly).Debug("concurrent")
		}()
	}
	wg.Wait()
	assert.Same(t, Get(CategoryAssembly), Get(CategoryAssembly))
}

func TestInitialize_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defgen.log")
	require.NoError(t, Initialize(Options{Level: "debug", Format: "json", OutputPaths: []string{path}}))
	t.Cleanup(Reset)

	Catalog("loaded %d rules", 40)
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.GreaterOrEqual(t, len(lines), 2)
	assert.Contains(t, string(data), `"logger":"catalog"`)
	assert.Contains(t, string(data), "loaded 40 rules")
}

func TestInitialize_RejectsBadOptions(t *testing.T) {
	assert.Error(t, Initialize(Options{Level: "loud"}))
	assert.Error(t, Initialize(Options{Format: "xml"}))
}
