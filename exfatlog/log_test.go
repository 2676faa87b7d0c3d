package exfatlog_test

import (
	"testing"

	"github.com/go-exfat/exfatcore/exfatlog"
	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	bugs, errors, warns, debugs []string
}

func (s *recordingSink) Bug(m string)   { s.bugs = append(s.bugs, m) }
func (s *recordingSink) Error(m string) { s.errors = append(s.errors, m) }
func (s *recordingSink) Warn(m string)  { s.warns = append(s.warns, m) }
func (s *recordingSink) Debug(m string) { s.debugs = append(s.debugs, m) }

func TestBugLogsThenCallsOnBug(t *testing.T) {
	sink := &recordingSink{}
	exfatlog.SetSink(sink)
	defer exfatlog.SetSink(nil)

	called := false
	prevOnBug := exfatlog.OnBug
	exfatlog.OnBug = func() { called = true }
	defer func() { exfatlog.OnBug = prevOnBug }()

	exfatlog.Bug("reference counter of %q is below zero", "a.txt")

	assert.True(t, called, "OnBug hook was not invoked")
	assert.Equal(t, []string{`reference counter of "a.txt" is below zero`}, sink.bugs)
}

func TestLevelsRouteToMatchingSinkMethod(t *testing.T) {
	sink := &recordingSink{}
	exfatlog.SetSink(sink)
	defer exfatlog.SetSink(nil)

	exfatlog.Error("no free space left")
	exfatlog.Warn("non-zero reference counter (%d) for %q", 2, "b.txt")
	exfatlog.Debug("allocated cluster %d", 5)

	assert.Equal(t, []string{"no free space left"}, sink.errors)
	assert.Equal(t, []string{`non-zero reference counter (2) for "b.txt"`}, sink.warns)
	assert.Equal(t, []string{"allocated cluster 5"}, sink.debugs)
	assert.Empty(t, sink.bugs)
}
