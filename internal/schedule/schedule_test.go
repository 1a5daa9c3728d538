package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Pbein/JDPBookout/internal/orchestrator"
)

func TestRunner_StopsAfterTwoConsecutiveFatalSetupErrors(t *testing.T) {
	var calls int32
	run := func() (*orchestrator.Report, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &orchestrator.FatalSetupError{Stage: "launch browser", Err: errors.New("boom")}
	}

	r, err := New("@every 20ms", run, arbor.NewLogger())
	require.NoError(t, err)
	r.Start()

	select {
	case <-r.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not self-stop after repeated fatal errors")
	}

	require.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 2)
}

func TestRunner_NonFatalErrorResetsConsecutiveCount(t *testing.T) {
	var calls int32
	run := func() (*orchestrator.Report, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 2 {
			return nil, errors.New("transient failure")
		}
		return nil, &orchestrator.FatalSetupError{Stage: "login", Err: errors.New("boom")}
	}

	r, err := New("@every 1h", run, arbor.NewLogger())
	require.NoError(t, err)

	// fatal, non-fatal, fatal: the non-fatal error in between resets the
	// counter, so the two fatal errors are never consecutive.
	r.tick()
	r.tick()
	r.tick()

	select {
	case <-r.Stopped():
		t.Fatal("runner should not have self-stopped: the fatal errors were not consecutive")
	default:
	}
}

func TestNew_RejectsInvalidCronExpression(t *testing.T) {
	_, err := New("not a cron expression", func() (*orchestrator.Report, error) { return nil, nil }, arbor.NewLogger())
	require.Error(t, err)
}
