package minecraft

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpanel/logging"
)

// exits cleanly once it reads "stop", echoing everything else
const echoUntilStop = `while read line; do
  echo "got $line"
  if [ "$line" = "stop" ]; then exit 0; fi
done`

const eventTimeout = 5 * time.Second

func shellSpec(script string) LaunchSpec {
	return LaunchSpec{Path: "/bin/sh", Args: []string{"-c", script}}
}

func newTestSupervisor(t *testing.T, opts SupervisorOptions) *Supervisor {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	s := NewSupervisor(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		_ = s.StopAndWait(ctx)
	})
	return s
}

func waitForEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func isType(typ EventType) func(Event) bool {
	return func(ev Event) bool { return ev.Type == typ }
}

func isLine(line string) func(Event) bool {
	return func(ev Event) bool { return ev.Type == EventOutput && ev.Line == line }
}

func isState(state State) func(Event) bool {
	return func(ev Event) bool { return ev.Type == EventState && ev.State == state }
}

func TestSupervisorStreamsMergedOutput(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Start(shellSpec(`echo hello; echo world >&2; exit 3`)))

	waitForEvent(t, events, isType(EventStarted))
	waitForEvent(t, events, isLine("hello"))
	waitForEvent(t, events, isLine("world"))
	stopped := waitForEvent(t, events, isType(EventStopped))

	require.NotNil(t, stopped.ExitCode)
	assert.Equal(t, 3, *stopped.ExitCode)
	assert.Equal(t, StateNotRunning, s.State())
	assert.Equal(t, 0, s.PID())
	assert.Equal(t, []string{"hello", "world"}, s.Backlog())
}

func TestSupervisorCommandRoundTripAndStop(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Start(shellSpec(echoUntilStop)))
	assert.Equal(t, StateRunning, s.State())
	assert.NotZero(t, s.PID())

	require.NoError(t, s.SendCommand("say hi"))
	waitForEvent(t, events, isLine("got say hi"))

	require.NoError(t, s.Stop())
	waitForEvent(t, events, isState(StateStopping))
	waitForEvent(t, events, isLine("got stop"))
	stopped := waitForEvent(t, events, isType(EventStopped))

	require.NotNil(t, stopped.ExitCode)
	assert.Equal(t, 0, *stopped.ExitCode)
	assert.Equal(t, StateNotRunning, s.State())
}

func TestSupervisorStopTimeoutForcesKill(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{StopTimeout: 200 * time.Millisecond})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Start(shellSpec(`while read line; do echo "ignored $line"; done`)))
	require.NoError(t, s.Stop())

	waitForEvent(t, events, isLine("ignored stop"))
	waitForEvent(t, events, isState(StateKilled))
	stopped := waitForEvent(t, events, isType(EventStopped))

	require.NotNil(t, stopped.ExitCode)
	assert.Equal(t, -1, *stopped.ExitCode)
	assert.Equal(t, StateNotRunning, s.State())
}

func TestSupervisorSendCommandWriteFailure(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	r, w := io.Pipe()
	require.NoError(t, r.Close())

	s.mu.Lock()
	s.state = StateRunning
	s.stdin = w
	s.mu.Unlock()
	t.Cleanup(func() {
		s.mu.Lock()
		s.state = StateNotRunning
		s.stdin = nil
		s.mu.Unlock()
	})

	err := s.SendCommand("list")
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Contains(t, err.Error(), "failed to send command")

	ev := waitForEvent(t, events, isType(EventError))
	assert.Contains(t, ev.Error, "Error sending command")
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisorSurvivesOversizedLine(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	script := `head -c 2097152 /dev/zero | tr '\0' a; echo; echo after
` + echoUntilStop
	require.NoError(t, s.Start(shellSpec(script)))

	long := waitForEvent(t, events, func(ev Event) bool {
		return ev.Type == EventOutput && strings.HasPrefix(ev.Line, "aaaa")
	})
	assert.Len(t, long.Line, maxConsoleLine)
	waitForEvent(t, events, isLine("after"))

	require.NoError(t, s.SendCommand("list"))
	waitForEvent(t, events, isLine("got list"))
	assert.Equal(t, StateRunning, s.State())
}

func TestReadConsole(t *testing.T) {
	input := "one\r\ntwo  \n" + strings.Repeat("x", maxConsoleLine+100) + "\nlast"
	var lines []string
	require.NoError(t, readConsole(strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	}))

	require.Len(t, lines, 4)
	assert.Equal(t, "one", lines[0])
	assert.Equal(t, "two", lines[1])
	assert.Equal(t, strings.Repeat("x", maxConsoleLine), lines[2])
	assert.Equal(t, "last", lines[3])
}

func TestSupervisorStartWhileRunningFails(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})

	require.NoError(t, s.Start(shellSpec(echoUntilStop)))
	err := s.Start(shellSpec(echoUntilStop))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisorLaunchFailure(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	err := s.Start(LaunchSpec{Path: "/nonexistent/java", Args: []string{"-jar", "server.jar"}})
	require.Error(t, err)

	failed := waitForEvent(t, events, isType(EventFailed))
	assert.Contains(t, failed.Error, "Failed to start server")
	waitForEvent(t, events, isState(StateNotRunning))
	assert.Equal(t, StateNotRunning, s.State())
	assert.Nil(t, s.Done())
}

func TestSupervisorNotRunningErrors(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})

	assert.ErrorIs(t, s.SendCommand("list"), ErrNotRunning)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.ErrorIs(t, s.Kill(), ErrNotRunning)
	assert.NoError(t, s.StopAndWait(context.Background()))
}

func TestSupervisorHidesBanEcho(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{Filters: DefaultFilters()})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	script := `echo "[12:00:01] [Server thread/INFO]: Steve issued server command: /ban Alex griefing"
echo "[12:00:02] [Server thread/INFO]: Banned Alex: griefing"`
	require.NoError(t, s.Start(shellSpec(script)))

	var lines []string
	waitForEvent(t, events, func(ev Event) bool {
		if ev.Type == EventOutput {
			lines = append(lines, ev.Line)
		}
		return ev.Type == EventStopped
	})

	assert.Equal(t, []string{"[12:00:02] [Server thread/INFO]: Banned Alex: griefing"}, lines)
	assert.Equal(t, lines, s.Backlog())
}

func TestSupervisorDetectsReadyBanner(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	banner := `[12:00:00] [Server thread/INFO]: Done (3.214s)! For help, type "help"`
	require.NoError(t, s.Start(shellSpec(`echo '`+banner+`'; `+echoUntilStop)))

	waitForEvent(t, events, isLine(banner))
	st := s.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, StateRunning, st.State)
	assert.NotEmpty(t, st.Uptime)
}

func TestSupervisorStaleKillIsIgnored(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	require.NoError(t, s.Start(shellSpec(echoUntilStop)))

	s.mu.Lock()
	stale := s.gen - 1
	s.mu.Unlock()

	s.forceKill(stale, "stale timer")
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisorStopAndWaitKillsOnDeadline(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{StopTimeout: time.Minute})
	require.NoError(t, s.Start(shellSpec(`while read line; do :; done`)))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := s.StopAndWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-s.Done():
	case <-time.After(eventTimeout):
		t.Fatal("process was not killed")
	}
}

func TestSupervisorRestartAfterExit(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Start(shellSpec(`echo first`)))
	waitForEvent(t, events, isType(EventStopped))

	require.NoError(t, s.Start(shellSpec(`echo second`)))
	waitForEvent(t, events, isLine("second"))
	waitForEvent(t, events, isType(EventStopped))

	// the backlog belongs to the latest lifetime
	assert.Equal(t, []string{"second"}, s.Backlog())
}

func TestSupervisorBacklogTrim(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{BacklogSize: 10})
	for i := 0; i < 11; i++ {
		s.Publish(Event{Type: EventOutput, Line: fmt.Sprintf("line %d", i)})
	}
	s.Publish(Event{Type: EventPlugins})

	backlog := s.Backlog()
	require.Len(t, backlog, 9)
	assert.Equal(t, "line 2", backlog[0])
	assert.Equal(t, "line 10", backlog[8])
}

func TestSubscribeReplaysBacklogAndUnsubscribeCloses(t *testing.T) {
	s := newTestSupervisor(t, SupervisorOptions{})
	s.Publish(Event{Type: EventOutput, Line: "old"})

	events, unsubscribe := s.Subscribe()
	ev := waitForEvent(t, events, isType(EventOutput))
	assert.Equal(t, "old", ev.Line)

	unsubscribe()
	unsubscribe()
	_, ok := <-events
	assert.False(t, ok)
}
