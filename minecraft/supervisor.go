package minecraft

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcpanel/logging"
)

// State is the lifecycle state of the supervised server process
type State string

const (
	StateNotRunning State = "NotRunning"
	StateStarting   State = "Starting"
	StateRunning    State = "Running"
	StateStopping   State = "Stopping"
	StateKilled     State = "Killed"
)

// EventType identifies what an Event carries
type EventType string

const (
	EventOutput     EventType = "output"
	EventStarted    EventType = "started"
	EventStopped    EventType = "stopped"
	EventFailed     EventType = "failed"
	EventError      EventType = "error"
	EventState      EventType = "state"
	EventPlugins    EventType = "plugins"
	EventWhitelist  EventType = "whitelist"
	EventProperties EventType = "properties"
)

// Event is published to every console subscriber
type Event struct {
	Type     EventType `json:"type"`
	Line     string    `json:"line,omitempty"`
	Error    string    `json:"error,omitempty"`
	State    State     `json:"state,omitempty"`
	ExitCode *int      `json:"exitCode,omitempty"`
	Time     time.Time `json:"time"`
}

var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server is not running")
)

const (
	defaultStopTimeout = 10 * time.Second
	defaultStopCommand = "stop"
	maxLogBuffer       = 500
	subscriberBuffer   = 1000

	// longer console lines are cut, the rest of the line is discarded
	maxConsoleLine = 1024 * 1024
	// how long output may stay open after the process exited
	outputDrainDelay = 2 * time.Second
)

// LaunchSpec describes the child process to run
type LaunchSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (l LaunchSpec) String() string {
	return strings.TrimSpace(l.Path + " " + strings.Join(l.Args, " "))
}

// SupervisorOptions tunes a Supervisor. Zero values fall back to defaults.
type SupervisorOptions struct {
	StopTimeout time.Duration
	StopCommand string
	Filters     []LineFilter
	BacklogSize int
	Metrics     *Metrics
	Logger      *zerolog.Logger
}

// Supervisor runs one server process at a time, bridges its console to
// subscribers and escalates a polite stop to a kill after StopTimeout.
type Supervisor struct {
	opts    SupervisorOptions
	log     *zerolog.Logger
	metrics *Metrics

	mu        sync.Mutex
	state     State
	gen       uint64
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	pid       int
	ready     bool
	startedAt time.Time
	stopTimer *time.Timer
	done      chan struct{}

	// serializes writes to stdin without holding mu across a blocking write
	writeMu sync.Mutex

	busMu       sync.Mutex
	backlog     []Event
	subscribers []chan Event
}

// ProcessStatus is a snapshot of the supervisor state
type ProcessStatus struct {
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Ready     bool      `json:"ready"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.StopCommand == "" {
		opts.StopCommand = defaultStopCommand
	}
	if opts.BacklogSize <= 0 {
		opts.BacklogSize = maxLogBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetSubsystemLogger("supervisor")
	}
	return &Supervisor{
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		state:   StateNotRunning,
	}
}

// Start launches the process. It fails fast unless the supervisor is idle.
func (s *Supervisor) Start(spec LaunchSpec) error {
	s.mu.Lock()
	if s.state != StateNotRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state: %s)", ErrAlreadyRunning, state)
	}
	s.state = StateStarting
	s.gen++
	gen := s.gen
	s.done = nil
	s.mu.Unlock()

	s.Publish(Event{Type: EventState, State: StateStarting})

	cmd, stdin, out, err := launch(spec)
	if err != nil {
		s.mu.Lock()
		s.state = StateNotRunning
		s.mu.Unlock()

		s.log.Error().Err(err).Str("command", spec.String()).Msg("failed to start server")
		s.Publish(Event{Type: EventFailed, Error: fmt.Sprintf("Failed to start server: %v", err)})
		s.Publish(Event{Type: EventState, State: StateNotRunning})
		return fmt.Errorf("failed to start server: %w", err)
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.pid = cmd.Process.Pid
	s.state = StateRunning
	s.ready = false
	s.startedAt = time.Now()
	s.done = done
	s.mu.Unlock()

	s.busMu.Lock()
	s.backlog = nil
	s.busMu.Unlock()

	s.log.Info().Int("pid", cmd.Process.Pid).Str("dir", spec.Dir).Str("command", spec.String()).Msg("server starting")
	s.metrics.setUp(true)
	s.Publish(Event{Type: EventStarted, State: StateRunning})

	go s.readOutput(gen, cmd, out, done)
	return nil
}

// launch starts the child with stdin piped and stderr folded into stdout so a
// single reader sees the console in order.
func launch(spec LaunchSpec) (*exec.Cmd, io.WriteCloser, *os.File, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, nil, nil, errors.New("launch command is empty")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	setProcessGroup(cmd)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, nil, nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, nil, nil, err
	}
	// the child holds its own copy; ours must go so EOF arrives on exit
	w.Close()

	return cmd, stdin, r, nil
}

func (s *Supervisor) readOutput(gen uint64, cmd *exec.Cmd, out *os.File, done chan struct{}) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if err := readConsole(out, s.handleLine); err != nil && !errors.Is(err, os.ErrClosed) {
			s.log.Warn().Err(err).Msg("console reader stopped")
		}
	}()

	waitErr := cmd.Wait()

	// leftover children can keep the output pipe open after the server exits
	select {
	case <-drained:
	case <-time.After(outputDrainDelay):
		s.log.Warn().Int("pid", cmd.Process.Pid).Msg("console still open after exit, killing process group")
		_ = killProcessGroup(cmd.Process)
		out.Close()
		<-drained
	}
	out.Close()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	prev := s.state
	if s.gen == gen {
		s.state = StateNotRunning
		s.cmd = nil
		s.stdin = nil
		s.pid = 0
		s.ready = false
		s.startedAt = time.Time{}
		if s.stopTimer != nil {
			s.stopTimer.Stop()
			s.stopTimer = nil
		}
	}
	s.mu.Unlock()
	close(done)

	switch {
	case prev == StateKilled:
		s.log.Warn().Int("exitCode", exitCode).Msg("server killed")
	case waitErr != nil && prev != StateStopping:
		s.log.Error().Err(waitErr).Int("exitCode", exitCode).Msg("server exited unexpectedly")
	default:
		s.log.Info().Int("exitCode", exitCode).Msg("server stopped")
	}

	s.metrics.setUp(false)
	s.Publish(Event{Type: EventStopped, State: StateNotRunning, ExitCode: &exitCode})
}

// readConsole calls emit for every line until r is exhausted. Lines longer
// than maxConsoleLine are truncated instead of ending the stream.
func readConsole(r io.Reader, emit func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	line := make([]byte, 0, 4096)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				emit(strings.TrimRight(string(line), " \r"))
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if room := maxConsoleLine - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if isPrefix {
			continue
		}
		emit(strings.TrimRight(string(line), " \r"))
		line = line[:0]
	}
}

func (s *Supervisor) handleLine(line string) {
	clean := cleanConsoleLine(line)

	if isReadyBanner(clean) {
		s.mu.Lock()
		first := !s.ready
		s.ready = true
		s.mu.Unlock()
		if first {
			s.log.Info().Msg("server is now running")
		}
	}

	for _, filter := range s.opts.Filters {
		if filter(clean) {
			return
		}
	}

	s.metrics.consoleLine()
	s.Publish(Event{Type: EventOutput, Line: line})
}

// Stop sends the stop command and arms the kill timer
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state: %s)", ErrNotRunning, state)
	}
	s.state = StateStopping
	gen := s.gen
	stdin := s.stdin
	timeout := s.opts.StopTimeout
	s.stopTimer = time.AfterFunc(timeout, func() {
		s.forceKill(gen, "stop timeout elapsed")
	})
	s.mu.Unlock()

	s.Publish(Event{Type: EventState, State: StateStopping})
	s.log.Info().Dur("timeout", timeout).Msg("stopping server")

	if err := s.write(stdin, s.opts.StopCommand); err != nil {
		s.log.Warn().Err(err).Msg("failed to send stop command")
		s.Publish(Event{Type: EventError, Error: fmt.Sprintf("Error sending command: %v", err)})
	}
	return nil
}

// SetStopTimeout changes the grace period used by the next Stop
func (s *Supervisor) SetStopTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultStopTimeout
	}
	s.mu.Lock()
	s.opts.StopTimeout = d
	s.mu.Unlock()
}

// Kill terminates the current process immediately
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	state := s.state
	gen := s.gen
	s.mu.Unlock()

	if state == StateNotRunning {
		return fmt.Errorf("%w (state: %s)", ErrNotRunning, state)
	}
	s.forceKill(gen, "kill requested")
	return nil
}

// forceKill only touches the process lifetime identified by gen and takes the
// whole process group down with it. Kill errors are dropped: the process is
// usually already gone.
func (s *Supervisor) forceKill(gen uint64, reason string) {
	s.mu.Lock()
	if s.gen != gen || s.cmd == nil || (s.state != StateRunning && s.state != StateStopping) {
		s.mu.Unlock()
		return
	}
	s.state = StateKilled
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	proc := s.cmd.Process
	s.mu.Unlock()

	s.log.Warn().Str("reason", reason).Msg("killing server process")
	s.metrics.forcedKill()
	s.Publish(Event{Type: EventState, State: StateKilled})

	if proc != nil {
		_ = killProcessGroup(proc)
	}
}

// StopAndWait stops the server and blocks until it has exited. When ctx ends
// first the process is killed.
func (s *Supervisor) StopAndWait(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	done := s.done
	s.mu.Unlock()

	if state == StateNotRunning || done == nil {
		return nil
	}
	if state == StateRunning {
		if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_ = s.Kill()
		return ctx.Err()
	}
}

// SendCommand writes one console line to the process
func (s *Supervisor) SendCommand(command string) error {
	s.mu.Lock()
	stdin := s.stdin
	state := s.state
	s.mu.Unlock()

	if stdin == nil || (state != StateRunning && state != StateStopping) {
		return fmt.Errorf("%w (state: %s)", ErrNotRunning, state)
	}

	if err := s.write(stdin, command); err != nil {
		s.Publish(Event{Type: EventError, Error: fmt.Sprintf("Error sending command: %v", err)})
		return fmt.Errorf("failed to send command: %w", err)
	}
	s.metrics.command()
	return nil
}

func (s *Supervisor) write(stdin io.Writer, command string) error {
	if stdin == nil {
		return ErrNotRunning
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(stdin, command+"\n")
	return err
}

// Subscribe returns a channel that first receives the console backlog and then
// live events, plus an unsubscribe function. Slow subscribers lose events.
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.busMu.Lock()
	for _, ev := range s.backlog {
		select {
		case ch <- ev:
		default:
		}
	}
	s.subscribers = append(s.subscribers, ch)
	s.busMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.busMu.Lock()
			defer s.busMu.Unlock()
			for i, sub := range s.subscribers {
				if sub == ch {
					s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish fans an event out to subscribers; console lines are also kept in
// the backlog.
func (s *Supervisor) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.busMu.Lock()
	defer s.busMu.Unlock()

	if ev.Type == EventOutput {
		s.backlog = append(s.backlog, ev)
		if len(s.backlog) > s.opts.BacklogSize {
			drop := s.opts.BacklogSize / 5
			if drop < 1 {
				drop = 1
			}
			s.backlog = s.backlog[drop:]
		}
	}

	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Backlog returns the buffered console lines
func (s *Supervisor) Backlog() []string {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	lines := make([]string, 0, len(s.backlog))
	for _, ev := range s.backlog {
		lines = append(lines, ev.Line)
	}
	return lines
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Done returns a channel closed when the current process exits, or nil when
// nothing has been started.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Supervisor) Status() ProcessStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ProcessStatus{
		State:     s.state,
		PID:       s.pid,
		Ready:     s.ready,
		StartedAt: s.startedAt,
	}
	if !s.startedAt.IsZero() {
		st.Uptime = formatUptime(time.Since(s.startedAt))
	}
	return st
}

func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
