// Package controller implements the recorder's state machine (spec.md
// §4.1): it turns command strings into Handler.Transition calls, enforces
// the legality table, and publishes status after each transition's side
// effects complete.
//
// Grounded on the teacher's task.Manager (firestige-Otus/internal/task/
// manager.go), whose phased, mutex-guarded Create()/lifecycle shape is
// generalized here from "manage one capture task" to "drive one state
// machine from an external command stream".
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/otusdds/recorder/internal/handler"
	"github.com/otusdds/recorder/internal/model"
	"github.com/otusdds/recorder/internal/rerr"
)

// Command is one of the verbs of spec.md §4.1.
type Command int

const (
	CmdUnknown Command = iota
	CmdStart
	CmdPause
	CmdSuspend
	CmdStop
	CmdEvent
	CmdClose
)

// ParseCommand implements spec.md §4.7's case-insensitive command parsing.
func ParseCommand(s string) Command {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return CmdStart
	case "pause":
		return CmdPause
	case "suspend":
		return CmdSuspend
	case "stop":
		return CmdStop
	case "event":
		return CmdEvent
	case "close":
		return CmdClose
	default:
		return CmdUnknown
	}
}

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdPause:
		return "pause"
	case CmdSuspend:
		return "suspend"
	case CmdStop:
		return "stop"
	case CmdEvent:
		return "event"
	case CmdClose:
		return "close"
	default:
		return "unknown"
	}
}

// Status is published after every successful transition (spec.md §6
// status topic schema).
type Status struct {
	Current  string
	Previous string
	Info     string
}

// Publisher is the control-plane egress collaborator (spec.md §4.7);
// internal/command implements it over UDS and Kafka.
type Publisher interface {
	Publish(Status)
}

// legalTargets enumerates, for each (from-state, command) pair, the
// resulting state. Commands absent for a state are illegal there and are
// logged and ignored per spec.md §4.1's rejection rule. This table is an
// implementation choice filling in what the ASCII diagram and the
// transition-effect table of spec.md §4.1/§4.3 leave implicit about which
// command reaches SUSPENDED<->PAUSED; recorded as an Open Question
// decision.
var legalTargets = map[model.State]map[Command]model.State{
	model.StateStopped: {
		CmdStart: model.StateRunning,
	},
	model.StateRunning: {
		CmdPause:   model.StatePaused,
		CmdSuspend: model.StateSuspended,
		CmdStop:    model.StateStopped,
	},
	model.StatePaused: {
		CmdStart:   model.StateRunning,
		CmdSuspend: model.StateSuspended,
		CmdStop:    model.StateStopped,
	},
	model.StateSuspended: {
		CmdStart: model.StateRunning,
		CmdPause: model.StatePaused,
		CmdStop:  model.StateStopped,
	},
}

// Controller drives one Handler's lifecycle from a stream of commands.
type Controller struct {
	mu        sync.Mutex
	h         *handler.Handler
	log       *logrus.Entry
	publisher Publisher
	closed    bool
}

// New constructs a Controller over h. It applies no initial state; call
// Bootstrap for spec.md §4.1's "Initial command resolution".
func New(h *handler.Handler, publisher Publisher, log *logrus.Entry) *Controller {
	return &Controller{h: h, publisher: publisher, log: log}
}

// Bootstrap applies spec.md §4.1's initial-state resolution.
func (c *Controller) Bootstrap(ctx context.Context, initialState model.State) error {
	switch initialState {
	case model.StateRunning:
		return c.apply(ctx, CmdStart)
	case model.StatePaused:
		return c.applyDirect(ctx, model.StatePaused, "initial-state")
	default:
		return nil // STOPPED: wait for the first remote command
	}
}

// Dispatch parses and applies a raw command string plus optional args
// (spec.md §4.7). next_state is honored only for "event".
func (c *Controller) Dispatch(ctx context.Context, raw string, args map[string]any) error {
	cmd := ParseCommand(raw)
	if cmd == CmdUnknown {
		c.log.WithField("command", raw).Warn("unknown command, ignoring")
		return fmt.Errorf("%w: unknown command %q", rerr.ErrCommand, raw)
	}

	if cmd == CmdClose {
		return c.close(ctx)
	}
	if cmd == CmdEvent {
		return c.event(ctx, args)
	}
	return c.apply(ctx, cmd)
}

func (c *Controller) apply(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: recorder is closed", rerr.ErrCommand)
	}

	from := c.h.State()
	targets, ok := legalTargets[from]
	if !ok {
		return c.reject(from, cmd)
	}
	target, ok := targets[cmd]
	if !ok {
		return c.reject(from, cmd)
	}

	prev, err := c.h.Transition(ctx, target)
	if err != nil {
		c.log.WithError(err).WithField("command", cmd).Error("transition failed")
		return err
	}
	c.publish(prev, target, "")
	return nil
}

// applyDirect is used only by Bootstrap, which synthesizes a transition
// straight to a target state rather than going through the command table
// (there is no "pause" command legal from STOPPED).
func (c *Controller) applyDirect(ctx context.Context, target model.State, info string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, err := c.h.Transition(ctx, target)
	if err != nil {
		return err
	}
	c.publish(prev, target, info)
	return nil
}

func (c *Controller) event(ctx context.Context, args map[string]any) error {
	c.mu.Lock()
	from := c.h.State()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return fmt.Errorf("%w: recorder is closed", rerr.ErrCommand)
	}
	if from != model.StatePaused {
		c.log.WithField("state", from).Warn("event command ignored: not PAUSED")
		return fmt.Errorf("%w: event illegal in state %s", rerr.ErrCommand, from)
	}

	c.h.TriggerEvent(ctx)

	next, _ := args["next_state"].(string)
	switch strings.ToUpper(next) {
	case "RUNNING":
		return c.apply(ctx, CmdStart)
	case "STOPPED":
		return c.apply(ctx, CmdStop)
	default:
		c.publish(model.StatePaused, model.StatePaused, "event triggered")
		return nil
	}
}

func (c *Controller) close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	from := c.h.State()
	c.mu.Unlock()

	var prev model.State
	var err error
	if from == model.StateStopped {
		prev = from
	} else {
		prev, err = c.h.Transition(ctx, model.StateStopped)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.publish(prev, model.StateClosed, "")
	return nil
}

func (c *Controller) reject(from model.State, cmd Command) error {
	c.log.WithField("state", from).WithField("command", cmd).Warn("command illegal in current state, ignoring")
	return fmt.Errorf("%w: %s illegal in state %s", rerr.ErrCommand, cmd, from)
}

func (c *Controller) publish(prev, cur model.State, info string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(Status{Current: cur.String(), Previous: prev.String(), Info: info})
}
