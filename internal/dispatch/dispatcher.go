// Package dispatch executes protocol intents against the input synthesizer.
// Every transport (HTTP, WebSocket, UDP, CLI) goes through one Dispatcher so
// composite operations from different clients never interleave.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"devicesim/internal/input"
	"devicesim/internal/logging"
	"devicesim/internal/protocol"
)

// ErrPaused is returned while injection is paused from the tray or API
var ErrPaused = errors.New("injection paused")

// Synth is the subset of input.Synthesizer the dispatcher drives
type Synth interface {
	PointerButton(button input.Button, action input.Action) error
	Click(button input.Button) error
	DoubleClick(button input.Button) error
	MoveTo(x, y int32) error
	MoveBy(dx, dy int32) error
	TypeText(text string) error
	KeyPress(vk uint16) error
}

// Stats counts executed intents
type Stats struct {
	Executed uint64 `json:"executed"`
	Failed   uint64 `json:"failed"`
	Paused   bool   `json:"paused"`
}

// Dispatcher serializes intent execution
type Dispatcher struct {
	mu     sync.Mutex
	synth  Synth
	log    *zap.Logger
	paused atomic.Bool

	executed atomic.Uint64
	failed   atomic.Uint64

	cbMu       sync.RWMutex
	onExecute  func(protocol.Result)
	onPauseSet func(paused bool)
}

// New creates a Dispatcher. A nil logger uses the "dispatch" component logger.
func New(synth Synth, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.L("dispatch")
	}
	return &Dispatcher{synth: synth, log: logger}
}

// SetOnExecute sets the callback invoked with the result of every intent
func (d *Dispatcher) SetOnExecute(callback func(protocol.Result)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onExecute = callback
}

// SetOnPauseChanged sets the callback for pause state changes
func (d *Dispatcher) SetOnPauseChanged(callback func(paused bool)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onPauseSet = callback
}

// Pause stops injection until Resume is called
func (d *Dispatcher) Pause() { d.setPaused(true) }

// Resume re-enables injection
func (d *Dispatcher) Resume() { d.setPaused(false) }

// Paused reports whether injection is paused
func (d *Dispatcher) Paused() bool { return d.paused.Load() }

func (d *Dispatcher) setPaused(v bool) {
	if d.paused.Swap(v) == v {
		return
	}
	d.log.Info("injection pause changed", zap.Bool("paused", v))

	d.cbMu.RLock()
	cb := d.onPauseSet
	d.cbMu.RUnlock()
	if cb != nil {
		cb(v)
	}
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Executed: d.executed.Load(),
		Failed:   d.failed.Load(),
		Paused:   d.paused.Load(),
	}
}

// Execute validates and runs one intent. id is only used for logging and
// the result callback.
func (d *Dispatcher) Execute(id string, in protocol.Intent) error {
	err := d.execute(in)

	if err != nil {
		d.failed.Add(1)
	} else {
		d.executed.Add(1)
	}

	res := ResultFor(id, in.Op, err)
	d.cbMu.RLock()
	cb := d.onExecute
	d.cbMu.RUnlock()
	if cb != nil {
		cb(res)
	}
	return err
}

func (d *Dispatcher) execute(in protocol.Intent) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if d.paused.Load() {
		return ErrPaused
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	err := d.run(in)
	fields := []zap.Field{
		zap.String(logging.KeyOp, string(in.Op)),
		zap.Int64(logging.KeyDurationMs, time.Since(start).Milliseconds()),
	}
	if err != nil {
		d.log.Warn("intent failed", append(fields, zap.Error(err))...)
	} else {
		d.log.Debug("intent executed", fields...)
	}
	return err
}

func (d *Dispatcher) run(in protocol.Intent) error {
	switch in.Op {
	case protocol.OpMove:
		return d.synth.MoveTo(in.X, in.Y)
	case protocol.OpMoveBy:
		return d.synth.MoveBy(in.X, in.Y)
	case protocol.OpType:
		return d.synth.TypeText(in.Text)
	case protocol.OpKey:
		return d.synth.KeyPress(in.Key)
	}

	button, err := input.ParseButton(in.Button)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidIntent, err)
	}
	switch in.Op {
	case protocol.OpDown:
		return d.synth.PointerButton(button, input.ActionDown)
	case protocol.OpUp:
		return d.synth.PointerButton(button, input.ActionUp)
	case protocol.OpClick:
		return d.synth.Click(button)
	case protocol.OpDoubleClick:
		return d.synth.DoubleClick(button)
	}
	return fmt.Errorf("%w: unknown op %q", protocol.ErrInvalidIntent, in.Op)
}

// ResultFor builds the wire result for an execution outcome
func ResultFor(id string, op protocol.Op, err error) protocol.Result {
	res := protocol.Result{ID: id, Op: op, OK: err == nil}
	if err != nil {
		res.Error = err.Error()
		var rejected *input.InjectionRejectedError
		if errors.As(err, &rejected) {
			res.Code = rejected.Code
		}
	}
	return res
}

// AckStatus maps an execution outcome to a UDP ack status and host code
func AckStatus(err error) (uint8, int32) {
	var rejected *input.InjectionRejectedError
	switch {
	case err == nil:
		return protocol.AckOK, 0
	case errors.As(err, &rejected):
		return protocol.AckRejected, rejected.Code
	case errors.Is(err, ErrPaused):
		return protocol.AckPaused, 0
	case errors.Is(err, protocol.ErrInvalidIntent), errors.Is(err, input.ErrUnknownButton):
		return protocol.AckInvalid, 0
	default:
		return protocol.AckFailed, 0
	}
}
