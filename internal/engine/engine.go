// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/oakmont/ccproxy/internal/cli"
	"github.com/oakmont/ccproxy/internal/events"
	"github.com/oakmont/ccproxy/internal/session"
)

// ErrCancelled is returned when the client went away before or during
// a run. Never surfaced to the client as an error; the connection is
// already gone.
var ErrCancelled = errors.New("client cancelled")

// StopResponseText is the canned assistant reply to /stop.
const StopResponseText = "Stopped."

// Options holds engine settings.
type Options struct {
	// DefaultModel is used when the request model normalizes to "".
	DefaultModel string
}

// Engine orchestrates per-request runs. All shared state (registry,
// active-run table, queue tails) hangs off this value; handlers receive
// it explicitly rather than reaching for globals.
type Engine struct {
	opts     Options
	registry *session.Registry
	aliases  *session.AliasMap
	queue    *session.Queue
	runner   *cli.Runner
	store    *cli.Store
	bus      events.EventBus

	mu     sync.Mutex
	active map[string]*ActiveRun
}

// ActiveRun tracks the single running child for a session key.
type ActiveRun struct {
	Child     *cli.Child
	RequestID string
	Priority  bool
	Sender    string
}

// New wires an engine.
func New(opts Options, registry *session.Registry, aliases *session.AliasMap, queue *session.Queue, runner *cli.Runner, store *cli.Store, bus events.EventBus) *Engine {
	return &Engine{
		opts:     opts,
		registry: registry,
		aliases:  aliases,
		queue:    queue,
		runner:   runner,
		store:    store,
		bus:      bus,
		active:   make(map[string]*ActiveRun),
	}
}

// TurnRequest is one resolved client request, ready to run.
type TurnRequest struct {
	RequestID   string
	KeyOverride string // x-session-key header
	Regenerate  bool   // x-regenerate header
	Stream      bool
	Model       string // as sent by the client

	SystemText string // flattened system prompt, gateway tags stripped
	Prompt     string // last user text, tags stripped, image paths appended
	TempDir    string // holds extracted images; removed when the run ends
}

// Resolution is the session placement for a request.
type Resolution struct {
	Key      string
	UUID     string
	Identity string
	Resume   bool
	Migrated bool
}

// IsStopCommand reports whether the prompt is the /stop pseudo-command.
func IsStopCommand(prompt string) bool {
	return strings.TrimSpace(prompt) == "/stop"
}

// Resolve derives the session key and CLI session UUID for a request:
// exact registry match, else identity migration, else a fresh
// deterministic UUID. An on-disk session file under the computed UUID
// means resume even when the registry is empty (proxy restart).
func (e *Engine) Resolve(req TurnRequest) Resolution {
	identity := e.aliases.Canonical(session.ExtractIdentity(req.Prompt, req.SystemText))
	key := req.KeyOverride
	if key == "" {
		key = session.Key(req.SystemText, identity)
	}

	if rec, ok := e.registry.Lookup(key); ok {
		return Resolution{Key: key, UUID: rec.UUID, Identity: identity, Resume: e.store.Exists(rec.UUID)}
	}
	if rec, ok := e.registry.Migrate(key, identity); ok {
		e.publish(events.EventSessionMigrated, key, map[string]interface{}{"identity": identity})
		return Resolution{Key: key, UUID: rec.UUID, Identity: identity, Resume: e.store.Exists(rec.UUID), Migrated: true}
	}

	uuid := session.DeriveUUID(key)
	return Resolution{Key: key, UUID: uuid, Identity: identity, Resume: e.store.Exists(uuid)}
}

// Stop kills the active run for a key, if any. The /stop path: no
// spawn, no queue join.
func (e *Engine) Stop(key string) bool {
	e.mu.Lock()
	run := e.active[key]
	e.mu.Unlock()
	if run == nil {
		return false
	}
	run.Child.Kill()
	e.publish(events.EventRunStopped, key, map[string]interface{}{"request_id": run.RequestID})
	return true
}

// ActiveRuns returns the number of currently running children.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// RunStream executes a streaming turn, emitting the SSE timeline to
// sink. Client disconnects (ctx cancellation) kill the child and stop
// all emission.
func (e *Engine) RunStream(ctx context.Context, req TurnRequest, sink Sink) error {
	rc, err := e.prepare(ctx, req)
	if err != nil {
		return err
	}

	tr := NewTranslator(sink, rc.child, e.bus, req.RequestID, req.Model, rc.res.Key)

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rc.child.Kill()
		case <-watchDone:
		}
	}()

	for ev := range rc.child.Events() {
		if ctx.Err() != nil {
			continue // drain so the child can exit, emit nothing
		}
		tr.Feed(ev)
	}
	<-rc.child.Done()
	close(watchDone)

	cancelled := ctx.Err() != nil
	if !cancelled {
		tr.Finish()
	}
	success := !cancelled && !tr.Errored() && (rc.child.ExitCode() == 0 || tr.SawResult())
	e.finish(rc, success, cancelled)
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// RunJSON executes a non-streaming turn and returns the response. A
// CLI that exits non-zero but prints parseable output is a success:
// quota and credit conditions are reported that way.
func (e *Engine) RunJSON(ctx context.Context, req TurnRequest) (*MessagesResponse, error) {
	rc, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	col := NewCollector()

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rc.child.Kill()
		case <-watchDone:
		}
	}()

	for ev := range rc.child.Events() {
		col.Feed(ev)
	}
	<-rc.child.Done()
	close(watchDone)

	if ctx.Err() != nil {
		e.finish(rc, false, true)
		return nil, ErrCancelled
	}

	resp, rerr := col.Response(req.RequestID, req.Model)
	success := rerr == nil && (rc.child.ExitCode() == 0 || col.SawResult())
	e.finish(rc, success, false)
	if rerr != nil {
		return nil, rerr
	}
	return resp, nil
}

type runContext struct {
	req    TurnRequest
	res    Resolution
	child  *cli.Child
	ticket *session.Ticket
}

// prepare performs session resolution, the regenerate fork, queue
// entry, preemption, and the spawn. On error all claimed resources are
// released.
func (e *Engine) prepare(ctx context.Context, req TurnRequest) (*runContext, error) {
	res := e.Resolve(req)

	if req.Regenerate && e.store.Exists(res.UUID) {
		forkUUID, err := e.store.Fork(res.UUID)
		if err != nil {
			log.Printf("engine: fork of session %s failed, resuming original: %v", res.UUID, err)
		} else {
			e.registry.Record(res.Key, forkUUID, res.Identity)
			e.publish(events.EventSessionForked, res.Key, map[string]interface{}{
				"from": res.UUID,
				"to":   forkUUID,
			})
			res.UUID = forkUUID
			res.Resume = true
		}
	}

	ticket := e.queue.Join(res.Key)

	// A regenerate request preempts the active run after taking its
	// place at the tail. Implicit preemption by ordinary requests is
	// forbidden: it would drop in-flight assistant work.
	if req.Regenerate {
		e.mu.Lock()
		run := e.active[res.Key]
		e.mu.Unlock()
		if run != nil {
			run.Child.Kill()
			e.publish(events.EventRunPreempted, res.Key, map[string]interface{}{
				"preempted_request": run.RequestID,
				"by_request":        req.RequestID,
			})
		}
	}

	if err := ticket.Wait(ctx); err != nil {
		// Disconnected while queued: resolve the future so the queue
		// cannot deadlock, and release resources.
		ticket.Release()
		removeTempDir(req.TempDir)
		e.publish(events.EventRunCancelled, res.Key, map[string]interface{}{"request_id": req.RequestID, "queued": true})
		return nil, ErrCancelled
	}

	child, err := e.runner.Spawn(ctx, cli.SpawnOpts{
		SessionUUID:        res.UUID,
		Resume:             res.Resume,
		Stream:             req.Stream,
		Model:              e.model(req.Model),
		SystemPrompt:       req.SystemText,
		AppendSystemPrompt: resumeFragment(req.SystemText),
		Prompt:             req.Prompt,
	})
	if err != nil {
		ticket.Release()
		removeTempDir(req.TempDir)
		// Leave no stale state behind a failed spawn.
		e.registry.Delete(res.Key)
		e.publish(events.EventRunFailed, res.Key, map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	if child.StartedFresh {
		res.Resume = false
	}

	e.mu.Lock()
	e.active[res.Key] = &ActiveRun{
		Child:     child,
		RequestID: req.RequestID,
		Priority:  req.Regenerate,
		Sender:    res.Identity,
	}
	e.mu.Unlock()

	e.publish(events.EventRunStarted, res.Key, map[string]interface{}{
		"request_id": req.RequestID,
		"uuid":       res.UUID,
		"resume":     res.Resume,
		"stream":     req.Stream,
	})

	return &runContext{req: req, res: res, child: child, ticket: ticket}, nil
}

// finish releases the run's resources exactly once per run: the
// active-run slot, the queue tail, the temp image dir, and on success
// the registry record.
func (e *Engine) finish(rc *runContext, success, cancelled bool) {
	e.mu.Lock()
	if run, ok := e.active[rc.res.Key]; ok && run.Child == rc.child {
		delete(e.active, rc.res.Key)
	}
	e.mu.Unlock()

	rc.ticket.Release()
	removeTempDir(rc.req.TempDir)

	if success {
		e.registry.Record(rc.res.Key, rc.res.UUID, rc.res.Identity)
		if rc.res.Resume {
			e.publish(events.EventSessionResumed, rc.res.Key, nil)
		} else {
			e.publish(events.EventSessionCreated, rc.res.Key, map[string]interface{}{"uuid": rc.res.UUID})
		}
	}

	switch {
	case cancelled:
		e.publish(events.EventRunCancelled, rc.res.Key, map[string]interface{}{"request_id": rc.req.RequestID})
	case success:
		e.publish(events.EventRunFinished, rc.res.Key, map[string]interface{}{"request_id": rc.req.RequestID})
	default:
		e.publish(events.EventRunFailed, rc.res.Key, map[string]interface{}{
			"request_id": rc.req.RequestID,
			"exit_code":  rc.child.ExitCode(),
		})
	}
}

func (e *Engine) model(requested string) string {
	if m := NormalizeModel(requested); m != "" {
		return m
	}
	return e.opts.DefaultModel
}

func (e *Engine) publish(eventType, sessionKey string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(context.Background(), events.Event{
		Type:    eventType,
		Session: sessionKey,
		Payload: payload,
	})
}

// resumeFragment builds the appended system-prompt fragment for
// resumed sessions: the current turn's metadata block plus a standing
// reminder. The full system prompt is never re-sent on resume; it
// would overwrite the stored one and erase history.
func resumeFragment(systemText string) string {
	var sb strings.Builder
	if block := session.MetadataBlock(systemText); block != "" {
		sb.WriteString("Current turn metadata:\n")
		sb.WriteString(block)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Re-read the project instructions before answering.")
	return sb.String()
}

func removeTempDir(dir string) {
	if dir != "" {
		os.RemoveAll(dir)
	}
}
