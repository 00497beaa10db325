package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/workspace/internal/domain"
	"github.com/xiaot623/gogo/workspace/internal/merge"
	"github.com/xiaot623/gogo/workspace/internal/stage"
	"github.com/xiaot623/gogo/workspace/internal/stream"
)

var (
	// ErrTransport is reported once reconnecting has failed repeatedly.
	ErrTransport = errors.New("session: stream unavailable")
	// ErrComplete is returned by operations that need a live stage.
	ErrComplete = errors.New("session: setup is complete")
	// ErrNoDocument is returned for a stage without a shared document.
	ErrNoDocument = errors.New("session: stage has no document")
)

const (
	DefaultReconnectInterval = time.Second
	DefaultReconnectBurst    = 3
	DefaultMaxFailures       = 5
)

// Options tunes a session.
type Options struct {
	// Transport opens stream connections. Defaults to SSE through the client.
	Transport Transport
	// ReconnectInterval and ReconnectBurst throttle connection attempts.
	ReconnectInterval time.Duration
	ReconnectBurst    int
	// MaxFailures is the number of consecutive connections that deliver
	// nothing before the session gives up with ErrTransport.
	MaxFailures int
	Merge       merge.Options
	// OnNotice is called after every dispatched event and on transport
	// failure, outside the session lock.
	OnNotice func(Notice)
}

// StageError is a recoverable failure the agent reported for one stage.
type StageError struct {
	Stage   domain.Stage
	Kind    domain.EventType
	Message string
	RunID   string
	LogID   int64
}

// Notice describes one dispatched event, or a transport failure when Err
// is set.
type Notice struct {
	Stage  domain.Stage
	RunID  string
	LogID  int64
	Event  stream.Event
	Result merge.Result
	Err    error
}

// Session follows one workspace. It keeps a single stream connection open on
// the active run and one merge engine per stage document.
//
// Stream dispatch and caller operations run on different goroutines; all
// state is guarded by mu.
type Session struct {
	client    *Client
	transport Transport
	opts      Options
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	workspaceID string
	stage       domain.Stage
	consumer    *stream.Consumer
	engines     map[domain.Stage]*merge.Engine
	stageErrors []StageError
	ready       bool
	err         error

	// readerMu serializes starting and stopping the reader goroutine.
	readerMu   sync.Mutex
	stopReader context.CancelFunc
	readerDone chan struct{}
}

// Start creates a workspace and follows it.
func Start(ctx context.Context, client *Client, req domain.CreateWorkspaceRequest, opts Options) (*Session, error) {
	created, err := client.CreateWorkspace(ctx, req)
	if err != nil {
		return nil, err
	}
	return New(ctx, client, created.State, opts)
}

// Open resumes an existing workspace. Confirmed documents of earlier stages
// are loaded from the server; the live stage is rebuilt by replaying its run.
func Open(ctx context.Context, client *Client, workspaceID string, opts Options) (*Session, error) {
	ws, err := client.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	docs, err := client.ListDocuments(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	s, err := newSession(ctx, client, ws.State, opts)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := s.seed(d); err != nil {
			s.cancel()
			return nil, err
		}
	}
	s.restart(func() {})
	return s, nil
}

// New follows the run described by state.
func New(ctx context.Context, client *Client, state domain.RunState, opts Options) (*Session, error) {
	s, err := newSession(ctx, client, state, opts)
	if err != nil {
		return nil, err
	}
	s.restart(func() {})
	return s, nil
}

func newSession(ctx context.Context, client *Client, state domain.RunState, opts Options) (*Session, error) {
	if !state.Stage.Valid() {
		return nil, fmt.Errorf("session: unknown stage %q", state.Stage)
	}
	if opts.Transport == nil {
		if client == nil {
			return nil, errors.New("session: a client or a transport is required")
		}
		opts.Transport = client
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.ReconnectBurst <= 0 {
		opts.ReconnectBurst = DefaultReconnectBurst
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}

	s := &Session{
		client:      client,
		transport:   opts.Transport,
		opts:        opts,
		limiter:     rate.NewLimiter(rate.Every(opts.ReconnectInterval), opts.ReconnectBurst),
		workspaceID: state.WorkspaceID,
		stage:       state.Stage,
		consumer:    stream.NewConsumer(state.RunID),
		engines:     map[domain.Stage]*merge.Engine{},
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if _, err := s.engine(state.Stage); err != nil && !errors.Is(err, ErrNoDocument) {
		s.cancel()
		return nil, err
	}
	return s, nil
}

func (s *Session) seed(d domain.StageDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, err := s.engine(d.Stage)
	if err != nil {
		return err
	}
	doc, err := merge.FromJSON(d.Document)
	if err != nil {
		return fmt.Errorf("session: %s document: %w", d.Stage, err)
	}
	return eng.Seed(doc)
}

// engine returns the engine of st, creating it on first use. Callers hold mu.
func (s *Session) engine(st domain.Stage) (*merge.Engine, error) {
	if eng, ok := s.engines[st]; ok {
		return eng, nil
	}
	kind, ok := st.DocumentKind()
	if !ok {
		return nil, ErrNoDocument
	}
	eng, err := merge.NewEngine(kind, s.opts.Merge)
	if err != nil {
		return nil, err
	}
	s.engines[st] = eng
	return eng, nil
}

// WorkspaceID returns the workspace being followed.
func (s *Session) WorkspaceID() string { return s.workspaceID }

// State returns the run pointer the session follows.
func (s *Session) State() domain.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.RunState{
		WorkspaceID: s.workspaceID,
		RunID:       s.consumer.RunID(),
		Stage:       s.stage,
		Cursor:      s.consumer.Cursor(),
	}
}

// Stage returns the live stage.
func (s *Session) Stage() domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Ready reports whether the agent proposed the intent package for
// confirmation.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Document returns the merged document of st.
func (s *Session) Document(st domain.Stage) (merge.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, ok := s.engines[st]
	if !ok {
		return nil, false
	}
	return eng.Document(), true
}

// PendingEdits lists user edits of the live document not yet sent.
func (s *Session) PendingEdits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok := s.engines[s.stage]; ok {
		return eng.PendingUserEdits()
	}
	return nil
}

// StageErrors returns the stage errors reported so far.
func (s *Session) StageErrors() []StageError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageError(nil), s.stageErrors...)
}

// ClearStageErrors drops the errors of st, as when the user retries it.
func (s *Session) ClearStageErrors(st domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.stageErrors[:0]
	for _, e := range s.stageErrors {
		if e.Stage != st {
			kept = append(kept, e)
		}
	}
	s.stageErrors = kept
}

// Err returns the transport error that stopped the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LocalEdit merges the form's current document into the live stage and
// returns the user-owned paths that changed.
func (s *Session) LocalEdit(doc merge.Document) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, err := s.engine(s.stage)
	if err != nil {
		return nil, err
	}
	changed, res := eng.LocalEdit(doc)
	return changed, res.Err
}

// Edit sets one user-owned field of the live document.
func (s *Session) Edit(path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, err := s.engine(s.stage)
	if err != nil {
		return err
	}
	doc := eng.Document()
	doc.Set(path, value)
	_, res := eng.LocalEdit(doc)
	return res.Err
}

// Submit sends a chat turn with the live document and the fields the user
// edited. Stream dispatch waits for the call, so the agent's reply is never
// merged before the edits are marked as sent.
func (s *Session) Submit(ctx context.Context, message string) (*domain.SubmitMessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stage.IsTerminal(s.stage) {
		return nil, ErrComplete
	}

	req := domain.SubmitMessageRequest{Message: message}
	eng, err := s.engine(s.stage)
	if err != nil {
		return nil, err
	}
	raw, err := eng.JSON()
	if err != nil {
		return nil, fmt.Errorf("session: encode document: %w", err)
	}
	req.DocumentSnapshot = raw
	req.UserEditedFields = eng.SuppressedFields()

	resp, err := s.client.SubmitMessage(ctx, s.workspaceID, req)
	if err != nil {
		return nil, err
	}
	eng.MarkSent(resp.LogID)
	return resp, nil
}

// Confirm finalizes the live document and moves the workspace to the next
// stage. The old connection is closed before the new run is followed.
func (s *Session) Confirm(ctx context.Context) (*domain.ConfirmStageResponse, error) {
	s.mu.Lock()
	from := s.stage
	if stage.IsTerminal(from) {
		s.mu.Unlock()
		return nil, ErrComplete
	}
	eng, err := s.engine(from)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	doc := eng.Document()
	doc[merge.FieldConfirmed] = true
	raw, err := json.Marshal(doc)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("session: encode document: %w", err)
	}

	resp, err := s.client.ConfirmStage(ctx, s.workspaceID, from, domain.ConfirmStageRequest{Document: raw})
	if err != nil {
		return nil, err
	}

	s.restart(func() {
		eng.Finalize()
		s.moveTo(resp.Stage, resp.RunID)
	})
	log.Info(s.ctx, log.KV{K: "msg", V: "stage confirmed"},
		log.KV{K: "workspace_id", V: s.workspaceID}, log.KV{K: "stage", V: string(from)},
		log.KV{K: "next", V: string(resp.Stage)}, log.KV{K: "run_id", V: resp.RunID})
	return resp, nil
}

// Close stops following the workspace.
func (s *Session) Close() {
	s.cancel()
	s.readerMu.Lock()
	defer s.readerMu.Unlock()
	if s.readerDone != nil {
		<-s.readerDone
		s.stopReader, s.readerDone = nil, nil
	}
}

// restart stops the reader, applies update under mu and starts a reader on
// the resulting run unless setup is complete.
func (s *Session) restart(update func()) {
	s.readerMu.Lock()
	defer s.readerMu.Unlock()
	if s.stopReader != nil {
		s.stopReader()
		<-s.readerDone
		s.stopReader, s.readerDone = nil, nil
	}

	s.mu.Lock()
	update()
	following := !stage.IsTerminal(s.stage) && s.ctx.Err() == nil
	s.mu.Unlock()
	if !following {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.stopReader, s.readerDone = cancel, done
	go s.read(ctx, done)
}

// moveTo points the session at st and runID. The document of a stage left
// behind is confirmed. Callers hold mu.
func (s *Session) moveTo(st domain.Stage, runID string) {
	if st != s.stage {
		if eng, ok := s.engines[s.stage]; ok {
			eng.Finalize()
		}
	}
	s.stage = st
	if _, err := s.engine(st); err != nil && !errors.Is(err, ErrNoDocument) {
		log.Error(s.ctx, err, log.KV{K: "msg", V: "failed to create document engine"}, log.KV{K: "stage", V: string(st)})
	}
	if runID != "" {
		s.consumer.Switch(runID)
	}
}

// read keeps one connection open on the followed run, reconnecting from
// cursor 0 whenever a connection ends.
func (s *Session) read(ctx context.Context, done chan struct{}) {
	defer close(done)
	failures := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.mu.Lock()
		runID, gen, cursor := s.consumer.RunID(), s.consumer.Generation(), s.consumer.Cursor()
		s.mu.Unlock()

		progressed, err := s.follow(ctx, runID, gen, cursor)
		if ctx.Err() != nil {
			return
		}
		if progressed {
			failures = 0
		} else {
			failures++
		}
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "stream connection lost"},
				log.KV{K: "run_id", V: runID}, log.KV{K: "failures", V: failures}, log.KV{K: "err", V: err.Error()})
		}
		if failures >= s.opts.MaxFailures {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			s.fail(fmt.Errorf("%w: run %s: %v", ErrTransport, runID, err))
			return
		}

		s.mu.Lock()
		if stage.IsTerminal(s.stage) {
			s.mu.Unlock()
			return
		}
		if s.consumer.Generation() == gen {
			s.consumer.Reconnect()
		}
		s.mu.Unlock()
	}
}

// follow reads one connection until it ends or the session moves to another
// run. It reports whether any frame arrived.
func (s *Session) follow(ctx context.Context, runID string, gen uint64, cursor int64) (bool, error) {
	rc, err := s.transport.Open(ctx, runID, cursor)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(readCtx, func() { rc.Close() })
	defer stop()

	frames := make(chan stream.Frame, 16)
	errc := make(chan error, 1)
	go func() {
		err := stream.ReadFrames(readCtx, rc, frames)
		close(frames)
		errc <- err
	}()

	progressed := false
	for f := range frames {
		progressed = true
		if !s.handle(ctx, gen, f) {
			cancel()
			for range frames {
			}
			<-errc
			return true, nil
		}
	}
	return progressed, <-errc
}

// handle dispatches one frame and reports whether the connection is still
// the current one.
func (s *Session) handle(ctx context.Context, gen uint64, f stream.Frame) bool {
	s.mu.Lock()
	var notices []Notice
	for _, d := range s.consumer.Handle(ctx, gen, f) {
		notices = append(notices, s.dispatch(ctx, d))
		if s.consumer.Generation() != gen {
			break
		}
	}
	current := s.consumer.Generation() == gen && !stage.IsTerminal(s.stage)
	s.mu.Unlock()

	for _, n := range notices {
		s.notify(n)
	}
	return current
}

// dispatch applies one event. Callers hold mu.
func (s *Session) dispatch(ctx context.Context, d stream.Delivery) Notice {
	n := Notice{Stage: s.stage, RunID: d.RunID, LogID: d.LogID, Event: d.Event}
	switch e := d.Event.(type) {
	case stream.IntentUpdated:
		n.Stage, n.Result = domain.StageIntent, s.apply(ctx, domain.StageIntent, e.Document, d)
	case stream.IntentProposed:
		if e.Ready && s.stage == domain.StageIntent {
			s.ready = true
		}
		n.Stage, n.Result = domain.StageIntent, s.apply(ctx, domain.StageIntent, e.Document, d)
	case stream.IntentFinalized:
		n.Stage, n.Result = domain.StageIntent, s.apply(ctx, domain.StageIntent, e.Document, d)
	case stream.ScopeUpdated:
		n.Stage, n.Result = domain.StageDataScoping, s.apply(ctx, domain.StageDataScoping, e.Document, d)
	case stream.ExecutionProgress:
		n.Stage, n.Result = domain.StageExecution, s.apply(ctx, domain.StageExecution, e.Results, d)
	case stream.TeamUpdate:
		n.Stage, n.Result = domain.StageTeamBuilding, s.apply(ctx, domain.StageTeamBuilding, e.Document, d)
	case stream.StageError:
		st := e.Stage
		if st == "" {
			st = s.stage
		}
		s.stageErrors = append(s.stageErrors, StageError{
			Stage: st, Kind: e.Kind, Message: e.Message, RunID: d.RunID, LogID: d.LogID,
		})
		n.Stage = st
		log.Warn(ctx, log.KV{K: "msg", V: "stage reported an error"},
			log.KV{K: "stage", V: string(st)}, log.KV{K: "run_id", V: d.RunID}, log.KV{K: "error", V: e.Message})
	case stream.StageUpdate:
		s.advance(ctx, e)
		n.Stage = e.Stage
	case stream.UserMessage, stream.Unknown:
		// Transcript echoes and unrecognized events carry nothing to merge.
	}
	return n
}

// apply merges an agent document into the engine of st. Updates for any
// stage but the live one are dropped.
func (s *Session) apply(ctx context.Context, st domain.Stage, raw json.RawMessage, d stream.Delivery) merge.Result {
	if st != s.stage {
		log.Debug(ctx, log.KV{K: "msg", V: "ignoring update for inactive stage"},
			log.KV{K: "stage", V: string(st)}, log.KV{K: "live", V: string(s.stage)}, log.KV{K: "log_id", V: d.LogID})
		return merge.Result{}
	}
	if len(raw) == 0 {
		return merge.Result{}
	}
	eng, err := s.engine(st)
	if err != nil {
		return merge.Result{Err: err}
	}
	res := eng.ApplyAgentJSON(raw, merge.Origin{LogID: d.LogID, Index: d.Index, InReplyTo: d.InReplyTo})
	if res.Err != nil {
		if res.Systemic {
			log.Error(ctx, res.Err, log.KV{K: "msg", V: "agent keeps sending invalid documents"},
				log.KV{K: "stage", V: string(st)}, log.KV{K: "log_id", V: d.LogID})
		} else {
			log.Warn(ctx, log.KV{K: "msg", V: "dropping invalid document"},
				log.KV{K: "stage", V: string(st)}, log.KV{K: "log_id", V: d.LogID}, log.KV{K: "err", V: res.Err.Error()})
		}
	}
	return res
}

// advance follows a stage_update. Announcements of the live stage and run,
// and of earlier stages, change nothing.
func (s *Session) advance(ctx context.Context, e stream.StageUpdate) {
	if stage.Index(e.Stage) < stage.Index(s.stage) {
		return
	}
	if e.Stage == s.stage && (e.RunID == "" || e.RunID == s.consumer.RunID()) {
		return
	}
	s.moveTo(e.Stage, e.RunID)
	log.Info(ctx, log.KV{K: "msg", V: "following next stage"},
		log.KV{K: "workspace_id", V: s.workspaceID}, log.KV{K: "stage", V: string(e.Stage)}, log.KV{K: "run_id", V: e.RunID})
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	st, runID := s.stage, s.consumer.RunID()
	s.mu.Unlock()
	log.Error(s.ctx, err, log.KV{K: "msg", V: "giving up on stream"}, log.KV{K: "run_id", V: runID})
	s.notify(Notice{Stage: st, RunID: runID, Err: err})
}

func (s *Session) notify(n Notice) {
	if s.opts.OnNotice != nil {
		s.opts.OnNotice(n)
	}
}
