package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/caseflow/fieldsave/internal/draft"
	"github.com/caseflow/fieldsave/internal/lifecycle"
	"github.com/caseflow/fieldsave/internal/recovery"
)

// maxSessionLine bounds one NDJSON input line; images arrive inline as data URLs.
const maxSessionLine = 32 << 20

// onDraftAsk makes the session read the recovery decision from stdin.
const onDraftAsk = "ask"

// Session operations read from stdin.
const (
	sessionOpSave    = "save"
	sessionOpSubmit  = "submit"
	sessionOpDiscard = "discard"
	sessionOpHide    = "hide"
	sessionOpShow    = "show"
	sessionOpFlush   = "flush"
	sessionOpStatus  = "status"
)

// SessionOptions holds flags for the session command.
type SessionOptions struct {
	*RootOptions
	Case             string
	Form             string
	OnDraft          string
	AllowUnknownForm bool
	MetricsFile      string
}

// SessionInput is one NDJSON operation read from stdin.
type SessionInput struct {
	Op       string                `json:"op"`
	FormData json.RawMessage       `json:"formData,omitempty"`
	Images   []draft.CapturedImage `json:"images,omitempty"`
}

// SessionOutput is one NDJSON line written to stdout.
type SessionOutput struct {
	Op       string            `json:"op"`
	Error    string            `json:"error,omitempty"`
	Recovery *RecoveryOutput   `json:"recovery,omitempty"`
	Status   *lifecycle.Status `json:"status,omitempty"`
}

// RecoveryOutput reports the recovery check that opens a session.
type RecoveryOutput struct {
	Prompted  bool            `json:"prompted"`
	Decision  string          `json:"decision,omitempty"`
	LastSaved *time.Time      `json:"lastSaved,omitempty"`
	FormData  json.RawMessage `json:"formData,omitempty"`
	Images    int             `json:"images"`
}

// NewSessionCommand creates the session command.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a headless form session",
		Long: `Open a form for one case and form type and drive it from stdin.

The session first sweeps expired and completed drafts if the last sweep is
older than autosave.cleanup_interval. Then it runs the recovery check: if an
unfinished draft exists it is restored, discarded or left alone according to
--on-draft. With --on-draft ask the first stdin line must answer the prompt:
{"decision":"restore"}.

Then each stdin line is one JSON operation:
  {"op":"save","formData":{...},"images":[...]}
  {"op":"submit"}    mark the draft complete
  {"op":"discard"}   delete the draft
  {"op":"hide"}      the form went to the background (flushes)
  {"op":"show"}      the form is visible again
  {"op":"flush"}     write pending saves now
  {"op":"status"}

Every operation answers with one JSON line holding the autosave status.
Images without an id get a UUIDv7. End of input, SIGINT and SIGTERM unload
the form, which flushes pending saves before exit.

With --metrics-file the engine metrics are written there on exit in the
Prometheus text format, ready for a node_exporter textfile collector.

Examples:
  fieldsave session --case CASE-1042 --form residence-positive < ops.ndjson
  fieldsave session --case CASE-1042 --form residence-positive --on-draft restore`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Case, "case", "", "case id (required)")
	_ = cmd.MarkFlagRequired("case")
	cmd.Flags().StringVar(&opts.Form, "form", "", "form type (required)")
	_ = cmd.MarkFlagRequired("form")
	cmd.Flags().StringVar(&opts.OnDraft, "on-draft", string(recovery.DecisionCancel), "answer to the recovery prompt (restore|discard|cancel|ask)")
	cmd.Flags().BoolVar(&opts.AllowUnknownForm, "allow-unknown-form", false, "accept a form type missing from the registry")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write engine metrics to this file on exit")

	return cmd
}

func runSession(opts *SessionOptions, cmd *cobra.Command) error {
	key := draft.NewKey(opts.Case, opts.Form)
	if err := key.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid draft key", err)
	}
	if !opts.AllowUnknownForm && !draft.IsKnownFormType(opts.Form) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown form type %q (use --allow-unknown-form)", opts.Form))
	}

	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 0, 64<<10), maxSessionLine)

	var prompter recovery.Prompter
	if opts.OnDraft == onDraftAsk {
		prompter = askPrompter(in)
	} else {
		d, err := recovery.ParseDecision(opts.OnDraft)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --on-draft", err)
		}
		prompter = recovery.Always(d)
	}

	err := withEnv(opts.RootOptions, cmd, func(ctx context.Context, e *env) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		s := &session{
			env:  e,
			out:  json.NewEncoder(cmd.OutOrStdout()),
			host: lifecycle.NewHost(),
		}
		s.ctrl = lifecycle.New(e.engine, key,
			lifecycle.WithHost(s.host),
			lifecycle.WithEnabled(e.cfg.Autosave.Enabled),
			lifecycle.WithLogger(e.logger),
		)
		defer s.ctrl.Close()

		janitor := e.engine.RunJanitor(ctx)
		defer janitor.Stop()

		if err := s.recover(ctx, prompter); err != nil {
			return err
		}
		return s.loop(ctx, in)
	})
	if opts.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(opts.MetricsFile, prometheus.DefaultGatherer); werr != nil && err == nil {
			err = WrapExitError(ExitFailure, "failed to write metrics", werr)
		}
	}
	return err
}

// askPrompter answers the recovery prompt with the next stdin line.
func askPrompter(in *bufio.Scanner) recovery.Prompter {
	return recovery.PrompterFunc(func(ctx context.Context, rec *draft.Record) (recovery.Decision, error) {
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		var answer struct {
			Decision string `json:"decision"`
		}
		if err := json.Unmarshal(in.Bytes(), &answer); err != nil {
			return "", fmt.Errorf("decode decision: %w", err)
		}
		return recovery.ParseDecision(answer.Decision)
	})
}

// session is one open form driven by NDJSON.
type session struct {
	env  *env
	out  *json.Encoder
	host *lifecycle.Host
	ctrl *lifecycle.Controller
}

func (s *session) emit(line SessionOutput) error {
	if line.Status == nil {
		st := s.ctrl.Status()
		line.Status = &st
	}
	return s.out.Encode(line)
}

func (s *session) recover(ctx context.Context, prompter recovery.Prompter) error {
	ropts := []recovery.Option{
		recovery.WithEnabled(s.env.cfg.Recovery.Enabled),
		recovery.WithLogger(s.env.logger),
	}
	if !s.env.cfg.Recovery.RepromptAfterCancel {
		ropts = append(ropts, recovery.WithDismissals(recovery.NewDismissals()))
	}

	report := &RecoveryOutput{}
	form := recovery.FormFunc(func(formData json.RawMessage, images []draft.CapturedImage) {
		report.FormData = formData
		report.Images = len(images)
	})
	orch := recovery.New(s.ctrl, form, prompter, ropts...)

	outcome, err := orch.Run(ctx)
	report.Prompted = outcome.Prompted
	report.Decision = string(outcome.Decision)
	if outcome.Record != nil {
		saved := outcome.Record.LastSaved.UTC()
		report.LastSaved = &saved
	}

	s.ctrl.Mount(ctx)
	line := SessionOutput{Op: "recover", Recovery: report}
	if err != nil {
		line.Error = err.Error()
	}
	return s.emit(line)
}

func (s *session) loop(ctx context.Context, in *bufio.Scanner) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	lines := make(chan []byte)
	var scanErr error
	go func() {
		defer close(lines)
		for in.Scan() {
			select {
			case lines <- bytes.Clone(in.Bytes()):
			case <-ctx.Done():
				return
			}
		}
		scanErr = in.Err()
	}()

	for {
		select {
		case sig := <-sigs:
			s.env.logger.Info("received signal, unloading form", "signal", sig)
			return s.unload("signal")
		case <-ctx.Done():
			return s.unload("cancelled")
		case line, ok := <-lines:
			if !ok {
				if scanErr != nil {
					s.env.logger.Error("reading session input failed", "error", scanErr)
				}
				return s.unload("eof")
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := s.handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

// unload delivers the before-unload signal, which flushes unsaved changes.
func (s *session) unload(reason string) error {
	s.host.Emit(lifecycle.SignalBeforeUnload)
	return s.emit(SessionOutput{Op: reason})
}

func (s *session) handle(ctx context.Context, line []byte) error {
	var op SessionInput
	if err := json.Unmarshal(line, &op); err != nil {
		return s.emit(SessionOutput{Op: "invalid", Error: fmt.Sprintf("decode operation: %v", err)})
	}

	var err error
	switch op.Op {
	case sessionOpSave:
		for i := range op.Images {
			if op.Images[i].ID == "" {
				op.Images[i].ID = uuid.Must(uuid.NewV7()).String()
			}
		}
		if op.Images == nil {
			op.Images = []draft.CapturedImage{}
		}
		err = s.ctrl.Save(ctx, op.FormData, op.Images)
	case sessionOpSubmit:
		err = s.ctrl.MarkCompleted(ctx)
	case sessionOpDiscard:
		err = s.ctrl.Discard(ctx)
	case sessionOpHide:
		s.host.Emit(lifecycle.SignalHidden)
	case sessionOpShow:
		s.host.Emit(lifecycle.SignalVisible)
	case sessionOpFlush:
		err = s.ctrl.ForceSave(ctx)
	case sessionOpStatus:
	default:
		err = fmt.Errorf("unknown operation %q", op.Op)
	}

	out := SessionOutput{Op: op.Op}
	if err != nil {
		out.Error = err.Error()
	}
	return s.emit(out)
}
