// Package conductor implements the Workflow Engine: it consumes events
// from the "conductor" queue and drives each Case through
// NEW -> QUEUED -> PROCESSING* -> COMPLETED, reserving a GPU and
// publishing one execute_command per configured workflow step, with
// PENDING_RESOURCE and FAILED branches reachable whenever a step needs
// a GPU or reports an error. Grounded on the original implementation's
// WorkflowManager.handle_message/advance_workflow algorithm, reproduced
// here in Go idiom over internal/storage and internal/bus.
package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"qaorchestrator/internal/bus"
	"qaorchestrator/internal/caseevents"
	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/metrics"
	"qaorchestrator/internal/storage"
)

// Event command names consumed from the conductor queue.
const (
	EventNewCaseFound        = "new_case_found"
	EventCaseUploadCompleted = "case_upload_completed"
	EventExecutionSucceeded  = "execution_succeeded"
	EventDownloadCompleted   = "download_completed"
	EventResultsDownloadDone = "results_download_completed" // canonical
	EventExecutionFailed     = "execution_failed"
	EventFileTransferFailed  = "file_transfer_failed"
	EventMalformedMessage    = "malformed_message"
)

// Command names published by the Conductor.
const (
	CommandExecute  = "execute_command"
	CommandUpload   = "upload_case"
	CommandDownload = "download_results"
)

// Notifier is called on terminal case transitions; the production
// implementation lives in internal/archival.
type Notifier interface {
	NotifyCompleted(ctx context.Context, caseID string, status storage.CaseStatus) error
}

// Conductor is the Workflow Engine.
type Conductor struct {
	store    *storage.Store
	bus      bus.Bus
	cfg      Config
	notifier Notifier
	events   caseevents.Publisher
	log      zerolog.Logger
}

// Config carries the workflow step list, remote command templates, and
// remote path roots, sourced from the persisted config keys
// workflows.defaultqa, conductor.remotecommands.<step>, and
// conductor.remotepaths.*.
type Config struct {
	WorkflowSteps  []string
	RemoteCommands map[string]string
	UploadDir      string
	DownloadDir    string
	RemoteQueue    string // remote-executor queue name
	ConductorQueue string // this component's own queue name; the Conductor does not publish to it
}

func New(store *storage.Store, b bus.Bus, cfg Config, notifier Notifier) *Conductor {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Conductor{
		store:    store,
		bus:      b,
		cfg:      cfg,
		notifier: notifier,
		log:      logger.WithComponent("conductor"),
	}
}

// SetEvents attaches a publisher for case-lifecycle notifications (the
// statusfeed websocket hub's source, in production). Optional: a
// Conductor built without one simply doesn't broadcast.
func (c *Conductor) SetEvents(pub caseevents.Publisher) {
	c.events = pub
}

func (c *Conductor) publishEvent(ctx context.Context, t caseevents.Type, caseID string, extra map[string]interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, caseevents.New(t, caseevents.CaseEventData(caseID, extra))); err != nil {
		c.log.Warn().Err(err).Str("case_id", caseID).Str("event", string(t)).Msg("failed to broadcast case event")
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyCompleted(ctx context.Context, caseID string, status storage.CaseStatus) error {
	return nil
}

type casePayload struct {
	CaseID string          `json:"case_id"`
	Error  string          `json:"error"`
	Extra  json.RawMessage `json:"-"`
}

// Handle dispatches one delivered envelope to the matching algorithm,
// mirroring handle_message's dispatch table. Unknown commands are logged
// and acked (not retried, not dead-lettered — a true no-op, same as the
// original's "Unknown message type" warning branch).
func (c *Conductor) Handle(ctx context.Context, env *bus.Envelope) error {
	var p casePayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("conductor: decode payload: %w", err)
	}

	switch env.Command {
	case EventNewCaseFound:
		return c.StartWorkflow(ctx, p.CaseID, env.CorrelationID)
	case EventExecutionSucceeded, EventCaseUploadCompleted, EventDownloadCompleted, EventResultsDownloadDone:
		return c.Advance(ctx, p.CaseID)
	case EventExecutionFailed, EventFileTransferFailed:
		errInfo := p.Error
		if errInfo == "" {
			errInfo = "unknown error"
		}
		return c.Fail(ctx, p.CaseID, errInfo)
	case EventMalformedMessage:
		c.log.Warn().Str("case_id", p.CaseID).Msg("received malformed_message notification")
		return nil
	default:
		c.log.Warn().Str("command", env.Command).Msg("unknown message type")
		return nil
	}
}

// StartWorkflow is the idempotent start-workflow algorithm: a duplicate
// new_case_found for an already-known case_id is a no-op.
func (c *Conductor) StartWorkflow(ctx context.Context, caseID, correlationID string) error {
	err := c.store.CreateCase(ctx, caseID, correlationID)
	if errors.Is(err, storage.ErrCaseExists) {
		c.log.Info().Str("case_id", caseID).Msg("case already exists, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("conductor: start workflow: %w", err)
	}
	if err := c.store.UpdateStatus(ctx, caseID, storage.StatusQueued, nil, "new case detected"); err != nil {
		return err
	}
	metrics.RecordCaseStarted()
	return c.Advance(ctx, caseID)
}

// Advance is the advance-workflow algorithm: it looks at the case's
// current workflow_step, computes the next configured step, and either
// completes the case (no step left) or reserves a GPU and publishes
// execute_command for that step, setting status PROCESSING throughout.
// Whatever event woke it — execution_succeeded, case_upload_completed,
// download_completed, or its results_download_completed synonym — the
// action is identical: one reserve-then-execute round trip per step.
// Grounded on the original's advance_workflow, which does exactly this
// and nothing more; it never dispatches a separate upload or download
// phase of its own.
func (c *Conductor) Advance(ctx context.Context, caseID string) error {
	cse, err := c.store.GetCase(ctx, caseID)
	if errors.Is(err, storage.ErrCaseNotFound) {
		c.log.Error().Str("case_id", caseID).Msg("cannot advance workflow: case not found")
		return nil
	}
	if err != nil {
		return err
	}

	step := c.nextStep(cse.WorkflowStep)
	if step == "" {
		if err := c.store.UpdateStatus(ctx, cse.ID, storage.StatusCompleted, nil, "all workflow steps completed successfully"); err != nil {
			return err
		}
		if err := c.store.ReleaseGPUForCase(ctx, cse.ID); err != nil {
			return err
		}
		metrics.RecordCaseTerminal(string(storage.StatusCompleted), time.Since(cse.CreatedAt).Seconds())
		c.publishEvent(ctx, caseevents.CaseCompleted, cse.ID, nil)
		if cse.AssignedGPUID != nil {
			c.publishEvent(ctx, caseevents.GPUReleased, cse.ID, map[string]interface{}{"gpu_id": *cse.AssignedGPUID})
		}
		return c.notifier.NotifyCompleted(ctx, cse.ID, storage.StatusCompleted)
	}

	gpuID := ""
	if cse.AssignedGPUID != nil {
		gpuID = *cse.AssignedGPUID
	} else {
		reserved, err := c.store.ReserveGPU(ctx, cse.ID)
		if errors.Is(err, storage.ErrNoResource) {
			metrics.RecordGPUStarvation()
			c.publishEvent(ctx, caseevents.CasePendingResource, cse.ID, map[string]interface{}{"step": step})
			return c.store.UpdateStatus(ctx, cse.ID, storage.StatusPendingResource, cse.WorkflowStep, "waiting for available gpu")
		}
		if err != nil {
			return err
		}
		gpuID = reserved
		metrics.RecordGPUReservation()
		c.publishEvent(ctx, caseevents.GPUReserved, cse.ID, map[string]interface{}{"gpu_id": gpuID})
	}

	if err := c.store.UpdateStatus(ctx, cse.ID, storage.StatusProcessing, &step, fmt.Sprintf("starting workflow step: %s", step)); err != nil {
		return err
	}
	c.publishEvent(ctx, caseevents.CaseProcessing, cse.ID, map[string]interface{}{"step": step, "gpu_id": gpuID})
	return c.publishExecute(ctx, cse.ID, step, gpuID)
}

// Fail transitions a case to FAILED and releases any reserved GPU.
func (c *Conductor) Fail(ctx context.Context, caseID, errInfo string) error {
	cse, err := c.store.GetCase(ctx, caseID)
	if err != nil && !errors.Is(err, storage.ErrCaseNotFound) {
		return err
	}
	if err := c.store.UpdateStatus(ctx, caseID, storage.StatusFailed, nil, fmt.Sprintf("workflow failed: %s", errInfo)); err != nil {
		return err
	}
	if err := c.store.ReleaseGPUForCase(ctx, caseID); err != nil {
		return err
	}
	if cse != nil {
		metrics.RecordCaseTerminal(string(storage.StatusFailed), time.Since(cse.CreatedAt).Seconds())
	}
	c.publishEvent(ctx, caseevents.CaseFailed, caseID, map[string]interface{}{"error": errInfo})
	return c.notifier.NotifyCompleted(ctx, caseID, storage.StatusFailed)
}

// nextStep returns the step after current in the configured list, or ""
// if current is the last step (or the list is exhausted/unknown).
func (c *Conductor) nextStep(current *string) string {
	if len(c.cfg.WorkflowSteps) == 0 {
		return ""
	}
	if current == nil {
		return c.cfg.WorkflowSteps[0]
	}
	for i, step := range c.cfg.WorkflowSteps {
		if step == *current {
			if i+1 < len(c.cfg.WorkflowSteps) {
				return c.cfg.WorkflowSteps[i+1]
			}
			return ""
		}
	}
	c.log.Error().Str("workflow_step", *current).Msg("unknown workflow step")
	return ""
}

func (c *Conductor) publishExecute(ctx context.Context, caseID, step, gpuID string) error {
	template, ok := c.cfg.RemoteCommands[step]
	if !ok || template == "" {
		return fmt.Errorf("conductor: no command template configured for step %q", step)
	}
	command := substitute(template, caseID, gpuID, c.cfg.UploadDir, c.cfg.DownloadDir)

	payload := map[string]string{
		"case_id": caseID,
		"command": command,
		"gpu_id":  gpuID,
		"step":    step,
	}
	queue := c.cfg.RemoteQueue
	if queue == "" {
		queue = "remote-executor"
	}
	if err := c.bus.Publish(ctx, queue, CommandExecute, payload, caseID, 0); err != nil {
		return err
	}
	metrics.RecordMessagePublished(queue, CommandExecute)
	return nil
}

