package messaging

import (
	"context"
	"fmt"
	"time"

	"rolltrack/engine"
	"rolltrack/logger"
	"rolltrack/store"
)

// Inbound command types sent by networked scanners.
const (
	CmdScan         = "scan"
	CmdRegister     = "register"
	CmdSlit         = "slit"
	CmdCompleteSlit = "complete_slit"
	CmdConsume      = "consume"

	TypeCommandResult = "command_result"
)

type Command struct {
	QRValue     string `json:"qrValue,omitempty"`
	Widths      []int  `json:"widths,omitempty"`
	JobID       string `json:"jobId,omitempty"`
	ChildRollID string `json:"childRollId,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// CommandResult answers one command on the events topic.
type CommandResult struct {
	CommandID string       `json:"commandId"`
	Command   string       `json:"command"`
	OK        bool         `json:"ok"`
	Error     string       `json:"error,omitempty"`
	Code      string       `json:"code,omitempty"`
	Stage     engine.Stage `json:"stage,omitempty"`
}

// Lifecycle is the engine surface commands drive.
type Lifecycle interface {
	ResolveStage(ctx context.Context, qrValue string) (engine.Stage, error)
	RegisterMasterRoll(ctx context.Context, qrValue string) (*store.MasterRoll, error)
	SlitMasterRoll(ctx context.Context, qrValue string, widths []int, jobID string) (*engine.SlitResult, error)
	CompleteSlit(ctx context.Context, qrValue string) (*engine.SlitResult, error)
	ConsumeChildRoll(ctx context.Context, id, jobID string) (*store.ChildRoll, error)
}

// CommandHandler runs scanner commands against the engine and queues a
// CommandResult for each one.
type CommandHandler struct {
	lc      Lifecycle
	outbox  *Outbox
	topic   string
	station string
	timeout time.Duration
	log     *logger.Logger
}

func NewCommandHandler(lc Lifecycle, outbox *Outbox, resultTopic, station string, log *logger.Logger) *CommandHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CommandHandler{
		lc:      lc,
		outbox:  outbox,
		topic:   resultTopic,
		station: station,
		timeout: 10 * time.Second,
		log:     log.With("component", "commands"),
	}
}

// Start subscribes to the commands topic.
func (h *CommandHandler) Start(client *Client, topic string) error {
	return client.Subscribe(topic, h.HandleMessage)
}

func (h *CommandHandler) HandleMessage(topic string, payload []byte) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		h.log.Warn("command decode failed", "topic", topic, "err", err)
		return
	}
	var cmd Command
	if err := env.DecodePayload(&cmd); err != nil {
		h.log.Warn("command payload decode failed", "id", env.ID, "err", err)
		h.reply(env, CommandResult{Error: err.Error(), Code: "bad_request"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	ctx = engine.WithActor(ctx, cmd.Actor)
	ctx = engine.WithUserAgent(ctx, "scanner/"+env.Station)

	res := CommandResult{}
	err = h.run(ctx, env.Type, cmd, &res)
	if err != nil {
		res.Error = err.Error()
		res.Code = engine.ErrorCode(err)
		h.log.Info("command rejected", "type", env.Type, "id", env.ID, "qr", cmd.QRValue, "code", res.Code, "err", err)
	} else {
		res.OK = true
	}
	h.reply(env, res)
}

func (h *CommandHandler) run(ctx context.Context, typ string, cmd Command, res *CommandResult) error {
	switch typ {
	case CmdScan:
		s, err := h.lc.ResolveStage(ctx, cmd.QRValue)
		res.Stage = s
		return err
	case CmdRegister:
		_, err := h.lc.RegisterMasterRoll(ctx, cmd.QRValue)
		return err
	case CmdSlit:
		_, err := h.lc.SlitMasterRoll(ctx, cmd.QRValue, cmd.Widths, cmd.JobID)
		return err
	case CmdCompleteSlit:
		_, err := h.lc.CompleteSlit(ctx, cmd.QRValue)
		return err
	case CmdConsume:
		_, err := h.lc.ConsumeChildRoll(ctx, cmd.ChildRollID, cmd.JobID)
		return err
	default:
		return fmt.Errorf("%w: unknown command %q", engine.ErrInvalidInput, typ)
	}
}

func (h *CommandHandler) reply(env *Envelope, res CommandResult) {
	res.CommandID = env.ID
	res.Command = env.Type
	out, err := NewEnvelope(TypeCommandResult, h.station, time.Time{}, res)
	if err != nil {
		h.log.Error("encode command result", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.outbox.Enqueue(ctx, h.topic, out); err != nil {
		h.log.Error("queue command result", "id", env.ID, "err", err)
	}
}
