package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
	"github.com/arzzra/voice_bridge/pkg/sip/transaction"
)

// Store история звонков
type Store interface {
	CreateCall(ctx context.Context, callID, callerID string) (uint, error)
	MarkAnswered(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
	AppendMessage(ctx context.Context, callID string, role pipeline.Role, content, model string) (uint, error)
	SetRecordingPath(ctx context.Context, callID, path string) error
	LinkReference(ctx context.Context, messageID uint, item pipeline.Item, position int) error
	RecentMessages(ctx context.Context, callID string, n int) ([]pipeline.Message, error)
	StaleActiveCalls(ctx context.Context, olderThan time.Time) ([]string, error)
	Log(ctx context.Context, level, event, details, callID string)
}

// Notifier рассылка событий, вызовы не блокируются
type Notifier interface {
	CallStatus(status, callID, callerID string)
	NewMessage(callID string, role pipeline.Role, content, model string)
	Transcription(callID, text string)
	SIPStatus(running bool, details map[string]any)
}

// Signaling SIP сервер глазами реестра
type Signaling interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Lookup(callID string) (transaction.DialogInfo, bool)
	DialogCount() int
	Drop(callID string) error
}

// Deps внешние зависимости сессий. Nil бэкенды означают недоступный сервис.
type Deps struct {
	Store       Store
	Notifier    Notifier
	Transcriber pipeline.Transcriber
	Chat        pipeline.ChatModel
	Synthesizer pipeline.Synthesizer
	Context     *pipeline.ContextBuilder
	Logger      logrus.FieldLogger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Context == nil {
		d.Context = pipeline.NewContextBuilder(pipeline.ContextConfig{}, nil, d.Logger)
	}
	return d
}

type nopNotifier struct{}

func (nopNotifier) CallStatus(string, string, string) {}
func (nopNotifier) NewMessage(string, pipeline.Role, string, string) {}
func (nopNotifier) Transcription(string, string) {}
func (nopNotifier) SIPStatus(bool, map[string]any) {}
