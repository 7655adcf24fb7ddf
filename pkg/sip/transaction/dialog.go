package transaction

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/voice_bridge/pkg/media_sdp"
	"github.com/arzzra/voice_bridge/pkg/rtp"
)

// State состояние диалога
type State string

const (
	StateNew        State = "new"
	StateTrying     State = "trying"
	StateRinging    State = "ringing"
	StateAnswered   State = "answered"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// События FSM диалога
const (
	eventTrying    = "trying"
	eventRinging   = "ringing"
	eventAnswer    = "answer"
	eventAck       = "ack"
	eventTerminate = "terminate"
)

// DialogInfo снимок диалога только для чтения
type DialogInfo struct {
	CallID       string
	CallerID     string
	RemoteTag    string
	LocalTag     string
	Peer         *net.UDPAddr // откуда пришел INVITE
	MediaRemote  *net.UDPAddr // адрес RTP из SDP предложения
	PayloadTypes []uint8
	LocalIP      string
	LocalPort    int
	State        State
	CreatedAt    time.Time
}

// Dialog состояние одного входящего звонка на стороне сервера
type Dialog struct {
	callID    string
	callerID  string
	remoteTag string
	localTag  string
	peer      *net.UDPAddr
	offer     media_sdp.Offer
	localIP   string
	createdAt time.Time

	// Ответы на INVITE в порядке отправки, для повторной отправки
	responses [][]byte

	stream *rtp.MediaStream

	stateMachine *fsm.FSM
	onState      func(from, to State)

	mu sync.Mutex
}

func newDialog(callID, callerID, remoteTag, localTag string, peer *net.UDPAddr, offer media_sdp.Offer) *Dialog {
	d := &Dialog{
		callID:    callID,
		callerID:  callerID,
		remoteTag: remoteTag,
		localTag:  localTag,
		peer:      peer,
		offer:     offer,
		createdAt: time.Now(),
	}
	d.initStateMachine()
	return d
}

// initStateMachine инициализирует конечный автомат состояний
func (d *Dialog) initStateMachine() {
	d.stateMachine = fsm.NewFSM(
		string(StateNew),
		fsm.Events{
			{Name: eventTrying, Src: []string{string(StateNew)}, Dst: string(StateTrying)},
			{Name: eventRinging, Src: []string{string(StateTrying)}, Dst: string(StateRinging)},
			{Name: eventAnswer, Src: []string{string(StateRinging)}, Dst: string(StateAnswered)},
			{Name: eventAck, Src: []string{string(StateAnswered)}, Dst: string(StateActive)},
			{
				Name: eventTerminate,
				Src: []string{
					string(StateNew), string(StateTrying), string(StateRinging),
					string(StateAnswered), string(StateActive),
				},
				Dst: string(StateTerminated),
			},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if d.onState != nil {
					d.onState(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}

// fire выполняет переход. Переход в текущее состояние не считается ошибкой.
func (d *Dialog) fire(ctx context.Context, event string) error {
	err := d.stateMachine.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// State возвращает текущее состояние
func (d *Dialog) State() State {
	return State(d.stateMachine.Current())
}

// CallID возвращает Call-ID диалога
func (d *Dialog) CallID() string {
	return d.callID
}

// Info возвращает снимок диалога
func (d *Dialog) Info() DialogInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := DialogInfo{
		CallID:       d.callID,
		CallerID:     d.callerID,
		RemoteTag:    d.remoteTag,
		LocalTag:     d.localTag,
		Peer:         d.peer,
		MediaRemote:  d.offer.UDPAddr(),
		PayloadTypes: append([]uint8(nil), d.offer.PayloadTypes...),
		LocalIP:      d.localIP,
		State:        d.State(),
		CreatedAt:    d.createdAt,
	}
	if d.stream != nil {
		info.LocalPort = d.stream.LocalPort()
	}
	return info
}

func (d *Dialog) cachedResponses() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.responses
}

func (d *Dialog) cacheResponse(datagram []byte) {
	d.mu.Lock()
	d.responses = append(d.responses, datagram)
	d.mu.Unlock()
}

// releaseStream закрывает поток, если сессия его так и не получила
func (d *Dialog) releaseStream() {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
}
