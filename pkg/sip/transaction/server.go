// Package transaction принимает SIP запросы по UDP, ведет таблицу диалогов
// и отвечает на INVITE/ACK/BYE/OPTIONS/CANCEL без отдельных клиентских
// транзакций: мост только принимает звонки.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/media_sdp"
	"github.com/arzzra/voice_bridge/pkg/rtp"
	"github.com/arzzra/voice_bridge/pkg/sip/message"
)

const maxDatagramSize = 65535

// CallHandler вызывается один раз на диалог, когда ACK подтверждает 200 OK.
// Поток передается во владение обработчику. Обработчик не должен блокировать
// цикл чтения надолго.
type CallHandler func(ctx context.Context, info DialogInfo, stream *rtp.MediaStream)

// ByeHandler вызывается после ответа 200 на BYE для известного диалога
type ByeHandler func(callID string)

// RingingHandler вызывается после отправки 180 Ringing нового диалога
type RingingHandler func(info DialogInfo)

// Config параметры сервера
type Config struct {
	// ListenAddr адрес UDP сокета, например "0.0.0.0:5060"
	ListenAddr string
	// Username пользовательская часть Contact
	Username string
	// UserAgent значение заголовка User-Agent в ответах, пусто = без заголовка
	UserAgent string
	// LocalIP адрес для SDP ответа, если Request-URI не содержит IPv4
	LocalIP string
	// Stream параметры RTP потоков новых диалогов
	Stream rtp.StreamConfig
}

// Server однопоточный обработчик SIP запросов
type Server struct {
	cfg    Config
	ports  *rtp.PortManager
	logger logrus.FieldLogger

	handlersMu sync.RWMutex
	onCall     CallHandler
	onBye      ByeHandler
	onRinging  RingingHandler

	lifecycleMu sync.Mutex
	conn        *net.UDPConn
	ctx         context.Context
	localIP     string
	running     atomic.Bool
	wg          sync.WaitGroup

	mu      sync.RWMutex
	dialogs map[string]*Dialog
}

// NewServer создает сервер. ports выделяет RTP сокеты для новых диалогов.
func NewServer(cfg Config, ports *rtp.PortManager, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		cfg:     cfg,
		ports:   ports,
		logger:  logger.WithField("component", "sip"),
		dialogs: make(map[string]*Dialog),
	}
}

// OnCall устанавливает обработчик подтвержденных звонков
func (s *Server) OnCall(handler CallHandler) {
	s.handlersMu.Lock()
	s.onCall = handler
	s.handlersMu.Unlock()
}

// OnBye устанавливает обработчик завершения звонка удаленной стороной
func (s *Server) OnBye(handler ByeHandler) {
	s.handlersMu.Lock()
	s.onBye = handler
	s.handlersMu.Unlock()
}

// OnRinging устанавливает обработчик входящего звонка до ответа
func (s *Server) OnRinging(handler RingingHandler) {
	s.handlersMu.Lock()
	s.onRinging = handler
	s.handlersMu.Unlock()
}

// Start открывает UDP сокет и запускает цикл чтения
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	addr, err := net.ResolveUDPAddr("udp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", s.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", s.cfg.ListenAddr, err)
	}

	s.conn = conn
	s.ctx = ctx
	s.localIP = s.cfg.LocalIP
	if s.localIP == "" {
		s.localIP = detectLocalIP()
	}
	s.running.Store(true)

	s.wg.Add(1)
	go s.readLoop(conn)

	s.logger.WithFields(logrus.Fields{
		"addr":     conn.LocalAddr().String(),
		"local_ip": s.localIP,
	}).Info("SIP сервер запущен")
	return nil
}

// Stop закрывает сокет, ждет завершения цикла чтения и удаляет все диалоги
func (s *Server) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}
	_ = s.conn.Close()
	s.wg.Wait()

	s.mu.Lock()
	dialogs := s.dialogs
	s.dialogs = make(map[string]*Dialog)
	s.mu.Unlock()

	for _, d := range dialogs {
		s.terminate(d)
	}
	s.logger.WithField("dialogs", len(dialogs)).Info("SIP сервер остановлен")
}

// Running сообщает, открыт ли сокет
func (s *Server) Running() bool {
	return s.running.Load()
}

// LocalAddr адрес SIP сокета, nil если сервер не запущен
func (s *Server) LocalAddr() *net.UDPAddr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running.Load() {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Lookup возвращает снимок диалога
func (s *Server) Lookup(callID string) (DialogInfo, bool) {
	s.mu.RLock()
	d, ok := s.dialogs[callID]
	s.mu.RUnlock()
	if !ok {
		return DialogInfo{}, false
	}
	return d.Info(), true
}

// DialogCount количество диалогов в таблице
func (s *Server) DialogCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dialogs)
}

// Drop удаляет диалог без уведомления удаленной стороны
func (s *Server) Drop(callID string) error {
	d := s.remove(callID)
	if d == nil {
		return fmt.Errorf("%w: %s", ErrDialogNotFound, callID)
	}
	s.terminate(d)
	return nil
}

func (s *Server) readLoop(conn *net.UDPConn) {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for s.running.Load() {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.WithError(err).Warn("Ошибка чтения SIP сокета")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.dispatch(data, addr)
	}
}

// dispatch разбирает датаграмму и вызывает обработчик метода.
// Паника обработчика не останавливает цикл.
func (s *Server) dispatch(data []byte, addr *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"panic": r,
				"from":  addr.String(),
			}).Error("Паника в обработчике SIP")
		}
	}()

	req, err := message.Parse(data)
	if err != nil {
		droppedDatagrams.Inc()
		s.logger.WithError(err).WithField("from", addr.String()).Debug("Датаграмма отброшена")
		return
	}

	requestsReceived.WithLabelValues(req.MethodName).Inc()
	log := s.logger.WithFields(logrus.Fields{
		"method":  req.MethodName,
		"call_id": req.CallID(),
		"from":    addr.String(),
	})
	log.Debug("SIP запрос")

	switch req.Method {
	case message.MethodInvite:
		s.handleInvite(req, addr, log)
	case message.MethodAck:
		s.handleAck(req, log)
	case message.MethodBye:
		s.handleBye(req, addr, log)
	case message.MethodOptions, message.MethodCancel:
		s.reply(addr, s.dialogResponse(req, 200))
	default:
		s.reply(addr, message.NewResponse(req, 501, "").Build())
	}
}

// dialogResponse ответ с to-tag диалога, если Call-ID известен
func (s *Server) dialogResponse(req *message.Request, code int) *message.Response {
	b := message.NewResponse(req, code, "")
	s.mu.RLock()
	d, ok := s.dialogs[req.CallID()]
	s.mu.RUnlock()
	if ok {
		b.ToTag(d.localTag)
	}
	return b.Build()
}

func (s *Server) handleInvite(req *message.Request, addr *net.UDPAddr, log logrus.FieldLogger) {
	callID := req.CallID()

	s.mu.RLock()
	existing, ok := s.dialogs[callID]
	s.mu.RUnlock()
	if ok {
		// Повторный INVITE: те же байты, без нового состояния
		retransmissions.Inc()
		for _, datagram := range existing.cachedResponses() {
			s.send(addr, datagram, 0)
		}
		log.Debug("Повторная отправка ответов на INVITE")
		return
	}

	offer, err := media_sdp.ParseOffer(req.Body)
	if err != nil {
		log.WithError(err).Warn("Некорректное SDP предложение")
		s.reply(addr, message.NewResponse(req, 400, "").Build())
		return
	}

	stream, err := s.ports.OpenStream(offer.UDPAddr(), s.cfg.Stream)
	if err != nil {
		log.WithError(err).Error("Не удалось открыть RTP сокет")
		s.reply(addr, message.NewResponse(req, 500, "").Build())
		return
	}

	d := newDialog(callID, message.CallerID(req.From()), req.FromTag(), message.GenerateTag(), addr, offer)
	d.stream = stream
	d.localIP = s.answerIP(req)
	d.onState = func(from, to State) {
		log.WithFields(logrus.Fields{"from_state": from, "to_state": to}).Debug("Переход диалога")
	}

	s.mu.Lock()
	s.dialogs[callID] = d
	s.mu.Unlock()
	activeDialogs.Inc()

	if err := s.answerInvite(req, addr, d); err != nil {
		log.WithError(err).Error("Ошибка обработки INVITE")
		s.reply(addr, message.NewResponse(req, 500, "").ToTag(d.localTag).Build())
		if removed := s.remove(callID); removed != nil {
			s.terminate(removed)
		}
		return
	}

	log.WithFields(logrus.Fields{
		"caller":     d.callerID,
		"media":      offer.UDPAddr().String(),
		"local_port": stream.LocalPort(),
		"rtp_ports":  s.ports.UsedPorts(),
	}).Info("Звонок принят")
}

// answerInvite отправляет 100, 180 и 200 с SDP ответом, кешируя датаграммы
func (s *Server) answerInvite(req *message.Request, addr *net.UDPAddr, d *Dialog) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx := s.context()

	if err := d.fire(ctx, eventTrying); err != nil {
		return err
	}
	s.sendCached(addr, d, message.NewResponse(req, 100, "").Build())

	if err := d.fire(ctx, eventRinging); err != nil {
		return err
	}
	s.sendCached(addr, d, message.NewResponse(req, 180, "").ToTag(d.localTag).Build())

	s.handlersMu.RLock()
	ringing := s.onRinging
	s.handlersMu.RUnlock()
	if ringing != nil {
		ringing(d.Info())
	}

	answer, err := media_sdp.BuildAnswer(d.localIP, d.stream.LocalPort())
	if err != nil {
		return fmt.Errorf("build answer: %w", err)
	}
	ok := message.NewResponse(req, 200, "").
		ToTag(d.localTag).
		Contact(message.ContactURI(s.cfg.Username, d.localIP, s.sipPort())).
		Body("application/sdp", answer).
		Build()
	s.sendCached(addr, d, ok)

	return d.fire(ctx, eventAnswer)
}

func (s *Server) handleAck(req *message.Request, log logrus.FieldLogger) {
	s.mu.RLock()
	d, ok := s.dialogs[req.CallID()]
	s.mu.RUnlock()
	if !ok {
		log.Debug("ACK для неизвестного диалога")
		return
	}

	if d.State() != StateAnswered {
		return
	}
	if err := d.fire(s.context(), eventAck); err != nil {
		log.WithError(err).Warn("Ошибка перехода по ACK")
		return
	}

	s.handlersMu.RLock()
	handler := s.onCall
	s.handlersMu.RUnlock()

	log.Info("Звонок подтвержден, запуск сессии")
	if handler != nil {
		handler(s.context(), d.Info(), d.stream)
	}
}

func (s *Server) handleBye(req *message.Request, addr *net.UDPAddr, log logrus.FieldLogger) {
	s.reply(addr, message.NewResponse(req, 200, "").Build())

	d := s.remove(req.CallID())
	if d == nil {
		return
	}

	s.handlersMu.RLock()
	handler := s.onBye
	s.handlersMu.RUnlock()

	if handler != nil {
		handler(d.callID)
	}
	s.terminate(d)
	log.Info("Звонок завершен удаленной стороной")
}

func (s *Server) remove(callID string) *Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[callID]
	if !ok {
		return nil
	}
	delete(s.dialogs, callID)
	activeDialogs.Dec()
	return d
}

func (s *Server) terminate(d *Dialog) {
	if err := d.fire(s.context(), eventTerminate); err != nil {
		s.logger.WithError(err).WithField("call_id", d.callID).Debug("Ошибка перехода terminate")
	}
	d.releaseStream()
}

func (s *Server) sendCached(addr *net.UDPAddr, d *Dialog, resp *message.Response) {
	s.addUserAgent(resp)
	datagram := resp.Bytes()
	d.cacheResponse(datagram)
	s.send(addr, datagram, resp.StatusCode)
}

func (s *Server) reply(addr *net.UDPAddr, resp *message.Response) {
	s.addUserAgent(resp)
	s.send(addr, resp.Bytes(), resp.StatusCode)
}

func (s *Server) addUserAgent(resp *message.Response) {
	if s.cfg.UserAgent == "" {
		return
	}
	// Content-Length остается последним
	length := resp.Headers.Get("Content-Length")
	resp.Headers.Remove("Content-Length")
	resp.Headers.Set("User-Agent", s.cfg.UserAgent)
	resp.Headers.Set("Content-Length", length)
}

// send пишет датаграмму; code 0 для повторных отправок.
// Вызывается только из цикла чтения, s.conn не меняется до его завершения.
func (s *Server) send(addr *net.UDPAddr, datagram []byte, code int) {
	if _, err := s.conn.WriteToUDP(datagram, addr); err != nil {
		s.logger.WithError(err).WithField("to", addr.String()).Warn("Ошибка отправки SIP ответа")
		return
	}
	if code > 0 {
		responsesSent.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// answerIP адрес для SDP ответа: хост Request-URI, если это IPv4
func (s *Server) answerIP(req *message.Request) string {
	if host := message.RequestHost(req.RequestURI); host != "" {
		return host
	}
	return s.localIP
}

func (s *Server) sipPort() int {
	if s.conn == nil {
		return 0
	}
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *Server) context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// detectLocalIP определяет адрес исходящего интерфейса без отправки пакетов
func detectLocalIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
