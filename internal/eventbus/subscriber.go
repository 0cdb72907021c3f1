package eventbus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/connection"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/eventbus/pubsubproto"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

var errSubscribeTimeout = errors.New("timed out establishing the subscribe stream")

// FetchStream is the client side of an open subscribe stream.
type FetchStream interface {
	Send(request *pubsubproto.FetchRequest) error
	Recv() (*pubsubproto.FetchResponse, error)
}

// StreamOpener establishes a fresh subscribe stream.  It is called on
// startup and again after every stream failure.
type StreamOpener interface {
	OpenSubscribeStream(ctx context.Context) (FetchStream, error)
}

type EventProcessor interface {
	Process(ctx context.Context, event *pubsubproto.ConsumerEvent) error
}

// connectionStreamOpener opens subscribe streams over the cached event bus
// connection.  The connection is cleared on failure so the next attempt
// builds a fresh channel with current session credentials.
type connectionStreamOpener struct {
	factory connection.ConnectionFactory
	orgType domain.OrgType
}

func NewConnectionStreamOpener(factory connection.ConnectionFactory, orgType domain.OrgType) StreamOpener {
	return &connectionStreamOpener{
		factory: factory,
		orgType: orgType,
	}
}

func (o *connectionStreamOpener) OpenSubscribeStream(ctx context.Context) (FetchStream, error) {

	conn, err := o.factory.GetConnection(ctx, o.orgType)
	if err != nil {
		return nil, err
	}

	pubSubConn, ok := conn.(*connection.PubSubConnection)
	if !ok {
		return nil, fmt.Errorf("unexpected connection type %T for event bus", conn)
	}

	stream, err := NewPubSubClient(pubSubConn.GrpcConn()).Subscribe(ctx)
	if err != nil {
		o.factory.ClearConnection(o.orgType)
		return nil, err
	}

	return stream, nil
}

// connectionSchemaFetcher resolves schemas over the cached event bus
// connection.  The unary fetch runs under a deadline; a stalled broker
// must not wedge the stream callback that triggered the lookup.
type connectionSchemaFetcher struct {
	factory connection.ConnectionFactory
	orgType domain.OrgType
	timeout time.Duration
}

func NewConnectionSchemaFetcher(cfg *config.Config, factory connection.ConnectionFactory, orgType domain.OrgType) SchemaFetcher {
	return &connectionSchemaFetcher{
		factory: factory,
		orgType: orgType,
		timeout: cfg.EventBusSubscribeTimeout,
	}
}

func (f *connectionSchemaFetcher) GetSchema(ctx context.Context, schemaId string) (*pubsubproto.SchemaInfo, error) {

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	conn, err := f.factory.GetConnection(ctx, f.orgType)
	if err != nil {
		return nil, err
	}

	pubSubConn, ok := conn.(*connection.PubSubConnection)
	if !ok {
		return nil, fmt.Errorf("unexpected connection type %T for schema lookup", conn)
	}

	return NewPubSubClient(pubSubConn.GrpcConn()).GetSchema(ctx, schemaId)
}

// Subscriber owns the subscribe stream lifecycle: the initial fetch request
// with the replay position, synchronous per-batch dispatch, flow control
// top-ups and reconnection after stream failures.
type Subscriber struct {
	topicName        string
	fetchCount       int32
	monitorInterval  time.Duration
	subscribeTimeout time.Duration
	opener           StreamOpener
	processor        EventProcessor

	lock      sync.Mutex
	connected bool
	replayId  []byte

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(cfg *config.Config, opener StreamOpener, processor EventProcessor) *Subscriber {

	var replayId []byte
	if cfg.EventBusReplayId != "" {
		decoded, err := hex.DecodeString(cfg.EventBusReplayId)
		if err != nil {
			logger.LogWithError(logger.Log.WithFields(logrus.Fields{"replay_id": cfg.EventBusReplayId}),
				"Ignoring unparsable configured replay id", err)
		} else {
			replayId = decoded
		}
	}

	return &Subscriber{
		topicName:        cfg.EventBusTopic,
		fetchCount:       int32(cfg.EventBusFetchCount),
		monitorInterval:  cfg.EventBusMonitorInterval,
		subscribeTimeout: cfg.EventBusSubscribeTimeout,
		opener:           opener,
		processor:        processor,
		replayId:         replayId,
	}
}

func (s *Subscriber) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.monitor(ctx)
}

func (s *Subscriber) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Subscriber) IsConnected() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.connected
}

func (s *Subscriber) monitor(ctx context.Context) {
	defer close(s.done)

	log := logger.Log.WithFields(logrus.Fields{"topic": s.topicName})

	for {
		err := s.runStream(ctx, log)

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			logger.LogWithError(log, "Subscribe stream failed", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.monitorInterval):
			metrics.reconnectCounter.Inc()
		}
	}
}

func (s *Subscriber) runStream(ctx context.Context, log *logrus.Entry) error {

	stream, cancelStream, err := s.openStream(ctx)
	if err != nil {
		return err
	}
	defer cancelStream()

	s.setConnected(true)
	defer s.setConnected(false)

	log.Info("Subscribed to change event topic")

	for {
		response, err := stream.Recv()
		if err != nil {
			return err
		}

		for _, event := range response.Events {
			err := s.processor.Process(ctx, event)
			if err != nil {
				logger.LogWithError(log, "Unable to process change event", err)
			}
		}

		if len(response.LatestReplayId) > 0 {
			s.storeReplayId(response.LatestReplayId)
		}

		// top up flow control by the number of events just consumed
		if len(response.Events) > 0 {
			err = stream.Send(&pubsubproto.FetchRequest{
				TopicName:    s.topicName,
				NumRequested: int32(len(response.Events)),
			})
			if err != nil {
				return err
			}
		}
	}
}

// openStream establishes a stream and sends the initial fetch request
// within the subscribe timeout.  The returned cancel func ends the stream
// context once the stream is done; a timed-out attempt is cancelled and
// abandoned so the monitor loop stays free to retry.
func (s *Subscriber) openStream(ctx context.Context) (FetchStream, context.CancelFunc, error) {

	streamCtx, cancelStream := context.WithCancel(ctx)

	type openResult struct {
		stream FetchStream
		err    error
	}

	opened := make(chan openResult, 1)
	go func() {
		stream, err := s.opener.OpenSubscribeStream(streamCtx)
		if err == nil {
			err = stream.Send(s.initialFetchRequest())
		}
		opened <- openResult{stream: stream, err: err}
	}()

	select {
	case result := <-opened:
		if result.err != nil {
			cancelStream()
			return nil, nil, result.err
		}
		return result.stream, cancelStream, nil
	case <-time.After(s.subscribeTimeout):
		cancelStream()
		return nil, nil, errSubscribeTimeout
	}
}

func (s *Subscriber) initialFetchRequest() *pubsubproto.FetchRequest {

	request := &pubsubproto.FetchRequest{
		TopicName:    s.topicName,
		ReplayPreset: pubsubproto.ReplayPresetLatest,
		NumRequested: s.fetchCount,
	}

	replayId := s.currentReplayId()
	if len(replayId) > 0 {
		request.ReplayPreset = pubsubproto.ReplayPresetCustom
		request.ReplayId = replayId
	}

	return request
}

func (s *Subscriber) setConnected(connected bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.connected = connected
}

func (s *Subscriber) currentReplayId() []byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.replayId
}

func (s *Subscriber) storeReplayId(replayId []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.replayId = replayId
}
