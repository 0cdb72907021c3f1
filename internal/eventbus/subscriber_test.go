package eventbus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/connection"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/eventbus/pubsubproto"
)

type scriptedStream struct {
	lock      sync.Mutex
	sent      []*pubsubproto.FetchRequest
	responses chan *pubsubproto.FetchResponse
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{
		responses: make(chan *pubsubproto.FetchResponse, 10),
	}
}

func (s *scriptedStream) Send(request *pubsubproto.FetchRequest) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.sent = append(s.sent, request)
	return nil
}

func (s *scriptedStream) Recv() (*pubsubproto.FetchResponse, error) {
	response, ok := <-s.responses
	if !ok {
		return nil, io.EOF
	}
	return response, nil
}

func (s *scriptedStream) sentRequests() []*pubsubproto.FetchRequest {
	s.lock.Lock()
	defer s.lock.Unlock()

	requests := make([]*pubsubproto.FetchRequest, len(s.sent))
	copy(requests, s.sent)
	return requests
}

type scriptedOpener struct {
	lock    sync.Mutex
	streams []*scriptedStream
	opened  int
}

func (o *scriptedOpener) OpenSubscribeStream(ctx context.Context) (FetchStream, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.opened >= len(o.streams) {
		return nil, errors.New("no stream available")
	}

	stream := o.streams[o.opened]
	o.opened++
	return stream, nil
}

func (o *scriptedOpener) openedCount() int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.opened
}

type recordingProcessor struct {
	lock   sync.Mutex
	events []*pubsubproto.ConsumerEvent
}

func (p *recordingProcessor) Process(ctx context.Context, event *pubsubproto.ConsumerEvent) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.events = append(p.events, event)
	return nil
}

func (p *recordingProcessor) eventCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.events)
}

func testSubscriberConfig() *config.Config {
	return &config.Config{
		EventBusTopic:            "/data/ChangeEvents",
		EventBusFetchCount:       100,
		EventBusMonitorInterval:  5 * time.Millisecond,
		EventBusSubscribeTimeout: time.Second,
	}
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", description)
}

func TestSubscriberDispatchesBatchAndTopsUpFlowControl(t *testing.T) {
	stream := newScriptedStream()
	opener := &scriptedOpener{streams: []*scriptedStream{stream}}
	processor := &recordingProcessor{}

	subscriber := NewSubscriber(testSubscriberConfig(), opener, processor)
	subscriber.Start()
	defer subscriber.Stop()

	stream.responses <- &pubsubproto.FetchResponse{
		Events: []*pubsubproto.ConsumerEvent{
			{Event: &pubsubproto.ProducerEvent{Id: "event-1"}, ReplayId: []byte{0x0a}},
			{Event: &pubsubproto.ProducerEvent{Id: "event-2"}, ReplayId: []byte{0x0b}},
		},
		LatestReplayId: []byte{0x0b},
	}

	waitFor(t, "both events to be dispatched", func() bool {
		return processor.eventCount() == 2
	})

	waitFor(t, "the flow control top-up request", func() bool {
		return len(stream.sentRequests()) == 2
	})

	requests := stream.sentRequests()

	if requests[0].TopicName != "/data/ChangeEvents" {
		t.Fatalf("Expected the initial request to carry the topic, got %q", requests[0].TopicName)
	}
	if requests[0].ReplayPreset != pubsubproto.ReplayPresetLatest {
		t.Fatalf("Expected a fresh subscription to start at LATEST, got %d", requests[0].ReplayPreset)
	}
	if requests[0].NumRequested != 100 {
		t.Fatalf("Expected the configured fetch count, got %d", requests[0].NumRequested)
	}

	if requests[1].NumRequested != 2 {
		t.Fatalf("Expected the top-up to match the consumed batch size, got %d", requests[1].NumRequested)
	}

	close(stream.responses)
}

func TestSubscriberResubscribesWithStoredReplayId(t *testing.T) {
	firstStream := newScriptedStream()
	secondStream := newScriptedStream()
	opener := &scriptedOpener{streams: []*scriptedStream{firstStream, secondStream}}
	processor := &recordingProcessor{}

	subscriber := NewSubscriber(testSubscriberConfig(), opener, processor)
	subscriber.Start()
	defer subscriber.Stop()

	firstStream.responses <- &pubsubproto.FetchResponse{
		Events: []*pubsubproto.ConsumerEvent{
			{Event: &pubsubproto.ProducerEvent{Id: "event-1"}, ReplayId: []byte{0x0b}},
		},
		LatestReplayId: []byte{0x0b},
	}

	waitFor(t, "the first event to be dispatched", func() bool {
		return processor.eventCount() == 1
	})

	// kill the first stream; the monitor loop must reconnect
	close(firstStream.responses)

	waitFor(t, "a second stream to be opened", func() bool {
		return opener.openedCount() == 2
	})

	waitFor(t, "the resubscribe request", func() bool {
		return len(secondStream.sentRequests()) == 1
	})

	request := secondStream.sentRequests()[0]

	if request.ReplayPreset != pubsubproto.ReplayPresetCustom {
		t.Fatalf("Expected the resubscription to use CUSTOM replay, got %d", request.ReplayPreset)
	}
	if string(request.ReplayId) != string([]byte{0x0b}) {
		t.Fatalf("Expected the stored replay id to be sent, got %v", request.ReplayId)
	}

	if subscriber.IsConnected() == false {
		t.Fatalf("Expected the subscriber to report connected after resubscribing")
	}

	close(secondStream.responses)
}

// stalledOpener never returns until its context is cancelled, like a
// broker that accepts the TCP connection but stalls the handshake.
type stalledOpener struct {
	lock     sync.Mutex
	attempts int
}

func (o *stalledOpener) OpenSubscribeStream(ctx context.Context) (FetchStream, error) {
	o.lock.Lock()
	o.attempts++
	o.lock.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (o *stalledOpener) attemptCount() int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.attempts
}

func TestSubscriberTimesOutStalledStreamOpen(t *testing.T) {
	opener := &stalledOpener{}

	cfg := testSubscriberConfig()
	cfg.EventBusSubscribeTimeout = 5 * time.Millisecond

	subscriber := NewSubscriber(cfg, opener, &recordingProcessor{})
	subscriber.Start()
	defer subscriber.Stop()

	waitFor(t, "the stalled open to be abandoned and retried", func() bool {
		return opener.attemptCount() >= 2
	})

	if subscriber.IsConnected() {
		t.Fatalf("Expected the subscriber to stay disconnected while opens stall")
	}
}

type deadlineRecordingFactory struct {
	hadDeadline bool
}

func (f *deadlineRecordingFactory) GetConnection(ctx context.Context, orgType domain.OrgType) (connection.Connection, error) {
	_, f.hadDeadline = ctx.Deadline()
	return nil, errors.New("broker unavailable")
}

func (f *deadlineRecordingFactory) ClearConnection(orgType domain.OrgType) {
}

func TestSchemaFetcherRunsUnderDeadline(t *testing.T) {
	factory := &deadlineRecordingFactory{}

	fetcher := NewConnectionSchemaFetcher(testSubscriberConfig(), factory, "production")

	_, err := fetcher.GetSchema(context.TODO(), "schema-1")
	if err == nil {
		t.Fatalf("Expected the factory error to surface")
	}

	if factory.hadDeadline == false {
		t.Fatalf("Expected the schema lookup to carry a deadline")
	}
}

func TestSubscriberStartsFromConfiguredReplayId(t *testing.T) {
	stream := newScriptedStream()
	opener := &scriptedOpener{streams: []*scriptedStream{stream}}

	cfg := testSubscriberConfig()
	cfg.EventBusReplayId = "0a0b"

	subscriber := NewSubscriber(cfg, opener, &recordingProcessor{})
	subscriber.Start()
	defer subscriber.Stop()

	waitFor(t, "the initial fetch request", func() bool {
		return len(stream.sentRequests()) == 1
	})

	request := stream.sentRequests()[0]

	if request.ReplayPreset != pubsubproto.ReplayPresetCustom {
		t.Fatalf("Expected a configured replay id to force CUSTOM replay, got %d", request.ReplayPreset)
	}
	if string(request.ReplayId) != string([]byte{0x0a, 0x0b}) {
		t.Fatalf("Expected the configured replay id to be decoded, got %v", request.ReplayId)
	}

	close(stream.responses)
}
