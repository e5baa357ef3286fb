// pkg/kafka/sarama_test.go
package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

// Проверяем buildSaramaConfig для acks.
func TestBuildSaramaConfig_RequiredAcks(t *testing.T) {
	cases := []struct {
		acks    string
		want    sarama.RequiredAcks
		wantErr bool
	}{
		{"all", sarama.WaitForAll, false},
		{"leader", sarama.WaitForLocal, false},
		{"none", sarama.NoResponse, false},
		{"invalid", 0, true},
	}
	for _, c := range cases {
		t.Run(c.acks, func(t *testing.T) {
			sc, err := buildSaramaConfig(Config{RequiredAcks: c.acks, Compression: "none"})
			if c.wantErr {
				if err == nil {
					t.Errorf("buildSaramaConfig(%q) expected error", c.acks)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sc.Producer.RequiredAcks != c.want {
				t.Errorf("got %v; want %v", sc.Producer.RequiredAcks, c.want)
			}
		})
	}
}

// Проверяем buildSaramaConfig для Compression.
func TestBuildSaramaConfig_Compression(t *testing.T) {
	cases := []struct {
		comp    string
		want    sarama.CompressionCodec
		wantErr bool
	}{
		{"none", sarama.CompressionNone, false},
		{"gzip", sarama.CompressionGZIP, false},
		{"snappy", sarama.CompressionSnappy, false},
		{"lz4", sarama.CompressionLZ4, false},
		{"zstd", sarama.CompressionZSTD, false},
		{"bogus", 0, true},
	}
	for _, c := range cases {
		t.Run(c.comp, func(t *testing.T) {
			sc, err := buildSaramaConfig(Config{RequiredAcks: "all", Compression: c.comp})
			if c.wantErr {
				if err == nil {
					t.Errorf("buildSaramaConfig comp=%q expected error", c.comp)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", c.comp, err)
			}
			if sc.Producer.Compression != c.want {
				t.Errorf("got %v; want %v", sc.Producer.Compression, c.want)
			}
		})
	}
}

func TestBuildSaramaConfig_Tuning(t *testing.T) {
	sc, err := buildSaramaConfig(Config{RequiredAcks: "leader", Compression: "snappy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Producer.Flush.Bytes != BatchBytes {
		t.Errorf("Flush.Bytes = %d; want %d", sc.Producer.Flush.Bytes, BatchBytes)
	}
	if sc.Producer.MaxMessageBytes != MaxMessageBytes {
		t.Errorf("MaxMessageBytes = %d; want %d", sc.Producer.MaxMessageBytes, MaxMessageBytes)
	}
	if sc.Consumer.Fetch.Max != MaxMessageBytes {
		t.Errorf("Fetch.Max = %d; want %d", sc.Consumer.Fetch.Max, MaxMessageBytes)
	}
	if !sc.Producer.Return.Successes || !sc.Producer.Return.Errors {
		t.Error("producer must return successes and errors")
	}
	if sc.ClientID != ClientID {
		t.Errorf("ClientID = %q; want %q", sc.ClientID, ClientID)
	}
}

// -----------------------------------------------------------------------------
// Publisher
// -----------------------------------------------------------------------------

type deliveryRecorder struct {
	mu  sync.Mutex
	got []Delivery
}

func (r *deliveryRecorder) cb(d Delivery) {
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
}

func (r *deliveryRecorder) all() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

// Close должен дождаться callback'ов и по успехам, и по ошибкам.
func TestSaramaPublisher_DeliveryCallbacks(t *testing.T) {
	sc, err := buildSaramaConfig(Config{RequiredAcks: "leader", Compression: "none"})
	if err != nil {
		t.Fatal(err)
	}
	mp := mocks.NewAsyncProducer(t, sc)
	mp.ExpectInputAndSucceed()
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)
	mp.ExpectInputAndSucceed()

	pub := newSaramaPublisher(mp, logger.Nop())
	rec := &deliveryRecorder{}
	for _, v := range []string{"hello", "world", "!"} {
		if err := pub.Publish(context.Background(), Message{Topic: "t1", Value: []byte(v)}, rec.cb); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := rec.all()
	if len(got) != 3 {
		t.Fatalf("got %d deliveries; want 3", len(got))
	}
	var failed int
	for _, d := range got {
		if d.Topic != "t1" {
			t.Errorf("delivery topic = %q; want t1", d.Topic)
		}
		if d.Err != nil {
			failed++
			if !errors.Is(d.Err, sarama.ErrOutOfBrokers) {
				t.Errorf("unexpected delivery error: %v", d.Err)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed deliveries = %d; want 1", failed)
	}

	// повторный Close безопасен
	if err := pub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSaramaPublisher_NilCallback(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputAndSucceed()
	pub := newSaramaPublisher(mp, logger.Nop())
	if err := pub.Publish(context.Background(), Message{Topic: "t", Value: []byte("x")}, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

type fakeSession struct {
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32                     { return nil }
func (s *fakeSession) MemberID() string                                { return "m1" }
func (s *fakeSession) GenerationID() int32                             { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)         {}
func (s *fakeSession) Commit()                                         {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)        {}
func (s *fakeSession) Context() context.Context                        { return s.ctx }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "t1" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

// fakeGroup отдаёт заготовленные сообщения в первой сессии,
// последующие сессии ждут отмены контекста.
type fakeGroup struct {
	values     []string
	consumeErr error

	once      sync.Once
	session   *fakeSession
	errs      chan error
	closeOnce sync.Once
}

func newFakeGroup(values ...string) *fakeGroup {
	return &fakeGroup{values: values, errs: make(chan error)}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, h sarama.ConsumerGroupHandler) error {
	if g.consumeErr != nil {
		return g.consumeErr
	}
	first := false
	g.once.Do(func() { first = true })
	if !first {
		<-ctx.Done()
		return nil
	}

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(g.values))}
	for i, v := range g.values {
		claim.msgs <- &sarama.ConsumerMessage{Topic: "t1", Key: []byte("k"), Value: []byte(v), Offset: int64(i)}
	}
	close(claim.msgs)

	g.session = &fakeSession{ctx: ctx}
	if err := h.Setup(g.session); err != nil {
		return err
	}
	err := h.ConsumeClaim(g.session, claim)
	_ = h.Cleanup(g.session)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	g.closeOnce.Do(func() { close(g.errs) })
	return nil
}

func TestSaramaSubscriber_PollOrderAndMark(t *testing.T) {
	g := newFakeGroup("a", "b", "c")
	sub := newSaramaSubscriber(g, nil, logger.Nop())

	if _, err := sub.Poll(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("Poll before Subscribe = %v; want ErrNotSubscribed", err)
	}
	if err := sub.Subscribe("t1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Subscribe("t1"); err == nil {
		t.Fatal("second Subscribe must fail")
	}

	var got []string
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(got) < 3 {
		batch, err := sub.Poll(ctx)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(batch) == 0 {
			t.Fatal("Poll returned empty batch")
		}
		for _, m := range batch {
			got = append(got, string(m.Value))
		}
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("order = %v; want [a b c]", got)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	g.session.mu.Lock()
	marked := len(g.session.marked)
	g.session.mu.Unlock()
	if marked != 3 {
		t.Errorf("marked = %d; want 3", marked)
	}
}

func TestSaramaSubscriber_Interrupt(t *testing.T) {
	sub := newSaramaSubscriber(newFakeGroup(), nil, logger.Nop())
	defer sub.Close()
	if err := sub.Subscribe("t1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := sub.Poll(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Interrupt()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("Poll = %v; want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after Interrupt")
	}

	// прерывание терминально
	if _, err := sub.Poll(context.Background()); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Poll after Interrupt = %v; want ErrInterrupted", err)
	}
	// повторный Interrupt — no-op
	sub.Interrupt()
}

func TestSaramaSubscriber_ContextCancel(t *testing.T) {
	sub := newSaramaSubscriber(newFakeGroup(), nil, logger.Nop())
	defer sub.Close()
	if err := sub.Subscribe("t1"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Poll(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Poll = %v; want ErrInterrupted", err)
	}
}

func TestSaramaSubscriber_ConsumeError(t *testing.T) {
	g := newFakeGroup()
	g.consumeErr = sarama.ErrOutOfBrokers
	sub := newSaramaSubscriber(g, nil, logger.Nop())
	defer sub.Close()
	if err := sub.Subscribe("t1"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sub.Poll(ctx)
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("Poll = %v; want ErrOutOfBrokers", err)
	}
}
