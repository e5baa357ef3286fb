// pkg/kafka/drivers_test.go
package kafka

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/YaganovValera/kafka-relay/pkg/logger"
)

// Брокер по этому адресу не нужен: клиенты подключаются лениво.
var unreachable = Config{
	Brokers:      []string{"127.0.0.1:1"},
	Compression:  "snappy",
	RequiredAcks: "leader",
}

func TestFranzMappings(t *testing.T) {
	for _, name := range []string{"none", "gzip", "snappy", "lz4", "zstd"} {
		if _, err := franzCompression(name); err != nil {
			t.Errorf("franzCompression(%q): %v", name, err)
		}
	}
	if _, err := franzCompression("bogus"); err == nil {
		t.Error("franzCompression(bogus) expected error")
	}
	for _, name := range []string{"all", "leader", "none"} {
		if _, err := franzAcks(name); err != nil {
			t.Errorf("franzAcks(%q): %v", name, err)
		}
	}
	if _, err := franzAcks("bogus"); err == nil {
		t.Error("franzAcks(bogus) expected error")
	}
}

func TestFranzProducerOpts_IdempotenceOnlyWithAllAcks(t *testing.T) {
	withAll, err := franzProducerOpts(Config{Brokers: []string{"b"}, Compression: "none", RequiredAcks: "all"})
	if err != nil {
		t.Fatal(err)
	}
	withLeader, err := franzProducerOpts(Config{Brokers: []string{"b"}, Compression: "none", RequiredAcks: "leader"})
	if err != nil {
		t.Fatal(err)
	}
	if len(withLeader) != len(withAll)+1 {
		t.Errorf("leader acks must add DisableIdempotentWrite: %d vs %d opts", len(withLeader), len(withAll))
	}
}

func TestFranzPublisher_RecordsLargerThanBatchSize(t *testing.T) {
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, "t"))
	if err != nil {
		t.Fatalf("kfake: %v", err)
	}
	defer cluster.Close()

	cfg := Config{Brokers: cluster.ListenAddrs(), Compression: "none", RequiredAcks: "leader"}
	pub, err := newFranzPublisher(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("newFranzPublisher: %v", err)
	}

	sizes := []int{100, BatchBytes + 4096, 256 * 1024}
	var (
		mu   sync.Mutex
		errs = make(map[int]error)
	)
	for _, n := range sizes {
		msg := Message{Topic: "t", Key: []byte("big.txt"), Value: bytes.Repeat([]byte("x"), n)}
		if err := pub.Publish(context.Background(), msg, func(d Delivery) {
			mu.Lock()
			errs[n] = d.Err
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Publish(%d bytes): %v", n, err)
		}
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, n := range sizes {
		got, ok := errs[n]
		if !ok {
			t.Errorf("%d bytes: callback not invoked", n)
			continue
		}
		if got != nil {
			t.Errorf("%d bytes: delivery error %v; want nil", n, got)
		}
	}
}

func TestFranzBatch_ReturnsFetchError(t *testing.T) {
	fetches := kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic: "t",
		Partitions: []kgo.FetchPartition{{
			Partition: 0,
			Err:       kerr.TopicAuthorizationFailed,
		}},
	}}}}

	_, err := franzBatch(fetches, logger.Nop())
	if !errors.Is(err, kerr.TopicAuthorizationFailed) {
		t.Fatalf("franzBatch = %v; want TopicAuthorizationFailed", err)
	}
	if errors.Is(err, ErrInterrupted) {
		t.Fatal("fetch error must not look like an interrupt")
	}
}

func TestFranzBatch_RecordsAndCancellation(t *testing.T) {
	ok := kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic: "t",
		Partitions: []kgo.FetchPartition{{
			Partition: 2,
			Records: []*kgo.Record{
				{Topic: "t", Partition: 2, Offset: 7, Key: []byte("a.txt"), Value: []byte("hello")},
				{Topic: "t", Partition: 2, Offset: 8, Key: []byte("a.txt"), Value: []byte("world")},
			},
		}},
	}}}}
	batch, err := franzBatch(ok, logger.Nop())
	if err != nil {
		t.Fatalf("franzBatch: %v", err)
	}
	if len(batch) != 2 || string(batch[1].Value) != "world" || batch[1].Offset != 8 || batch[0].Partition != 2 {
		t.Errorf("batch = %+v", batch)
	}

	canceled := kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "t",
		Partitions: []kgo.FetchPartition{{Partition: 0, Err: context.Canceled}},
	}}}}
	if _, err := franzBatch(canceled, logger.Nop()); !errors.Is(err, ErrInterrupted) {
		t.Errorf("franzBatch(canceled) = %v; want ErrInterrupted", err)
	}
}

func TestFranzSubscriber_NotSubscribedAndInterrupt(t *testing.T) {
	sub, err := newFranzSubscriber(unreachable, logger.Nop())
	if err != nil {
		t.Fatalf("newFranzSubscriber: %v", err)
	}
	if _, err := sub.Poll(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("Poll before Subscribe = %v; want ErrNotSubscribed", err)
	}
	if err := sub.Subscribe("t1"); err != nil {
		t.Fatal(err)
	}
	sub.Interrupt()
	if _, err := sub.Poll(context.Background()); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Poll after Interrupt = %v; want ErrInterrupted", err)
	}
}

func TestKafkaGoMappings(t *testing.T) {
	cases := map[string]kafka.Compression{
		"gzip":   kafka.Gzip,
		"snappy": kafka.Snappy,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
	}
	for name, want := range cases {
		got, err := kafkaGoCompression(name)
		if err != nil || got != want {
			t.Errorf("kafkaGoCompression(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := kafkaGoCompression("bogus"); err == nil {
		t.Error("kafkaGoCompression(bogus) expected error")
	}

	acks := map[string]kafka.RequiredAcks{
		"all":    kafka.RequireAll,
		"leader": kafka.RequireOne,
		"none":   kafka.RequireNone,
	}
	for name, want := range acks {
		got, err := kafkaGoAcks(name)
		if err != nil || got != want {
			t.Errorf("kafkaGoAcks(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
}

func TestKafkaGoWriter_Tuning(t *testing.T) {
	w, err := newKafkaGoWriter(unreachable)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Async {
		t.Error("writer must be async")
	}
	if w.BatchBytes != MaxMessageBytes {
		t.Errorf("BatchBytes = %d; want %d", w.BatchBytes, MaxMessageBytes)
	}
	if w.RequiredAcks != kafka.RequireOne {
		t.Errorf("RequiredAcks = %v; want RequireOne", w.RequiredAcks)
	}
}

func TestKafkaGoCompletion_InvokesCallbacks(t *testing.T) {
	rec := &deliveryRecorder{}
	boom := errors.New("boom")
	kafkaGoCompletion([]kafka.Message{
		{Topic: "t1", Partition: 2, Offset: 7, WriterData: DeliveryFunc(rec.cb)},
		{Topic: "t1", WriterData: nil},
	}, boom)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("got %d deliveries; want 1", len(got))
	}
	if got[0].Partition != 2 || got[0].Offset != 7 || !errors.Is(got[0].Err, boom) {
		t.Errorf("unexpected delivery %+v", got[0])
	}
}

func TestKafkaGoSubscriber_NotSubscribedAndInterrupt(t *testing.T) {
	sub := newKafkaGoSubscriber(unreachable, logger.Nop())
	defer sub.Close()

	if _, err := sub.Poll(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("Poll before Subscribe = %v; want ErrNotSubscribed", err)
	}
	if err := sub.Subscribe("t1"); err != nil {
		t.Fatal(err)
	}
	if err := sub.Subscribe("t1"); err == nil {
		t.Fatal("second Subscribe must fail")
	}
	sub.Interrupt()
	if _, err := sub.Poll(context.Background()); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Poll after Interrupt = %v; want ErrInterrupted", err)
	}
}
