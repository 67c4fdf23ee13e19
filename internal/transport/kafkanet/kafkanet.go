// Package kafkanet runs a replica network over a Kafka topic. Every member
// produces to the topic and consumes all of its partitions from the
// newest offset, so the topic behaves like a broadcast bus.
package kafkanet

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/roach88/jsonsync/internal/transport/busnet"
)

// Network is a busnet member on one topic.
type Network struct {
	*busnet.Network
	topic      string
	producer   sarama.SyncProducer
	consumer   sarama.Consumer
	partitions []sarama.PartitionConsumer
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// NewConfig returns the sarama configuration Dial uses.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Dial connects to brokers and joins topic.
func Dial(brokers []string, topic string, logger zerolog.Logger, netOpts ...busnet.Option) (*Network, error) {
	cfg := NewConfig()
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, xerrors.Errorf("kafkanet: create producer: %w", err)
	}
	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		producer.Close()
		return nil, xerrors.Errorf("kafkanet: create consumer: %w", err)
	}
	n, err := New(producer, consumer, topic, logger, netOpts...)
	if err != nil {
		consumer.Close()
		producer.Close()
		return nil, err
	}
	return n, nil
}

// New joins topic through an existing producer and consumer, which the
// network owns from then on.
func New(producer sarama.SyncProducer, consumer sarama.Consumer, topic string, logger zerolog.Logger, netOpts ...busnet.Option) (*Network, error) {
	if topic == "" {
		return nil, xerrors.New("kafkanet: topic is required")
	}
	n := &Network{topic: topic, producer: producer, consumer: consumer, logger: logger}
	n.Network = busnet.New(busnet.PublisherFunc(n.publish), append([]busnet.Option{busnet.WithLogger(logger)}, netOpts...)...)

	ids, err := consumer.Partitions(topic)
	if err != nil {
		n.Network.Close()
		return nil, xerrors.Errorf("kafkanet: list partitions of %s: %w", topic, err)
	}
	for _, id := range ids {
		pc, err := consumer.ConsumePartition(topic, id, sarama.OffsetNewest)
		if err != nil {
			n.stopConsumers()
			n.Network.Close()
			return nil, xerrors.Errorf("kafkanet: consume %s/%d: %w", topic, id, err)
		}
		n.partitions = append(n.partitions, pc)
		n.wg.Add(2)
		go n.consume(pc)
		go n.drainErrors(pc)
	}

	if err := n.Start(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Network) publish(_ context.Context, payload []byte) error {
	_, _, err := n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(n.ID()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return xerrors.Errorf("kafkanet: produce: %w", err)
	}
	return nil
}

func (n *Network) consume(pc sarama.PartitionConsumer) {
	defer n.wg.Done()
	for msg := range pc.Messages() {
		n.Deliver(msg.Value)
	}
}

func (n *Network) drainErrors(pc sarama.PartitionConsumer) {
	defer n.wg.Done()
	for err := range pc.Errors() {
		n.logger.Warn().Err(err).Msg("kafka consumer error")
	}
}

func (n *Network) stopConsumers() {
	for _, pc := range n.partitions {
		pc.AsyncClose()
	}
	n.wg.Wait()
}

// Close leaves the bus and releases the Kafka clients.
func (n *Network) Close() error {
	err := n.Network.Close()
	n.stopConsumers()
	if cerr := n.consumer.Close(); cerr != nil && err == nil {
		err = xerrors.Errorf("kafkanet: close consumer: %w", cerr)
	}
	if cerr := n.producer.Close(); cerr != nil && err == nil {
		err = xerrors.Errorf("kafkanet: close producer: %w", cerr)
	}
	return err
}
