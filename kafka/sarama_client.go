/*
 * Copyright 2018-present Open Networking Foundation

 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at

 * http://www.apache.org/licenses/LICENSE-2.0

 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v3"
	"github.com/google/uuid"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"google.golang.org/protobuf/proto"
)

// consumerChannels represents a consumer group listening on a kafka topic.
// Once a message is received on that topic it is decoded and broadcast to
// all the listening channels.
type consumerChannels struct {
	group      sarama.ConsumerGroup
	cancel     context.CancelFunc
	newMessage MessageFactory
	channels   []chan proto.Message
}

// SaramaClient is the kafka Client implementation on top of sarama
type SaramaClient struct {
	cAdmin                        sarama.ClusterAdmin
	address                       string
	producer                      sarama.AsyncProducer
	consumerGroupPrefix           string
	producerFlushFrequency        int
	producerFlushMessages         int
	producerFlushMaxmessages      int
	producerRetryMax              int
	producerRetryBackOff          time.Duration
	consumerMaxwait               int
	maxProcessingTime             int
	numPartitions                 int
	numReplicas                   int
	autoCreateTopic               bool
	metadataMaxRetry              int
	topicToConsumerChannelMap     map[string]*consumerChannels
	lockTopicToConsumerChannelMap sync.RWMutex
	topicLockMap                  map[string]*sync.RWMutex
	lockOfTopicLockMap            sync.RWMutex
	started                       bool
}

type SaramaClientOption func(*SaramaClient)

func Address(address string) SaramaClientOption {
	return func(args *SaramaClient) {
		args.address = address
	}
}

func ConsumerGroupPrefix(prefix string) SaramaClientOption {
	return func(args *SaramaClient) {
		args.consumerGroupPrefix = prefix
	}
}

func ProducerFlushFrequency(frequency int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.producerFlushFrequency = frequency
	}
}

func ProducerFlushMessages(num int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.producerFlushMessages = num
	}
}

func ProducerFlushMaxMessages(num int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.producerFlushMaxmessages = num
	}
}

func ProducerMaxRetries(num int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.producerRetryMax = num
	}
}

func ProducerRetryBackoff(duration time.Duration) SaramaClientOption {
	return func(args *SaramaClient) {
		args.producerRetryBackOff = duration
	}
}

func ConsumerMaxWait(wait int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.consumerMaxwait = wait
	}
}

func MaxProcessingTime(pTime int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.maxProcessingTime = pTime
	}
}

func NumPartitions(number int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.numPartitions = number
	}
}

func NumReplicas(number int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.numReplicas = number
	}
}

func AutoCreateTopic(opt bool) SaramaClientOption {
	return func(args *SaramaClient) {
		args.autoCreateTopic = opt
	}
}

func MetadatMaxRetries(retry int) SaramaClientOption {
	return func(args *SaramaClient) {
		args.metadataMaxRetry = retry
	}
}

func NewSaramaClient(opts ...SaramaClientOption) *SaramaClient {
	client := &SaramaClient{
		address:                  DefaultKafkaAddress,
		consumerGroupPrefix:      DefaultGroupName,
		producerFlushFrequency:   DefaultProducerFlush,
		producerFlushMessages:    DefaultProducerFlush,
		producerFlushMaxmessages: DefaultProducerFlush,
		producerRetryMax:         DefaultProducerRetryMax,
		producerRetryBackOff:     DefaultProducerRetryBackof * time.Millisecond,
		consumerMaxwait:          DefaultConsumerMaxWait,
		maxProcessingTime:        DefaultMaxProcessingTime,
		numPartitions:            DefaultNumberPartitions,
		numReplicas:              DefaultNumberReplicas,
		autoCreateTopic:          DefaultAutoCreateTopic,
		metadataMaxRetry:         DefaultMetadataMaxRetry,
	}
	for _, option := range opts {
		option(client)
	}

	client.topicToConsumerChannelMap = make(map[string]*consumerChannels)
	client.topicLockMap = make(map[string]*sync.RWMutex)
	return client
}

// Start connects to the broker, retrying with exponential backoff until the
// context is cancelled.
func (sc *SaramaClient) Start(ctx context.Context) error {
	logger.Infow(ctx, "starting-kafka-sarama-client", log.Fields{"address": sc.address})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		if err := sc.createClusterAdmin(ctx); err != nil {
			logger.Warnw(ctx, "cluster-admin-not-ready", log.Fields{"error": err})
			return err
		}
		if err := sc.createPublisher(ctx); err != nil {
			logger.Warnw(ctx, "publisher-not-ready", log.Fields{"error": err})
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return err
	}

	sc.started = true
	logger.Info(ctx, "kafka-sarama-client-started")
	return nil
}

func (sc *SaramaClient) Stop(ctx context.Context) {
	logger.Info(ctx, "stopping-sarama-client")
	sc.started = false

	sc.lockTopicToConsumerChannelMap.Lock()
	for topic, consumerCh := range sc.topicToConsumerChannelMap {
		consumerCh.cancel()
		if err := consumerCh.group.Close(); err != nil {
			logger.Errorw(ctx, "closing-group-consumer-failed", log.Fields{"error": err, "topic": topic})
		}
		for _, ch := range consumerCh.channels {
			close(ch)
		}
		delete(sc.topicToConsumerChannelMap, topic)
	}
	sc.lockTopicToConsumerChannelMap.Unlock()

	if sc.producer != nil {
		if err := sc.producer.Close(); err != nil {
			logger.Errorw(ctx, "closing-producer-failed", log.Fields{"error": err})
		}
	}
	if sc.cAdmin != nil {
		if err := sc.cAdmin.Close(); err != nil {
			logger.Errorw(ctx, "closing-cluster-admin-failed", log.Fields{"error": err})
		}
	}
	logger.Info(ctx, "sarama-client-stopped")
}

// createTopic creates a topic on the broker.  The invoking function must
// hold the topic lock.
func (sc *SaramaClient) createTopic(ctx context.Context, topic *Topic, numPartition int, repFactor int) error {
	topicDetail := &sarama.TopicDetail{
		NumPartitions:     int32(numPartition),
		ReplicationFactor: int16(repFactor),
	}
	if err := sc.cAdmin.CreateTopic(topic.Name, topicDetail, false); err != nil {
		if errors.Is(err, sarama.ErrTopicAlreadyExists) {
			logger.Debugw(ctx, "topic-already-exist", log.Fields{"topic": topic.Name})
			return nil
		}
		logger.Errorw(ctx, "create-topic-failure", log.Fields{"error": err, "topic": topic.Name})
		return err
	}
	logger.Debugw(ctx, "topic-created", log.Fields{"topic": topic, "num-partition": numPartition, "replication-factor": repFactor})
	return nil
}

// CreateTopic creates a topic on the broker.  It uses a lock on a specific
// topic to ensure no two go routines are performing operations on the same
// topic.
func (sc *SaramaClient) CreateTopic(ctx context.Context, topic *Topic, numPartition int, repFactor int) error {
	sc.lockTopic(topic)
	defer sc.unLockTopic(topic)

	return sc.createTopic(ctx, topic, numPartition, repFactor)
}

// DeleteTopic removes a topic from the broker
func (sc *SaramaClient) DeleteTopic(ctx context.Context, topic *Topic) error {
	sc.lockTopic(topic)
	defer sc.unLockTopic(topic)

	if err := sc.cAdmin.DeleteTopic(topic.Name); err != nil {
		if errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
			logger.Debugw(ctx, "topic-not-exist", log.Fields{"topic": topic.Name})
			return nil
		}
		logger.Errorw(ctx, "delete-topic-failed", log.Fields{"topic": topic.Name, "error": err})
		return err
	}
	if err := sc.closeConsumerGroup(ctx, topic); err != nil {
		logger.Errorw(ctx, "failure-clearing-channels", log.Fields{"topic": topic.Name, "error": err})
		return err
	}
	return nil
}

// Subscribe registers a caller to a topic.  It returns a channel the caller
// can use to receive decoded messages from that topic.
func (sc *SaramaClient) Subscribe(ctx context.Context, topic *Topic, newMessage MessageFactory) (<-chan proto.Message, error) {
	sc.lockTopic(topic)
	defer sc.unLockTopic(topic)

	logger.Debugw(ctx, "subscribe", log.Fields{"topic": topic.Name})

	// If a consumer group already exists for that topic then reuse it
	sc.lockTopicToConsumerChannelMap.Lock()
	if consumerCh, exist := sc.topicToConsumerChannelMap[topic.Name]; exist {
		logger.Debugw(ctx, "topic-already-subscribed", log.Fields{"topic": topic.Name})
		ch := make(chan proto.Message)
		consumerCh.channels = append(consumerCh.channels, ch)
		sc.lockTopicToConsumerChannelMap.Unlock()
		return ch, nil
	}
	sc.lockTopicToConsumerChannelMap.Unlock()

	if sc.autoCreateTopic {
		if err := sc.createTopic(ctx, topic, sc.numPartitions, sc.numReplicas); err != nil {
			logger.Errorw(ctx, "create-topic-failure", log.Fields{"error": err, "topic": topic.Name})
			return nil, err
		}
	}
	return sc.setupGroupConsumerChannel(ctx, topic, newMessage)
}

// UnSubscribe unsubscribes a consumer channel from a given topic
func (sc *SaramaClient) UnSubscribe(ctx context.Context, topic *Topic, ch <-chan proto.Message) error {
	sc.lockTopic(topic)
	defer sc.unLockTopic(topic)

	logger.Debugw(ctx, "unsubscribing-channel-from-topic", log.Fields{"topic": topic.Name})

	sc.lockTopicToConsumerChannelMap.Lock()
	defer sc.lockTopicToConsumerChannelMap.Unlock()
	consumerCh, exist := sc.topicToConsumerChannelMap[topic.Name]
	if !exist {
		logger.Warnw(ctx, "topic-does-not-exist", log.Fields{"topic": topic.Name})
		return errors.New("topic-does-not-exist")
	}
	consumerCh.channels = removeChannel(ctx, consumerCh.channels, ch)
	if len(consumerCh.channels) == 0 {
		logger.Debugw(ctx, "closing-consumer-group", log.Fields{"topic": topic.Name})
		consumerCh.cancel()
		delete(sc.topicToConsumerChannelMap, topic.Name)
		return consumerCh.group.Close()
	}
	return nil
}

// Send formats and sends the message onto the kafka messaging bus
func (sc *SaramaClient) Send(ctx context.Context, msg proto.Message, topic *Topic, keys ...string) error {
	marshalled, err := proto.Marshal(msg)
	if err != nil {
		logger.Errorw(ctx, "marshalling-failed", log.Fields{"msg": msg, "error": err})
		return err
	}
	key := ""
	if len(keys) > 0 {
		key = keys[0] // Only the first key is relevant
	}
	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic.Name,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(marshalled),
	}

	sc.producer.Input() <- kafkaMsg
	select {
	case ok := <-sc.producer.Successes():
		logger.Debugw(ctx, "message-sent", log.Fields{"topic": ok.Topic})
	case notOk := <-sc.producer.Errors():
		logger.Warnw(ctx, "error-sending", log.Fields{"error": notOk})
		return notOk
	}
	return nil
}

func (sc *SaramaClient) createClusterAdmin(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Metadata.Retry.Max = sc.metadataMaxRetry

	cAdmin, err := sarama.NewClusterAdmin([]string{sc.address}, config)
	if err != nil {
		logger.Errorw(ctx, "cluster-admin-failure", log.Fields{"error": err, "broker-address": sc.address})
		return err
	}
	sc.cAdmin = cAdmin
	return nil
}

// createPublisher creates the publisher which is used to send a message onto kafka
func (sc *SaramaClient) createPublisher(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Flush.Frequency = time.Duration(sc.producerFlushFrequency)
	config.Producer.Flush.Messages = sc.producerFlushMessages
	config.Producer.Flush.MaxMessages = sc.producerFlushMaxmessages
	config.Producer.Retry.Max = sc.producerRetryMax
	config.Producer.Retry.Backoff = sc.producerRetryBackOff
	config.Producer.Return.Errors = true
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewAsyncProducer([]string{sc.address}, config)
	if err != nil {
		logger.Errorw(ctx, "error-starting-publisher", log.Fields{"error": err})
		return err
	}
	sc.producer = producer
	logger.Info(ctx, "kafka-publisher-created")
	return nil
}

// setupGroupConsumerChannel creates a consumerChannels object for that topic,
// adds it to the consumerChannels map and starts the routine that consumes
// from the group.
func (sc *SaramaClient) setupGroupConsumerChannel(ctx context.Context, topic *Topic, newMessage MessageFactory) (chan proto.Message, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = uuid.New().String()
	config.Consumer.Return.Errors = true
	config.Consumer.MaxWaitTime = time.Duration(sc.consumerMaxwait) * time.Millisecond
	config.Consumer.MaxProcessingTime = time.Duration(sc.maxProcessingTime) * time.Millisecond
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Metadata.Retry.Max = sc.metadataMaxRetry

	groupID := sc.consumerGroupPrefix + "-" + topic.Name
	group, err := sarama.NewConsumerGroup([]string{sc.address}, groupID, config)
	if err != nil {
		logger.Errorw(ctx, "create-group-consumer-failure", log.Fields{"error": err, "topic": topic.Name, "group-id": groupID})
		return nil, err
	}
	logger.Debugw(ctx, "create-group-consumer-success", log.Fields{"topic": topic.Name, "group-id": groupID})

	consumerListeningChannel := make(chan proto.Message)
	groupCtx, cancel := context.WithCancel(context.Background())
	cc := &consumerChannels{
		group:      group,
		cancel:     cancel,
		newMessage: newMessage,
		channels:   []chan proto.Message{consumerListeningChannel},
	}

	sc.lockTopicToConsumerChannelMap.Lock()
	sc.topicToConsumerChannelMap[topic.Name] = cc
	sc.lockTopicToConsumerChannelMap.Unlock()

	go sc.consumeGroupMessages(groupCtx, topic, cc)

	return consumerListeningChannel, nil
}

// consumeGroupMessages runs the consumer group session loop for a topic,
// rejoining with exponential backoff whenever the session fails.
func (sc *SaramaClient) consumeGroupMessages(ctx context.Context, topic *Topic, consumerCh *consumerChannels) {
	logger.Debugw(ctx, "starting-group-consumption-loop", log.Fields{"topic": topic.Name})

	handler := &groupHandler{client: sc, topic: topic, consumerCh: consumerCh}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		err := consumerCh.group.Consume(ctx, []string{topic.Name}, handler)
		if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			break
		}
		if err != nil {
			wait := bo.NextBackOff()
			logger.Warnw(ctx, "group-consumer-session-error", log.Fields{"topic": topic.Name, "error": err, "retry-in": wait})
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				logger.Infow(ctx, "group-received-exit-signal", log.Fields{"topic": topic.Name})
				return
			}
			continue
		}
		// rebalance, rejoin immediately
		bo.Reset()
	}
	logger.Infow(ctx, "group-consumer-stopped", log.Fields{"topic": topic.Name})
}

// groupHandler decodes messages of a consumer group session and dispatches
// them to the topic subscribers.
type groupHandler struct {
	client     *SaramaClient
	topic      *Topic
	consumerCh *consumerChannels
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for msg := range claim.Messages() {
		protoMessage := h.consumerCh.newMessage()
		if err := proto.Unmarshal(msg.Value, protoMessage); err != nil {
			logger.Warnw(ctx, "invalid-message", log.Fields{"topic": h.topic.Name, "error": err})
			session.MarkMessage(msg, "")
			continue
		}
		h.client.dispatchToConsumers(h.consumerCh, protoMessage)
		session.MarkMessage(msg, "")
	}
	return nil
}

// dispatchToConsumers sends the message received on a given topic to all
// subscribers for that topic via the unique channel each subscriber received
// during subscription
func (sc *SaramaClient) dispatchToConsumers(consumerCh *consumerChannels, protoMessage proto.Message) {
	sc.lockTopicToConsumerChannelMap.RLock()
	defer sc.lockTopicToConsumerChannelMap.RUnlock()
	for _, ch := range consumerCh.channels {
		go func(c chan proto.Message) {
			c <- protoMessage
		}(ch)
	}
}

func (sc *SaramaClient) closeConsumerGroup(ctx context.Context, topic *Topic) error {
	sc.lockTopicToConsumerChannelMap.Lock()
	defer sc.lockTopicToConsumerChannelMap.Unlock()
	consumerCh, exist := sc.topicToConsumerChannelMap[topic.Name]
	if !exist {
		logger.Debugw(ctx, "topic-does-not-exist", log.Fields{"topic": topic.Name})
		return nil
	}
	consumerCh.cancel()
	for _, ch := range consumerCh.channels {
		close(ch)
	}
	delete(sc.topicToConsumerChannelMap, topic.Name)
	return consumerCh.group.Close()
}

func (sc *SaramaClient) lockTopic(topic *Topic) {
	sc.lockOfTopicLockMap.Lock()
	if _, exist := sc.topicLockMap[topic.Name]; !exist {
		sc.topicLockMap[topic.Name] = &sync.RWMutex{}
	}
	lock := sc.topicLockMap[topic.Name]
	sc.lockOfTopicLockMap.Unlock()
	lock.Lock()
}

func (sc *SaramaClient) unLockTopic(topic *Topic) {
	sc.lockOfTopicLockMap.Lock()
	defer sc.lockOfTopicLockMap.Unlock()
	if lock, exist := sc.topicLockMap[topic.Name]; exist {
		lock.Unlock()
	}
}

func removeChannel(ctx context.Context, channels []chan proto.Message, ch <-chan proto.Message) []chan proto.Message {
	for i, channel := range channels {
		if channel == ch {
			channels[len(channels)-1], channels[i] = channels[i], channels[len(channels)-1]
			close(channel)
			logger.Debug(ctx, "channel-closed")
			return channels[:len(channels)-1]
		}
	}
	return channels
}

var _ Client = &SaramaClient{}
