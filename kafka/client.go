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

	"google.golang.org/protobuf/proto"
)

const (
	DefaultKafkaAddress        = "127.0.0.1:9092"
	DefaultGroupName           = "pon-core"
	DefaultProducerFlush       = 1
	DefaultProducerRetryMax    = 3
	DefaultProducerRetryBackof = 100
	DefaultConsumerMaxWait     = 10
	DefaultMaxProcessingTime   = 100
	DefaultNumberPartitions    = 3
	DefaultNumberReplicas      = 1
	DefaultAutoCreateTopic     = true
	DefaultMetadataMaxRetry    = 3
)

// Topic identifies a kafka topic
type Topic struct {
	Name string
}

// MessageFactory returns a fresh instance of the proto message carried on a
// topic.  Each topic carries exactly one message type.
type MessageFactory func() proto.Message

// Client represents the set of APIs a kafka client must implement
type Client interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	CreateTopic(ctx context.Context, topic *Topic, numPartition int, repFactor int) error
	DeleteTopic(ctx context.Context, topic *Topic) error
	Subscribe(ctx context.Context, topic *Topic, newMessage MessageFactory) (<-chan proto.Message, error)
	UnSubscribe(ctx context.Context, topic *Topic, ch <-chan proto.Message) error
	Send(ctx context.Context, msg proto.Message, topic *Topic, keys ...string) error
}
