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

// Package config holds the pon-core command-line configuration
package config

import (
	"flag"
	"time"
)

// PON core service default constants
const (
	EtcdStoreName                  = "etcd"
	defaultGrpcAddress             = ":50057"
	defaultKafkaClusterAddress     = "127.0.0.1:9092"
	defaultKVStoreType             = EtcdStoreName
	defaultKVStoreTimeout          = 5 * time.Second
	defaultKVStoreAddress          = "127.0.0.1:2379"
	defaultKVStoreDataPrefix       = "service/pon-core"
	defaultLogLevel                = "WARN"
	defaultBanner                  = false
	defaultDisplayVersionOnly      = false
	defaultMaxConnectionRetries    = -1 // retries forever
	defaultConnectionRetryInterval = 2 * time.Second
	defaultLiveProbeInterval       = 60 * time.Second
	defaultNotLiveProbeInterval    = 5 * time.Second // Probe more frequently when not alive
	defaultProbeAddress            = ":8080"
	defaultMetricsAddress          = ":8081"
	defaultTraceEnabled            = false
	defaultTraceAgentAddress       = "127.0.0.1:6831"
	defaultInternalTimeout         = 5 * time.Second
	defaultOmciShards              = 8
	defaultSimulatedOnus           = 4
)

// PonCoreFlags represents the set of configurations used by the pon-core service
type PonCoreFlags struct {
	// Command line parameters
	GrpcAddress             string
	KafkaClusterAddress     string
	KVStoreType             string
	KVStoreTimeout          time.Duration
	KVStoreAddress          string
	KVStoreDataPrefix       string
	LogLevel                string
	Banner                  bool
	DisplayVersionOnly      bool
	MaxConnectionRetries    int
	ConnectionRetryInterval time.Duration
	LiveProbeInterval       time.Duration
	NotLiveProbeInterval    time.Duration
	ProbeAddress            string
	MetricsAddress          string
	TraceEnabled            bool
	TraceAgentAddress       string
	InternalTimeout         time.Duration
	OmciShards              int
	SimulatedOnus           int
}

// NewPonCoreFlags returns a new pon-core config
func NewPonCoreFlags() *PonCoreFlags {
	var ponCoreFlag = PonCoreFlags{ // Default values
		GrpcAddress:             defaultGrpcAddress,
		KafkaClusterAddress:     defaultKafkaClusterAddress,
		KVStoreType:             defaultKVStoreType,
		KVStoreTimeout:          defaultKVStoreTimeout,
		KVStoreAddress:          defaultKVStoreAddress,
		KVStoreDataPrefix:       defaultKVStoreDataPrefix,
		LogLevel:                defaultLogLevel,
		Banner:                  defaultBanner,
		DisplayVersionOnly:      defaultDisplayVersionOnly,
		MaxConnectionRetries:    defaultMaxConnectionRetries,
		ConnectionRetryInterval: defaultConnectionRetryInterval,
		LiveProbeInterval:       defaultLiveProbeInterval,
		NotLiveProbeInterval:    defaultNotLiveProbeInterval,
		ProbeAddress:            defaultProbeAddress,
		MetricsAddress:          defaultMetricsAddress,
		TraceEnabled:            defaultTraceEnabled,
		TraceAgentAddress:       defaultTraceAgentAddress,
		InternalTimeout:         defaultInternalTimeout,
		OmciShards:              defaultOmciShards,
		SimulatedOnus:           defaultSimulatedOnus,
	}
	return &ponCoreFlag
}

// ParseCommandArguments parses the arguments when running the pon-core service
func (cf *PonCoreFlags) ParseCommandArguments() {
	flag.StringVar(&cf.GrpcAddress, "grpc_address", defaultGrpcAddress, "GRPC server - address")

	flag.StringVar(&cf.KafkaClusterAddress, "kafka_cluster_address", defaultKafkaClusterAddress, "Kafka - Cluster messaging address")

	flag.StringVar(&cf.KVStoreType, "kv_store_type", defaultKVStoreType, "KV store type")

	flag.DurationVar(&cf.KVStoreTimeout, "kv_store_request_timeout", defaultKVStoreTimeout, "The default timeout when making a kv store request")

	flag.StringVar(&cf.KVStoreAddress, "kv_store_address", defaultKVStoreAddress, "KV store address")

	flag.StringVar(&cf.KVStoreDataPrefix, "kv_store_data_prefix", defaultKVStoreDataPrefix, "KV store data prefix")

	flag.StringVar(&cf.LogLevel, "log_level", defaultLogLevel, "Log level")

	flag.BoolVar(&cf.Banner, "banner", defaultBanner, "Show startup banner log lines")

	flag.BoolVar(&cf.DisplayVersionOnly, "version", defaultDisplayVersionOnly, "Show version information and exit")

	flag.IntVar(&cf.MaxConnectionRetries, "max_connection_retries", defaultMaxConnectionRetries, "The number of retries to connect to a dependent component")

	flag.DurationVar(&cf.ConnectionRetryInterval, "connection_retry_interval", defaultConnectionRetryInterval, "The number of seconds between each connection retry attempt")

	flag.DurationVar(&cf.LiveProbeInterval, "live_probe_interval", defaultLiveProbeInterval, "The number of seconds between liveness probes while in a live state")

	flag.DurationVar(&cf.NotLiveProbeInterval, "not_live_probe_interval", defaultNotLiveProbeInterval, "The number of seconds between liveness probes while in a not live state")

	flag.StringVar(&cf.ProbeAddress, "probe_address", defaultProbeAddress, "The address on which to listen to answer liveness and readiness probe queries over HTTP")

	flag.StringVar(&cf.MetricsAddress, "metrics_address", defaultMetricsAddress, "The address on which to serve prometheus metrics over HTTP")

	flag.BoolVar(&cf.TraceEnabled, "trace_enabled", defaultTraceEnabled, "Whether to send logs to tracing agent")

	flag.StringVar(&cf.TraceAgentAddress, "trace_agent_address", defaultTraceAgentAddress, "The address of tracing agent to which span info should be sent")

	flag.DurationVar(&cf.InternalTimeout, "internal_timeout", defaultInternalTimeout, "Core internal timeout")

	flag.IntVar(&cf.OmciShards, "omci_shards", defaultOmciShards, "Number of OMCI task-runner shards")

	flag.IntVar(&cf.SimulatedOnus, "simulated_onus", defaultSimulatedOnus, "Number of ONUs on the simulated PON")

	flag.Parse()
}
