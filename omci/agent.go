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

package omci

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash"
	"github.com/opencord/pon-core/omci/event"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/pon-core/omci/mibsync"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Keys are distributed among partitions. Prime numbers are good to
	// distribute keys uniformly.
	DefaultPartitionCount = 1117

	// Represents how many times a shard is replicated on the consistent ring.
	DefaultReplicationFactor = 117

	// Load is used to calculate average load.
	DefaultLoad = 1.1

	// DefaultNumShards is the number of runner shards devices are spread over.
	DefaultNumShards = 8
)

// StatusSender publishes per-ONU sync status to the controller bus
type StatusSender interface {
	SendSyncStatus(ctx context.Context, deviceID string, inSync bool, mibDataSync uint8, lastSyncTime time.Time) error
}

// FirstInSyncCallback is invoked once per device entry start, on the first
// transition to in-sync.
type FirstInSyncCallback func(ctx context.Context, deviceID string)

// shard is a member of the consistent ring.  Stopping a shard cancels every
// device entry assigned to it.
type shard struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *shard) String() string {
	return s.name
}

// The consistent package requires a hasher function
type hasher struct{}

// Sum64 provides the hasher function.
func (h hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Agent owns the per-ONU device entries.  Entries are registered by device ID
// and hold no owning references back to the agent.
type Agent struct {
	db           *mibdb.Database
	bus          *event.Bus
	transport    mibsync.Transport
	statusSender StatusSender
	syncConfig   mibsync.Config
	firstInSync  FirstInSyncCallback

	numShards         int
	partitionCount    int
	replicationFactor int
	load              float64

	ring    *consistent.Consistent
	shards  map[string]*shard
	entries map[string]*DeviceEntry
	lock    sync.RWMutex
	started bool
}

type AgentOption func(*Agent)

func NumShards(number int) AgentOption {
	return func(args *Agent) {
		args.numShards = number
	}
}

func PartitionCount(count int) AgentOption {
	return func(args *Agent) {
		args.partitionCount = count
	}
}

func ReplicationFactor(replicas int) AgentOption {
	return func(args *Agent) {
		args.replicationFactor = replicas
	}
}

func Load(load float64) AgentOption {
	return func(args *Agent) {
		args.load = load
	}
}

func SyncConfig(cfg mibsync.Config) AgentOption {
	return func(args *Agent) {
		args.syncConfig = cfg
	}
}

func FirstInSync(cb FirstInSyncCallback) AgentOption {
	return func(args *Agent) {
		args.firstInSync = cb
	}
}

func NewAgent(db *mibdb.Database, bus *event.Bus, transport mibsync.Transport, statusSender StatusSender, opts ...AgentOption) *Agent {
	agent := &Agent{
		db:                db,
		bus:               bus,
		transport:         transport,
		statusSender:      statusSender,
		syncConfig:        mibsync.DefaultConfig(),
		numShards:         DefaultNumShards,
		partitionCount:    DefaultPartitionCount,
		replicationFactor: DefaultReplicationFactor,
		load:              DefaultLoad,
	}
	for _, option := range opts {
		option(agent)
	}
	agent.shards = make(map[string]*shard)
	agent.entries = make(map[string]*DeviceEntry)
	return agent
}

// Start builds the shard ring.  It does not start any device entry.
func (a *Agent) Start(ctx context.Context) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.started {
		return nil
	}
	members := make([]consistent.Member, 0, a.numShards)
	for i := 0; i < a.numShards; i++ {
		shardCtx, cancel := context.WithCancel(context.Background())
		s := &shard{name: fmt.Sprintf("omci-shard-%d", i), ctx: shardCtx, cancel: cancel}
		a.shards[s.name] = s
		members = append(members, s)
	}
	a.ring = consistent.New(members, consistent.Config{
		PartitionCount:    a.partitionCount,
		ReplicationFactor: a.replicationFactor,
		Load:              a.load,
		Hasher:            hasher{},
	})
	a.started = true
	logger.Infow(ctx, "omci-agent-started", log.Fields{"shards": a.numShards})
	return nil
}

// Stop stops every device entry and cancels the shards
func (a *Agent) Stop(ctx context.Context) {
	a.lock.Lock()
	if !a.started {
		a.lock.Unlock()
		return
	}
	a.started = false
	entries := make([]*DeviceEntry, 0, len(a.entries))
	for _, entry := range a.entries {
		entries = append(entries, entry)
	}
	a.entries = make(map[string]*DeviceEntry)
	shards := a.shards
	a.shards = make(map[string]*shard)
	a.lock.Unlock()

	for _, entry := range entries {
		entry.Stop(ctx)
	}
	for _, s := range shards {
		s.cancel()
	}
	logger.Info(ctx, "omci-agent-stopped")
}

// AddDeviceEntry registers a device and returns its entry.  The entry is
// created stopped; callers start it once the device is reachable.
func (a *Agent) AddDeviceEntry(ctx context.Context, deviceID string) (*DeviceEntry, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.started {
		return nil, status.Error(codes.FailedPrecondition, "omci-agent-not-started")
	}
	if _, exist := a.entries[deviceID]; exist {
		return nil, status.Errorf(codes.AlreadyExists, "device-entry-exists:%s", deviceID)
	}
	owner := a.ring.LocateKey([]byte(deviceID))
	s, ok := a.shards[owner.String()]
	if !ok {
		return nil, status.Errorf(codes.Internal, "shard-not-found:%s", owner.String())
	}
	entry := newDeviceEntry(deviceID, s, a.db, a.bus, a.transport, a.statusSender, a.syncConfig, a.firstInSync)
	a.entries[deviceID] = entry
	logger.Infow(ctx, "device-entry-added", log.Fields{"device-id": deviceID, "shard": s.name})
	return entry, nil
}

// GetDeviceEntry returns the entry of a registered device
func (a *Agent) GetDeviceEntry(deviceID string) (*DeviceEntry, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	entry, ok := a.entries[deviceID]
	return entry, ok
}

// RemoveDeviceEntry stops and unregisters a device entry.  Removing an
// unknown device is a no-op.
func (a *Agent) RemoveDeviceEntry(ctx context.Context, deviceID string) {
	a.lock.Lock()
	entry, ok := a.entries[deviceID]
	delete(a.entries, deviceID)
	a.lock.Unlock()
	if !ok {
		logger.Debugw(ctx, "device-entry-not-found", log.Fields{"device-id": deviceID})
		return
	}
	entry.Stop(ctx)
	logger.Infow(ctx, "device-entry-removed", log.Fields{"device-id": deviceID})
}

// ListDeviceIDs returns the IDs of all registered devices
func (a *Agent) ListDeviceIDs() []string {
	a.lock.RLock()
	defer a.lock.RUnlock()
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	return ids
}

// ShardFor returns the runner shard a device is assigned to
func (a *Agent) ShardFor(deviceID string) string {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if a.ring == nil {
		return ""
	}
	return a.ring.LocateKey([]byte(deviceID)).String()
}
