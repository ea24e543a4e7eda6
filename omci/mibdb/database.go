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

// Package mibdb implements the per-device mirror of a remote MIB.  Each
// device's managed-entity instances, sync counters and capability caches are
// held in memory and persisted as an omci.MibDeviceData blob in the KV store.
package mibdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/opencord/pon-core/omci/me"
	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	omcipb "github.com/opencord/voltha-protos/v5/go/omci"
	"google.golang.org/protobuf/proto"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceExists     = errors.New("device already exists")
	ErrInstanceNotFound = errors.New("instance not found")
)

// timeFormat matches the format used by the on-disk blobs
const timeFormat = "20060102-150405.000000"

// mibDataSyncModulo wraps the 8-bit sync counter
const mibDataSyncModulo = 256

// KVStore is the persistence surface the database needs.  *db.Backend
// satisfies it.
type KVStore interface {
	Put(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) (*kvstore.KVPair, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, key string) (map[string]*kvstore.KVPair, error)
}

type instance struct {
	created    time.Time
	modified   time.Time
	attributes me.AttributeMap
}

type deviceRecord struct {
	created      time.Time
	lastSync     time.Time
	mibDataSync  uint32
	classes      map[me.ClassID]map[me.EntityID]*instance
	supportedMEs []me.ClassID
	supportedMts []uint8
}

// Database is the MIB mirror for all devices managed by this core instance.
// Each device has a single writer (its synchronizer); queries may come from
// any goroutine.
type Database struct {
	lock    sync.RWMutex
	kv      KVStore // nil disables persistence
	path    string
	devices map[string]*deviceRecord
}

// New creates a database backed by the given store.  A nil store keeps the
// database purely in memory.
func New(kv KVStore) *Database {
	return &Database{
		kv:      kv,
		path:    "omci_mibs",
		devices: make(map[string]*deviceRecord),
	}
}

// Start loads any persisted device records
func (mdb *Database) Start(ctx context.Context) error {
	if mdb.kv == nil {
		return nil
	}
	blobs, err := mdb.kv.List(ctx, mdb.path)
	if err != nil {
		return fmt.Errorf("mib-db-load: %w", err)
	}
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	for key, blob := range blobs {
		data := &omcipb.MibDeviceData{}
		raw, ok := blob.Value.([]byte)
		if !ok {
			logger.Errorw(ctx, "invalid-mib-blob", log.Fields{"key": key})
			continue
		}
		if err := proto.Unmarshal(raw, data); err != nil {
			logger.Errorw(ctx, "corrupt-mib-blob", log.Fields{"key": key, "error": err})
			continue
		}
		mdb.devices[data.DeviceId] = recordFromProto(data)
	}
	logger.Infow(ctx, "mib-db-started", log.Fields{"devices": len(mdb.devices)})
	return nil
}

// Stop releases the database.  Records are already persisted per mutation.
func (mdb *Database) Stop(ctx context.Context) {
	logger.Info(ctx, "mib-db-stopped")
}

// Add creates an empty record for a device
func (mdb *Database) Add(ctx context.Context, deviceID string) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	if _, exist := mdb.devices[deviceID]; exist {
		return fmt.Errorf("%s: %w", deviceID, ErrDeviceExists)
	}
	mdb.devices[deviceID] = &deviceRecord{
		created: time.Now(),
		classes: make(map[me.ClassID]map[me.EntityID]*instance),
	}
	return mdb.persist(ctx, deviceID)
}

// Remove deletes a device's record and its persisted blob
func (mdb *Database) Remove(ctx context.Context, deviceID string) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	if _, exist := mdb.devices[deviceID]; !exist {
		return fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	delete(mdb.devices, deviceID)
	if mdb.kv == nil {
		return nil
	}
	return mdb.kv.Delete(ctx, mdb.path+"/"+deviceID)
}

// Has reports whether the device has a record
func (mdb *Database) Has(deviceID string) bool {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	_, exist := mdb.devices[deviceID]
	return exist
}

// QueryDevice returns a copy of every instance of every class of a device
func (mdb *Database) QueryDevice(ctx context.Context, deviceID string) (map[me.ClassID]map[me.EntityID]me.AttributeMap, error) {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	out := make(map[me.ClassID]map[me.EntityID]me.AttributeMap, len(rec.classes))
	for classID, instances := range rec.classes {
		out[classID] = make(map[me.EntityID]me.AttributeMap, len(instances))
		for entityID, inst := range instances {
			out[classID][entityID] = inst.attributes.Copy()
		}
	}
	return out, nil
}

// QueryClass returns a copy of every instance of one class
func (mdb *Database) QueryClass(ctx context.Context, deviceID string, classID me.ClassID) (map[me.EntityID]me.AttributeMap, error) {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	out := make(map[me.EntityID]me.AttributeMap)
	for entityID, inst := range rec.classes[classID] {
		out[entityID] = inst.attributes.Copy()
	}
	return out, nil
}

// QueryInstance returns a copy of one instance's attributes
func (mdb *Database) QueryInstance(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID) (me.AttributeMap, error) {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	inst, err := rec.instance(classID, entityID)
	if err != nil {
		return nil, err
	}
	return inst.attributes.Copy(), nil
}

// QueryAttributes returns the named attributes of one instance.  Names absent
// from the instance are left out of the result.
func (mdb *Database) QueryAttributes(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, names ...string) (me.AttributeMap, error) {
	attrs, err := mdb.QueryInstance(ctx, deviceID, classID, entityID)
	if err != nil {
		return nil, err
	}
	out := make(me.AttributeMap, len(names))
	for _, name := range names {
		if v, ok := attrs[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// Set creates or merges an instance and reports whether the database changed
func (mdb *Database) Set(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) (bool, error) {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return false, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	instances, ok := rec.classes[classID]
	if !ok {
		instances = make(map[me.EntityID]*instance)
		rec.classes[classID] = instances
	}
	now := time.Now()
	inst, ok := instances[entityID]
	if !ok {
		instances[entityID] = &instance{
			created:    now,
			modified:   now,
			attributes: attrs.Copy(),
		}
		return true, mdb.persist(ctx, deviceID)
	}
	if !inst.attributes.Merge(attrs) {
		return false, nil
	}
	inst.modified = now
	return true, mdb.persist(ctx, deviceID)
}

// Delete removes an instance and reports whether it existed
func (mdb *Database) Delete(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID) (bool, error) {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return false, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	instances, ok := rec.classes[classID]
	if !ok {
		return false, nil
	}
	if _, ok := instances[entityID]; !ok {
		return false, nil
	}
	delete(instances, entityID)
	if len(instances) == 0 {
		delete(rec.classes, classID)
	}
	return true, mdb.persist(ctx, deviceID)
}

// GetMibDataSync returns the stored sync counter
func (mdb *Database) GetMibDataSync(ctx context.Context, deviceID string) (uint32, error) {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return 0, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	return rec.mibDataSync, nil
}

// SaveMibDataSync stores the sync counter, wrapping it into the 8-bit range
func (mdb *Database) SaveMibDataSync(ctx context.Context, deviceID string, value uint32) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	rec.mibDataSync = value % mibDataSyncModulo
	return mdb.persist(ctx, deviceID)
}

// GetLastSync returns the last successful sync time, zero if the device has
// never been synchronized
func (mdb *Database) GetLastSync(ctx context.Context, deviceID string) (time.Time, error) {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return time.Time{}, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	return rec.lastSync, nil
}

// SaveLastSync stores the last successful sync time
func (mdb *Database) SaveLastSync(ctx context.Context, deviceID string, ts time.Time) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	rec.lastSync = ts
	return mdb.persist(ctx, deviceID)
}

// OnMibReset clears every instance and zeroes the sync counter, preserving
// the record's creation time and capability caches
func (mdb *Database) OnMibReset(ctx context.Context, deviceID string) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	rec.classes = make(map[me.ClassID]map[me.EntityID]*instance)
	rec.mibDataSync = 0
	return mdb.persist(ctx, deviceID)
}

// UpdateSupportedManagedEntities caches the device's supported entity classes
func (mdb *Database) UpdateSupportedManagedEntities(ctx context.Context, deviceID string, classes []me.ClassID) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	rec.supportedMEs = append([]me.ClassID(nil), classes...)
	return mdb.persist(ctx, deviceID)
}

// UpdateSupportedMessageTypes caches the device's supported message types
func (mdb *Database) UpdateSupportedMessageTypes(ctx context.Context, deviceID string, types []uint8) error {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	rec.supportedMts = append([]uint8(nil), types...)
	return mdb.persist(ctx, deviceID)
}

// Digest returns a stable hash over the device's instance set, used for
// cheap audit comparisons
func (mdb *Database) Digest(ctx context.Context, deviceID string) (uint64, error) {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return 0, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	h := xxhash.New()
	for _, classID := range sortedClassIDs(rec.classes) {
		instances := rec.classes[classID]
		for _, entityID := range sortedEntityIDs(instances) {
			fmt.Fprintf(h, "%d/%d", classID, entityID)
			attrs := instances[entityID].attributes
			for _, name := range sortedAttrNames(attrs) {
				fmt.Fprintf(h, "/%s=%s", name, attrs[name])
			}
		}
	}
	return h.Sum64(), nil
}

// GetMibDeviceData returns the device's record in its wire form, as served
// on the northbound API
func (mdb *Database) GetMibDeviceData(ctx context.Context, deviceID string) (*omcipb.MibDeviceData, error) {
	mdb.lock.RLock()
	defer mdb.lock.RUnlock()
	rec, exist := mdb.devices[deviceID]
	if !exist {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrDeviceNotFound)
	}
	return recordToProto(deviceID, rec), nil
}

func (rec *deviceRecord) instance(classID me.ClassID, entityID me.EntityID) (*instance, error) {
	instances, ok := rec.classes[classID]
	if !ok {
		return nil, fmt.Errorf("class %d instance %d: %w", classID, entityID, ErrInstanceNotFound)
	}
	inst, ok := instances[entityID]
	if !ok {
		return nil, fmt.Errorf("class %d instance %d: %w", classID, entityID, ErrInstanceNotFound)
	}
	return inst, nil
}

// persist must be called with the write lock held
func (mdb *Database) persist(ctx context.Context, deviceID string) error {
	if mdb.kv == nil {
		return nil
	}
	rec := mdb.devices[deviceID]
	blob, err := proto.Marshal(recordToProto(deviceID, rec))
	if err != nil {
		return fmt.Errorf("mib-db-marshal %s: %w", deviceID, err)
	}
	if err := mdb.kv.Put(ctx, mdb.path+"/"+deviceID, blob); err != nil {
		return fmt.Errorf("mib-db-persist %s: %w", deviceID, err)
	}
	return nil
}

func recordToProto(deviceID string, rec *deviceRecord) *omcipb.MibDeviceData {
	data := &omcipb.MibDeviceData{
		DeviceId:    deviceID,
		Created:     rec.created.Format(timeFormat),
		MibDataSync: rec.mibDataSync,
	}
	if !rec.lastSync.IsZero() {
		data.LastSyncTime = rec.lastSync.Format(timeFormat)
	}
	for _, classID := range sortedClassIDs(rec.classes) {
		instances := rec.classes[classID]
		classData := &omcipb.MibClassData{ClassId: uint32(classID)}
		for _, entityID := range sortedEntityIDs(instances) {
			inst := instances[entityID]
			instData := &omcipb.MibInstanceData{
				InstanceId: uint32(entityID),
				Created:    inst.created.Format(timeFormat),
				Modified:   inst.modified.Format(timeFormat),
			}
			for _, name := range sortedAttrNames(inst.attributes) {
				instData.Attributes = append(instData.Attributes, &omcipb.MibAttributeData{Name: name, Value: inst.attributes[name]})
			}
			classData.Instances = append(classData.Instances, instData)
		}
		data.Classes = append(data.Classes, classData)
	}
	return data
}

func recordFromProto(data *omcipb.MibDeviceData) *deviceRecord {
	rec := &deviceRecord{
		mibDataSync: data.MibDataSync % mibDataSyncModulo,
		classes:     make(map[me.ClassID]map[me.EntityID]*instance),
	}
	rec.created, _ = time.Parse(timeFormat, data.Created)
	if data.LastSyncTime != "" {
		rec.lastSync, _ = time.Parse(timeFormat, data.LastSyncTime)
	}
	for _, classData := range data.Classes {
		instances := make(map[me.EntityID]*instance, len(classData.Instances))
		for _, instData := range classData.Instances {
			inst := &instance{attributes: make(me.AttributeMap, len(instData.Attributes))}
			inst.created, _ = time.Parse(timeFormat, instData.Created)
			inst.modified, _ = time.Parse(timeFormat, instData.Modified)
			for _, attr := range instData.Attributes {
				inst.attributes[attr.Name] = attr.Value
			}
			instances[me.EntityID(instData.InstanceId)] = inst
		}
		rec.classes[me.ClassID(classData.ClassId)] = instances
	}
	return rec
}

func sortedClassIDs(classes map[me.ClassID]map[me.EntityID]*instance) []me.ClassID {
	ids := make([]me.ClassID, 0, len(classes))
	for id := range classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedEntityIDs(instances map[me.EntityID]*instance) []me.EntityID {
	ids := make([]me.EntityID, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedAttrNames(attrs me.AttributeMap) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
