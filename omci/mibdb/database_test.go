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

package mibdb

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencord/pon-core/omci/me"
	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory KVStore for tests
type memStore struct {
	mu    sync.Mutex
	pairs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{pairs: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, key string, value interface{}) error {
	raw, ok := value.([]byte)
	if !ok {
		panic("memStore only stores []byte")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[key] = append([]byte(nil), raw...)
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) (*kvstore.KVPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.pairs[key]
	if !ok {
		return nil, nil
	}
	return &kvstore.KVPair{Key: key, Value: raw}, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, key)
	return nil
}

func (s *memStore) List(ctx context.Context, key string) (map[string]*kvstore.KVPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*kvstore.KVPair)
	for k, raw := range s.pairs {
		if strings.HasPrefix(k, key) {
			out[k] = &kvstore.KVPair{Key: k, Value: raw}
		}
	}
	return out, nil
}

func TestAddSetQueryDelete(t *testing.T) {
	ctx := context.Background()
	mdb := New(nil)

	require.NoError(t, mdb.Add(ctx, "onu-1"))
	assert.ErrorIs(t, mdb.Add(ctx, "onu-1"), ErrDeviceExists)
	assert.True(t, mdb.Has("onu-1"))
	assert.False(t, mdb.Has("onu-2"))

	attrs := me.AttributeMap{"alloc_id": "1024", "tp_pointer": "64"}
	changed, err := mdb.Set(ctx, "onu-1", 266, 1, attrs)
	require.NoError(t, err)
	assert.True(t, changed)

	// same content again is not a change
	changed, err = mdb.Set(ctx, "onu-1", 266, 1, attrs)
	require.NoError(t, err)
	assert.False(t, changed)

	// merging a new value is
	changed, err = mdb.Set(ctx, "onu-1", 266, 1, me.AttributeMap{"tp_pointer": "65"})
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := mdb.QueryInstance(ctx, "onu-1", 266, 1)
	require.NoError(t, err)
	assert.Equal(t, me.AttributeMap{"alloc_id": "1024", "tp_pointer": "65"}, got)

	// queries return copies
	got["alloc_id"] = "mutated"
	again, err := mdb.QueryInstance(ctx, "onu-1", 266, 1)
	require.NoError(t, err)
	assert.Equal(t, "1024", again["alloc_id"])

	partial, err := mdb.QueryAttributes(ctx, "onu-1", 266, 1, "alloc_id", "no_such_attr")
	require.NoError(t, err)
	assert.Equal(t, me.AttributeMap{"alloc_id": "1024"}, partial)

	existed, err := mdb.Delete(ctx, "onu-1", 266, 1)
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = mdb.Delete(ctx, "onu-1", 266, 1)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = mdb.QueryInstance(ctx, "onu-1", 266, 1)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestUnknownDeviceErrors(t *testing.T) {
	ctx := context.Background()
	mdb := New(nil)

	_, err := mdb.QueryDevice(ctx, "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = mdb.GetMibDataSync(ctx, "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, mdb.OnMibReset(ctx, "ghost"), ErrDeviceNotFound)
	assert.ErrorIs(t, mdb.Remove(ctx, "ghost"), ErrDeviceNotFound)
	_, err = mdb.GetMibDeviceData(ctx, "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMibDataSyncWraps(t *testing.T) {
	ctx := context.Background()
	mdb := New(nil)
	require.NoError(t, mdb.Add(ctx, "onu-1"))

	require.NoError(t, mdb.SaveMibDataSync(ctx, "onu-1", 255))
	mds, err := mdb.GetMibDataSync(ctx, "onu-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(255), mds)

	require.NoError(t, mdb.SaveMibDataSync(ctx, "onu-1", 256))
	mds, err = mdb.GetMibDataSync(ctx, "onu-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), mds)

	require.NoError(t, mdb.SaveMibDataSync(ctx, "onu-1", 257))
	mds, err = mdb.GetMibDataSync(ctx, "onu-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mds)
}

func TestOnMibResetClearsInstancesAndCounter(t *testing.T) {
	ctx := context.Background()
	mdb := New(nil)
	require.NoError(t, mdb.Add(ctx, "onu-1"))

	_, err := mdb.Set(ctx, "onu-1", 256, 0, me.AttributeMap{"vendor_id": "SIM"})
	require.NoError(t, err)
	require.NoError(t, mdb.SaveMibDataSync(ctx, "onu-1", 7))
	require.NoError(t, mdb.UpdateSupportedManagedEntities(ctx, "onu-1", []me.ClassID{256, 266}))

	require.NoError(t, mdb.OnMibReset(ctx, "onu-1"))

	classes, err := mdb.QueryDevice(ctx, "onu-1")
	require.NoError(t, err)
	assert.Empty(t, classes)
	mds, err := mdb.GetMibDataSync(ctx, "onu-1")
	require.NoError(t, err)
	assert.Zero(t, mds)
}

func TestDigestTracksContent(t *testing.T) {
	ctx := context.Background()
	mdb := New(nil)
	require.NoError(t, mdb.Add(ctx, "onu-1"))
	require.NoError(t, mdb.Add(ctx, "onu-2"))

	attrs := me.AttributeMap{"port_id": "1", "tcont_pointer": "1024"}
	_, err := mdb.Set(ctx, "onu-1", 268, 1025, attrs)
	require.NoError(t, err)
	_, err = mdb.Set(ctx, "onu-2", 268, 1025, attrs)
	require.NoError(t, err)

	d1, err := mdb.Digest(ctx, "onu-1")
	require.NoError(t, err)
	d2, err := mdb.Digest(ctx, "onu-2")
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	_, err = mdb.Set(ctx, "onu-2", 268, 1025, me.AttributeMap{"port_id": "2"})
	require.NoError(t, err)
	d2, err = mdb.Digest(ctx, "onu-2")
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	first := New(store)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Add(ctx, "onu-1"))
	_, err := first.Set(ctx, "onu-1", 256, 0, me.AttributeMap{"vendor_id": "SIM", "serial_number": "SIM00000001"})
	require.NoError(t, err)
	_, err = first.Set(ctx, "onu-1", 266, 1, me.AttributeMap{"alloc_id": "1024"})
	require.NoError(t, err)
	require.NoError(t, first.SaveMibDataSync(ctx, "onu-1", 5))
	lastSync := time.Now().Truncate(time.Millisecond)
	require.NoError(t, first.SaveLastSync(ctx, "onu-1", lastSync))
	digest, err := first.Digest(ctx, "onu-1")
	require.NoError(t, err)
	first.Stop(ctx)

	second := New(store)
	require.NoError(t, second.Start(ctx))
	require.True(t, second.Has("onu-1"))

	got, err := second.QueryInstance(ctx, "onu-1", 256, 0)
	require.NoError(t, err)
	assert.Equal(t, "SIM00000001", got["serial_number"])

	mds, err := second.GetMibDataSync(ctx, "onu-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), mds)

	reloaded, err := second.GetLastSync(ctx, "onu-1")
	require.NoError(t, err)
	assert.WithinDuration(t, lastSync, reloaded, time.Millisecond)

	reloadedDigest, err := second.Digest(ctx, "onu-1")
	require.NoError(t, err)
	assert.Equal(t, digest, reloadedDigest)
}

func TestRemoveDeletesPersistedBlob(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	mdb := New(store)
	require.NoError(t, mdb.Add(ctx, "onu-1"))
	require.NoError(t, mdb.Remove(ctx, "onu-1"))
	assert.False(t, mdb.Has("onu-1"))

	reloaded := New(store)
	require.NoError(t, reloaded.Start(ctx))
	assert.False(t, reloaded.Has("onu-1"))
}

func TestWireFormRoundTrip(t *testing.T) {
	ctx := context.Background()
	mdb := New(nil)
	require.NoError(t, mdb.Add(ctx, "onu-1"))
	_, err := mdb.Set(ctx, "onu-1", 263, 32769, me.AttributeMap{"sr_indication": "1"})
	require.NoError(t, err)
	require.NoError(t, mdb.SaveMibDataSync(ctx, "onu-1", 9))

	data, err := mdb.GetMibDeviceData(ctx, "onu-1")
	require.NoError(t, err)
	assert.Equal(t, "onu-1", data.DeviceId)
	assert.Equal(t, uint32(9), data.MibDataSync)
	require.Len(t, data.Classes, 1)
	assert.Equal(t, uint32(263), data.Classes[0].ClassId)
	require.Len(t, data.Classes[0].Instances, 1)
	assert.Equal(t, uint32(32769), data.Classes[0].Instances[0].InstanceId)

	rec := recordFromProto(data)
	assert.Equal(t, uint32(9), rec.mibDataSync)
	assert.Equal(t, "1", rec.classes[263][32769].attributes["sr_indication"])
}
