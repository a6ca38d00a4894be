/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package etcd provides an etcd-backed ipfix.ExternalTemplateStore, letting
// several collector processes behind a load balancer share one observation
// domain's template table: whichever process first decodes a Template
// Record replicates it to every other process within one watch cycle.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/abartolomey/ipfix"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
)

// TemplateStore is an ipfix.ExternalTemplateStore backed by etcd. It keeps
// a local in-memory mirror (guarded by mu, per the package's single-mutex
// convention for the external template table) that is kept current by a
// background watch, so that Get calls never block on the network.
type TemplateStore struct {
	client *clientv3.Client
	model  *ipfix.InformationModel

	mu   sync.RWMutex
	byDom map[uint32]map[uint16]*ipfix.Template

	prefix string
}

var _ ipfix.ExternalTemplateStore = &TemplateStore{}

// NewTemplateStore creates a TemplateStore using client, namespaced under
// name, resolving Information Elements for templates read back from etcd
// against model.
func NewTemplateStore(client *clientv3.Client, model *ipfix.InformationModel, name string) *TemplateStore {
	prefix := "templates/" + name + "/"
	client.KV = namespace.NewKV(client.KV, prefix)
	client.Watcher = namespace.NewWatcher(client.Watcher, prefix)
	client.Lease = namespace.NewLease(client.Lease, prefix)

	return &TemplateStore{
		client: client,
		model:  model,
		byDom:  make(map[uint32]map[uint16]*ipfix.Template),
		prefix: prefix,
	}
}

func etcdKey(domain uint32, id uint16) string {
	return fmt.Sprintf("%d/%d", domain, id)
}

func parseKey(key string) (uint32, uint16, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("etcd: malformed template key %q", key)
	}
	domain, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint32(domain), uint16(id), nil
}

// Start loads every template currently stored in etcd into the local
// mirror, then runs a watch loop applying subsequent changes until ctx is
// cancelled. Callers should run Start in its own goroutine before using
// the TemplateStore as a Session's ExternalTemplateStore.
func (s *TemplateStore) Start(ctx context.Context) error {
	logger := ipfix.FromContext(ctx)

	// client.KV is already namespaced under s.prefix (see NewTemplateStore),
	// so the key passed here is relative to that namespace: "" with
	// WithPrefix matches everything under it, not s.prefix itself.
	res, err := s.client.Get(ctx, "", clientv3.WithPrefix())
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, kv := range res.Kvs {
		s.applyLocked(strings.TrimPrefix(string(kv.Key), s.prefix), kv.Value)
	}
	s.mu.Unlock()

	logger.V(2).Info("initialized etcd template store", "count", len(res.Kvs))

	rch := s.client.Watch(ctx, "", clientv3.WithPrefix())
	for {
		select {
		case <-ctx.Done():
			return nil
		case wr := <-rch:
			s.mu.Lock()
			for _, ev := range wr.Events {
				key := strings.TrimPrefix(string(ev.Kv.Key), s.prefix)
				if ev.Type == clientv3.EventTypeDelete {
					s.removeLocked(key)
					continue
				}
				s.applyLocked(key, ev.Kv.Value)
			}
			s.mu.Unlock()
		}
	}
}

func (s *TemplateStore) applyLocked(key string, value []byte) {
	domain, id, err := parseKey(key)
	if err != nil {
		return
	}
	t := &ipfix.Template{}
	if err := json.Unmarshal(value, t); err != nil {
		return
	}
	t.Rebind(s.model)
	d, ok := s.byDom[domain]
	if !ok {
		d = make(map[uint16]*ipfix.Template)
		s.byDom[domain] = d
	}
	d[id] = t
}

func (s *TemplateStore) removeLocked(key string) {
	domain, id, err := parseKey(key)
	if err != nil {
		return
	}
	delete(s.byDom[domain], id)
}

// Get returns the locally-mirrored template for (domain, id).
func (s *TemplateStore) Get(domain uint32, id uint16) (*ipfix.Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byDom[domain]
	if !ok {
		return nil, false
	}
	t, ok := d[id]
	return t, ok
}

// Set writes t to etcd under (domain, id) and updates the local mirror
// immediately, so the writer observes its own write without waiting for
// the watch to echo it back.
func (s *TemplateStore) Set(domain uint32, id uint16, t *ipfix.Template) {
	t.Metadata.ObservationDomainId = domain
	body, err := json.Marshal(t)
	if err == nil {
		_, _ = s.client.Put(context.Background(), etcdKey(domain, id), string(body))
	}
	s.mu.Lock()
	d, ok := s.byDom[domain]
	if !ok {
		d = make(map[uint16]*ipfix.Template)
		s.byDom[domain] = d
	}
	d[id] = t
	s.mu.Unlock()
}

// Delete removes (domain, id) from etcd and the local mirror.
func (s *TemplateStore) Delete(domain uint32, id uint16) {
	_, _ = s.client.Delete(context.Background(), etcdKey(domain, id))
	s.mu.Lock()
	delete(s.byDom[domain], id)
	s.mu.Unlock()
}

// DeleteDomain removes every template registered for domain.
func (s *TemplateStore) DeleteDomain(domain uint32) {
	_, _ = s.client.Delete(context.Background(), strconv.FormatUint(uint64(domain), 10)+"/", clientv3.WithPrefix())
	s.mu.Lock()
	delete(s.byDom, domain)
	s.mu.Unlock()
}

// Range calls fn once per template registered for domain, stopping early
// if fn returns false.
func (s *TemplateStore) Range(domain uint32, fn func(id uint16, t *ipfix.Template) bool) {
	s.mu.RLock()
	d := s.byDom[domain]
	snapshot := make(map[uint16]*ipfix.Template, len(d))
	for id, t := range d {
		snapshot[id] = t
	}
	s.mu.RUnlock()
	for id, t := range snapshot {
		if !fn(id, t) {
			return
		}
	}
}
