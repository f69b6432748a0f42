// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package discovery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/amimono-dev/amimono/internal/amimonocore"
)

// Kubernetes labels that identify an amimono pod (§6 "Cluster labels").
const (
	LabelJob      = "amimono-job"
	LabelRevision = "amimono-rev"
)

// reconnectBackoff is the fixed backoff the watch loop sleeps on stream
// error before resuming, per §4.C4.
const reconnectBackoff = 2 * time.Second

// podRecord is the cache entry for one pod (§4.C4 "pods: pod-name -> {ip, job}").
type podRecord struct {
	ip  string
	job string
}

// Cluster maintains an eventually-consistent cache of pods matching the
// app's revision label, populated by an initial LIST plus a long-running
// WATCH. Concurrency: readers take a shared read lock; the single watch
// goroutine takes a write lock only to apply one event at a time, never
// across a network call (§4.C4 Concurrency, §5). It is grounded on the
// teacher's informer wiring in pkg/operator/operator.go, translated from
// "watch Rules CRDs via a SharedIndexInformer" to a raw LIST+WATCH loop,
// since the spec calls for explicit resource-version and bookmark handling
// that the informer abstraction hides.
type Cluster struct {
	client    kubernetes.Interface
	namespace string
	revision  string
	selfAddr  string
	jobOf     func(componentLabel string) (string, bool)
	logger    log.Logger

	mu        sync.RWMutex
	pods      map[string]podRecord
	podsByJob map[string]map[string]struct{}

	onCacheChange func(job string, size int) // metrics hook, optional
}

// ClusterConfig configures the cluster-watch provider.
type ClusterConfig struct {
	Client    kubernetes.Interface
	Namespace string
	Revision  string
	SelfAddr  string // own IP/hostname, returned by Myself
	// JobOf maps a component label to the job label whose pods answer its
	// discovery queries (derived from the running AppConfig's placement).
	JobOf         func(componentLabel string) (string, bool)
	Logger        log.Logger
	OnCacheChange func(job string, size int)
}

// NewCluster constructs the provider and performs the initial LIST, then
// starts the background WATCH loop. ctx governs the watch loop's lifetime.
func NewCluster(ctx context.Context, cfg ClusterConfig) (*Cluster, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	c := &Cluster{
		client:        cfg.Client,
		namespace:     cfg.Namespace,
		revision:      cfg.Revision,
		selfAddr:      cfg.SelfAddr,
		jobOf:         cfg.JobOf,
		logger:        cfg.Logger,
		pods:          map[string]podRecord{},
		podsByJob:     map[string]map[string]struct{}{},
		onCacheChange: cfg.OnCacheChange,
	}
	rv, err := c.listSnapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "amimono: initial pod list")
	}
	go c.watchLoop(ctx, rv)
	return c, nil
}

func (c *Cluster) selector() string {
	return LabelRevision + "=" + c.revision
}

// listSnapshot performs the initial LIST and returns the resource version
// to resume watching from.
func (c *Cluster) listSnapshot(ctx context.Context) (string, error) {
	list, err := c.client.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: c.selector(),
	})
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.pods = map[string]podRecord{}
	c.podsByJob = map[string]map[string]struct{}{}
	c.mu.Unlock()
	for i := range list.Items {
		c.applyUpsert(&list.Items[i])
	}
	return list.ResourceVersion, nil
}

// watchLoop consumes added/modified/deleted events and reconnects with a
// fixed backoff on stream error, reinitializing from LIST if the resource
// version was lost (§4.C4).
func (c *Cluster) watchLoop(ctx context.Context, resourceVersion string) {
	for {
		if ctx.Err() != nil {
			return
		}
		w, err := c.client.CoreV1().Pods(c.namespace).Watch(ctx, metav1.ListOptions{
			LabelSelector:   c.selector(),
			ResourceVersion: resourceVersion,
		})
		if err != nil {
			level.Error(c.logger).Log("msg", "amimono: pod watch failed, reconnecting", "err", err)
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}
		nextRV, lost := c.consume(ctx, w)
		if lost {
			level.Error(c.logger).Log("msg", "amimono: pod watch lost resource version, re-listing")
			if !c.sleepBackoff(ctx) {
				return
			}
			newRV, err := c.listSnapshot(ctx)
			if err != nil {
				level.Error(c.logger).Log("msg", "amimono: re-list after lost resource version failed", "err", err)
				if !c.sleepBackoff(ctx) {
					return
				}
				continue
			}
			resourceVersion = newRV
			continue
		}
		if nextRV != "" {
			resourceVersion = nextRV
		}
	}
}

func (c *Cluster) sleepBackoff(ctx context.Context) bool {
	t := time.NewTimer(reconnectBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// consume drains one watch stream until it closes or errors, applying each
// event to the cache in the order received (§5 Ordering guarantees).
// Returns the last resource version seen on this stream (empty if no event
// carried one) and whether it was lost.
func (c *Cluster) consume(ctx context.Context, w watch.Interface) (string, bool) {
	defer w.Stop()
	resourceVersion := ""
	for {
		select {
		case <-ctx.Done():
			return resourceVersion, false
		case ev, ok := <-w.ResultChan():
			if !ok {
				level.Debug(c.logger).Log("msg", "amimono: pod watch stream closed, reconnecting")
				return resourceVersion, false
			}
			rv, lost := c.applyEvent(ev)
			if lost {
				return "", true
			}
			if rv != "" {
				resourceVersion = rv
			}
		}
	}
}

// applyEvent applies one watch event to the cache under a single write-lock
// critical section, per §5's "never hold a lock across an await point"
// rule. Returns (newResourceVersion, lostResourceVersion).
func (c *Cluster) applyEvent(ev watch.Event) (string, bool) {
	switch ev.Type {
	case watch.Bookmark:
		level.Debug(c.logger).Log("msg", "amimono: ignoring watch bookmark")
		return "", false
	case watch.Error:
		if status, ok := ev.Object.(*metav1.Status); ok {
			level.Error(c.logger).Log("msg", "amimono: pod watch error event", "reason", status.Reason, "message", status.Message)
			if status.Reason == metav1.StatusReasonExpired || status.Reason == metav1.StatusReasonGone {
				return "", true
			}
		}
		return "", true
	}
	pod, ok := ev.Object.(*corev1.Pod)
	if !ok {
		return "", false
	}
	switch ev.Type {
	case watch.Deleted:
		c.applyDelete(pod)
	default: // Added, Modified
		c.applyUpsert(pod)
	}
	return pod.ResourceVersion, false
}

func (c *Cluster) applyUpsert(pod *corev1.Pod) {
	job, ok := pod.Labels[LabelJob]
	if !ok {
		level.Debug(c.logger).Log("msg", "amimono: ignoring pod without job label", "pod", pod.Name)
		return
	}
	rev, ok := pod.Labels[LabelRevision]
	if !ok || rev != c.revision {
		level.Debug(c.logger).Log("msg", "amimono: ignoring pod with non-matching revision", "pod", pod.Name, "rev", rev)
		return
	}
	if pod.Status.Phase != corev1.PodRunning {
		level.Debug(c.logger).Log("msg", "amimono: ignoring non-running pod", "pod", pod.Name, "phase", pod.Status.Phase)
		return
	}
	if pod.Status.PodIP == "" {
		level.Error(c.logger).Log("msg", "amimono: running pod missing IP, skipping", "pod", pod.Name)
		return
	}

	c.mu.Lock()
	c.removeFromJobIndexLocked(pod.Name)
	c.pods[pod.Name] = podRecord{ip: pod.Status.PodIP, job: job}
	if c.podsByJob[job] == nil {
		c.podsByJob[job] = map[string]struct{}{}
	}
	c.podsByJob[job][pod.Name] = struct{}{}
	size := len(c.podsByJob[job])
	c.mu.Unlock()

	if c.onCacheChange != nil {
		c.onCacheChange(job, size)
	}
}

func (c *Cluster) applyDelete(pod *corev1.Pod) {
	c.mu.Lock()
	c.removeFromJobIndexLocked(pod.Name)
	delete(c.pods, pod.Name)
	c.mu.Unlock()
}

// removeFromJobIndexLocked must be called with c.mu held for writing.
func (c *Cluster) removeFromJobIndexLocked(podName string) {
	if rec, ok := c.pods[podName]; ok {
		if set, ok := c.podsByJob[rec.job]; ok {
			delete(set, podName)
		}
	}
}

func (c *Cluster) podsForJob(job string) []amimonocore.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := c.podsByJob[job]
	out := make([]amimonocore.Location, 0, len(names))
	for name := range names {
		out = append(out, amimonocore.Location{Tag: amimonocore.Ephemeral, Addr: c.pods[name].ip})
	}
	return out
}

func (c *Cluster) resolveJob(componentLabel string) (string, error) {
	if c.jobOf == nil {
		return "", errors.Errorf("amimono: cluster provider has no placement mapping for %q", componentLabel)
	}
	job, ok := c.jobOf(componentLabel)
	if !ok {
		return "", errors.Errorf("amimono: unknown component %q", componentLabel)
	}
	return job, nil
}

// DiscoverRunning picks uniformly at random from label's job's current pod
// set, returning an empty list if none (§4.C4).
func (c *Cluster) DiscoverRunning(label string) ([]amimonocore.Location, error) {
	job, err := c.resolveJob(label)
	if err != nil {
		return nil, err
	}
	locs := c.podsForJob(job)
	if len(locs) == 0 {
		return nil, nil
	}
	pick := locs[rand.Intn(len(locs))]
	return []amimonocore.Location{pick}, nil
}

// DiscoverStable returns the same set as DiscoverRunning; this runtime does
// not distinguish the two for the cluster provider (§4.C4, §9 open question).
func (c *Cluster) DiscoverStable(label string) ([]amimonocore.Location, error) {
	job, err := c.resolveJob(label)
	if err != nil {
		return nil, err
	}
	return c.podsForJob(job), nil
}

// Myself returns the provider's own identity.
func (c *Cluster) Myself(label string) (amimonocore.Location, error) {
	return amimonocore.Location{Tag: amimonocore.Ephemeral, Addr: c.selfAddr}, nil
}

// Storage is unsupported by the cluster provider: stateful deployments
// obtain storage via the orchestrator (§4.C4).
func (c *Cluster) Storage(label string) (string, error) {
	return "", errors.New("amimono: cluster discovery provider does not support local storage")
}

// IsNotFound reports whether err is a Kubernetes "not found" API error.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}
