/*
Copyright 2026.

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

package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/marcus-qen/autofix/internal/runner"
	"github.com/marcus-qen/autofix/internal/state"
)

// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=pods/log,verbs=get
// +kubebuilder:rbac:groups="",resources=events,verbs=list
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;create;patch
// +kubebuilder:rbac:groups=apps,resources=replicasets,verbs=get

var errWatchClosed = errors.New("watch channel closed")

// Handler processes one classified failure.
type Handler interface {
	Handle(ctx context.Context, f runner.Failure) (runner.Outcome, error)
}

// WatchOptions configure a PodWatcher.
type WatchOptions struct {
	// Namespace limits the watch; empty watches all namespaces.
	Namespace string

	// SelfName excludes the controller's own pods.
	SelfName string

	// Pacing is the minimum gap between dispatched stream events.
	Pacing time.Duration

	// Backoff is the wait before reconnecting a failed stream.
	Backoff time.Duration
}

// PodWatcher lists pods once, then follows the pod watch stream and feeds
// failures to the handler one at a time. It implements manager.Runnable.
type PodWatcher struct {
	clientset kubernetes.Interface
	handler   Handler
	opts      WatchOptions
	limiter   *rate.Limiter
	log       logr.Logger
}

// NewPodWatcher creates a PodWatcher.
func NewPodWatcher(cs kubernetes.Interface, h Handler, opts WatchOptions, log logr.Logger) *PodWatcher {
	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}
	return &PodWatcher{
		clientset: cs,
		handler:   h,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log,
	}
}

// NeedLeaderElection is true: only one replica may remediate.
func (w *PodWatcher) NeedLeaderElection() bool { return true }

// Start runs until ctx is cancelled. Stream errors never stop the watcher.
func (w *PodWatcher) Start(ctx context.Context) error {
	rv, err := w.seed(ctx)
	if err != nil {
		w.log.Error(err, "initial pod listing failed")
	}

	for {
		rv, err = w.stream(ctx, rv)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
				rv = ""
			}
			w.log.Error(err, "pod watch interrupted, reconnecting", "backoff", w.opts.Backoff)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.Backoff):
		}
	}
}

// seed classifies every existing pod and returns the list resource version.
func (w *PodWatcher) seed(ctx context.Context) (string, error) {
	pods, err := w.clientset.CoreV1().Pods(w.opts.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list pods: %w", err)
	}
	w.log.Info("initial pod scan", "pods", len(pods.Items))
	for i := range pods.Items {
		if ctx.Err() != nil {
			break
		}
		w.dispatch(ctx, &pods.Items[i])
	}
	return pods.ResourceVersion, nil
}

// stream consumes one watch connection and returns the last seen resource version.
func (w *PodWatcher) stream(ctx context.Context, rv string) (string, error) {
	wi, err := w.clientset.CoreV1().Pods(w.opts.Namespace).Watch(ctx, metav1.ListOptions{
		ResourceVersion:     rv,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return rv, fmt.Errorf("watch pods: %w", err)
	}
	defer wi.Stop()

	for {
		select {
		case <-ctx.Done():
			return rv, nil
		case ev, ok := <-wi.ResultChan():
			if !ok {
				return rv, errWatchClosed
			}
			if ev.Type == watch.Error {
				return rv, apierrors.FromObject(ev.Object)
			}
			pod, ok := ev.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			if pod.ResourceVersion != "" {
				rv = pod.ResourceVersion
			}
			if ev.Type == watch.Bookmark {
				continue
			}
			if err := w.limiter.Wait(ctx); err != nil {
				return rv, nil
			}
			if ev.Type != watch.Deleted {
				w.dispatch(ctx, pod)
			}
		}
	}
}

func (w *PodWatcher) dispatch(ctx context.Context, pod *corev1.Pod) {
	reason := Classify(pod, w.opts.SelfName)
	if reason == ReasonNone {
		return
	}
	f := runner.Failure{Key: state.Key{Namespace: pod.Namespace, Name: pod.Name}, Reason: string(reason)}
	out, err := w.handler.Handle(ctx, f)
	if err != nil {
		// Already logged and reported by the pipeline.
		return
	}
	w.log.V(1).Info("failure handled", "namespace", pod.Namespace, "pod", pod.Name, "reason", reason, "outcome", out)
}
