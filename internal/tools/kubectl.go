/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tools provides the read-only cluster queries used to build a
// diagnosis and to verify a remediation: warning events, container logs,
// owner resolution and a pod listing filtered by owner.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"
)

const (
	// DefaultLogTail is the number of log lines fetched per container.
	DefaultLogTail = 20

	// DefaultEventLimit is how many of the newest events are inspected.
	DefaultEventLimit = 3

	unknown = "unknown"
)

// Owner describes a pod's first container and its managing controller.
type Owner struct {
	Container string
	Image     string
	Kind      string
	Name      string
}

// String renders the owner as Kind/Name.
func (o Owner) String() string {
	return o.Kind + "/" + o.Name
}

// Cluster answers context queries against the Kubernetes API.
type Cluster struct {
	clientset  kubernetes.Interface
	logTail    int64
	eventLimit int
}

// NewCluster creates a cluster query client.
func NewCluster(cs kubernetes.Interface) *Cluster {
	return &Cluster{
		clientset:  cs,
		logTail:    DefaultLogTail,
		eventLimit: DefaultEventLimit,
	}
}

// OwnerChain resolves the pod's first container and its owner, following one
// ReplicaSet hop up to the Deployment. Fields that cannot be resolved keep
// their defaults (unknown container/image, Pod/<name> owner), and the
// returned Owner is usable even when err is non-nil.
func (c *Cluster) OwnerChain(ctx context.Context, namespace, pod string) (Owner, error) {
	o := Owner{Container: unknown, Image: unknown, Kind: "Pod", Name: pod}

	p, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return o, fmt.Errorf("get pod %s/%s: %w", namespace, pod, err)
	}
	if len(p.Spec.Containers) > 0 {
		o.Container = p.Spec.Containers[0].Name
		o.Image = p.Spec.Containers[0].Image
	}
	if len(p.OwnerReferences) == 0 {
		return o, nil
	}

	ref := p.OwnerReferences[0]
	o.Kind, o.Name = ref.Kind, ref.Name
	if ref.Kind != "ReplicaSet" {
		return o, nil
	}

	rs, err := c.clientset.AppsV1().ReplicaSets(namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return o, fmt.Errorf("get replicaset %s/%s: %w", namespace, ref.Name, err)
	}
	if len(rs.OwnerReferences) > 0 {
		o.Kind, o.Name = rs.OwnerReferences[0].Kind, rs.OwnerReferences[0].Name
	}
	return o, nil
}

// WarningEvents returns "[reason] message" lines for the pod. Only the newest
// events are inspected and non-Warning ones among them are dropped, so fewer
// than the limit may be returned.
func (c *Cluster) WarningEvents(ctx context.Context, namespace, pod string) ([]string, error) {
	list, err := c.clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("involvedObject.name", pod).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list events for %s/%s: %w", namespace, pod, err)
	}

	events := list.Items
	slices.SortStableFunc(events, func(a, b corev1.Event) int {
		return eventTime(b).Compare(eventTime(a))
	})
	if len(events) > c.eventLimit {
		events = events[:c.eventLimit]
	}

	var lines []string
	for _, e := range events {
		if e.Type == corev1.EventTypeWarning {
			lines = append(lines, fmt.Sprintf("[%s] %s", e.Reason, e.Message))
		}
	}
	return lines, nil
}

func eventTime(e corev1.Event) time.Time {
	if !e.LastTimestamp.IsZero() {
		return e.LastTimestamp.Time
	}
	return e.EventTime.Time
}

// TailLogs returns the last lines of a container's log.
func (c *Cluster) TailLogs(ctx context.Context, namespace, pod, container string) (string, error) {
	tail := c.logTail
	opts := &corev1.PodLogOptions{TailLines: &tail}
	if container != "" && container != unknown {
		opts.Container = container
	}

	stream, err := c.clientset.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("get logs for %s/%s: %w", namespace, pod, err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(stream); err != nil {
		return "", fmt.Errorf("read log stream: %w", err)
	}
	return buf.String(), nil
}

// ListOwnedPods lists pods in namespace whose name contains owner, one row per
// pod. It returns an empty string when nothing matches.
func (c *Cluster) ListOwnedPods(ctx context.Context, namespace, owner string) (string, error) {
	list, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list pods in %s: %w", namespace, err)
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 3, ' ', 0)
	matched := 0
	for i := range list.Items {
		p := &list.Items[i]
		if !strings.Contains(p.Name, owner) {
			continue
		}
		matched++
		ready, restarts := containerCounts(p)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Name, ready, podStatus(p), restarts)
	}
	if matched == 0 {
		return "", nil
	}
	_ = w.Flush()
	return strings.TrimSpace(buf.String()), nil
}

func containerCounts(p *corev1.Pod) (string, int32) {
	var ready int
	var restarts int32
	for _, cs := range p.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		restarts += cs.RestartCount
	}
	return fmt.Sprintf("%d/%d", ready, len(p.Spec.Containers)), restarts
}

func podStatus(p *corev1.Pod) string {
	for _, cs := range p.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && cs.State.Terminated.Reason != "" {
			return cs.State.Terminated.Reason
		}
	}
	if p.DeletionTimestamp != nil {
		return "Terminating"
	}
	return string(p.Status.Phase)
}
