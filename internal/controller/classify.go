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

// Package controller turns pod status changes into remediation failures.
package controller

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// Reason is a classified container failure. The empty Reason means healthy.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonCrashLoopBackOff Reason = "CrashLoopBackOff"
	ReasonImagePullBackOff Reason = "ImagePullBackOff"
	ReasonErrImagePull     Reason = "ErrImagePull"
	ReasonOOMKilled        Reason = "OOMKilled"
)

var waitingReasons = map[string]Reason{
	"CrashLoopBackOff": ReasonCrashLoopBackOff,
	"ImagePullBackOff": ReasonImagePullBackOff,
	"ErrImagePull":     ReasonErrImagePull,
}

// Classify returns the failure of the first container, in status order, that
// is waiting on a crash or image reason or was last terminated by the OOM
// killer. Pods whose name contains self are never classified.
func Classify(pod *corev1.Pod, self string) Reason {
	if pod == nil || (self != "" && strings.Contains(pod.Name, self)) {
		return ReasonNone
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if w := cs.State.Waiting; w != nil {
			if r, ok := waitingReasons[w.Reason]; ok {
				return r
			}
		}
		if t := cs.LastTerminationState.Terminated; t != nil && t.Reason == string(ReasonOOMKilled) {
			return ReasonOOMKilled
		}
	}
	return ReasonNone
}
