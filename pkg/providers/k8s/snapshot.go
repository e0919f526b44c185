// Package k8s turns a Kubernetes cluster into a placement problem: nodes
// become servers (allocatable capacity) and pods become workloads (resource
// requests).
package k8s

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	apiresource "k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

const gib = 1 << 30

// Options tune what the snapshot includes.
type Options struct {
	// NodeSelector restricts the servers. Nil selects every node.
	NodeSelector labels.Selector
	// Namespace restricts the workloads. Empty means all namespaces.
	Namespace string
	// ClassLabel is the pod label copied into Workload.Class. The owner kind
	// is used when the label is missing.
	ClassLabel string
	// IncludeUnschedulable keeps cordoned nodes.
	IncludeUnschedulable bool
	// IncludeDaemonSets keeps pods owned by a DaemonSet.
	IncludeDaemonSets bool
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{ClassLabel: "app.kubernetes.io/name"}
}

// Server is a node and its allocatable capacity.
type Server struct {
	Name     string
	Capacity resource.Vector
}

// Snapshot is a point-in-time view of the cluster in schema terms.
type Snapshot struct {
	Schema    resource.Schema
	Servers   []Server
	Workloads []placement.Workload
}

// Problem converts the snapshot into a placement problem.
func (s *Snapshot) Problem() *placement.Problem {
	caps := make([]resource.Vector, len(s.Servers))
	for i, srv := range s.Servers {
		caps[i] = srv.Capacity
	}
	return &placement.Problem{Schema: s.Schema, Workloads: s.Workloads, Capacities: caps}
}

// NewClientset builds a clientset from a kubeconfig path, or from the
// default loading rules when path is empty.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return kubernetes.NewForConfig(cfg)
}

// Take lists nodes and pods through a shared informer cache and converts
// them. Nodes are ordered by name, workloads by namespace and name.
func Take(ctx context.Context, cs kubernetes.Interface, schema resource.Schema, opts Options) (*Snapshot, error) {
	names := make([]corev1.ResourceName, schema.Len())
	for d, n := range schema.Names() {
		names[d] = resourceName(n)
	}

	factoryOpts := []informers.SharedInformerOption{}
	if opts.Namespace != "" {
		factoryOpts = append(factoryOpts, informers.WithNamespace(opts.Namespace))
	}
	factory := informers.NewSharedInformerFactoryWithOptions(cs, 10*time.Minute, factoryOpts...)
	nodeLister := factory.Core().V1().Nodes().Lister()
	podLister := factory.Core().V1().Pods().Lister()

	ctx, cancel := context.WithCancel(ctx)
	factory.Start(ctx.Done())
	// Shutdown waits for the informers, which stop on cancel.
	defer factory.Shutdown()
	defer cancel()

	for kind, ok := range factory.WaitForCacheSync(ctx.Done()) {
		if !ok {
			return nil, fmt.Errorf("failed to sync informer for %v", kind)
		}
	}

	selector := opts.NodeSelector
	if selector == nil {
		selector = labels.Everything()
	}
	nodes, err := nodeLister.List(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes from cache: %w", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	snap := &Snapshot{Schema: schema}
	for _, node := range nodes {
		if node.Spec.Unschedulable && !opts.IncludeUnschedulable {
			continue
		}
		snap.Servers = append(snap.Servers, Server{
			Name:     node.Name,
			Capacity: vector(node.Status.Allocatable, names),
		})
	}

	pods, err := podLister.List(labels.Everything())
	if err != nil {
		return nil, fmt.Errorf("failed to list pods from cache: %w", err)
	}
	sort.Slice(pods, func(i, j int) bool {
		if pods[i].Namespace != pods[j].Namespace {
			return pods[i].Namespace < pods[j].Namespace
		}
		return pods[i].Name < pods[j].Name
	})

	for _, pod := range pods {
		if skipPod(pod, opts) {
			continue
		}
		snap.Workloads = append(snap.Workloads, placement.Workload{
			ID:     pod.Namespace + "/" + pod.Name,
			Class:  class(pod, opts.ClassLabel),
			Demand: podRequests(pod, names),
		})
	}
	return snap, nil
}

func resourceName(n string) corev1.ResourceName {
	switch n {
	case resource.VCPU, "cpu":
		return corev1.ResourceCPU
	case resource.Storage:
		return corev1.ResourceEphemeralStorage
	default:
		return corev1.ResourceName(n)
	}
}

// quantity converts cpu to cores and byte quantities to GiB.
func quantity(name corev1.ResourceName, q apiresource.Quantity) float64 {
	v := q.AsApproximateFloat64()
	switch name {
	case corev1.ResourceMemory, corev1.ResourceEphemeralStorage:
		return v / gib
	}
	return v
}

func vector(list corev1.ResourceList, names []corev1.ResourceName) resource.Vector {
	out := make(resource.Vector, len(names))
	for d, n := range names {
		if q, ok := list[n]; ok {
			out[d] = math.Max(0, quantity(n, q))
		}
	}
	return out
}

// podRequests is the effective request: the sum over app containers, raised
// to the largest init container where that is bigger, plus pod overhead.
func podRequests(pod *corev1.Pod, names []corev1.ResourceName) resource.Vector {
	total := make(resource.Vector, len(names))
	for _, c := range pod.Spec.Containers {
		total.AddInPlace(vector(c.Resources.Requests, names))
	}
	for _, c := range pod.Spec.InitContainers {
		init := vector(c.Resources.Requests, names)
		for d := range total {
			total[d] = math.Max(total[d], init[d])
		}
	}
	if pod.Spec.Overhead != nil {
		total.AddInPlace(vector(pod.Spec.Overhead, names))
	}
	return total
}

func skipPod(pod *corev1.Pod, opts Options) bool {
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		return true
	}
	if _, mirror := pod.Annotations[corev1.MirrorPodAnnotationKey]; mirror {
		return true
	}
	if !opts.IncludeDaemonSets {
		for _, ref := range pod.OwnerReferences {
			if ref.Kind == "DaemonSet" {
				return true
			}
		}
	}
	return false
}

func class(pod *corev1.Pod, label string) string {
	if label != "" {
		if v, ok := pod.Labels[label]; ok {
			return v
		}
	}
	if len(pod.OwnerReferences) > 0 {
		return pod.OwnerReferences[0].Kind
	}
	return ""
}
