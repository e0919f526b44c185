package k8s

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apiresource "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

func node(name string, cpu, mem, disk string, pool string, cordoned bool) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{"pool": pool}},
		Spec:       corev1.NodeSpec{Unschedulable: cordoned},
		Status: corev1.NodeStatus{Allocatable: corev1.ResourceList{
			corev1.ResourceCPU:              apiresource.MustParse(cpu),
			corev1.ResourceMemory:           apiresource.MustParse(mem),
			corev1.ResourceEphemeralStorage: apiresource.MustParse(disk),
		}},
	}
}

func pod(ns, name, cpu, mem string, mutate func(*corev1.Pod)) *corev1.Pod {
	p := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name},
		Spec: corev1.PodSpec{Containers: []corev1.Container{{
			Name: "main",
			Resources: corev1.ResourceRequirements{Requests: corev1.ResourceList{
				corev1.ResourceCPU:    apiresource.MustParse(cpu),
				corev1.ResourceMemory: apiresource.MustParse(mem),
			}},
		}}},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func TestTake(t *testing.T) {
	objects := []runtime.Object{
		node("node-b", "4", "16Gi", "100Gi", "general", false),
		node("node-a", "8", "32Gi", "200Gi", "general", false),
		node("node-c", "8", "32Gi", "200Gi", "general", true),
		node("node-gpu", "16", "64Gi", "200Gi", "gpu", false),
		pod("web", "frontend-1", "500m", "1Gi", func(p *corev1.Pod) {
			p.Labels = map[string]string{"app.kubernetes.io/name": "frontend"}
		}),
		pod("db", "postgres-0", "2", "8Gi", func(p *corev1.Pod) {
			p.OwnerReferences = []metav1.OwnerReference{{Kind: "StatefulSet", Name: "postgres"}}
			p.Spec.InitContainers = []corev1.Container{{
				Name: "migrate",
				Resources: corev1.ResourceRequirements{Requests: corev1.ResourceList{
					corev1.ResourceCPU: apiresource.MustParse("3"),
				}},
			}}
		}),
		pod("kube-system", "agent-x", "100m", "128Mi", func(p *corev1.Pod) {
			p.OwnerReferences = []metav1.OwnerReference{{Kind: "DaemonSet", Name: "agent"}}
		}),
		pod("web", "job-1", "1", "1Gi", func(p *corev1.Pod) {
			p.Status.Phase = corev1.PodSucceeded
		}),
	}
	cs := fake.NewClientset(objects...)

	opts := DefaultOptions()
	opts.NodeSelector = labels.SelectorFromSet(labels.Set{"pool": "general"})

	snap, err := Take(context.Background(), cs, resource.DefaultSchema(), opts)
	require.NoError(t, err)

	require.Len(t, snap.Servers, 2)
	assert.Equal(t, "node-a", snap.Servers[0].Name)
	assert.Equal(t, resource.Vector{8, 32, 200}, snap.Servers[0].Capacity)
	assert.Equal(t, "node-b", snap.Servers[1].Name)

	require.Len(t, snap.Workloads, 2)
	assert.Equal(t, "db/postgres-0", snap.Workloads[0].ID)
	assert.Equal(t, "StatefulSet", snap.Workloads[0].Class)
	assert.Equal(t, resource.Vector{3, 8, 0}, snap.Workloads[0].Demand, "init container raises the cpu request")
	assert.Equal(t, "web/frontend-1", snap.Workloads[1].ID)
	assert.Equal(t, "frontend", snap.Workloads[1].Class)
	assert.InDeltaSlice(t, []float64{0.5, 1, 0}, []float64(snap.Workloads[1].Demand), 1e-12)

	p := snap.Problem()
	require.NoError(t, p.Validate())
	assert.Len(t, p.Capacities, 2)
}

func TestTakeNamespaceAndDaemonSets(t *testing.T) {
	cs := fake.NewClientset(
		node("node-a", "8", "32Gi", "200Gi", "general", false),
		pod("kube-system", "agent-x", "100m", "128Mi", func(p *corev1.Pod) {
			p.OwnerReferences = []metav1.OwnerReference{{Kind: "DaemonSet", Name: "agent"}}
		}),
		pod("web", "frontend-1", "500m", "1Gi", nil),
	)

	opts := Options{Namespace: "kube-system", IncludeDaemonSets: true}
	snap, err := Take(context.Background(), cs, resource.DefaultSchema(), opts)
	require.NoError(t, err)

	require.Len(t, snap.Workloads, 1)
	assert.Equal(t, "kube-system/agent-x", snap.Workloads[0].ID)
	assert.Equal(t, "DaemonSet", snap.Workloads[0].Class)
	assert.InDelta(t, 0.125, snap.Workloads[0].Demand[1], 1e-12)
}
