package runtime

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func pod(name, ip string, ready bool, restarts int32, labels map[string]string) *corev1.Pod {
	cond := corev1.ConditionFalse
	if ready {
		cond = corev1.ConditionTrue
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "apps", Labels: labels},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			PodIP: ip,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: cond},
			},
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "app", RestartCount: restarts},
				{Name: "sidecar", RestartCount: 1},
			},
		},
	}
}

func deployment(name string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "apps"},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{Name: "app", Image: "registry.local/web:1.0"},
						{Name: "sidecar", Image: "registry.local/proxy:2.0"},
					},
				},
			},
		},
	}
}

func TestKubeCluster_ListInstances(t *testing.T) {
	web := map[string]string{"app.kubernetes.io/instance": "web"}
	terminating := pod("web-old", "10.0.0.9", true, 0, web)
	now := metav1.Now()
	terminating.DeletionTimestamp = &now

	client := fake.NewSimpleClientset(
		pod("web-0", "10.0.0.1", true, 0, web),
		pod("web-1", "10.0.0.2", true, 0, web),
		pod("db-0", "10.0.0.3", true, 0, map[string]string{"app.kubernetes.io/instance": "db"}),
		terminating,
	)
	cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps"})

	ids, err := cluster.ListInstances(context.Background(), "app.kubernetes.io/instance=web")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web-0", "web-1"}, ids)
}

func TestKubeCluster_InstanceStatus(t *testing.T) {
	client := fake.NewSimpleClientset(pod("web-0", "10.0.0.1", false, 3, nil))
	cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps"})

	status, err := cluster.InstanceStatus(context.Background(), "web-0")
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, status.Phase)
	assert.False(t, status.Ready)
	assert.Equal(t, int32(4), status.RestartCount)
	assert.Equal(t, "10.0.0.1", status.Address)

	_, err = cluster.InstanceStatus(context.Background(), "missing")
	assert.Error(t, err)
}

func TestKubeCluster_ProbeEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := fake.NewSimpleClientset(pod("web-0", host, true, 0, nil), pod("web-1", "", false, 0, nil))
	cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps", Port: port})
	ctx := context.Background()

	result, err := cluster.ProbeEndpoint(ctx, "web-0", "/health", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Healthy, result.Message)

	result, err = cluster.ProbeEndpoint(ctx, "web-0", "ready", time.Second)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	assert.False(t, result.Unreachable)

	result, err = cluster.ProbeEndpoint(ctx, "web-1", "/health", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Unreachable)
}

func TestKubeCluster_TCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	client := fake.NewSimpleClientset(pod("redis-0", "127.0.0.1", true, 0, nil))
	cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps", Port: port, ProbeType: health.CheckTypeTCP})

	result, err := cluster.ProbeEndpoint(context.Background(), "redis-0", "", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Healthy, result.Message)
}

func TestKubeCluster_Scale(t *testing.T) {
	client := fake.NewSimpleClientset(deployment("web", 2))
	cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps"})
	ctx := context.Background()

	require.NoError(t, cluster.Scale(ctx, "web", 5))

	deploy, err := client.AppsV1().Deployments("apps").Get(ctx, "web", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(5), *deploy.Spec.Replicas)

	assert.Error(t, cluster.Scale(ctx, "web", -1))
	assert.Error(t, cluster.Scale(ctx, "missing", 1))
}

func TestKubeCluster_SetImage(t *testing.T) {
	ctx := context.Background()

	t.Run("first container by default", func(t *testing.T) {
		client := fake.NewSimpleClientset(deployment("web", 1))
		cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps"})

		require.NoError(t, cluster.SetImage(ctx, "web", "registry.local/web:1.1"))

		deploy, err := client.AppsV1().Deployments("apps").Get(ctx, "web", metav1.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, "registry.local/web:1.1", deploy.Spec.Template.Spec.Containers[0].Image)
		assert.Equal(t, "registry.local/proxy:2.0", deploy.Spec.Template.Spec.Containers[1].Image)
	})

	t.Run("named container", func(t *testing.T) {
		client := fake.NewSimpleClientset(deployment("web", 1))
		cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps", Container: "sidecar"})

		require.NoError(t, cluster.SetImage(ctx, "web", "registry.local/proxy:2.1"))

		deploy, err := client.AppsV1().Deployments("apps").Get(ctx, "web", metav1.GetOptions{})
		require.NoError(t, err)
		assert.Equal(t, "registry.local/web:1.0", deploy.Spec.Template.Spec.Containers[0].Image)
		assert.Equal(t, "registry.local/proxy:2.1", deploy.Spec.Template.Spec.Containers[1].Image)
	})

	t.Run("unknown container", func(t *testing.T) {
		client := fake.NewSimpleClientset(deployment("web", 1))
		cluster := NewKubeCluster(client, KubeOptions{Namespace: "apps", Container: "nope"})

		assert.Error(t, cluster.SetImage(ctx, "web", "x"))
	})
}
