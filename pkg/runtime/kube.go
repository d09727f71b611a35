package runtime

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/rollout/pkg/health"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
)

const (
	// PhaseRunning is the pod phase of a serving instance
	PhaseRunning = string(corev1.PodRunning)
)

// KubeOptions configures a Kubernetes-backed cluster
type KubeOptions struct {
	Namespace string

	// Port is the container port probed on every pod
	Port int

	// ProbeType selects HTTP or TCP probes
	ProbeType health.CheckType

	// Container restricts SetImage to one container; empty updates the first
	Container string
}

// KubeCluster implements Cluster with client-go. Instances are pods and a
// lineage is a Deployment of the same name.
type KubeCluster struct {
	client    kubernetes.Interface
	namespace string
	port      int
	probeType health.CheckType
	container string
	logger    zerolog.Logger
}

// NewKubeCluster wraps an existing clientset
func NewKubeCluster(client kubernetes.Interface, opts KubeOptions) *KubeCluster {
	if opts.Namespace == "" {
		opts.Namespace = metav1.NamespaceDefault
	}
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.ProbeType == "" {
		opts.ProbeType = health.CheckTypeHTTP
	}
	return &KubeCluster{
		client:    client,
		namespace: opts.Namespace,
		port:      opts.Port,
		probeType: opts.ProbeType,
		container: opts.Container,
		logger:    log.WithComponent("kube"),
	}
}

// NewClientset builds a clientset from a kubeconfig path and context. An
// empty path falls back to the default loading rules, then in-cluster config.
func NewClientset(kubeconfig, kubeContext string) (kubernetes.Interface, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

// ListInstances lists pod names matching selector, skipping pods being deleted
func (k *KubeCluster) ListInstances(ctx context.Context, selector string) ([]string, error) {
	pods, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for %q: %w", selector, err)
	}

	ids := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.DeletionTimestamp != nil {
			continue
		}
		ids = append(ids, pod.Name)
	}
	return ids, nil
}

// InstanceStatus reports phase, Ready condition and summed restart count
func (k *KubeCluster) InstanceStatus(ctx context.Context, instanceID string) (types.InstanceStatus, error) {
	pod, err := k.client.CoreV1().Pods(k.namespace).Get(ctx, instanceID, metav1.GetOptions{})
	if err != nil {
		return types.InstanceStatus{}, fmt.Errorf("failed to get pod %s: %w", instanceID, err)
	}
	return podStatus(pod), nil
}

func podStatus(pod *corev1.Pod) types.InstanceStatus {
	status := types.InstanceStatus{
		Phase:   string(pod.Status.Phase),
		Address: pod.Status.PodIP,
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			status.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	for _, cs := range pod.Status.ContainerStatuses {
		status.RestartCount += cs.RestartCount
	}
	return status
}

// ProbeEndpoint probes path on the pod IP. A pod without an IP is unreachable
// rather than an error.
func (k *KubeCluster) ProbeEndpoint(ctx context.Context, instanceID, path string, timeout time.Duration) (health.Result, error) {
	status, err := k.InstanceStatus(ctx, instanceID)
	if err != nil {
		return health.Result{}, err
	}
	if status.Address == "" {
		return health.Result{
			Unreachable: true,
			Message:     "pod has no IP",
			CheckedAt:   time.Now(),
		}, nil
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return k.checker(status.Address, path, timeout).Check(pctx), nil
}

func (k *KubeCluster) checker(ip, path string, timeout time.Duration) health.Checker {
	addr := net.JoinHostPort(ip, strconv.Itoa(k.port))
	if k.probeType == health.CheckTypeTCP {
		return health.NewTCPChecker(addr).WithTimeout(timeout)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return health.NewHTTPChecker("http://" + addr + path).WithTimeout(timeout)
}

// Scale sets the Deployment's replica count
func (k *KubeCluster) Scale(ctx context.Context, lineage string, replicas int32) error {
	if replicas < 0 {
		return fmt.Errorf("invalid replica count %d", replicas)
	}
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		deploy, err := k.client.AppsV1().Deployments(k.namespace).Get(ctx, lineage, metav1.GetOptions{})
		if err != nil {
			return err
		}
		deploy.Spec.Replicas = &replicas
		_, err = k.client.AppsV1().Deployments(k.namespace).Update(ctx, deploy, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to scale %s to %d: %w", lineage, replicas, err)
	}

	k.logger.Info().Str("lineage", lineage).Int32("replicas", replicas).Msg("scaled deployment")
	return nil
}

// SetImage updates the image of the configured container, or of the first
// container when none is configured
func (k *KubeCluster) SetImage(ctx context.Context, lineage, imageRef string) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		deploy, err := k.client.AppsV1().Deployments(k.namespace).Get(ctx, lineage, metav1.GetOptions{})
		if err != nil {
			return err
		}

		containers := deploy.Spec.Template.Spec.Containers
		if len(containers) == 0 {
			return fmt.Errorf("deployment %s has no containers", lineage)
		}
		idx := 0
		if k.container != "" {
			idx = -1
			for i := range containers {
				if containers[i].Name == k.container {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("deployment %s has no container %q", lineage, k.container)
			}
		}
		containers[idx].Image = imageRef

		_, err = k.client.AppsV1().Deployments(k.namespace).Update(ctx, deploy, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("deployment %s not found in %s: %w", lineage, k.namespace, err)
		}
		return fmt.Errorf("failed to set image of %s: %w", lineage, err)
	}

	k.logger.Info().Str("lineage", lineage).Str("image", imageRef).Msg("updated image")
	return nil
}
