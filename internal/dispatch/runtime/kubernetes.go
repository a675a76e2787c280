package runtime

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const managedByLabel = "app.kubernetes.io/managed-by"

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where task jobs are created
	Namespace string
	// ServiceAccount for task pods (optional)
	ServiceAccount string
	// Resource limits applied to every task container
	CPULimit    string
	MemoryLimit string
	// GPULimit requests nvidia.com/gpu when non-empty
	GPULimit string
}

// KubernetesRuntime implements the Runtime interface using Kubernetes Jobs.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
}

// KubernetesHandle represents a running Kubernetes Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	podName   string // Populated after the pod starts
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewKubernetesRuntime creates a new Kubernetes-based runtime.
// Tries in-cluster configuration first, falls back to kubeconfig for local development.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		log.Printf("In-cluster config not available, trying kubeconfig: %v", err)
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
		log.Printf("Using kubeconfig: %s", kubeconfig)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return newKubernetesRuntime(clientset, cfg), nil
}

func newKubernetesRuntime(clientset kubernetes.Interface, cfg KubernetesConfig) *KubernetesRuntime {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.CPULimit == "" {
		cfg.CPULimit = "2"
	}
	if cfg.MemoryLimit == "" {
		cfg.MemoryLimit = "4Gi"
	}
	return &KubernetesRuntime{clientset: clientset, config: cfg}
}

// jobName turns a task name into a valid DNS-1123 label.
func jobName(name string) string {
	n := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	if n == "" {
		n = fmt.Sprintf("meshplane-%d", time.Now().UnixNano())
	}
	if len(n) > 63 {
		n = n[:63]
	}
	return strings.Trim(n, "-")
}

// Start implements Runtime.Start by creating a Kubernetes Job.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	name := jobName(opts.Name)

	var envVars []corev1.EnvVar
	for _, kv := range EnvList(opts.Env) {
		key, value, _ := strings.Cut(kv, "=")
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}

	limits := corev1.ResourceList{
		corev1.ResourceCPU:    resource.MustParse(k.config.CPULimit),
		corev1.ResourceMemory: resource.MustParse(k.config.MemoryLimit),
	}
	if k.config.GPULimit != "" {
		limits[corev1.ResourceName("nvidia.com/gpu")] = resource.MustParse(k.config.GPULimit)
	}

	backoffLimit := int32(0) // Retries are decided by the control plane
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: k.config.Namespace,
			Labels:    map[string]string{managedByLabel: "meshplane"},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":     name,
						managedByLabel: "meshplane",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: k.config.ServiceAccount,
					Containers: []corev1.Container{
						{
							Name:      "task",
							Image:     opts.Image,
							Command:   opts.Command,
							Env:       envVars,
							Resources: corev1.ResourceRequirements{Limits: limits},
						},
					},
				},
			},
		},
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	log.Printf("Created Kubernetes Job %s in namespace %s", created.Name, k.config.Namespace)

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   created.Name,
	}, nil
}

// Wait blocks until the job's pod completes and returns the result.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	h.podName = podName

	watcher, err := h.clientset.CoreV1().Pods(h.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", podName),
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	defer watcher.Stop()

	for event := range watcher.ResultChan() {
		if event.Type == watch.Error {
			err := fmt.Errorf("watch error")
			return ExitResult{ExitCode: -1, Error: err}, err
		}

		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}
		if result, done := podResult(pod); done {
			return result, nil
		}
	}

	return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
}

// podResult reports the exit result once the pod has finished.
func podResult(pod *corev1.Pod) (ExitResult, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitResult{ExitCode: 0}, true
	case corev1.PodFailed:
		result := ExitResult{ExitCode: -1}
		if len(pod.Status.ContainerStatuses) > 0 {
			if term := pod.Status.ContainerStatuses[0].State.Terminated; term != nil {
				result.ExitCode = int(term.ExitCode)
				if term.Reason != "" {
					result.Error = fmt.Errorf("%s", term.Reason)
				}
			}
		}
		return result, true
	default:
		return ExitResult{}, false
	}
}

func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
				LabelSelector: fmt.Sprintf("job-name=%s", h.jobName),
			})
			if err != nil {
				return "", err
			}
			if len(pods.Items) > 0 {
				return pods.Items[0].Name, nil
			}
		}
	}
}

// Stop deletes the Kubernetes Job and its pods.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	log.Printf("Deleted Kubernetes Job %s", h.jobName)
	return nil
}

// StreamLogs returns a reader for the task pod's logs.
func (h *KubernetesHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	if h.podName == "" {
		podName, err := h.waitForPod(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to find pod for job %s: %w", h.jobName, err)
		}
		h.podName = podName
	}

	if err := h.waitForContainerReady(ctx); err != nil {
		return nil, err
	}

	req := h.clientset.CoreV1().Pods(h.namespace).GetLogs(h.podName, &corev1.PodLogOptions{
		Container: "task",
		Follow:    true,
	})
	return req.Stream(ctx)
}

func (h *KubernetesHandle) waitForContainerReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, h.podName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			switch pod.Status.Phase {
			case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
				return nil
			}
		}
	}
}
