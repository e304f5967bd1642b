// Package k8sbackend implements [paneops.Backend] by running each unit
// as its own pod, with a single long-lived tmux session inside the pod
// standing in for the pane. It is compatible in spirit with the
// exec-based tmux/subprocess backends but trades pane adjacency (which
// a pod has none of) for per-unit resource isolation.
//
// Split always returns [paneops.ErrNoSpace]: there is no notion of
// "the pane next to this one" once each unit is its own pod.
package k8sbackend

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/ai-app-studio/buswright/internal/paneops"
)

const tmuxSession = "main"

// Backend runs each unit as a pod with a tmux session inside it.
type Backend struct {
	ops        ops
	namespace  string
	image      string
	cpuRequest string
	memRequest string
	cpuLimit   string
	memLimit   string
	stderr     io.Writer
}

var _ paneops.Backend = (*Backend)(nil)

// NewBackend builds a Backend from BUSWRIGHT_K8S_* environment
// variables: NAMESPACE (default "buswright"), IMAGE (required),
// CONTEXT, CPU_REQUEST/MEM_REQUEST/CPU_LIMIT/MEM_LIMIT (resource
// defaults "500m"/"1Gi"/"2"/"4Gi").
func NewBackend() (*Backend, error) {
	namespace := envOrDefault("BUSWRIGHT_K8S_NAMESPACE", "buswright")
	image := os.Getenv("BUSWRIGHT_K8S_IMAGE")
	k8sContext := os.Getenv("BUSWRIGHT_K8S_CONTEXT")

	restConfig, err := buildRESTConfig(k8sContext)
	if err != nil {
		return nil, fmt.Errorf("paneops/k8sbackend: building config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("paneops/k8sbackend: creating clientset: %w", err)
	}

	return &Backend{
		ops:        &realOps{clientset: clientset, restConfig: restConfig, namespace: namespace},
		namespace:  namespace,
		image:      image,
		cpuRequest: envOrDefault("BUSWRIGHT_K8S_CPU_REQUEST", "500m"),
		memRequest: envOrDefault("BUSWRIGHT_K8S_MEM_REQUEST", "1Gi"),
		cpuLimit:   envOrDefault("BUSWRIGHT_K8S_CPU_LIMIT", "2"),
		memLimit:   envOrDefault("BUSWRIGHT_K8S_MEM_LIMIT", "4Gi"),
		stderr:     os.Stderr,
	}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func buildRESTConfig(k8sContext string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loading := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	if k8sContext != "" {
		overrides.CurrentContext = k8sContext
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loading, overrides).ClientConfig()
}

func (b *Backend) podName(name string) string {
	return sanitizeName(name)
}

func (b *Backend) NewSession(name string, cfg paneops.SessionConfig) error {
	if b.image == "" {
		return fmt.Errorf("paneops/k8sbackend: starting %q: BUSWRIGHT_K8S_IMAGE is required", name)
	}
	ctx := context.Background()
	podName := b.podName(name)

	existing, err := b.ops.getPod(ctx, podName)
	if err == nil && existing != nil {
		return fmt.Errorf("paneops/k8sbackend: session %q already exists (pod %s)", name, podName)
	}

	pod := buildPod(podName, cfg, b)
	if _, err := b.ops.createPod(ctx, pod); err != nil {
		return fmt.Errorf("paneops/k8sbackend: creating pod for %q: %w", name, err)
	}
	if err := waitForPodRunning(ctx, b.ops, podName, 120*time.Second); err != nil {
		return fmt.Errorf("paneops/k8sbackend: waiting for pod %q: %w", podName, err)
	}
	if err := waitForTmux(ctx, b.ops, podName, 60*time.Second); err != nil {
		return fmt.Errorf("paneops/k8sbackend: waiting for tmux in %q: %w", podName, err)
	}
	return nil
}

func (b *Backend) Kill(name string) error {
	ctx := context.Background()
	err := b.ops.deletePod(ctx, b.podName(name), 5)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// SendKeys execs tmux send-keys inside the unit's pod. Literal text is
// submitted in two execs, same as the tmux backend: tmux's -l mode
// takes the text as a literal byte string and will not also parse a
// trailing "Enter" key name passed in the same invocation.
func (b *Backend) SendKeys(name, text string, literal bool) error {
	ctx := context.Background()
	pod := b.podName(name)
	if literal {
		args := []string{"tmux", "send-keys", "-t", tmuxSession, "-l", text}
		if _, err := b.ops.execInPod(ctx, pod, "agent", args, nil); err != nil {
			return err
		}
		_, err := b.ops.execInPod(ctx, pod, "agent", []string{"tmux", "send-keys", "-t", tmuxSession, "Enter"}, nil)
		return err
	}
	_, err := b.ops.execInPod(ctx, pod, "agent", []string{"tmux", "send-keys", "-t", tmuxSession, text, "Enter"}, nil)
	return err
}

func (b *Backend) CapturePane(name string, lines int) (string, error) {
	ctx := context.Background()
	args := []string{"tmux", "capture-pane", "-p", "-t", tmuxSession}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	} else {
		args = append(args, "-S", "-")
	}
	return b.ops.execInPod(ctx, b.podName(name), "agent", args, nil)
}

// PaneID returns the pod name, which is the only stable identifier a
// pod-based backend has for a unit's "pane".
func (b *Backend) PaneID(name string) (string, error) {
	return b.podName(name), nil
}

// Split always reports no space: pods have no adjacency for another
// pane to be carved from.
func (b *Backend) Split(target string, mode paneops.SplitMode, cfg paneops.SessionConfig) (string, error) {
	return "", paneops.ErrNoSpace
}

func (b *Backend) HasSession(name string) (bool, error) {
	ctx := context.Background()
	pod, err := b.ops.getPod(ctx, b.podName(name))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return pod.Status.Phase == corev1.PodRunning, nil
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "-")
	}
	return s
}

func waitForPodRunning(ctx context.Context, o ops, podName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pod, err := o.getPod(ctx, podName)
		if err == nil && pod.Status.Phase == corev1.PodRunning {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for pod %q to run", podName)
}

func waitForTmux(ctx context.Context, o ops, podName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := o.execInPod(ctx, podName, "agent", []string{"tmux", "has-session", "-t", tmuxSession}, nil); err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for tmux in pod %q", podName)
}

func buildPod(podName string, cfg paneops.SessionConfig, b *Backend) *corev1.Pod {
	command := "/bin/bash"
	if len(cfg.Command) > 0 {
		command = strings.Join(cfg.Command, " ")
	}
	entrypoint := fmt.Sprintf(`tmux new-session -d -s %s "%s" && sleep infinity`, tmuxSession, command)

	env := make([]corev1.EnvVar, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: b.namespace,
			Labels:    map[string]string{"buswright-unit": podName},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:       "agent",
				Image:      b.image,
				Command:    []string{"sh", "-c", entrypoint},
				WorkingDir: cfg.WorkDir,
				Env:        env,
				Resources: corev1.ResourceRequirements{
					Requests: resourceList(b.cpuRequest, b.memRequest),
					Limits:   resourceList(b.cpuLimit, b.memLimit),
				},
			}},
		},
	}
}
