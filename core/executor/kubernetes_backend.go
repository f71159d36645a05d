package executor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/logging"
)

const (
	labelManagedBy = "app.kubernetes.io/managed-by"
	labelJobID     = "flagscale.io/job-id"
	labelTask      = "flagscale.io/task-type"
	labelRank      = "flagscale.io/rank"

	// MetricAnnotationPrefix marks Job annotations that carry job metrics,
	// e.g. flagscale.io/metric.throughput: "1532.5"
	MetricAnnotationPrefix = "flagscale.io/metric."

	defaultNamespace = "default"
)

var dnsUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// KubernetesBackend runs each node of a job as a batch/v1 Job
type KubernetesBackend struct {
	client    kubernetes.Interface
	namespace string
	log       logrus.FieldLogger
}

// NewKubernetesClient builds a clientset from kubeconfig, or from the
// in-cluster service account when kubeconfig is empty
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Kubernetes config")
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Kubernetes client")
	}
	return client, nil
}

// NewKubernetesBackend creates a backend submitting Jobs into namespace
func NewKubernetesBackend(client kubernetes.Interface, namespace string, log logrus.FieldLogger) *KubernetesBackend {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &KubernetesBackend{
		client:    client,
		namespace: namespace,
		log:       logging.OrDiscard(log),
	}
}

func (kb *KubernetesBackend) Name() string { return BackendKubernetes }

// Launch creates one Job per node. On a partial failure the Jobs created so
// far are deleted again.
func (kb *KubernetesBackend) Launch(ctx context.Context, spec LaunchSpec) (*models.JobHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Image == "" {
		return nil, errors.Errorf("job %s has no container image; set experiment.runner.image", spec.JobID)
	}

	handle := &models.JobHandle{
		JobID:      spec.JobID,
		Name:       spec.Name,
		TaskType:   spec.TaskType,
		Backend:    BackendKubernetes,
		Namespace:  kb.namespace,
		LogDir:     spec.LogDir,
		Status:     models.JobStatusPending,
		LaunchedAt: time.Now().UTC(),
	}

	for _, node := range spec.sortedNodes() {
		job := kb.buildJob(spec, node)
		created, err := kb.client.BatchV1().Jobs(kb.namespace).Create(ctx, job, metav1.CreateOptions{})
		if err != nil {
			kb.rollback(handle)
			return nil, errors.Wrapf(err, "failed to create Kubernetes job for rank %d", node.Rank)
		}
		kb.log.WithFields(logrus.Fields{"job_id": spec.JobID, "k8s_job": created.Name}).
			Infof("Submitted job %s to namespace %s", created.Name, kb.namespace)
		handle.Processes = append(handle.Processes, models.ProcessRef{
			Rank: node.Rank,
			Host: node.Host,
			Name: created.Name,
		})
	}
	return handle, nil
}

func (kb *KubernetesBackend) buildJob(spec LaunchSpec, node NodeSpec) *batchv1.Job {
	labels := map[string]string{
		labelManagedBy: "flagscale",
		labelJobID:     spec.JobID,
		labelTask:      string(spec.TaskType),
		labelRank:      strconv.Itoa(node.Rank),
	}
	for k, v := range spec.Labels {
		if _, reserved := labels[k]; !reserved {
			labels[k] = v
		}
	}

	env := []corev1.EnvVar{{Name: EnvMetricsFile, Value: "/dev/null"}}
	keys := make([]string, 0, len(node.Env))
	for k := range node.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: node.Env[k]})
	}

	backoff := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobObjectName(spec, node.Rank),
			Namespace: kb.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:       string(spec.TaskType),
						Image:      spec.Image,
						Command:    []string{"/bin/bash", "-c", node.Command},
						Env:        env,
						WorkingDir: spec.WorkDir,
					}},
				},
			},
		},
	}
}

// jobObjectName builds a DNS-1123 name that stays under 63 characters
func jobObjectName(spec LaunchSpec, rank int) string {
	id := strings.ReplaceAll(strings.ToLower(spec.JobID), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.ToLower(spec.Name)
	if name == "" {
		name = string(spec.TaskType)
	}
	name = strings.Trim(dnsUnsafe.ReplaceAllString(name, "-"), "-")
	suffix := fmt.Sprintf("-%s-%d", id, rank)
	if limit := 63 - len(suffix); len(name) > limit {
		name = strings.TrimRight(name[:limit], "-")
	}
	return name + suffix
}

// Terminate deletes the job's Kubernetes Jobs. A Job that is already gone
// counts as stopped.
func (kb *KubernetesBackend) Terminate(ctx context.Context, handle *models.JobHandle) error {
	namespace := handle.Namespace
	if namespace == "" {
		namespace = kb.namespace
	}
	policy := metav1.DeletePropagationBackground
	var failed []string
	for _, p := range handle.Processes {
		if p.Name == "" {
			continue
		}
		err := kb.client.BatchV1().Jobs(namespace).Delete(ctx, p.Name, metav1.DeleteOptions{PropagationPolicy: &policy})
		if err != nil && !apierrors.IsNotFound(err) {
			failed = append(failed, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		kb.log.WithFields(logrus.Fields{"job_id": handle.JobID, "k8s_job": p.Name}).Info("Deleted Kubernetes job")
	}
	if len(failed) > 0 {
		return errors.Errorf("failed to stop job %s: %s", handle.JobID, strings.Join(failed, "; "))
	}
	now := time.Now().UTC()
	handle.Status = models.JobStatusStopped
	if handle.StoppedAt == nil {
		handle.StoppedAt = &now
	}
	return nil
}

// Status reads every Job's counters. Metrics come from annotations with
// MetricAnnotationPrefix; when several ranks report one, the lowest rank wins.
func (kb *KubernetesBackend) Status(ctx context.Context, handle *models.JobHandle) (*models.StatusReport, error) {
	namespace := handle.Namespace
	if namespace == "" {
		namespace = kb.namespace
	}
	states := make([]models.JobStatus, 0, len(handle.Processes))
	metrics := make(map[string]float64)
	var messages []string

	procs := make([]models.ProcessRef, len(handle.Processes))
	copy(procs, handle.Processes)
	sort.Slice(procs, func(i, j int) bool { return procs[i].Rank > procs[j].Rank })

	for _, p := range procs {
		job, err := kb.client.BatchV1().Jobs(namespace).Get(ctx, p.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			if handle.Status == models.JobStatusStopped {
				states = append(states, models.JobStatusStopped)
			} else {
				states = append(states, models.JobStatusFailed)
				messages = append(messages, fmt.Sprintf("job %s not found", p.Name))
			}
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get Kubernetes job %s", p.Name)
		}
		states = append(states, jobState(job))
		for k, v := range job.Annotations {
			if !strings.HasPrefix(k, MetricAnnotationPrefix) {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			metrics[strings.TrimPrefix(k, MetricAnnotationPrefix)] = f
		}
	}

	report := &models.StatusReport{
		JobID:   handle.JobID,
		Status:  aggregateStatus(states),
		Message: strings.Join(messages, "; "),
	}
	if len(metrics) > 0 {
		report.Metrics = metrics
	}
	return report, nil
}

func jobState(job *batchv1.Job) models.JobStatus {
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return models.JobStatusSucceeded
		case batchv1.JobFailed:
			return models.JobStatusFailed
		}
	}
	switch {
	case job.Status.Failed > 0:
		return models.JobStatusFailed
	case job.Status.Succeeded > 0:
		return models.JobStatusSucceeded
	case job.Status.Active > 0:
		return models.JobStatusRunning
	}
	return models.JobStatusPending
}

func (kb *KubernetesBackend) rollback(handle *models.JobHandle) {
	if len(handle.Processes) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := kb.Terminate(ctx, handle); err != nil {
		kb.log.WithField("job_id", handle.JobID).Warnf("Failed to roll back partially submitted job: %v", err)
	}
}
