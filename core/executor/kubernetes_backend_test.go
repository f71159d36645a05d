package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/1016qqz/FlagScale/core/models"
)

func k8sSpec() LaunchSpec {
	return LaunchSpec{
		JobID:    "3f2a9c1e-1111-2222-3333-444455556666",
		Name:     "Llama_7B Serve",
		TaskType: models.TaskServe,
		Image:    "flagscale:latest",
		Labels:   map[string]string{"team": "llm"},
		Nodes: []NodeSpec{
			{Rank: 0, Host: "node-a", Command: "serve --port 8000", Env: map[string]string{"B": "2", "A": "1"}},
			{Rank: 1, Host: "node-b", Command: "serve --port 8000"},
		},
	}
}

func TestKubernetesBackendLaunch(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	kb := NewKubernetesBackend(client, "ml", nil)

	h, err := kb.Launch(ctx, k8sSpec())
	require.NoError(t, err)
	assert.Equal(t, "ml", h.Namespace)
	require.Len(t, h.Processes, 2)
	assert.Equal(t, "llama-7b-serve-3f2a9c1e-0", h.Processes[0].Name)

	job, err := client.BatchV1().Jobs("ml").Get(ctx, h.Processes[0].Name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "3f2a9c1e-1111-2222-3333-444455556666", job.Labels[labelJobID])
	assert.Equal(t, "llm", job.Labels["team"])
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)

	c := job.Spec.Template.Spec.Containers[0]
	assert.Equal(t, []string{"/bin/bash", "-c", "serve --port 8000"}, c.Command)
	assert.Equal(t, "A", c.Env[1].Name)
	assert.Equal(t, "B", c.Env[2].Name)
}

func TestKubernetesBackendRequiresImage(t *testing.T) {
	kb := NewKubernetesBackend(fake.NewSimpleClientset(), "", nil)
	spec := k8sSpec()
	spec.Image = ""
	_, err := kb.Launch(context.Background(), spec)
	assert.ErrorContains(t, err, "no container image")
}

func TestKubernetesBackendStatus(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	kb := NewKubernetesBackend(client, "ml", nil)
	h, err := kb.Launch(ctx, k8sSpec())
	require.NoError(t, err)

	r, err := kb.Status(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, r.Status)

	jobs := client.BatchV1().Jobs("ml")
	for i, p := range h.Processes {
		job, err := jobs.Get(ctx, p.Name, metav1.GetOptions{})
		require.NoError(t, err)
		job.Status.Active = 1
		job.Annotations = map[string]string{
			MetricAnnotationPrefix + "throughput": []string{"100", "50"}[i],
			"other": "1",
		}
		_, err = jobs.Update(ctx, job, metav1.UpdateOptions{})
		require.NoError(t, err)
	}

	r, err = kb.Status(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, r.Status)
	assert.Equal(t, map[string]float64{"throughput": 100}, r.Metrics)

	job, err := jobs.Get(ctx, h.Processes[1].Name, metav1.GetOptions{})
	require.NoError(t, err)
	job.Status.Conditions = []batchv1.JobCondition{{Type: batchv1.JobFailed, Status: "True"}}
	_, err = jobs.Update(ctx, job, metav1.UpdateOptions{})
	require.NoError(t, err)

	r, err = kb.Status(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, r.Status)
}

func TestKubernetesBackendTerminate(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	kb := NewKubernetesBackend(client, "ml", nil)
	h, err := kb.Launch(ctx, k8sSpec())
	require.NoError(t, err)

	require.NoError(t, kb.Terminate(ctx, h))
	list, err := client.BatchV1().Jobs("ml").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Equal(t, models.JobStatusStopped, h.Status)

	// Jobs are gone now; a second stop still succeeds
	require.NoError(t, kb.Terminate(ctx, h))

	r, err := kb.Status(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStopped, r.Status)
}

func TestJobObjectName(t *testing.T) {
	spec := LaunchSpec{JobID: "ABCDEF0123", Name: strings.Repeat("x", 80)}
	name := jobObjectName(spec, 12)
	assert.LessOrEqual(t, len(name), 63)
	assert.True(t, strings.HasSuffix(name, "-abcdef01-12"))

	spec = LaunchSpec{JobID: "id", TaskType: models.TaskRL}
	assert.Equal(t, "rl-id-0", jobObjectName(spec, 0))
}
