// ABOUTME: Kubernetes config syncer - mirrors the token pair into an Opaque Secret
// ABOUTME: Create-or-update with annotation bookkeeping for sibling pods

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"withings-sidecar/models"
)

const lastSyncedAnnotation = "withings-sidecar/last-synced"

// KubernetesSecretSyncer mirrors the token pair into a Secret in the
// sidecar's namespace. Sibling pods mount or watch the Secret instead of
// talking to this sidecar directly.
type KubernetesSecretSyncer struct {
	clientset  kubernetes.Interface
	namespace  string
	secretName string
	logger     *slog.Logger
}

// NewKubernetesSecretSyncer builds a syncer using in-cluster credentials.
func NewKubernetesSecretSyncer(namespace, secretName string, logger *slog.Logger) (*KubernetesSecretSyncer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-cluster config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	return &KubernetesSecretSyncer{
		clientset:  clientset,
		namespace:  namespace,
		secretName: secretName,
		logger:     logger,
	}, nil
}

// NewKubernetesSecretSyncerWithClientset injects a clientset (for tests).
func NewKubernetesSecretSyncerWithClientset(clientset kubernetes.Interface, namespace, secretName string, logger *slog.Logger) *KubernetesSecretSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KubernetesSecretSyncer{
		clientset:  clientset,
		namespace:  namespace,
		secretName: secretName,
		logger:     logger,
	}
}

func (s *KubernetesSecretSyncer) Name() string { return "kubernetes-secret" }

// Push creates or updates the mirror Secret. Writing the same data twice
// leaves the Secret identical, so retries are safe.
func (s *KubernetesSecretSyncer) Push(ctx context.Context, record *models.TokenRecord) error {
	data := map[string][]byte{
		varAccessToken:   []byte(record.AccessToken),
		varRefreshToken:  []byte(record.RefreshToken),
		varExpiresAt:     []byte(record.ExpiresAt.UTC().Format(time.RFC3339)),
		varLastRefreshed: []byte(record.LastRefreshedAt.UTC().Format(time.RFC3339)),
	}

	secrets := s.clientset.CoreV1().Secrets(s.namespace)

	existing, err := secrets.Get(ctx, s.secretName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return s.create(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read mirror secret: %v", ErrSyncFailed, err)
	}

	existing.Data = data
	if existing.Annotations == nil {
		existing.Annotations = make(map[string]string)
	}
	existing.Annotations[lastSyncedAnnotation] = time.Now().UTC().Format(time.RFC3339)

	if _, err := secrets.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("%w: failed to update mirror secret: %v", ErrSyncFailed, err)
	}

	s.logger.Info("token pair mirrored to kubernetes secret",
		"namespace", s.namespace,
		"secret_name", s.secretName)
	return nil
}

func (s *KubernetesSecretSyncer) create(ctx context.Context, data map[string][]byte) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.secretName,
			Namespace: s.namespace,
			Labels: map[string]string{
				"app.kubernetes.io/name":       "withings-sidecar",
				"app.kubernetes.io/component":  "oauth-token",
				"app.kubernetes.io/managed-by": "withings-sidecar",
			},
			Annotations: map[string]string{
				lastSyncedAnnotation: time.Now().UTC().Format(time.RFC3339),
			},
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}

	if _, err := s.clientset.CoreV1().Secrets(s.namespace).Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("%w: failed to create mirror secret: %v", ErrSyncFailed, err)
	}

	s.logger.Info("mirror secret created",
		"namespace", s.namespace,
		"secret_name", s.secretName)
	return nil
}
