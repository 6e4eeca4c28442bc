// ABOUTME: Admin API authentication
// ABOUTME: Constant-time shared-token check plus optional ServiceAccount JWT acceptance

package security

import (
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// AdminAuthenticator validates admin requests. Two credentials are
// accepted: the shared admin token (X-Admin-Token) and, when running in a
// cluster, a Kubernetes ServiceAccount bearer token.
type AdminAuthenticator struct {
	adminToken string
	logger     *slog.Logger

	publicKey     *rsa.PublicKey
	namespace     string
	caPath        string
	namespacePath string
}

// ServiceAccountInfo describes the identity extracted from a validated
// ServiceAccount token.
type ServiceAccountInfo struct {
	Subject   string `json:"subject"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	UID       string `json:"uid"`
}

// serviceAccountClaims are the projected-token claims Kubernetes issues.
type serviceAccountClaims struct {
	jwt.RegisteredClaims
	Kubernetes kubernetesClaims `json:"kubernetes.io,omitempty"`
}

type kubernetesClaims struct {
	Namespace      string                  `json:"namespace"`
	ServiceAccount serviceAccountReference `json:"serviceaccount"`
}

type serviceAccountReference struct {
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// NewAdminAuthenticator builds an authenticator for the given shared
// token. ServiceAccount verification is enabled when the in-cluster CA is
// readable; otherwise only the shared token is accepted.
func NewAdminAuthenticator(adminToken string, logger *slog.Logger) *AdminAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}

	auth := &AdminAuthenticator{
		adminToken:    adminToken,
		logger:        logger,
		caPath:        "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt",
		namespacePath: "/var/run/secrets/kubernetes.io/serviceaccount/namespace",
	}

	if path := os.Getenv("SERVICE_ACCOUNT_CA_PATH"); path != "" {
		auth.caPath = path
	}
	if path := os.Getenv("SERVICE_ACCOUNT_NAMESPACE_PATH"); path != "" {
		auth.namespacePath = path
	}

	if err := auth.initializeCluster(); err != nil {
		logger.Info("ServiceAccount verification unavailable, shared token only", "reason", err)
	} else {
		logger.Info("ServiceAccount verification enabled", "namespace", auth.namespace)
	}

	return auth
}

// ValidateAdminToken compares a presented shared token in constant time.
func (a *AdminAuthenticator) ValidateAdminToken(presented string) bool {
	if a.adminToken == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.adminToken), []byte(presented)) == 1
}

// ValidateServiceAccountToken verifies a ServiceAccount JWT against the
// cluster CA and confirms the identity carries admin rights.
func (a *AdminAuthenticator) ValidateServiceAccountToken(tokenString string) (*ServiceAccountInfo, error) {
	if a.publicKey == nil {
		return nil, fmt.Errorf("serviceaccount verification not configured")
	}
	if tokenString == "" {
		return nil, fmt.Errorf("empty token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &serviceAccountClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*serviceAccountClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, fmt.Errorf("token has expired")
	}

	info := &ServiceAccountInfo{
		Subject:   claims.Subject,
		Namespace: claims.Kubernetes.Namespace,
		Name:      claims.Kubernetes.ServiceAccount.Name,
		UID:       claims.Kubernetes.ServiceAccount.UID,
	}

	if !a.hasAdminPermissions(info) {
		return nil, fmt.Errorf("serviceaccount %q lacks admin permissions", info.Name)
	}

	a.logger.Debug("ServiceAccount token validated",
		"subject", info.Subject,
		"namespace", info.Namespace,
		"service_account", info.Name)
	return info, nil
}

// hasAdminPermissions restricts admin access to the sidecar's own
// namespace or explicitly named admin accounts.
func (a *AdminAuthenticator) hasAdminPermissions(info *ServiceAccountInfo) bool {
	if info == nil {
		return false
	}

	adminAccounts := []string{
		"withings-sidecar-admin",
		"system:serviceaccount:" + a.namespace + ":withings-sidecar-admin",
	}
	for _, name := range adminAccounts {
		if info.Name == name || info.Subject == name {
			return true
		}
	}

	return info.Namespace != "" && info.Namespace == a.namespace
}

func (a *AdminAuthenticator) initializeCluster() error {
	namespaceBytes, err := os.ReadFile(a.namespacePath)
	if err != nil {
		return fmt.Errorf("namespace file unreadable: %w", err)
	}
	a.namespace = strings.TrimSpace(string(namespaceBytes))

	caBytes, err := os.ReadFile(a.caPath)
	if err != nil {
		return fmt.Errorf("CA certificate unreadable: %w", err)
	}

	block, _ := pem.Decode(caBytes)
	if block == nil {
		return fmt.Errorf("CA certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("CA certificate does not carry an RSA public key")
	}

	a.publicKey = publicKey
	return nil
}
