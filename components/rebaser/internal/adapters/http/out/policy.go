// Package out holds outbound HTTP clients for the identity and policy
// collaborators.
package out

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
)

// PolicyRepository resolves authorization questions against the
// external policy engine.
type PolicyRepository interface {
	Check(ctx context.Context, user, relation, resource string) (bool, error)
	ExpandGroup(ctx context.Context, group string) ([]string, error)
}

// PolicyHTTPRepository calls the policy engine over authenticated
// HTTPS. Requests carry a short-lived service token; transient failures
// retry with bounded exponential backoff.
type PolicyHTTPRepository struct {
	baseURL    string
	issuer     string
	signingKey []byte
	client     *http.Client
	maxElapsed time.Duration
}

// NewPolicyHTTPRepository returns a new instance.
func NewPolicyHTTPRepository(baseURL, issuer string, signingKey []byte) *PolicyHTTPRepository {
	return &PolicyHTTPRepository{
		baseURL:    baseURL,
		issuer:     issuer,
		signingKey: signingKey,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxElapsed: 30 * time.Second,
	}
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

type expandResponse struct {
	Members []string `json:"members"`
}

// Check resolves (user, relation, resource) → allow/deny.
func (r *PolicyHTTPRepository) Check(ctx context.Context, user, relation, resource string) (bool, error) {
	var out checkResponse

	url := fmt.Sprintf("%s/v1/check?user=%s&relation=%s&resource=%s", r.baseURL, user, relation, resource)

	if err := r.getJSON(ctx, url, &out); err != nil {
		return false, err
	}

	return out.Allowed, nil
}

// ExpandGroup resolves a group to its member user ids.
func (r *PolicyHTTPRepository) ExpandGroup(ctx context.Context, group string) ([]string, error) {
	var out expandResponse

	url := fmt.Sprintf("%s/v1/groups/%s/members", r.baseURL, group)

	if err := r.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}

	return out.Members, nil
}

func (r *PolicyHTTPRepository) getJSON(ctx context.Context, url string, out any) error {
	logger := libCommons.NewLoggerFromContext(ctx)

	token, err := r.serviceToken()
	if err != nil {
		return err
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(r.maxElapsed)), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := r.client.Do(req)
		if err != nil {
			logger.Warnf("Policy engine request failed, retrying: %v", err)

			return err
		}

		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("policy engine returned %d", resp.StatusCode)
		}

		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("policy engine returned %d", resp.StatusCode))
		}

		return json.NewDecoder(resp.Body).Decode(out)
	}, policy)
}

// serviceToken mints a short-lived HS256 bearer for the policy engine.
func (r *PolicyHTTPRepository) serviceToken() (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    r.issuer,
		Subject:   "loom-rebaser",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.signingKey)
}
