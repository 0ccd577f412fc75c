package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"memberportal/internal/models"
	"memberportal/internal/store"
)

// RemoteSource talks to the upstream REST backend. Transport failures and
// 5xx responses become ErrBackendUnavailable; 404 and 409 map to the store
// sentinels so callers handle both sources uniformly.
type RemoteSource struct {
	baseURL string
	client  *http.Client
}

func NewRemoteSource(baseURL string, timeout time.Duration) *RemoteSource {
	return &RemoteSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Probe issues a lightweight request to check reachability.
func (r *RemoteSource) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/applications?_limit=1", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: probe HTTP %d", ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func (r *RemoteSource) ListApplications(ctx context.Context, status string, limit, offset int) ([]models.Application, error) {
	q := url.Values{}
	if status != "" && status != "all" {
		q.Set("status", status)
	}
	q.Set("_limit", strconv.Itoa(limit))
	q.Set("_offset", strconv.Itoa(offset))
	var out []models.Application
	if err := r.do(ctx, http.MethodGet, "/applications?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RemoteSource) GetApplication(ctx context.Context, id string) (models.Application, error) {
	var out models.Application
	if err := r.do(ctx, http.MethodGet, "/applications/"+url.PathEscape(id), nil, &out); err != nil {
		return models.Application{}, err
	}
	return out, nil
}

func (r *RemoteSource) CreateApplication(ctx context.Context, in models.NewApplication) (models.Application, error) {
	var out models.Application
	if err := r.do(ctx, http.MethodPost, "/applications", in, &out); err != nil {
		return models.Application{}, err
	}
	return out, nil
}

type decisionPatch struct {
	Status          models.ApplicationStatus `json:"status"`
	ProcessedAt     time.Time                `json:"processed_at"`
	Username        string                   `json:"username,omitempty"`
	RejectionReason string                   `json:"rejection_reason,omitempty"`
	// ExpectedStatus makes the transition a compare-and-swap: the backend
	// answers 409 when the application is no longer pending.
	ExpectedStatus models.ApplicationStatus `json:"expected_status"`
}

func (r *RemoteSource) DecideApplication(ctx context.Context, id string, d Decision) (models.Application, error) {
	patch := decisionPatch{
		Status:          d.Status,
		ProcessedAt:     time.Now().UTC(),
		Username:        d.Username,
		RejectionReason: d.Reason,
		ExpectedStatus:  models.ApplicationPending,
	}
	var out models.Application
	if err := r.do(ctx, http.MethodPatch, "/applications/"+url.PathEscape(id), patch, &out); err != nil {
		return models.Application{}, err
	}
	return out, nil
}

func (r *RemoteSource) DeleteApplication(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.baseURL+"/applications/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNoContent:
		// Only an explicit no-content response confirms the delete.
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: delete HTTP %d", ErrBackendUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("delete rejected: HTTP %d", resp.StatusCode)
	}
}

func (r *RemoteSource) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	payload := struct {
		ID           string            `json:"id,omitempty"`
		FullName     string            `json:"full_name"`
		Email        string            `json:"email"`
		Username     string            `json:"username"`
		PasswordHash string            `json:"password_hash"`
		Role         string            `json:"role"`
		Status       models.UserStatus `json:"status"`
	}{u.ID, u.FullName, u.Email, u.Username, u.PasswordHash, u.Role, u.Status}
	var out models.User
	if err := r.do(ctx, http.MethodPost, "/users", payload, &out); err != nil {
		return models.User{}, err
	}
	if out.ID == "" {
		out = u
	}
	// the hash is never serialized in responses; keep the caller's copy so
	// the local login store gets a usable record
	out.PasswordHash = u.PasswordHash
	return out, nil
}

type backendError struct {
	Message string `json:"message"`
}

func (r *RemoteSource) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return store.ErrConflict
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrBackendUnavailable, resp.StatusCode)
	default:
		var be backendError
		_ = json.NewDecoder(resp.Body).Decode(&be)
		if be.Message == "" {
			be.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("backend rejected request: %s", be.Message)
	}
}
