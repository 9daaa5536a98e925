package dashscope

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// UploadPolicy is a short-lived grant to upload one file to DashScope's
// temporary storage.
type UploadPolicy struct {
	Host            string `json:"upload_host"`
	Dir             string `json:"upload_dir"`
	AccessKeyID     string `json:"oss_access_key_id"`
	Policy          string `json:"policy"`
	Signature       string `json:"signature"`
	ObjectACL       string `json:"x_oss_object_acl"`
	ForbidOverwrite string `json:"x_oss_forbid_overwrite"`
	ExpireSeconds   int    `json:"expire_in_seconds"`
	MaxFileSizeMB   int    `json:"max_file_size_mb"`
}

type policyResponse struct {
	RequestID string        `json:"request_id"`
	Data      *UploadPolicy `json:"data,omitempty"`
	Output    *struct {
		Data *UploadPolicy `json:"data,omitempty"`
	} `json:"output,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// GetUploadPolicy requests an upload grant for the client's model.
func (c *Client) GetUploadPolicy(ctx context.Context) (*UploadPolicy, error) {
	q := url.Values{"action": {"getPolicy"}, "model": {c.model}}
	data, err := c.do(ctx, "policy", http.MethodGet, uploadPath+"?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var resp policyResponse
	if err := decode("policy", data, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "" {
		return nil, &APIError{Op: "policy", Code: resp.Code, Message: resp.Message}
	}

	policy := resp.Data
	if policy == nil && resp.Output != nil {
		policy = resp.Output.Data
	}
	if policy == nil || policy.Host == "" || policy.Policy == "" || policy.Signature == "" {
		return nil, &APIError{Op: "policy", Message: fmt.Sprintf("incomplete upload policy (body: %s)", truncate(string(data), 200))}
	}
	return policy, nil
}
