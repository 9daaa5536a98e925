package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/dashscope"
)

// PolicyFetcher issues upload grants. *dashscope.Client implements it.
type PolicyFetcher interface {
	GetUploadPolicy(ctx context.Context) (*dashscope.UploadPolicy, error)
}

// BrokerUploader uploads through DashScope's temporary storage. The
// returned oss:// URL is only resolvable by DashScope itself, and only
// when the job request carries the OSS resource-resolve header.
type BrokerUploader struct {
	policies   PolicyFetcher
	httpClient *http.Client
}

// NewBrokerUploader creates a broker uploader. A nil httpClient uses a
// client with a 5 minute timeout, enough for a 200 MB video.
func NewBrokerUploader(policies PolicyFetcher, httpClient *http.Client) *BrokerUploader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &BrokerUploader{policies: policies, httpClient: httpClient}
}

// Strategy returns StrategyBroker.
func (u *BrokerUploader) Strategy() Strategy {
	return StrategyBroker
}

// Upload obtains a fresh policy and posts localPath under it.
func (u *BrokerUploader) Upload(ctx context.Context, localPath string) (*Result, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, &Error{Strategy: StrategyBroker, Step: "open", Path: localPath, Err: err}
	}

	policy, err := u.policies.GetUploadPolicy(ctx)
	if err != nil {
		return nil, &Error{Strategy: StrategyBroker, Step: "policy", Path: localPath, Err: err}
	}
	if policy.MaxFileSizeMB > 0 && info.Size() > int64(policy.MaxFileSizeMB)<<20 {
		return nil, &Error{Strategy: StrategyBroker, Step: "policy", Path: localPath,
			Err: fmt.Errorf("file is %d bytes, policy allows %d MB", info.Size(), policy.MaxFileSizeMB)}
	}

	key := strings.TrimSuffix(policy.Dir, "/") + "/" + filepath.Base(localPath)

	start := time.Now()
	if err := u.post(ctx, policy, key, localPath); err != nil {
		return nil, &Error{Strategy: StrategyBroker, Step: "post", Path: localPath, Err: err}
	}

	log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Dur("duration", time.Since(start)).
		Msg("File uploaded to temporary storage")

	return &Result{URL: "oss://" + key, Key: key, Strategy: StrategyBroker}, nil
}

// post streams a multipart form to the policy host. The file part must
// come last; OSS ignores fields after it.
func (u *BrokerUploader) post(ctx context.Context, policy *dashscope.UploadPolicy, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, policy, key, f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.Host, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("storage returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func writeForm(mw *multipart.Writer, policy *dashscope.UploadPolicy, key string, file *os.File) error {
	acl := policy.ObjectACL
	if acl == "" {
		acl = "private"
	}
	forbid := policy.ForbidOverwrite
	if forbid == "" {
		forbid = "true"
	}

	fields := [][2]string{
		{"OSSAccessKeyId", policy.AccessKeyID},
		{"Signature", policy.Signature},
		{"policy", policy.Policy},
		{"x-oss-object-acl", acl},
		{"x-oss-forbid-overwrite", forbid},
		{"key", key},
		{"success_action_status", "200"},
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("file", filepath.Base(file.Name()))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

// CleanupOlderThan is a no-op: temporary storage expires on its own and
// offers no listing.
func (u *BrokerUploader) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	log.Debug().Msg("Cleanup skipped for broker uploads")
	return 0, nil
}
