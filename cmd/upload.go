package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	handler "logingest/handler/http"
	"logingest/src/log"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a log file through the two-phase protocol",
	Long: `The upload command asks the server for a presigned URL, sends the file
to object storage and then completes the upload so the job is queued.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().String("server", "http://localhost:8000", "API base URL")
	uploadCmd.Flags().String("token", "", "access token; logs in with --username/--password when empty")
	uploadCmd.Flags().String("username", "", "username used to obtain a token")
	uploadCmd.Flags().String("password", "", "password used to obtain a token")
	uploadCmd.Flags().String("format", "json", "log format of the file (json, ndjson, text, csv)")
	uploadCmd.Flags().Bool("quiet", false, "disable the progress bar")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	format, _ := cmd.Flags().GetString("format")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx := cmd.Context()

	c := &ingestClient{
		baseURL: strings.TrimRight(server, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	if token == "" {
		var err error
		if token, err = c.login(ctx, username, password); err != nil {
			return err
		}
	}
	c.token = token

	var progress func(size int64) io.Writer
	if !quiet {
		progress = func(size int64) io.Writer {
			return progressbar.DefaultBytes(size, "uploading")
		}
	}

	res, err := c.upload(ctx, args[0], format, progress)
	if err != nil {
		return err
	}
	log.Info("Upload queued", "job_id", res.JobID, "status", res.Status)
	fmt.Fprintln(cmd.OutOrStdout(), res.JobID)
	return nil
}

// ingestClient drives the init, transfer and complete steps against a
// running server.
type ingestClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *ingestClient) upload(ctx context.Context, path, format string, progress func(size int64) io.Writer) (*handler.CompleteUploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var initResp handler.InitUploadResponse
	err = c.call(ctx, http.MethodPost, "/ingest/files/init", handler.InitUploadRequest{
		Filename:  filepath.Base(path),
		Size:      info.Size(),
		LogFormat: format,
	}, &initResp)
	if err != nil {
		return nil, err
	}
	log.Debug("Upload initialized", "job_id", initResp.JobID, "expires_in", initResp.ExpiresIn)

	var body io.Reader = f
	if progress != nil {
		body = io.TeeReader(f, progress(info.Size()))
	}
	if err := c.put(ctx, initResp.PresignedURL, body, info.Size()); err != nil {
		return nil, err
	}

	var done handler.CompleteUploadResponse
	err = c.call(ctx, http.MethodPost, "/ingest/files/complete", handler.CompleteUploadRequest{JobID: initResp.JobID}, &done)
	if err != nil {
		return nil, err
	}
	return &done, nil
}

func (c *ingestClient) login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("either --token or --username and --password are required")
	}
	var resp handler.TokenResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", handler.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

func (c *ingestClient) put(ctx context.Context, url string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (c *ingestClient) call(ctx context.Context, method, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr handler.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
