package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// driveDirectURL serves public Drive files without an API key.
const driveDirectURL = "https://drive.usercontent.google.com/download"

// Download fetches the dataset into the local data file and returns its
// path. Google Drive share links go through the Drive API when an API key
// is configured and through the public download URL otherwise. Other
// http(s) URIs are fetched with GET, and file:// URIs or bare paths are
// copied.
func (s *Stage) Download(ctx context.Context) (string, error) {
	uri := strings.TrimSpace(s.cfg.DatasetURI)
	if uri == "" {
		return "", ErrNoDatasetURI
	}
	dst := s.cfg.LocalDataFile
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	s.logger.Info("downloading dataset", slog.String("uri", uri), slog.String("to", dst))

	if id, ok := DriveFileID(uri); ok {
		if s.cfg.DriveAPIKey != "" || s.driveEndpoint != "" {
			return dst, s.downloadDrive(ctx, id, dst)
		}
		direct := s.driveDownloadURL + "?" + url.Values{
			"id":      {id},
			"export":  {"download"},
			"confirm": {"t"},
		}.Encode()
		return dst, s.downloadHTTP(ctx, direct, dst)
	}

	u, err := url.Parse(uri)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return dst, s.downloadHTTP(ctx, uri, dst)
		case "file":
			return dst, copyFile(dst, u.Path)
		}
	}
	return dst, copyFile(dst, uri)
}

// DriveFileID extracts the file ID from a Google Drive link. Share links
// look like https://drive.google.com/file/d/<id>/view; open and uc links
// carry the ID in the id query parameter.
func DriveFileID(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || !strings.HasSuffix(u.Host, "google.com") || !strings.HasPrefix(u.Host, "drive") {
		return "", false
	}
	if id := u.Query().Get("id"); id != "" {
		return id, true
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == "d" && segments[i+1] != "" {
			return segments[i+1], true
		}
	}
	return "", false
}

func (s *Stage) client() *http.Client {
	if s.httpClient != nil {
		return s.httpClient
	}
	return http.DefaultClient
}

func (s *Stage) downloadHTTP(ctx context.Context, uri, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to download %s: unexpected status %s", uri, resp.Status)
	}
	return writeFile(dst, resp.Body)
}

func (s *Stage) downloadDrive(ctx context.Context, fileID, dst string) error {
	var opts []option.ClientOption
	if s.driveEndpoint != "" {
		opts = append(opts, option.WithEndpoint(s.driveEndpoint))
	}
	switch {
	case s.httpClient != nil:
		opts = append(opts, option.WithHTTPClient(s.httpClient))
	case s.cfg.DriveAPIKey != "":
		opts = append(opts, option.WithAPIKey(s.cfg.DriveAPIKey))
	default:
		opts = append(opts, option.WithoutAuthentication())
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create drive client: %w", err)
	}

	resp, err := svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("failed to download drive file %s: status %d: %s", fileID, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("failed to download drive file %s: %w", fileID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return writeFile(dst, resp.Body)
}
