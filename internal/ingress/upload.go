package ingress

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

type bulkItem struct {
	imageBytes  []byte
	contentType string
	context     string
}

// parseUploadBody reads Upload's multipart/form-data body: a single
// "image" file field and a "context" text field.
func parseUploadBody(r *http.Request) (imageBytes []byte, contentType, context string, err error) {
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		return nil, "", "", fmt.Errorf("parse multipart form: %w", err)
	}
	files := r.MultipartForm.File["image"]
	if len(files) != 1 {
		return nil, "", "", fmt.Errorf("expected exactly one \"image\" file field")
	}
	imageBytes, contentType, err = readFormFile(files[0])
	if err != nil {
		return nil, "", "", err
	}
	context = r.FormValue("context")
	return imageBytes, contentType, context, nil
}

// parseBulkUploadBody reads BulkUpload's multipart body: repeated "image"
// file fields paired by position with repeated "context" text fields.
func parseBulkUploadBody(r *http.Request) ([]bulkItem, error) {
	if err := r.ParseMultipartForm(maxUploadBody * 20); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	files := r.MultipartForm.File["image"]
	contexts := r.MultipartForm.Value["context"]
	if len(files) == 0 {
		return nil, fmt.Errorf("expected at least one \"image\" file field")
	}
	if len(contexts) != len(files) {
		return nil, fmt.Errorf("expected one \"context\" field per \"image\" field, got %d images and %d contexts", len(files), len(contexts))
	}
	items := make([]bulkItem, 0, len(files))
	for i, fh := range files {
		b, ct, err := readFormFile(fh)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, bulkItem{imageBytes: b, contentType: ct, context: contexts[i]})
	}
	return items, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxUploadBody))
	if err != nil {
		return nil, "", fmt.Errorf("read uploaded file: %w", err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return b, contentType, nil
}
