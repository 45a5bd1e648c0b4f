package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ecomed/libs/reportflow"
)

const photoStorageDir = "uploads/reports"

var photoObjectNamePattern = regexp.MustCompile(`^[0-9]{1,16}-[0-9a-z]{1,16}\.[A-Za-z0-9]{1,8}$`)

// diskPhotoStore keeps report photos under DATA_ROOT/uploads/reports and hands
// out public URLs served by photoMediaHandler.
type diskPhotoStore struct {
	root          string
	publicBaseURL string
}

func newDiskPhotoStore(root, publicBaseURL string) *diskPhotoStore {
	return &diskPhotoStore{root: root, publicBaseURL: publicBaseURL}
}

func (s *diskPhotoStore) UploadPhoto(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !photoObjectNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid photo object name %q", name)
	}

	fullPath, err := resolveDataRootStoragePath(s.root, filepath.Join(photoStorageDir, name))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}

	// O_EXCL refuses to overwrite an existing object.
	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(fullPath)
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(fullPath)
		return "", err
	}

	return buildPublicURL(s.publicBaseURL, photoMediaPathPrefix+name), nil
}

func (s *diskPhotoStore) resolve(name string) (string, error) {
	if !photoObjectNamePattern.MatchString(name) {
		return "", os.ErrNotExist
	}
	fullPath, err := resolveDataRootStoragePath(s.root, filepath.Join(photoStorageDir, name))
	if err != nil {
		return "", err
	}
	if !fileExists(fullPath) {
		return "", os.ErrNotExist
	}
	return fullPath, nil
}

func (s *diskPhotoStore) ownsURL(photoURL string) bool {
	prefix := buildPublicURL(s.publicBaseURL, photoMediaPathPrefix)
	if !strings.HasPrefix(photoURL, prefix) {
		return false
	}
	return photoObjectNamePattern.MatchString(strings.TrimPrefix(photoURL, prefix))
}

func resolveDataRootStoragePath(dataRoot, storagePath string) (string, error) {
	cleanStoragePath := filepath.Clean(strings.TrimSpace(storagePath))
	if cleanStoragePath == "" || cleanStoragePath == "." || filepath.IsAbs(cleanStoragePath) {
		return "", fmt.Errorf("invalid storage path")
	}

	root := filepath.Clean(dataRoot)
	resolved := filepath.Clean(filepath.Join(root, cleanStoragePath))
	relative, err := filepath.Rel(root, resolved)
	if err != nil {
		return "", err
	}
	if relative == ".." || strings.HasPrefix(relative, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("resolved path escapes data root")
	}

	return resolved, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func buildPublicURL(baseURL, path string) string {
	if strings.HasPrefix(path, "/") {
		return strings.TrimRight(baseURL, "/") + path
	}
	return strings.TrimRight(baseURL, "/") + "/" + path
}

func cleanMimeType(input string) string {
	value := strings.TrimSpace(strings.ToLower(input))
	if strings.Contains(value, ";") {
		value = strings.SplitN(value, ";", 2)[0]
	}
	return value
}

// detectMimeType trusts the declared type only when it is an allowed image
// type, otherwise sniffs the bytes. Returns "" for anything else.
func detectMimeType(data []byte, declared string) string {
	if declared != "" {
		mimeType := cleanMimeType(declared)
		if _, ok := allowedImageTypes[mimeType]; ok {
			return mimeType
		}
	}
	mimeType := cleanMimeType(http.DetectContentType(data))
	if _, ok := allowedImageTypes[mimeType]; ok {
		return mimeType
	}
	return ""
}

func contentTypeForPhoto(name string) string {
	if mimeType, ok := reportflow.PhotoTypeForExtension(filepath.Ext(name)); ok {
		return mimeType
	}
	return "application/octet-stream"
}
