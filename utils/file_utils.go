package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Receipts may be photos or exported bank statements
	allowedReceiptExts = map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".heic": true,
		".pdf":  true,
	}

	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// CleanFilename removes any potentially dangerous characters from the filename
func CleanFilename(filename string) string {
	// Remove any path components
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if filename == "." || filename == "/" {
		return ""
	}
	return unsafeFilenameChars.ReplaceAllString(filename, "")
}

// ValidateReceiptFile checks the receipt filename has an allowed extension
func ValidateReceiptFile(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("receipt filename is required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedReceiptExts[ext] {
		return fmt.Errorf("unsupported receipt format. Allowed formats: jpg, jpeg, png, heic, pdf")
	}
	return nil
}

// ReceiptObjectKey builds the storage key a provider's receipt is uploaded under
func ReceiptObjectKey(providerID, uploadID, filename string) string {
	return fmt.Sprintf("receipts/%s/%s-%s", CleanFilename(providerID), uploadID, CleanFilename(filename))
}

// ReceiptKeyPrefix is the storage prefix every receipt of a provider lives under
func ReceiptKeyPrefix(providerID string) string {
	return fmt.Sprintf("receipts/%s/", CleanFilename(providerID))
}

// ReceiptContentType returns the MIME type a receipt must be uploaded with
func ReceiptContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
