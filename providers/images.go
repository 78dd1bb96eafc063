// Copyright (C) 2025 Petr Malik
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/petmal/playgroundtester/config"
)

// maxImageSize caps the size of downloaded images.
const maxImageSize = 20 << 20

var (
	// ErrDownloadImage is returned when a remote image could not be downloaded.
	ErrDownloadImage = errors.New("failed to download image")
	// ErrUnsupportedImage is returned when image data is not of a supported type.
	ErrUnsupportedImage = fmt.Errorf("%w: image type", ErrFeatureNotSupported)
)

var supportedImageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// image is an image attached to a prompt.
type image struct {
	// URL is the source URL when the image is remote.
	URL string
	// MimeType is set once the data is known.
	MimeType string
	// Data holds the raw image bytes when loaded.
	Data []byte
}

// DataURL returns the image as a data URL.
func (i image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MimeType, base64.StdEncoding.EncodeToString(i.Data))
}

// Base64 returns the image data encoded as standard base64.
func (i image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Format returns the short image format name, e.g. "png".
func (i image) Format() string {
	return strings.TrimPrefix(i.MimeType, "image/")
}

// testImages returns the images of a test case. Remote images are only referenced by URL
// unless download is true.
func testImages(ctx context.Context, client *http.Client, test config.TestCase, download bool) ([]image, error) {
	images := make([]image, 0, len(test.ImageURLs)+len(test.ImagesBase64))
	for _, url := range test.ImageURLs {
		if !download {
			images = append(images, image{URL: url})
			continue
		}
		img, err := downloadImage(ctx, client, url)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	for _, encoded := range test.ImagesBase64 {
		img, err := decodeImage(encoded)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// downloadStatusError carries the status returned by an image host.
type downloadStatusError struct {
	statusCode int
}

func (e downloadStatusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.statusCode)
}

func (e downloadStatusError) HTTPStatusCode() int {
	return e.statusCode
}

func downloadImage(ctx context.Context, client *http.Client, url string) (image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return image{}, fmt.Errorf("%w: failed to create request: %v", ErrDownloadImage, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return image{}, fmt.Errorf("%w: network request failed for '%s': %w", ErrDownloadImage, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return image{}, fmt.Errorf("%w: %w for '%s'", ErrDownloadImage, downloadStatusError{resp.StatusCode}, url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return image{}, fmt.Errorf("%w: failed to read image data: %v", ErrDownloadImage, err)
	}
	return newImage(url, data)
}

func decodeImage(encoded string) (image, error) {
	if _, payload, ok := strings.Cut(encoded, ";base64,"); ok && strings.HasPrefix(encoded, "data:") {
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return image{}, fmt.Errorf("%w: invalid base64 image: %v", ErrCreatePromptRequest, err)
	}
	return newImage("", data)
}

func newImage(url string, data []byte) (image, error) {
	mimeType := http.DetectContentType(data)
	if !supportedImageMimeTypes[mimeType] {
		return image{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, mimeType)
	}
	return image{URL: url, MimeType: mimeType, Data: data}, nil
}
