// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handwriting converts pen strokes to TeX through the MyScript
// batch recognition API.
package handwriting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/davidjeschke/math-tablet/services/notebook"
)

// DefaultURL is the MyScript batch recognition endpoint.
const DefaultURL = "https://webdemoapi.myscript.com/api/v4.0/iink/batch"

const latexMimeType = "application/x-latex"

// ErrRecognition indicates the recognition API rejected the request.
var ErrRecognition = errors.New("handwriting recognition failed")

// Keys are the MyScript API credentials.
type Keys struct {
	ApplicationKey string `yaml:"applicationKey" validate:"required"`
	HMACKey        string `yaml:"hmacKey" validate:"required"`
}

// Config configures a Client. Keys are required.
type Config struct {
	Keys Keys

	// URL overrides the API endpoint, for tests.
	URL string

	// HTTPClient overrides the HTTP client. Default: 30s timeout.
	HTTPClient *http.Client
}

// Client calls the recognition API. Safe for concurrent use.
type Client struct {
	keys Keys
	url  string
	http *http.Client
}

// NewClient builds a Client from the config, applying defaults.
func NewClient(cfg Config) *Client {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{keys: cfg.Keys, url: url, http: httpClient}
}

type strokeGroup struct {
	Strokes []notebook.Stroke `json:"strokes"`
}

type batchRequest struct {
	Configuration batchConfiguration `json:"configuration"`
	ContentType   string             `json:"contentType"`
	StrokeGroups  []strokeGroup      `json:"strokeGroups"`
	XDPI          int                `json:"xDPI"`
	YDPI          int                `json:"yDPI"`
}

type batchConfiguration struct {
	Math   mathConfiguration   `json:"math"`
	Lang   string              `json:"lang"`
	Export exportConfiguration `json:"export"`
}

type mathConfiguration struct {
	MimeTypes []string `json:"mimeTypes"`
}

type exportConfiguration struct {
	ImageResolution int               `json:"image-resolution"`
	Jiix            jiixConfiguration `json:"jiix"`
}

type jiixConfiguration struct {
	BoundingBox bool `json:"bounding-box"`
	Strokes     bool `json:"strokes"`
	Text        struct {
		Chars bool `json:"chars"`
		Words bool `json:"words"`
	} `json:"text"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RecognizeLatex converts strokes to a TeX expression. No strokes means
// an empty expression, with no API call.
func (c *Client) RecognizeLatex(ctx context.Context, strokes notebook.StrokeData) (string, error) {
	if len(strokes.Strokes) == 0 {
		return "", nil
	}

	req := batchRequest{
		Configuration: batchConfiguration{
			Math: mathConfiguration{MimeTypes: []string{latexMimeType}},
			Lang: "en_US",
			Export: exportConfiguration{
				ImageResolution: 300,
				Jiix: jiixConfiguration{
					Text: struct {
						Chars bool `json:"chars"`
						Words bool `json:"words"`
					}{Words: true},
				},
			},
		},
		ContentType:  "Math",
		StrokeGroups: []strokeGroup{{Strokes: strokes.Strokes}},
		XDPI:         96,
		YDPI:         96,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode recognition request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	// Errors come back as application/json even when LaTeX is requested.
	httpReq.Header.Set("Accept", latexMimeType+",application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("applicationKey", c.keys.ApplicationKey)
	httpReq.Header.Set("hmac", c.computeHMAC(body))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrRecognition, resp.StatusCode, text)
	}

	// A body starting with a brace is probably an error response, but
	// valid LaTeX can start with one too, so a failed decode is ignored.
	if len(text) > 0 && text[0] == '{' {
		var apiErr errorResponse
		if json.Unmarshal(text, &apiErr) == nil && apiErr.Code != "" {
			return "", fmt.Errorf("%w: %s %s", ErrRecognition, apiErr.Code, apiErr.Message)
		}
	}
	return cleanLatex(string(text)), nil
}

// computeHMAC signs the request body with SHA-512 keyed by the
// concatenation of the two keys, per the MyScript authentication scheme.
func (c *Client) computeHMAC(body []byte) string {
	mac := hmac.New(sha512.New, []byte(c.keys.ApplicationKey+c.keys.HMACKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var alignRE = regexp.MustCompile(`align.{1}`)

// cleanLatex rewrites recognizer output that standard TeX renderers do
// not accept. The substitution set comes from MyScript's own examples.
func cleanLatex(latex string) string {
	if strings.Contains(latex, `\\`) {
		steps := `\begin{align*}` + latex + `\end{align*}`
		steps = strings.Replace(steps, `\overrightarrow`, `\vec`, 1)
		steps = strings.Replace(steps, `\begin{aligned}`, "", 1)
		steps = strings.Replace(steps, `\end{aligned}`, "", 1)
		steps = strings.Replace(steps, `\llbracket`, `\lbracket`, 1)
		steps = strings.Replace(steps, `\rrbracket`, `\rbracket`, 1)
		steps = strings.Replace(steps, `\widehat`, `\hat`, 1)
		return alignRE.ReplaceAllString(steps, "aligned")
	}
	latex = strings.Replace(latex, `\overrightarrow`, `\vec`, 1)
	latex = strings.Replace(latex, `\llbracket`, `\lbracket`, 1)
	latex = strings.Replace(latex, `\rrbracket`, `\rbracket`, 1)
	latex = strings.Replace(latex, `\widehat`, `\hat`, 1)
	return alignRE.ReplaceAllString(latex, "aligned")
}
