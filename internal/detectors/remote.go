package detectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veridex/veridex-backend/pkg/enums"
)

// Model footprints in MB, used to size memory leases. These track the
// resident set of the inference backends, not this process.
const (
	clipFootprintMB   = 4096
	resnetFootprintMB = 2048
	laaFootprintMB    = 3584
)

type evalPayload struct {
	AnalysisID  string        `json:"analysis_id"`
	ContentHash string        `json:"content_hash"`
	VideoPath   string        `json:"video_path"`
	MimeType    string        `json:"mime_type,omitempty"`
	Frames      []FrameSample `json:"frames"`
}

type evalResponse struct {
	ModelVersion string             `json:"model_version"`
	Label        string             `json:"label"`
	Score        float64            `json:"score"`
	Techniques   map[string]float64 `json:"techniques"`
	FramesUsed   int                `json:"frames_used"`
}

// remoteDetector calls a black-box inference backend over HTTP. The three
// production adapters differ only in kind, endpoint, and footprint.
type remoteDetector struct {
	kind        enums.DetectorKind
	endpoint    string
	version     string
	footprintMB int
	timeout     time.Duration
	httpClient  *http.Client
}

func newRemoteDetector(kind enums.DetectorKind, endpoint, version string, footprintMB int, timeout time.Duration, httpClient *http.Client) (*remoteDetector, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%s detector endpoint is required", kind)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &remoteDetector{
		kind:        kind,
		endpoint:    strings.TrimRight(endpoint, "/"),
		version:     version,
		footprintMB: footprintMB,
		timeout:     timeout,
		httpClient:  httpClient,
	}, nil
}

// NewCLIP builds the zero-shot vision-language adapter.
func NewCLIP(endpoint string, timeout time.Duration, httpClient *http.Client) (Detector, error) {
	return newRemoteDetector(enums.DetectorCLIP, endpoint, "clip-vit-l14", clipFootprintMB, timeout, httpClient)
}

// NewResNet builds the supervised CNN adapter.
func NewResNet(endpoint string, timeout time.Duration, httpClient *http.Client) (Detector, error) {
	return newRemoteDetector(enums.DetectorResNet, endpoint, "resnet50-df", resnetFootprintMB, timeout, httpClient)
}

// NewLAA builds the localized-artifact specialist adapter.
func NewLAA(endpoint string, timeout time.Duration, httpClient *http.Client) (Detector, error) {
	return newRemoteDetector(enums.DetectorLAA, endpoint, "laa-net-v2", laaFootprintMB, timeout, httpClient)
}

func (d *remoteDetector) Kind() enums.DetectorKind { return d.kind }

func (d *remoteDetector) ModelVersion() string { return d.version }

func (d *remoteDetector) FootprintMB() int { return d.footprintMB }

func (d *remoteDetector) Evaluate(ctx context.Context, req EvalRequest) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	payload, err := json.Marshal(evalPayload{
		AnalysisID:  req.AnalysisID.String(),
		ContentHash: req.ContentHash,
		VideoPath:   req.VideoPath,
		MimeType:    req.MimeType,
		Frames:      req.Samples,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/v1/evaluate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, Transientf("%s evaluation timed out: %v", d.kind, err)
		}
		return nil, Transientf("%s backend unreachable: %v", d.kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, Transientf("%s backend returned %d: %s", d.kind, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("%s backend rejected request: %d: %s", d.kind, resp.StatusCode, msg)
	}

	var decoded evalResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%s backend returned malformed response: %w", d.kind, err)
	}
	if decoded.Score < 0 || decoded.Score > 1 {
		return nil, fmt.Errorf("%s backend returned score %f outside [0,1]", d.kind, decoded.Score)
	}

	label, err := resolveLabel(decoded.Label, decoded.Score)
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", d.kind, err)
	}
	version := decoded.ModelVersion
	if version == "" {
		version = d.version
	}
	framesUsed := decoded.FramesUsed
	if framesUsed == 0 {
		framesUsed = len(req.Samples)
	}

	return &Outcome{
		Detector:     d.kind,
		ModelVersion: version,
		Label:        label,
		Score:        decoded.Score,
		Techniques:   decoded.Techniques,
		FramesUsed:   framesUsed,
		Latency:      time.Since(started),
	}, nil
}

// resolveLabel trusts an explicit backend label and otherwise derives one
// from the score.
func resolveLabel(raw string, score float64) (enums.VerdictLabel, error) {
	if raw != "" {
		label, err := enums.ParseVerdictLabel(raw)
		if err != nil {
			return "", err
		}
		return label, nil
	}
	if score > 0.5 {
		return enums.VerdictManipulated, nil
	}
	return enums.VerdictAuthentic, nil
}
