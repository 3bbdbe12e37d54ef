package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPLoader provisions engines on a local whisper inference server over
// HTTP. The server holds the model weights; this client only negotiates
// which device/model/precision triple to load.
type HTTPLoader struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPLoader creates a loader for the given inference server base URL.
func NewHTTPLoader(baseURL string) *HTTPLoader {
	return &HTTPLoader{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// DeviceAvailable asks the server which device classes it can serve.
func (l *HTTPLoader) DeviceAvailable(d Device) bool {
	resp, err := l.Client.Get(l.BaseURL + "/v1/devices")
	if err != nil {
		log.Warn().Err(err).Msg("Device probe failed, assuming unavailable")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		Devices []string `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	for _, dev := range body.Devices {
		if Device(dev) == d {
			return true
		}
	}
	return false
}

// TryLoad asks the server to initialize one engine candidate. A response
// indicating memory exhaustion maps to ErrResourceExhausted so the caller
// can continue the fallback sequence.
func (l *HTTPLoader) TryLoad(c Candidate) (Engine, error) {
	payload, _ := json.Marshal(map[string]string{
		"device":    string(c.Device),
		"model":     c.Model,
		"precision": string(c.Precision),
	})
	resp, err := l.Client.Post(l.BaseURL+"/v1/engines", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("engine load request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var created struct {
			EngineID string `json:"engineId"`
		}
		if err := json.Unmarshal(body, &created); err != nil || created.EngineID == "" {
			return nil, fmt.Errorf("malformed engine load response: %s", string(body))
		}
		return &httpEngine{baseURL: l.BaseURL, id: created.EngineID, client: l.Client}, nil
	case resp.StatusCode == http.StatusInsufficientStorage:
		return nil, fmt.Errorf("%w: %s", ErrResourceExhausted, string(body))
	default:
		err := fmt.Errorf("engine load rejected (%d): %s", resp.StatusCode, string(body))
		if IsResourceExhausted(err) {
			return nil, fmt.Errorf("%w: %s", ErrResourceExhausted, string(body))
		}
		return nil, err
	}
}

// httpEngine is one loaded engine instance on the inference server.
type httpEngine struct {
	baseURL string
	id      string
	client  *http.Client
}

type transcribeResponse struct {
	Segments []Segment `json:"segments"`
}

// Transcribe uploads the audio file and inference options as a multipart
// request and decodes the timed segments from the response.
func (e *httpEngine) Transcribe(ctx context.Context, wavPath string, opts Options) ([]Segment, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("open audio segment: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read audio segment: %w", err)
	}
	mw.WriteField("beam_size", strconv.Itoa(opts.BeamSize))
	mw.WriteField("language", opts.Language)
	mw.WriteField("vad_filter", strconv.FormatBool(opts.VADFilter))
	if opts.VADFilter {
		mw.WriteField("min_silence_duration_ms", strconv.Itoa(opts.MinSilenceMs))
		mw.WriteField("padding_duration_ms", strconv.Itoa(opts.PaddingMs))
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/engines/%s/transcriptions", e.baseURL, e.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("inference failed (%d): %s", resp.StatusCode, string(body))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return out.Segments, nil
}

// Close releases the engine instance on the server.
func (e *httpEngine) Close() error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/engines/%s", e.baseURL, e.id), nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("release engine: %w", err)
	}
	resp.Body.Close()
	return nil
}
