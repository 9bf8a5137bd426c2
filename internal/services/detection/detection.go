package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

// ErrModelIntegrity marks failures that will not go away by retrying the
// next frame: the model server rejected the input or answered with a shape
// the client does not understand.
var ErrModelIntegrity = errors.New("model integrity error")

type Client struct {
	URL        string
	Confidence float64
	httpClient *http.Client
}

func NewClient(baseURL string, confidence float64, timeout time.Duration) *Client {
	return &Client{
		URL:        baseURL,
		Confidence: confidence,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type predictResponse struct {
	Detections []models.Detection `json:"detections"`
}

// Infer отправляет кадр JPEG байтами на /predict и возвращает детекции
func (c *Client) Infer(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Создаем form field с правильным Content-Type
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}

	if _, err := part.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	endpoint := c.URL + "/predict?conf=" + strconv.FormatFloat(c.Confidence, 'f', -1, 64)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("bad status: %s, error: %s", resp.Status, bodyBytes)
		if isIntegrityStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: %v", ErrModelIntegrity, err)
		}
		return nil, err
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrModelIntegrity, err)
	}

	for i, d := range out.Detections {
		if len(d.Box) != 4 {
			return nil, fmt.Errorf("%w: detection %d has %d box coordinates", ErrModelIntegrity, i, len(d.Box))
		}
	}

	return out.Detections, nil
}

// 408 and 429 are load problems, other 4xx mean the request itself is wrong.
func isIntegrityStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
