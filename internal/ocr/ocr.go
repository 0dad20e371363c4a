// Package ocr — контракт распознавания текста и утилиты поверх его результата.
// Сам движок OCR — внешний коллаборатор: чистая функция изображение → список
// текстовых боксов с геометрией и уверенностью. Здесь объявлен контракт,
// HTTP-клиент к сервису распознавания и извлечение даты расписания из боксов.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Box — один фрагмент распознанного текста с геометрией в пикселях.
type Box struct {
	Text       string
	X          float64
	Y          float64
	W          float64
	H          float64
	Confidence float64
}

// Client — контракт движка распознавания. Реализация не фильтрует и не
// группирует боксы: это работа разборщика раскладки.
type Client interface {
	Recognize(ctx context.Context, image []byte) ([]Box, error)
}

// httpClientTimeout — верхняя граница одного запроса к сервису распознавания.
const httpClientTimeout = 120 * time.Second

// HTTPClient отправляет изображение POST-запросом на endpoint сервиса
// распознавания и разбирает JSON-массив боксов из ответа.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient создаёт клиента для заданного endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: httpClientTimeout},
	}
}

// Recognize выполняет запрос и возвращает боксы. Не-2xx ответ — ошибка.
func (c *HTTPClient) Recognize(ctx context.Context, image []byte) ([]Box, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, errors.Wrap(err, "build ocr request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ocr request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read ocr response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return DecodeBoxes(body)
}

// DecodeBoxes разбирает JSON-массив боксов формата
// [{"text":..., "x":..., "y":..., "w":..., "h":..., "confidence":...}, ...].
func DecodeBoxes(raw []byte) ([]Box, error) {
	d := jx.DecodeBytes(raw)
	var boxes []Box
	if err := d.Arr(func(d *jx.Decoder) error {
		var b Box
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "text":
				v, err := d.Str()
				if err != nil {
					return err
				}
				b.Text = v
			case "x":
				return decodeFloat(d, &b.X)
			case "y":
				return decodeFloat(d, &b.Y)
			case "w":
				return decodeFloat(d, &b.W)
			case "h":
				return decodeFloat(d, &b.H)
			case "confidence":
				return decodeFloat(d, &b.Confidence)
			default:
				return d.Skip()
			}
			return nil
		}); err != nil {
			return err
		}
		boxes = append(boxes, b)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode boxes")
	}
	return boxes, nil
}

// decodeFloat читает число в float64.
func decodeFloat(d *jx.Decoder, dst *float64) error {
	v, err := d.Float64()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// truncate обрезает тело ответа для сообщения об ошибке.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
