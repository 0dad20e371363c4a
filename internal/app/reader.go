// Файл reader.go — источники смен для пайплайна. Боевой путь: скачивание
// снимка из объектного хранилища, распознавание, разбор раскладки и
// нормализация. Офлайн-путь: fixture-набор, где содержимое снимков задано
// готовым каноническим JSON по ключу r2_key.

package app

import (
	"context"
	"os"

	"github.com/go-faster/jx"

	"schedule-worker/internal/domain/faults"
	"schedule-worker/internal/domain/schedule"
	"schedule-worker/internal/infra/blob"
	"schedule-worker/internal/ocr"
	"schedule-worker/internal/parser/layout"
	"schedule-worker/internal/parser/normalize"
)

// OCRReader — боевой DayReader: blob → OCR → layout → normalize.
type OCRReader struct {
	blobs       blob.Fetcher
	recognizer  ocr.Client
	defaultYear int
}

// NewOCRReader собирает боевой источник смен.
func NewOCRReader(blobs blob.Fetcher, recognizer ocr.Client, defaultYear int) *OCRReader {
	return &OCRReader{blobs: blobs, recognizer: recognizer, defaultYear: defaultYear}
}

// ReadImage интерпретирует один снимок. Нераспознанная дата не считается
// ошибкой снимка: решение о дате сессии принимает пайплайн по совокупности.
func (r *OCRReader) ReadImage(ctx context.Context, key string) (ImageDay, error) {
	data, err := r.blobs.Fetch(ctx, key)
	if err != nil {
		return ImageDay{}, faults.Wrap(faults.External, faults.StageOCR, err, "fetch screenshot")
	}

	boxes, err := r.recognizer.Recognize(ctx, data)
	if err != nil {
		return ImageDay{}, faults.Wrap(faults.External, faults.StageOCR, err, "recognize screenshot")
	}

	day := ImageDay{BoxCount: len(boxes)}
	if date, dateErr := ocr.ExtractScheduleDate(boxes, r.defaultYear); dateErr == nil {
		day.ScheduleDate = date
	}

	entries := layout.Parse(boxes)
	day.Shifts = normalize.Normalize(entries)
	return day, nil
}

// FixtureReader — офлайн DayReader: содержимое снимков берётся из локального
// JSON-файла. Формат: объект r2_key → {"schedule_date": "...", "shifts": [...]},
// где shifts — канонический массив смен.
type FixtureReader struct {
	days map[string]ImageDay
}

// NewFixtureReader загружает и валидирует fixture-набор целиком.
func NewFixtureReader(path string) (*FixtureReader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrap(faults.External, faults.StageOCR, err, "read fixture payload")
	}

	days := make(map[string]ImageDay)
	d := jx.DecodeBytes(raw)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var day ImageDay
		if objErr := d.Obj(func(d *jx.Decoder, field string) error {
			switch field {
			case "schedule_date":
				v, strErr := d.Str()
				if strErr != nil {
					return strErr
				}
				day.ScheduleDate = v
				return nil
			case "shifts":
				rawShifts, rawErr := d.Raw()
				if rawErr != nil {
					return rawErr
				}
				shifts, decErr := schedule.DecodeShifts(rawShifts)
				if decErr != nil {
					return decErr
				}
				day.Shifts = shifts
				return nil
			default:
				return d.Skip()
			}
		}); objErr != nil {
			return objErr
		}
		day.BoxCount = len(day.Shifts)
		days[key] = day
		return nil
	}); err != nil {
		return nil, faults.Wrap(faults.External, faults.StageOCR, err, "decode fixture payload")
	}

	return &FixtureReader{days: days}, nil
}

// ReadImage отдаёт заранее загруженное содержимое снимка.
func (r *FixtureReader) ReadImage(_ context.Context, key string) (ImageDay, error) {
	day, ok := r.days[key]
	if !ok {
		return ImageDay{}, faults.Newf(faults.External, faults.StageOCR,
			"fixture payload has no entry for key %s", key)
	}
	return day, nil
}
