// Файл canonical.go — детерминированная каноническая форма дня.
// Канонизация нормализует времена и строки, сортирует смены в фиксированном
// порядке и сериализует день в JSON с жёстким порядком ключей. Хэш полезной
// нагрузки стабилен: семантически равные дни дают одинаковые байты и одинаковый
// SHA-256 независимо от порядка и формата входа.

package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"golang.org/x/text/unicode/norm"
)

// Day — канонический день: дата плюс отсортированные канонические смены.
type Day struct {
	ScheduleDate string
	Shifts       []Shift
}

// Payload — результат канонизации: день, его сериализация и хэш.
type Payload struct {
	Day  Day
	JSON []byte
	Hash string
}

// Canonicalize нормализует смены, сортирует их и вычисляет каноническую
// сериализацию дня вместе с хэшем. Функция чистая и тотальная: при невалидном
// времени, невалидной дате или смене без обоих концов возвращается ошибка.
func Canonicalize(scheduleDate string, shifts []Aggregated) (Payload, error) {
	if _, err := time.Parse("2006-01-02", scheduleDate); err != nil {
		return Payload{}, errors.Wrapf(err, "invalid schedule_date %q", scheduleDate)
	}

	canonical := make([]Shift, 0, len(shifts))
	for i, agg := range shifts {
		s, err := normalizeShift(agg.Shift)
		if err != nil {
			return Payload{}, errors.Wrapf(err, "shift %d", i)
		}
		canonical = append(canonical, s)
	}
	sortShifts(canonical)

	day := Day{ScheduleDate: scheduleDate, Shifts: canonical}
	raw := EncodeDay(day)
	return Payload{Day: day, JSON: raw, Hash: HashHex(raw)}, nil
}

// normalizeShift приводит времена к HH:MM и чистит строковые поля.
// Смена, у которой отсутствуют оба конца интервала, считается невалидной.
func normalizeShift(s Shift) (Shift, error) {
	out := s
	var err error
	if out.Start, err = normalizeClock(s.Start); err != nil {
		return Shift{}, err
	}
	if out.End, err = normalizeClock(s.End); err != nil {
		return Shift{}, err
	}
	if out.Start == "" && out.End == "" {
		return Shift{}, errors.New("shift has neither start nor end")
	}
	out.CustomerName = CleanText(s.CustomerName)
	out.Street = CleanText(s.Street)
	out.StreetNumber = CleanText(s.StreetNumber)
	out.PostalCode = CleanText(s.PostalCode)
	out.PostalArea = CleanText(s.PostalArea)
	out.City = CleanText(s.City)
	if out.Type == "" {
		out.Type = TypeUnknown
	}
	return out, nil
}

// normalizeClock пропускает пустое значение и переводит HH:MM/HH.MM в HH:MM.
func normalizeClock(value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", nil
	}
	m, err := ParseClock(v)
	if err != nil {
		return "", err
	}
	return FormatClock(m), nil
}

// CleanText нормализует строку: Unicode NFC, обрезка краёв, схлопывание
// внутренних пробелов до одного.
func CleanText(value string) string {
	v := norm.NFC.String(value)
	return strings.Join(strings.Fields(v), " ")
}

// sortShifts сортирует смены в каноническом порядке дня.
func sortShifts(shifts []Shift) {
	sort.Slice(shifts, func(i, j int) bool { return less(shifts[i], shifts[j]) })
}

// EncodeDay сериализует день: UTF-8, без пробелов, schedule_date первым,
// затем shifts в каноническом порядке.
func EncodeDay(day Day) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("schedule_date", func(e *jx.Encoder) { e.Str(day.ScheduleDate) })
		e.Field("shifts", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range day.Shifts {
					encodeShift(e, s)
				}
			})
		})
	})
	return e.Bytes()
}

// EncodeShifts сериализует срез смен как JSON-массив (формат снапшота).
func EncodeShifts(shifts []Shift) []byte {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, s := range shifts {
			encodeShift(e, s)
		}
	})
	return e.Bytes()
}

// EncodeShift сериализует одну смену с фиксированным порядком ключей.
// Используется и для old_value/new_value событий.
func EncodeShift(s Shift) []byte {
	var e jx.Encoder
	encodeShift(&e, s)
	return e.Bytes()
}

// encodeShift пишет объект смены. Отсутствующие поля кодируются как null и
// никогда не пропускаются, чтобы присутствие ключей было стабильным.
func encodeShift(e *jx.Encoder, s Shift) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("start", func(e *jx.Encoder) { strOrNull(e, s.Start) })
		e.Field("end", func(e *jx.Encoder) { strOrNull(e, s.End) })
		e.Field("customer_name", func(e *jx.Encoder) { strOrNull(e, s.CustomerName) })
		e.Field("street", func(e *jx.Encoder) { strOrNull(e, s.Street) })
		e.Field("street_number", func(e *jx.Encoder) { strOrNull(e, s.StreetNumber) })
		e.Field("postal_code", func(e *jx.Encoder) { strOrNull(e, s.PostalCode) })
		e.Field("postal_area", func(e *jx.Encoder) { strOrNull(e, s.PostalArea) })
		e.Field("city", func(e *jx.Encoder) { strOrNull(e, s.City) })
		e.Field("shift_type", func(e *jx.Encoder) { strOrNull(e, string(s.Type)) })
		e.Field("location_fingerprint", func(e *jx.Encoder) { strOrNull(e, s.LocationFingerprint) })
		e.Field("customer_fingerprint", func(e *jx.Encoder) { strOrNull(e, s.CustomerFingerprint) })
	})
}

// strOrNull пишет строку либо null для пустого значения.
func strOrNull(e *jx.Encoder, v string) {
	if v == "" {
		e.Null()
		return
	}
	e.Str(v)
}

// DecodeShifts разбирает JSON-массив канонических смен (формат снапшота).
func DecodeShifts(raw []byte) ([]Shift, error) {
	d := jx.DecodeBytes(raw)
	var shifts []Shift
	if err := d.Arr(func(d *jx.Decoder) error {
		s, err := decodeShift(d)
		if err != nil {
			return err
		}
		shifts = append(shifts, s)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode shifts")
	}
	return shifts, nil
}

// DecodeShift разбирает один объект канонической смены (формат
// old_value/new_value события).
func DecodeShift(raw []byte) (Shift, error) {
	return decodeShift(jx.DecodeBytes(raw))
}

// decodeShift читает один объект смены; неизвестные ключи пропускаются.
func decodeShift(d *jx.Decoder) (Shift, error) {
	var s Shift
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := decodeStrOrNull(d)
		if err != nil {
			return err
		}
		switch key {
		case "start":
			s.Start = v
		case "end":
			s.End = v
		case "customer_name":
			s.CustomerName = v
		case "street":
			s.Street = v
		case "street_number":
			s.StreetNumber = v
		case "postal_code":
			s.PostalCode = v
		case "postal_area":
			s.PostalArea = v
		case "city":
			s.City = v
		case "shift_type":
			s.Type = ShiftType(v)
		case "location_fingerprint":
			s.LocationFingerprint = v
		case "customer_fingerprint":
			s.CustomerFingerprint = v
		}
		return nil
	})
	return s, err
}

// decodeStrOrNull читает строку либо null (возвращая пустую строку).
func decodeStrOrNull(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// HashHex возвращает lowercase hex SHA-256 от данных.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// nullValueHash — фиксированный страж для хэша отсутствующей стороны события.
var nullValueHash = HashHex([]byte("null"))

// ValueHash возвращает хэш канонического JSON смены либо страж для nil.
func ValueHash(s *Shift) string {
	if s == nil {
		return nullValueHash
	}
	return HashHex(EncodeShift(*s))
}
