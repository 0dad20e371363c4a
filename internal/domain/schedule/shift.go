// Package schedule — доменное ядро интерпретации рабочего дня: канонические
// смены, слияние наблюдений с нескольких скриншотов, вычисление семантических
// изменений между наблюдениями и детерминированная сериализация дня.
// Пакет чистый: никакой БД, никакого ввода-вывода, все функции детерминированы.
package schedule

// ShiftType — закрытое множество типов смен. Порядок рангов фиксирован и
// используется для разрешения ничьих при голосовании внутри компоненты слияния.
type ShiftType string

const (
	TypeSchool    ShiftType = "SCHOOL"
	TypeOffice    ShiftType = "OFFICE"
	TypeHomeVisit ShiftType = "HOME_VISIT"
	TypeUnknown   ShiftType = "UNKNOWN"
)

// typeRank задаёт порядок SCHOOL < OFFICE < HOME_VISIT < UNKNOWN.
var typeRank = map[ShiftType]int{
	TypeSchool:    0,
	TypeOffice:    1,
	TypeHomeVisit: 2,
	TypeUnknown:   3,
}

// Rank возвращает позицию типа в фиксированном порядке. Неизвестные значения
// ранжируются после всех валидных.
func (t ShiftType) Rank() int {
	if r, ok := typeRank[t]; ok {
		return r
	}
	return len(typeRank)
}

// Shift — каноническая смена: семантически нормализованная запись одного
// визита. Пустая строка означает отсутствующее значение и сериализуется как
// JSON null. Start/End всегда в формате HH:MM (24 часа) либо пусты.
type Shift struct {
	Start               string
	End                 string
	CustomerName        string
	Street              string
	StreetNumber        string
	PostalCode          string
	PostalArea          string
	City                string
	Type                ShiftType
	LocationFingerprint string
	CustomerFingerprint string
}

// IdentityKey — ключ идентичности смены для диффа: пара отпечатков.
type IdentityKey struct {
	Location string
	Customer string
}

// Identity возвращает ключ идентичности смены.
func (s Shift) Identity() IdentityKey {
	return IdentityKey{Location: s.LocationFingerprint, Customer: s.CustomerFingerprint}
}

// sameTimes сообщает, совпадают ли оба конца интервала.
func sameTimes(a, b Shift) bool {
	return a.Start == b.Start && a.End == b.End
}

// sameAddress сравнивает адресные поля (улица, номер, индекс, район, город).
func sameAddress(a, b Shift) bool {
	return a.Street == b.Street &&
		a.StreetNumber == b.StreetNumber &&
		a.PostalCode == b.PostalCode &&
		a.PostalArea == b.PostalArea &&
		a.City == b.City
}

// Aggregated — результат слияния одной компоненты наблюдений: каноническая
// смена плюс число вошедших в неё наблюдений.
type Aggregated struct {
	Shift
	SourceCount int
}

// less упорядочивает смены по (start, end, location_fingerprint,
// customer_fingerprint). Этот порядок — семантическая идентичность дня.
func less(a, b Shift) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	if a.LocationFingerprint != b.LocationFingerprint {
		return a.LocationFingerprint < b.LocationFingerprint
	}
	return a.CustomerFingerprint < b.CustomerFingerprint
}
