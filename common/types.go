package common

import "fmt"

// Value представляет результат одного OBD запроса.
// Реализации: Number, Quantity, Null. Других вариантов нет.
type Value interface {
	isValue()
	fmt.Stringer
}

// Number - безразмерное числовое значение
type Number float64

// Quantity - значение с единицей измерения (например, 814 rpm)
type Quantity struct {
	Magnitude float64 `json:"magnitude"`
	Unit      string  `json:"unit"`
}

// Null - запрос не вернул данных (NO DATA, таймаут, ошибка разбора)
type Null struct{}

func (Number) isValue()   {}
func (Quantity) isValue() {}
func (Null) isValue()     {}

func (n Number) String() string {
	return fmt.Sprintf("%g", float64(n))
}

func (q Quantity) String() string {
	return fmt.Sprintf("%g %s", q.Magnitude, q.Unit)
}

func (Null) String() string {
	return "null"
}
