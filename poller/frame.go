package poller

import (
	"bytes"
	"encoding/json"

	"obd-reader/common"
	"obd-reader/obd"
)

// Param связывает метку в JSON с OBD командой
type Param struct {
	Label   string
	Command obd.Command
}

// Params - фиксированный список параметров в порядке опроса
var Params = [...]Param{
	{Label: "RPM", Command: obd.RPM},
	{Label: "SPEED", Command: obd.Speed},
	{Label: "ENGINE LOAD", Command: obd.EngineLoad},
	{Label: "THROTTLE POSITION", Command: obd.ThrottlePos},
	{Label: "INTAKE PRESSURE", Command: obd.IntakePressure},
	{Label: "TIMING ADVANCE", Command: obd.TimingAdvance},
	{Label: "FUEL LEVEL", Command: obd.FuelLevel},
	{Label: "CONTROL MODULE VOLTAGE", Command: obd.ControlModuleVoltage},
}

type slot struct {
	value   float64
	present bool
}

// Frame - значения одного такта, по одному слоту на параметр из Params
type Frame struct {
	slots [len(Params)]slot
}

// Set записывает значение параметра с индексом i
func (f *Frame) Set(i int, v float64) {
	f.slots[i] = slot{value: v, present: true}
}

// Get возвращает значение параметра с индексом i
func (f *Frame) Get(i int) (float64, bool) {
	s := f.slots[i]
	return s.value, s.present
}

// Len возвращает число заполненных слотов
func (f *Frame) Len() int {
	n := 0
	for _, s := range f.slots {
		if s.present {
			n++
		}
	}
	return n
}

// MarshalJSON сериализует только заполненные слоты, в порядке Params
func (f Frame) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	for i := range f.slots {
		v, ok := f.Get(i)
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := json.Marshal(Params[i].Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Normalize отбрасывает единицу измерения.
// Второе значение false означает отсутствие данных.
func Normalize(v common.Value) (float64, bool) {
	switch v := v.(type) {
	case common.Quantity:
		return v.Magnitude, true
	case common.Number:
		return float64(v), true
	case common.Null:
		return 0, false
	default:
		return 0, false
	}
}
