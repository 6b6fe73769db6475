package obd

import (
	"fmt"

	"obd-reader/common"
)

// Decoder декодирует байты данных ответа (без байтов режима и PID)
type Decoder func(data []byte) (common.Value, error)

// Command описывает один OBD-II запрос: режим, PID и способ декодирования ответа
type Command struct {
	Name   string
	Desc   string
	Mode   byte
	PID    byte
	Bytes  int // Ожидаемое число байтов данных
	Decode Decoder
}

// String возвращает команду в виде, который понимает ELM327, например "010C"
func (c Command) String() string {
	return fmt.Sprintf("%02X%02X", c.Mode, c.PID)
}

// Команды режима 01
var (
	PIDsA                = Command{Name: "PIDS_A", Desc: "Supported PIDs [01-20]", Mode: 0x01, PID: 0x00, Bytes: 4, Decode: decodePIDBitmap}
	EngineLoad           = Command{Name: "ENGINE_LOAD", Desc: "Calculated Engine Load", Mode: 0x01, PID: 0x04, Bytes: 1, Decode: decodeEngineLoad}
	IntakePressure       = Command{Name: "INTAKE_PRESSURE", Desc: "Intake Manifold Pressure", Mode: 0x01, PID: 0x0B, Bytes: 1, Decode: decodeIntakePressure}
	RPM                  = Command{Name: "RPM", Desc: "Engine RPM", Mode: 0x01, PID: 0x0C, Bytes: 2, Decode: decodeRPM}
	Speed                = Command{Name: "SPEED", Desc: "Vehicle Speed", Mode: 0x01, PID: 0x0D, Bytes: 1, Decode: decodeVehicleSpeed}
	TimingAdvance        = Command{Name: "TIMING_ADVANCE", Desc: "Timing Advance", Mode: 0x01, PID: 0x0E, Bytes: 1, Decode: decodeTimingAdvance}
	ThrottlePos          = Command{Name: "THROTTLE_POS", Desc: "Throttle Position", Mode: 0x01, PID: 0x11, Bytes: 1, Decode: decodeThrottlePos}
	PIDsB                = Command{Name: "PIDS_B", Desc: "Supported PIDs [21-40]", Mode: 0x01, PID: 0x20, Bytes: 4, Decode: decodePIDBitmap}
	FuelLevel            = Command{Name: "FUEL_LEVEL", Desc: "Fuel Level Input", Mode: 0x01, PID: 0x2F, Bytes: 1, Decode: decodeFuelLevel}
	PIDsC                = Command{Name: "PIDS_C", Desc: "Supported PIDs [41-60]", Mode: 0x01, PID: 0x40, Bytes: 4, Decode: decodePIDBitmap}
	ControlModuleVoltage = Command{Name: "CONTROL_MODULE_VOLTAGE", Desc: "Control Module Voltage", Mode: 0x01, PID: 0x42, Bytes: 2, Decode: decodeControlModuleVoltage}
)

// Commands содержит все известные команды
var Commands = []Command{
	PIDsA, EngineLoad, IntakePressure, RPM, Speed, TimingAdvance, ThrottlePos,
	PIDsB, FuelLevel, PIDsC, ControlModuleVoltage,
}

// Lookup ищет команду по коду вида "010C"
func Lookup(code string) (Command, bool) {
	for _, c := range Commands {
		if c.String() == code {
			return c, true
		}
	}
	return Command{}, false
}

func isPIDBitmap(c Command) bool {
	return c.Mode == 0x01 && c.PID%0x20 == 0
}

// decodeRPM декодирует обороты двигателя (PID 0C)
// Формула: ((A * 256) + B) / 4
func decodeRPM(data []byte) (common.Value, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("PID 0C: expected 2 bytes, got %d", len(data))
	}
	A := float64(data[0])
	B := float64(data[1])
	return common.Quantity{Magnitude: ((A * 256) + B) / 4, Unit: "rpm"}, nil
}

// decodeVehicleSpeed декодирует скорость автомобиля (PID 0D)
// Формула: A
func decodeVehicleSpeed(data []byte) (common.Value, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("PID 0D: expected 1 byte, got %d", len(data))
	}
	return common.Quantity{Magnitude: float64(data[0]), Unit: "km/h"}, nil
}

// decodeEngineLoad декодирует нагрузку двигателя (PID 04)
// Формула: (A * 100) / 255
func decodeEngineLoad(data []byte) (common.Value, error) {
	return percent("04", data)
}

// decodeThrottlePos декодирует положение дроссельной заслонки (PID 11)
func decodeThrottlePos(data []byte) (common.Value, error) {
	return percent("11", data)
}

// decodeFuelLevel декодирует уровень топлива (PID 2F)
func decodeFuelLevel(data []byte) (common.Value, error) {
	return percent("2F", data)
}

func percent(pid string, data []byte) (common.Value, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("PID %s: expected 1 byte, got %d", pid, len(data))
	}
	return common.Quantity{Magnitude: (float64(data[0]) * 100) / 255, Unit: "%"}, nil
}

// decodeIntakePressure декодирует давление во впускном коллекторе (PID 0B)
// Формула: A
func decodeIntakePressure(data []byte) (common.Value, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("PID 0B: expected 1 byte, got %d", len(data))
	}
	return common.Quantity{Magnitude: float64(data[0]), Unit: "kPa"}, nil
}

// decodeTimingAdvance декодирует угол опережения зажигания (PID 0E)
// Формула: A / 2 - 64
func decodeTimingAdvance(data []byte) (common.Value, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("PID 0E: expected 1 byte, got %d", len(data))
	}
	return common.Quantity{Magnitude: float64(data[0])/2 - 64, Unit: "°"}, nil
}

// decodeControlModuleVoltage декодирует напряжение блока управления (PID 42)
// Формула: ((A * 256) + B) / 1000
func decodeControlModuleVoltage(data []byte) (common.Value, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("PID 42: expected 2 bytes, got %d", len(data))
	}
	return common.Quantity{Magnitude: (float64(data[0])*256 + float64(data[1])) / 1000, Unit: "V"}, nil
}

// decodePIDBitmap декодирует битовую карту поддерживаемых PID (PID 00, 20, 40).
// Старший бит первого байта соответствует PID base+1.
func decodePIDBitmap(data []byte) (common.Value, error) {
	if len(data) != 4 {
		return nil, fmt.Errorf("PID bitmap: expected 4 bytes, got %d", len(data))
	}
	bits := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return common.Number(bits), nil
}
