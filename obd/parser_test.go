package obd

import (
	"errors"
	"testing"

	"obd-reader/common"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name         string
		cmd          Command
		lines        []string
		expectedVal  float64
		expectedUnit string
		expectError  bool
	}{
		{
			name:         "RPM parsing",
			cmd:          RPM,
			lines:        []string{"41 0C 1A F0"},
			expectedVal:  1724, // ((26 * 256) + 240) / 4 = 1724
			expectedUnit: "rpm",
		},
		{
			name:         "RPM idle",
			cmd:          RPM,
			lines:        []string{"41 0C 0C B8"},
			expectedVal:  814, // ((12 * 256) + 184) / 4 = 814
			expectedUnit: "rpm",
		},
		{
			name:         "Vehicle speed parsing",
			cmd:          Speed,
			lines:        []string{"41 0D 32"},
			expectedVal:  50,
			expectedUnit: "km/h",
		},
		{
			name:         "Without spaces",
			cmd:          Speed,
			lines:        []string{"410D32"},
			expectedVal:  50,
			expectedUnit: "km/h",
		},
		{
			name:         "With CAN headers",
			cmd:          RPM,
			lines:        []string{"7E8 04 41 0C 1A F0"},
			expectedVal:  1724,
			expectedUnit: "rpm",
		},
		{
			name:         "CAN padding ignored",
			cmd:          Speed,
			lines:        []string{"41 0D 32 00 00 00 00"},
			expectedVal:  50,
			expectedUnit: "km/h",
		},
		{
			name:         "First matching line wins",
			cmd:          Speed,
			lines:        []string{"41 0C 1A F0", "41 0D 14", "41 0D 32"},
			expectedVal:  20,
			expectedUnit: "km/h",
		},
		{
			name:         "Lower case",
			cmd:          IntakePressure,
			lines:        []string{"41 0b 64"},
			expectedVal:  100,
			expectedUnit: "kPa",
		},
		{
			name:        "No data",
			cmd:         RPM,
			lines:       []string{"NO DATA"},
			expectError: true,
		},
		{
			name:        "Invalid response format",
			cmd:         RPM,
			lines:       []string{"INVALID"},
			expectError: true,
		},
		{
			name:        "Response too short",
			cmd:         RPM,
			lines:       []string{"41 0C 1A"},
			expectError: true,
		},
		{
			name:         "Short line then full line from another ECU",
			cmd:          RPM,
			lines:        []string{"41 0C 1A", "41 0C 1A F0"},
			expectedVal:  1724,
			expectedUnit: "rpm",
		},
		{
			name:        "Other PID only",
			cmd:         Speed,
			lines:       []string{"41 0C 1A F0"},
			expectError: true,
		},
		{
			name:        "Empty reply",
			cmd:         Speed,
			lines:       nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := ParseResponse(tt.cmd, tt.lines)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for response %q", tt.lines)
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error for response %q: %v", tt.lines, err)
				return
			}

			q, ok := value.(common.Quantity)
			if !ok {
				t.Fatalf("Expected Quantity, got %T", value)
			}

			if q.Magnitude != tt.expectedVal {
				t.Errorf("Expected value %.2f, got %.2f", tt.expectedVal, q.Magnitude)
			}

			if q.Unit != tt.expectedUnit {
				t.Errorf("Expected unit %s, got %s", tt.expectedUnit, q.Unit)
			}
		})
	}
}

func TestParseResponseErrors(t *testing.T) {
	_, err := ParseResponse(RPM, []string{"NO DATA"})
	var replyErr *ReplyError
	if !errors.As(err, &replyErr) {
		t.Fatalf("Expected ReplyError, got %v", err)
	}
	if replyErr.Reply != "NO DATA" {
		t.Errorf("Expected reply 'NO DATA', got %q", replyErr.Reply)
	}

	_, err = ParseResponse(RPM, nil)
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("Expected ErrNoResponse, got %v", err)
	}

	for _, reply := range []string{"?", "STOPPED", "UNABLE TO CONNECT", "CAN ERROR", "BUS INIT: ...ERROR"} {
		_, err := ParseResponse(RPM, []string{reply})
		if !errors.As(err, &replyErr) {
			t.Errorf("Expected ReplyError for %q, got %v", reply, err)
		}
	}
}

func TestDecodeRPM(t *testing.T) {
	tests := []struct {
		data     []byte
		expected float64
		hasError bool
	}{
		{[]byte{0x1A, 0xF0}, 1724, false},   // ((26 * 256) + 240) / 4 = 1724
		{[]byte{0x0F, 0xA0}, 1000, false},   // ((15 * 256) + 160) / 4 = 1000
		{[]byte{0x00, 0x00}, 0, false},      // 0 RPM
		{[]byte{0x1A}, 0, true},             // Wrong length
		{[]byte{0x1A, 0xF0, 0x00}, 0, true}, // Wrong length
	}

	for _, tt := range tests {
		result, err := decodeRPM(tt.data)

		if tt.hasError {
			if err == nil {
				t.Errorf("Expected error for data %v", tt.data)
			}
			continue
		}

		if err != nil {
			t.Errorf("Unexpected error for data %v: %v", tt.data, err)
			continue
		}

		if got := result.(common.Quantity).Magnitude; got != tt.expected {
			t.Errorf("Expected %.2f, got %.2f for data %v", tt.expected, got, tt.data)
		}
	}
}

func TestDecodeTimingAdvance(t *testing.T) {
	tests := []struct {
		data     []byte
		expected float64
		hasError bool
	}{
		{[]byte{0x80}, 0, false},      // 128 / 2 - 64 = 0
		{[]byte{0x00}, -64, false},    // 0 / 2 - 64 = -64
		{[]byte{0xFF}, 63.5, false},   // 255 / 2 - 64 = 63.5
		{[]byte{0x94}, 10, false},     // 148 / 2 - 64 = 10
		{[]byte{0x80, 0x00}, 0, true}, // Wrong length
	}

	for _, tt := range tests {
		result, err := decodeTimingAdvance(tt.data)

		if tt.hasError {
			if err == nil {
				t.Errorf("Expected error for data %v", tt.data)
			}
			continue
		}

		if err != nil {
			t.Errorf("Unexpected error for data %v: %v", tt.data, err)
			continue
		}

		if got := result.(common.Quantity).Magnitude; got != tt.expected {
			t.Errorf("Expected %.2f, got %.2f for data %v", tt.expected, got, tt.data)
		}
	}
}

func TestDecodeControlModuleVoltage(t *testing.T) {
	result, err := decodeControlModuleVoltage([]byte{0x36, 0xB0}) // 14000 / 1000
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	q := result.(common.Quantity)
	if q.Magnitude != 14.0 {
		t.Errorf("Expected 14.0 V, got %.3f", q.Magnitude)
	}
	if q.Unit != "V" {
		t.Errorf("Expected unit V, got %s", q.Unit)
	}

	if _, err := decodeControlModuleVoltage([]byte{0x36}); err == nil {
		t.Error("Expected error for short data")
	}
}

func TestDecodePercent(t *testing.T) {
	decoders := map[string]Decoder{
		"engine load": decodeEngineLoad,
		"throttle":    decodeThrottlePos,
		"fuel level":  decodeFuelLevel,
	}

	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			tests := []struct {
				data     []byte
				expected float64
			}{
				{[]byte{0x00}, 0},
				{[]byte{0xFF}, 100},
				{[]byte{0x80}, 50.196}, // (0x80 * 100) / 255 ≈ 50.196%
			}

			for _, tt := range tests {
				result, err := decode(tt.data)
				if err != nil {
					t.Fatalf("Unexpected error for data %v: %v", tt.data, err)
				}

				// Используем небольшую дельту для сравнения float
				got := result.(common.Quantity).Magnitude
				delta := 0.01
				if got < tt.expected-delta || got > tt.expected+delta {
					t.Errorf("Expected %.3f, got %.3f for data %v", tt.expected, got, tt.data)
				}
			}

			if _, err := decode([]byte{0x32, 0x00}); err == nil {
				t.Error("Expected error for wrong length")
			}
		})
	}
}

func TestDecodePIDBitmap(t *testing.T) {
	result, err := decodePIDBitmap([]byte{0xBE, 0x1F, 0xA8, 0x13})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result != common.Number(0xBE1FA813) {
		t.Errorf("Expected 0xBE1FA813, got %v", result)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		code     string
		expected string
		found    bool
	}{
		{"010C", "RPM", true},
		{"010D", "SPEED", true},
		{"0142", "CONTROL_MODULE_VOLTAGE", true},
		{"01FF", "", false},
	}

	for _, tt := range tests {
		cmd, ok := Lookup(tt.code)
		if ok != tt.found {
			t.Errorf("Expected found=%v for %s", tt.found, tt.code)
			continue
		}
		if cmd.Name != tt.expected {
			t.Errorf("Expected command %s for %s, got %s", tt.expected, tt.code, cmd.Name)
		}
	}
}

func TestCommandString(t *testing.T) {
	if RPM.String() != "010C" {
		t.Errorf("Expected '010C', got %s", RPM.String())
	}
	if FuelLevel.String() != "012F" {
		t.Errorf("Expected '012F', got %s", FuelLevel.String())
	}
}

// Бенчмарк для тестирования производительности парсера
func BenchmarkParseResponse(b *testing.B) {
	lines := []string{"41 0C 1A F0"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := ParseResponse(RPM, lines)
		if err != nil {
			b.Fatalf("ParseResponse failed: %v", err)
		}
	}
}

func TestIsPIDBitmap(t *testing.T) {
	for _, c := range []Command{PIDsA, PIDsB, PIDsC} {
		if !isPIDBitmap(c) {
			t.Errorf("Expected %s to be a PID bitmap", c)
		}
	}
	for _, c := range []Command{RPM, Speed, ControlModuleVoltage} {
		if isPIDBitmap(c) {
			t.Errorf("Expected %s not to be a PID bitmap", c)
		}
	}
}
